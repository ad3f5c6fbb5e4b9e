//go:build !windows

package watchdog

import "context"

// noopCapturer backs GOOS != windows builds: the watchdog is a platform
// gated no-op everywhere but Windows (spec.md §4.7).
type noopCapturer struct{}

// NewPlatformCapturer returns the Capturer used on this GOOS.
func NewPlatformCapturer() Capturer {
	return noopCapturer{}
}

func (noopCapturer) Capture(ctx context.Context) (Sample, error) {
	// Mean/variance both zero would read as "black"; return a bright,
	// high-variance sample instead so a noop build never fires recovery.
	return Sample{Mean: 255, Variance: 1000}, nil
}
