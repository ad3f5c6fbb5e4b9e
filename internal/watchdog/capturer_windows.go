//go:build windows

package watchdog

import (
	"context"
	"errors"
)

// windowsCapturer is the Windows-only screen-capture backend. Actual pixel
// capture (e.g. via a desktop duplication or GDI BitBlt call) is
// OS-specific implementation detail out of scope for this repository
// (spec.md §1); it plugs in here.
type windowsCapturer struct{}

// NewPlatformCapturer returns the Capturer used on this GOOS.
func NewPlatformCapturer() Capturer {
	return windowsCapturer{}
}

func (windowsCapturer) Capture(ctx context.Context) (Sample, error) {
	return Sample{}, errors.New("watchdog: screen capture backend not wired into this build")
}
