package watchdog

import "context"

// StubRecoverer is the default Recoverer. The real recovery action
// (restarting a virtual display driver, resetting the session, etc.) is
// platform-provided and treated as an opaque side effect by spec.md §4.7;
// StubRecoverer is the seam it plugs into.
type StubRecoverer struct {
	// OnRecover, if set, is invoked instead of the default no-op. Tests
	// use this to observe that recovery was triggered.
	OnRecover func(ctx context.Context) error
}

func (r StubRecoverer) Recover(ctx context.Context) error {
	if r.OnRecover != nil {
		return r.OnRecover(ctx)
	}
	return nil
}
