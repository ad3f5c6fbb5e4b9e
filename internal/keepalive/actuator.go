package keepalive

import (
	"context"
	"time"
)

// StubActuator is the default Actuator. The concrete simulated-activity
// sequence (focus-click, typewrite a few tokens, Escape) is implemented
// with OS-specific input-injection APIs that spec.md §1 places out of
// scope for this repository; StubActuator stands in for that platform
// code so the Coordinator's scheduling and mutual-exclusion logic (the
// part this repository specifies) can run and be tested end-to-end.
//
// It satisfies the contract spec.md §4.6 requires of any real
// implementation: it doesn't touch the clipboard, doesn't move focus
// anywhere, and completes quickly.
type StubActuator struct {
	// Sleep simulates the real action's duration. Defaults to 50ms.
	Sleep time.Duration
}

func (a StubActuator) PerformActivity(ctx context.Context, clickX, clickY *int) error {
	sleep := a.Sleep
	if sleep <= 0 {
		sleep = 50 * time.Millisecond
	}
	select {
	case <-time.After(sleep):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
