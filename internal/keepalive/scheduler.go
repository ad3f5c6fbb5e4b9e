package keepalive

import (
	"context"
	"math/rand"
	"time"
)

// Run executes the scheduler loop until ctx is cancelled (spec.md §4.6):
//
//	deadline = max(last_activity_ts + threshold, next_allowed_ts)
//	wait until either deadline or a schedule-event fires
//	if deadline reached and still eligible: run the action, then
//	set next_allowed_ts = now + threshold +/- jitter
//
// Run is meant to be started once, in its own goroutine, for the lifetime
// of the process; it survives tunnel reconnects because the Coordinator
// itself does.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		c.mu.Lock()
		enabled := c.enabled
		deadline := c.deadlineLocked()
		c.mu.Unlock()

		if !enabled {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
				continue
			}
		}

		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		c.mu.Lock()
		// Re-check eligibility at the deadline: activity may have arrived
		// while we were sleeping (spec.md §5: "the scheduler must re-check
		// eligibility at the deadline").
		stillDue := c.enabled && !c.now().Before(c.deadlineLocked())
		var clickX, clickY *int
		if stillDue {
			c.busy = true
			c.idleClosed = make(chan struct{})
			clickX, clickY = c.clickX, c.clickY
		}
		c.mu.Unlock()

		if !stillDue {
			continue
		}

		err := c.actuator.PerformActivity(ctx, clickX, clickY)
		if err != nil {
			c.log.Warn().Err(err).Msg("simulated activity action failed")
		}

		c.mu.Lock()
		now := c.now()
		c.nextAllowed = now.Add(c.jitteredThreshold())
		close(c.idleClosed)
		c.busy = false
		c.mu.Unlock()
	}
}

func (c *Coordinator) deadlineLocked() time.Time {
	byActivity := c.lastActivity.Add(c.thresholdDuration())
	if c.nextAllowed.After(byActivity) {
		return c.nextAllowed
	}
	return byActivity
}

// jitteredThreshold returns threshold +/- up to min(20%, 7s) of jitter.
func (c *Coordinator) jitteredThreshold() time.Duration {
	base := c.thresholdDuration()
	maxJitter := base.Seconds() * ScheduleJitterFraction
	if maxJitter > ScheduleJitterMaxSeconds {
		maxJitter = ScheduleJitterMaxSeconds
	}
	jitter := (rand.Float64()*2 - 1) * maxJitter
	return base + time.Duration(jitter*float64(time.Second))
}
