// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"context"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyberdesk-hq/cyberdriver/internal/forwarder"
	"github.com/cyberdesk-hq/cyberdriver/internal/idempotency"
	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
)

// MinBackoff and MaxBackoff bound the Reconnect Supervisor's exponential
// backoff (spec.md §4.5: "start at 1s, double... up to 16s").
const (
	MinBackoff = 1 * time.Second
	MaxBackoff = 16 * time.Second
)

// BackoffJitterFraction is the extra random sleep added on top of the
// doubled backoff value (spec.md §4.5: "plus 0-30% random jitter"). The
// jitter is one-sided: the sleep is never shorter than the un-jittered
// value. cenkalti/backoff/v4's ±RandomizationFactor is symmetric and
// can't express this, so the math is hand-rolled (see DESIGN.md).
const BackoffJitterFraction = 0.30

// ShortSessionThreshold is the duration below which a session counts as a
// failure for backoff purposes (spec.md §4.5).
const ShortSessionThreshold = 10 * time.Second

// DefaultRateLimitSeconds is used if a rate-limit close reason can't be
// parsed (spec.md §4.5: "default 60").
const DefaultRateLimitSeconds = 60

// AuthFailedErr is returned by Supervisor.Run when the process must exit
// non-zero without retrying (spec.md §7 category 3).
type AuthFailedErr struct {
	Cause error
}

func (e *AuthFailedErr) Error() string { return "tunnel: authentication failed: " + e.Cause.Error() }
func (e *AuthFailedErr) Unwrap() error { return e.Cause }

// Supervisor owns the unbounded connect-attempt loop (spec.md §4.5): it
// constructs one Session per attempt, awaits its termination, classifies
// the cause, sleeps, and loops.
type Supervisor struct {
	cfg         Config
	forwarder   *forwarder.Forwarder
	idempotency *idempotency.Cache
	coordinator *keepalive.Coordinator
	log         zerolog.Logger

	consecutiveFailures int
	sleep               func(context.Context, time.Duration) error // overridable for tests
	newSession          func() *Session                            // overridable for tests
}

// NewSupervisor returns a Supervisor. coordinator must be the
// process-lifetime singleton (spec.md §2).
func NewSupervisor(cfg Config, fwd *forwarder.Forwarder, cache *idempotency.Cache, coordinator *keepalive.Coordinator, log zerolog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:         cfg,
		forwarder:   fwd,
		idempotency: cache,
		coordinator: coordinator,
		log:         log.With().Str("component", "tunnel_supervisor").Logger(),
		sleep:       sleepCtx,
	}
	s.newSession = func() *Session {
		return NewSession(s.cfg, s.forwarder, s.idempotency, s.coordinator, s.log)
	}
	return s
}

// Run executes the attempt loop until ctx is cancelled or an
// authentication failure occurs (spec.md §4.5, §7 category 3). A normal
// cancellation returns nil; an auth failure returns *AuthFailedErr, which
// the caller maps to exit code 1.
func (s *Supervisor) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		s.preRetryCleanup()

		log := s.log.With().Int("attempt", attempt).Logger()
		log.Info().Msg("connecting")

		session := s.newSession()
		term := session.Run(ctx)

		if ctx.Err() != nil {
			return nil
		}

		switch term.Kind {
		case AuthFailed:
			log.Error().Err(term.Cause).Msg("authentication failed, not retrying")
			return &AuthFailedErr{Cause: term}

		case RateLimited:
			wait := term.RateLimitSeconds
			if wait <= 0 {
				wait = DefaultRateLimitSeconds
			}
			log.Warn().Int("seconds", wait).Msg("rate limited, waiting")
			if err := s.sleep(ctx, time.Duration(wait)*time.Second); err != nil {
				return nil
			}
			continue

		default:
			if term.Duration < ShortSessionThreshold {
				s.consecutiveFailures++
			} else {
				s.consecutiveFailures = 0
			}
			log.Warn().
				Err(term.Cause).
				Str("kind", term.Kind.String()).
				Dur("duration", term.Duration).
				Int("consecutive_failures", s.consecutiveFailures).
				Msg("session ended, backing off")

			delay := backoffDelay(s.consecutiveFailures)
			if err := s.sleep(ctx, delay); err != nil {
				return nil
			}
		}
	}
}

// preRetryCleanup mimics a Ctrl+C + restart before every attempt (spec.md
// §4.5 step 1): clear the idempotency cache and force a GC cycle. There is
// no separate worker/task pool to recycle in this implementation (forward
// calls run on ordinary goroutines, not a bounded pool), so this is the
// full extent of the cleanup.
func (s *Supervisor) preRetryCleanup() {
	s.idempotency.Clear()
	debug.FreeOSMemory()
}

// backoffDelay computes s_i = min(2^i, 16) * (1 + jitter), jitter in
// [0, 0.30) (spec.md §4.5, §8: "min(1*2^i,16) <= s_i <= 1.3*min(1*2^i,16)").
func backoffDelay(consecutiveFailures int) time.Duration {
	base := MinBackoff
	for i := 0; i < consecutiveFailures; i++ {
		base *= 2
		if base >= MaxBackoff {
			base = MaxBackoff
			break
		}
	}
	jitter := rand.Float64() * BackoffJitterFraction
	return time.Duration(float64(base) * (1 + jitter))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
