// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package watchdog implements the Black-Screen Watchdog (spec.md §4.7): a
// periodic screen-variance probe that triggers a recovery action when the
// primary monitor appears to be rendering nothing (e.g. a crashed virtual
// display driver).
//
// The probe's pixel capture is platform-gated (Windows only; a no-op
// elsewhere) and the recovery action is an opaque side effect per spec.md
// §4.7 — both are injected via the Capturer and Recoverer interfaces so
// this package's scheduling and variance-threshold logic, which spec.md
// does fully specify, can be built and tested independently of either.
package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CheckInterval is the default time between checks (spec.md §4.7).
const CheckInterval = 30 * time.Second

// FirstCheckDelay is how long to wait before the first check.
const FirstCheckDelay = 5 * time.Second

// RecheckDelay is how long to wait before re-checking a suspected black
// screen before declaring it a real detection.
const RecheckDelay = 5 * time.Second

// VarianceThreshold and MeanThreshold define "black" (spec.md §4.7:
// "variance < 1.0 and mean < 10").
const (
	VarianceThreshold = 1.0
	MeanThreshold     = 10.0
)

// Sample is one pixel-statistics reading of the primary monitor.
type Sample struct {
	Mean     float64
	Variance float64
}

// IsBlack reports whether s looks like a black screen per spec.md §4.7.
func (s Sample) IsBlack() bool {
	return s.Variance < VarianceThreshold && s.Mean < MeanThreshold
}

// Capturer captures the primary monitor and computes pixel statistics.
// The real implementation is platform-specific and out of scope for this
// repository (spec.md §1's virtual-display/input carve-outs apply
// equally to screen capture internals); see capturer_windows.go and
// capturer_other.go for the build-tagged stand-ins.
type Capturer interface {
	Capture(ctx context.Context) (Sample, error)
}

// Recoverer performs the opaque recovery action (spec.md §4.7: "invoke a
// recovery action (platform-provided; treated as an opaque side effect
// for this spec)").
type Recoverer interface {
	Recover(ctx context.Context) error
}

// Watchdog runs the periodic probe loop.
type Watchdog struct {
	capturer  Capturer
	recoverer Recoverer
	log       zerolog.Logger
	interval  time.Duration

	firstCheckDelay time.Duration
	recheckDelay    time.Duration
}

// New returns a Watchdog. interval <= 0 uses CheckInterval.
func New(capturer Capturer, recoverer Recoverer, interval time.Duration, log zerolog.Logger) *Watchdog {
	if interval <= 0 {
		interval = CheckInterval
	}
	return &Watchdog{
		capturer:        capturer,
		recoverer:       recoverer,
		log:             log.With().Str("component", "watchdog").Logger(),
		interval:        interval,
		firstCheckDelay: FirstCheckDelay,
		recheckDelay:    RecheckDelay,
	}
}

// firstCheckDelayOverride lets tests shrink the initial delay.
func (w *Watchdog) firstCheckDelayOverride(d time.Duration) {
	w.firstCheckDelay = d
}

// rechecksDelayOverride lets tests shrink the recheck delay.
func (w *Watchdog) rechecksDelayOverride(d time.Duration) {
	w.recheckDelay = d
}

// Run executes the probe loop until ctx is cancelled. Errors during
// capture are logged and swallowed (spec.md §7 category 8); a single
// detection triggers at most one recovery attempt (spec.md §4.7: "no
// retries at the watchdog level").
func (w *Watchdog) Run(ctx context.Context) {
	timer := time.NewTimer(w.firstCheckDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if w.checkOnce(ctx) {
			w.recover(ctx)
		}

		timer.Reset(w.interval)
	}
}

// checkOnce samples once; if it looks black, waits RecheckDelay and
// samples again to confirm before reporting a real detection.
func (w *Watchdog) checkOnce(ctx context.Context) bool {
	sample, err := w.capturer.Capture(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("screen capture failed")
		return false
	}
	if !sample.IsBlack() {
		return false
	}

	select {
	case <-time.After(w.recheckDelay):
	case <-ctx.Done():
		return false
	}

	sample, err = w.capturer.Capture(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("screen capture failed on recheck")
		return false
	}
	return sample.IsBlack()
}

func (w *Watchdog) recover(ctx context.Context) {
	w.log.Warn().Msg("black screen detected, triggering recovery")
	if err := w.recoverer.Recover(ctx); err != nil {
		w.log.Warn().Err(err).Msg("recovery action failed")
	}
}
