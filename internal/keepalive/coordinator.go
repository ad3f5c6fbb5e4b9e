// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package keepalive implements the Activity/Keepalive Coordinator
// (spec.md §4.6): mutual exclusion between simulated background activity
// and real inbound traffic, plus the scheduler that decides when to run a
// simulated action.
//
// A Coordinator is a shared value with interior mutability (spec.md §9):
// one instance is created at process start and survives tunnel
// reconnects, handed by reference to every Tunnel Session and to the
// local HTTP server's remote-control handlers.
package keepalive

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultThreshold is the default idle period before a simulated action
// runs (spec.md §4.6).
const DefaultThreshold = 180 * time.Second

// ActivityJitterSeconds bounds the backwards jitter applied by the
// "activity" remote-control endpoint (spec.md §4.6: "-7...+7 s").
const ActivityJitterSeconds = 7

// ScheduleJitterFraction and ScheduleJitterMaxSeconds bound the jitter
// applied to next_allowed_ts after a simulated action runs (spec.md §4.6:
// "± jitter(<=20% or <=7s)").
const (
	ScheduleJitterFraction   = 0.20
	ScheduleJitterMaxSeconds = 7.0
)

// Actuator performs the simulated user-activity action (spec.md §4.6: a
// short focus-click + typewrite + Escape sequence). The exact sequence is
// not specified byte-for-byte and the concrete input-injection technique
// is out of scope for this repository (spec.md §1); Actuator is the seam
// a platform-specific implementation plugs into.
type Actuator interface {
	PerformActivity(ctx context.Context, clickX, clickY *int) error
}

// Coordinator holds the Keepalive State (spec.md §3) and runs its
// scheduler loop. The zero value is not usable; construct with New.
type Coordinator struct {
	log      zerolog.Logger
	actuator Actuator
	now      func() time.Time

	mu               sync.Mutex
	enabled          bool
	thresholdSeconds float64
	lastActivity     time.Time
	nextAllowed      time.Time
	clickX, clickY   *int

	busy       bool
	idleClosed chan struct{} // closed while idle; replaced when busy begins

	wake chan struct{} // buffered 1; nudges the scheduler to re-evaluate
}

// New returns a Coordinator with the given default threshold and actuator.
// enabled starts false: remote-controlled machines opt in via the
// /internal/keepalive/remote/enable endpoint.
func New(threshold time.Duration, actuator Actuator, log zerolog.Logger) *Coordinator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	now := time.Now()
	idle := make(chan struct{})
	close(idle)
	return &Coordinator{
		log:              log.With().Str("component", "keepalive").Logger(),
		actuator:         actuator,
		now:              time.Now,
		thresholdSeconds: threshold.Seconds(),
		lastActivity:     now,
		nextAllowed:      now.Add(threshold),
		idleClosed:       idle,
		wake:             make(chan struct{}, 1),
	}
}

// MarkActivity records a real request's arrival (spec.md §4.6: "On every
// real request"). ClickXY, if set previously via SetClickPoint, is left
// untouched.
func (c *Coordinator) MarkActivity() {
	c.mu.Lock()
	now := c.now()
	c.lastActivity = now
	c.nextAllowed = now.Add(c.thresholdDuration())
	c.mu.Unlock()
	c.signalWake()
}

// MarkRemoteActivity implements the /internal/keepalive/remote/activity
// endpoint: like MarkActivity, but applies a small backwards jitter so
// many instances' schedules don't synchronize (spec.md §4.6).
func (c *Coordinator) MarkRemoteActivity() {
	c.mu.Lock()
	jitter := time.Duration((rand.Float64()*2 - 1) * float64(ActivityJitterSeconds) * float64(time.Second))
	now := c.now().Add(jitter)
	c.lastActivity = now
	c.nextAllowed = now.Add(c.thresholdDuration())
	c.mu.Unlock()
	c.signalWake()
}

// Enable turns on the scheduler (spec.md §6: POST .../remote/enable).
func (c *Coordinator) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
	c.signalWake()
}

// Disable turns off the scheduler (spec.md §6: POST .../remote/disable).
func (c *Coordinator) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
	c.signalWake()
}

// SetClickPoint configures the optional simulated click location.
func (c *Coordinator) SetClickPoint(x, y int) {
	c.mu.Lock()
	c.clickX, c.clickY = &x, &y
	c.mu.Unlock()
}

// WaitUntilIdle blocks until no simulated action is in progress (spec.md
// §4.4 step 4: "Wait until the Activity Coordinator is idle"). A real
// request calls this before dispatching to the Local Forwarder.
func (c *Coordinator) WaitUntilIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.busy {
			c.mu.Unlock()
			return nil
		}
		ch := c.idleClosed
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) thresholdDuration() time.Duration {
	return time.Duration(c.thresholdSeconds * float64(time.Second))
}
