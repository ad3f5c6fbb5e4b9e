// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package daemon implements the single-instance guard, detached relaunch,
// stop, and log-tail pieces of spec.md §4.8.
package daemon

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/cyberdesk-hq/cyberdriver/internal/config"
)

// LockFileName is the advisory lock cyberdriver holds for the lifetime of
// a running instance (spec.md §4.8: "single-instance guard").
const LockFileName = "cyberdriver.lock"

// Guard is the single-instance lock. Unlike a bare PID-file liveness
// check, an flock-held lock is released automatically by the OS if the
// holding process dies without cleaning up, so a stale PID record can
// never cause a false "already running". The PID record is read alongside
// it only for the human-readable message and by the stop command, which
// needs an actual PID to signal; the recorded PID is not itself checked
// for liveness.
type Guard struct {
	fl *flock.Flock
}

// NewGuard returns a Guard for the per-user lock file.
func NewGuard() (*Guard, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	return &Guard{fl: flock.New(filepath.Join(dir, LockFileName))}, nil
}

// TryAcquire attempts to take the lock without blocking. ok is false if
// another live instance already holds it.
func (g *Guard) TryAcquire() (ok bool, err error) {
	ok, err = g.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("daemon: acquire instance lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock.
func (g *Guard) Release() error {
	return g.fl.Unlock()
}

// AlreadyRunning reports whether a live instance appears to be running.
// The held lock is the liveness signal; the PID record, if readable, is
// returned only so the caller can name the running PID. Neither the
// recorded PID's liveness nor its image name is checked.
func AlreadyRunning() (*config.PIDRecord, bool, error) {
	guard, err := NewGuard()
	if err != nil {
		return nil, false, err
	}
	ok, err := guard.TryAcquire()
	if err != nil {
		return nil, false, err
	}
	if ok {
		// We took the lock; nothing else is running. Release it — the
		// caller re-acquires (and holds) it for the process's lifetime
		// once it actually commits to starting.
		guard.Release()
		return nil, false, nil
	}

	rec, err := config.ReadPIDRecord()
	if err != nil {
		// Lock is held but no PID record — treat as running anyway; the
		// lock is the authoritative signal.
		return nil, true, nil
	}
	return rec, true, nil
}
