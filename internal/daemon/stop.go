// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package daemon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyberdesk-hq/cyberdriver/internal/config"
)

// DefaultStopTimeout is how long Stop waits after SIGTERM before
// escalating to SIGKILL on POSIX (spec.md §4.8, §6: "stop [--timeout S]").
const DefaultStopTimeout = 10 * time.Second

// ErrRefusedToStop is returned when the recorded PID doesn't look like a
// cyberdriver process and force wasn't requested (spec.md §6: exit code 2,
// "refused to stop (safety check failed)").
var ErrRefusedToStop = errors.New("daemon: refusing to stop a process that doesn't look like cyberdriver")

// ErrNotRunning is returned when no PID record exists.
var ErrNotRunning = errors.New("daemon: no running instance found")

// Stop reads the PID registry and terminates the recorded process (spec.md
// §4.8). force bypasses the image-name safety check; timeout bounds how
// long POSIX waits between SIGTERM and SIGKILL (ignored on Windows, which
// always force-terminates).
func Stop(force bool, timeout time.Duration) error {
	rec, err := config.ReadPIDRecord()
	if err != nil {
		return ErrNotRunning
	}

	if !force && !looksLikeCyberdriver(rec) {
		return ErrRefusedToStop
	}

	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	if err := terminate(rec.PID, timeout); err != nil {
		return fmt.Errorf("daemon: terminate pid %d: %w", rec.PID, err)
	}

	return config.RemovePIDRecord()
}

// looksLikeCyberdriver applies the argv heuristic spec.md §4.8 allows in
// place of a platform-specific image-name check: the recorded command or
// argv[0] must mention "cyberdriver".
func looksLikeCyberdriver(rec *config.PIDRecord) bool {
	if strings.Contains(strings.ToLower(rec.Command), "cyberdriver") {
		return true
	}
	for _, a := range rec.Argv {
		if strings.Contains(strings.ToLower(a), "cyberdriver") {
			return true
		}
	}
	return false
}
