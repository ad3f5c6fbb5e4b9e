// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cyberdesk-hq/cyberdriver/internal/config"
)

// DetachedMarker is appended to argv when re-launching self, so the child
// knows not to detach again (spec.md §4.8).
const DetachedMarker = "--internal-detached"

// StdioLogName is the detached child's captured stdout/stderr file.
const StdioLogName = "logs/cyberdriver-stdio.log"

// Relaunch re-execs the current binary with the same argv (minus any
// existing DetachedMarker) plus DetachedMarker appended, redirecting its
// stdout/stderr to a size-capped log file, and returns without waiting for
// the child (spec.md §4.8: "re-launch self... the parent process prints a
// one-line message and exits"). The exact detachment mechanism is
// platform-specific; see relaunch_windows.go / relaunch_unix.go for the
// process-group/session handling.
func Relaunch() (pid int, logPath string, err error) {
	exePath, err := os.Executable()
	if err != nil {
		return 0, "", fmt.Errorf("daemon: resolve executable: %w", err)
	}

	dir, err := config.Dir()
	if err != nil {
		return 0, "", err
	}
	logPath = filepath.Join(dir, StdioLogName)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return 0, "", fmt.Errorf("daemon: create log dir: %w", err)
	}

	logWriter, err := newCappedLogWriter(logPath)
	if err != nil {
		return 0, "", err
	}

	args := filterDetachedMarker(os.Args[1:])
	args = append(args, DetachedMarker)

	cmd := exec.Command(exePath, args...)
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter
	cmd.Stdin = nil
	detachSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, "", fmt.Errorf("daemon: start detached child: %w", err)
	}
	return cmd.Process.Pid, logPath, nil
}

func filterDetachedMarker(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a != DetachedMarker {
			out = append(out, a)
		}
	}
	return out
}
