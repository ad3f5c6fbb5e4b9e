//go:build windows

package daemon

import (
	"os"
	"syscall"
	"time"
)

// terminate force-kills pid (spec.md §4.8: "on Windows, terminate with
// force"); timeout is unused since there is no graceful-then-forceful
// escalation on this platform.
func terminate(pid int, timeout time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// isAlive reports whether pid refers to a live process.
func isAlive(pid int) bool {
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer syscall.CloseHandle(h)
	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}
