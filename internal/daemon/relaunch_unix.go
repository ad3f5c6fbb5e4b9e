//go:build !windows

package daemon

import (
	"os/exec"
	"syscall"
)

// detachSysProcAttr starts cmd in a new session so it survives the
// parent's controlling terminal closing (spec.md §4.8).
func detachSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
