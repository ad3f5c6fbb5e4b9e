//go:build windows

package daemon

import (
	"os/exec"
	"syscall"
)

// detachSysProcAttr configures cmd to survive the parent terminal closing
// (spec.md §4.8: Windows is the default detached-relaunch target). The
// source's VBScript/PowerShell/scheduled-task fallbacks are collapsed to
// this single, platform-implementation-defined mechanism (spec.md §9 open
// question).
func detachSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x08000000, // + CREATE_NO_WINDOW
	}
}
