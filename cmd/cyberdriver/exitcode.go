// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"

	"github.com/urfave/cli"

	"github.com/cyberdesk-hq/cyberdriver/internal/daemon"
	"github.com/cyberdesk-hq/cyberdriver/internal/tunnel"
)

// exitCodeFor maps a command's returned error to the process exit code
// spec.md §6 defines: 0 normal, 1 unrecoverable, 2 refused to stop.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if coder, ok := err.(cli.ExitCoder); ok {
		return coder.ExitCode()
	}
	var authErr *tunnel.AuthFailedErr
	if errors.As(err, &authErr) {
		return 1
	}
	if errors.Is(err, daemon.ErrRefusedToStop) {
		return 2
	}
	return 1
}
