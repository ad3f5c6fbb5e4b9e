// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/cyberdesk-hq/cyberdriver/internal/daemon"
)

func stopCommand() cli.Command {
	return cli.Command{
		Name:      "stop",
		Usage:     "stop the running instance via the PID file",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "force", Usage: "skip the image-name safety check"},
			cli.IntFlag{Name: "timeout", Value: int(daemon.DefaultStopTimeout.Seconds()), Usage: "seconds to wait before SIGKILL (POSIX only)"},
		},
		Action: runStop,
	}
}

func runStop(c *cli.Context) error {
	timeout := time.Duration(c.Int("timeout")) * time.Second
	err := daemon.Stop(c.Bool("force"), timeout)
	switch {
	case err == nil:
		statusOK("cyberdriver stopped")
		return nil
	case errors.Is(err, daemon.ErrNotRunning):
		statusWarn("no running instance found")
		return nil
	case errors.Is(err, daemon.ErrRefusedToStop):
		return cli.NewExitError("stop: refusing to stop a process that doesn't look like cyberdriver (use --force)", 2)
	default:
		return cli.NewExitError(fmt.Sprintf("stop: %v", err), 1)
	}
}
