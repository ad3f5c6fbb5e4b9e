// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli"

	"github.com/cyberdesk-hq/cyberdriver/internal/config"
	"github.com/cyberdesk-hq/cyberdriver/internal/daemon"
)

func logsCommand() cli.Command {
	return cli.Command{
		Name:      "logs",
		Usage:     "tail the detached instance's stdio log file",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "path", Usage: "log file path (default: the detached stdio log under the config dir)"},
		},
		Action: runLogs,
	}
}

func runLogs(c *cli.Context) error {
	path := c.String("path")
	if path == "" {
		dir, err := config.Dir()
		if err != nil {
			return fmt.Errorf("logs: resolve config dir: %w", err)
		}
		path = filepath.Join(dir, daemon.StdioLogName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// spec.md §4.8: follow until Ctrl+C or Enter. ReadString blocks on
	// stdin past ctx cancellation, but that's fine: it's abandoned when
	// the process exits on the signal path, and exits itself on Enter.
	go func() {
		reader := bufio.NewReader(os.Stdin)
		if _, err := reader.ReadString('\n'); err == nil {
			stop()
		}
	}()

	if err := daemon.Tail(ctx, path, os.Stdout); err != nil {
		return fmt.Errorf("logs: %w", err)
	}
	return nil
}
