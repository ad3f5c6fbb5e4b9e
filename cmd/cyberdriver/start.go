// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
	"github.com/cyberdesk-hq/cyberdriver/internal/localserver"
)

// DefaultLocalPort is the preferred port for the local HTTP origin
// (spec.md §6: "the first free port found starting at a configured
// default").
const DefaultLocalPort = 8765

// startCommand runs only the local HTTP origin, with no tunnel (spec.md
// §6: "start [--port N] — run the local server only").
func startCommand() cli.Command {
	return cli.Command{
		Name:      "start",
		Usage:     "run the local computer-control HTTP server only",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "port", Value: DefaultLocalPort, Usage: "preferred local listen port"},
		},
		Action: runStart,
	}
}

func runStart(c *cli.Context) error {
	log := newLogger(true)

	coordinator := keepalive.New(keepalive.DefaultThreshold, keepalive.StubActuator{}, log)
	srv := localserver.New(coordinator, log)

	ln, port, err := localserver.Listen(c.Int("port"))
	if err != nil {
		return fmt.Errorf("start: bind local server: %w", err)
	}
	log.Info().Int("port", port).Msg("local server listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go coordinator.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		ln.Close()
		return nil
	case err := <-errCh:
		return fmt.Errorf("start: local server: %w", err)
	}
}
