// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli"

	"github.com/cyberdesk-hq/cyberdriver/internal/config"
	"github.com/cyberdesk-hq/cyberdriver/internal/daemon"
	"github.com/cyberdesk-hq/cyberdriver/internal/forwarder"
	"github.com/cyberdesk-hq/cyberdriver/internal/idempotency"
	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
	"github.com/cyberdesk-hq/cyberdriver/internal/localserver"
	"github.com/cyberdesk-hq/cyberdriver/internal/tunnel"
	"github.com/cyberdesk-hq/cyberdriver/internal/watchdog"
)

// ProtocolVersion is sent as the X-PIGLET-VERSION header on every dial.
const ProtocolVersion = "1"

// DefaultCloudPort is the default cloud control-plane WebSocket port.
const DefaultCloudPort = 443

func joinCommand() cli.Command {
	return cli.Command{
		Name:      "join",
		Usage:     "connect to the cloud control plane and serve the local origin through it",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "secret", Usage: "bearer secret for the cloud control plane"},
			cli.StringFlag{Name: "host", Value: "api.cyberdesk.io", Usage: "cloud control-plane host"},
			cli.IntFlag{Name: "port", Value: DefaultCloudPort, Usage: "cloud control-plane port"},
			cli.IntFlag{Name: "target-port", Value: DefaultLocalPort, Usage: "preferred local origin port"},
			cli.BoolFlag{Name: "keepalive", Usage: "enable the idle keepalive coordinator"},
			cli.Float64Flag{Name: "keepalive-threshold-minutes", Value: keepalive.DefaultThreshold.Minutes(), Usage: "idle minutes before a simulated action runs"},
			cli.IntFlag{Name: "keepalive-click-x", Usage: "simulated click x coordinate"},
			cli.IntFlag{Name: "keepalive-click-y", Usage: "simulated click y coordinate"},
			cli.BoolFlag{Name: "black-screen-recovery", Usage: "enable the black-screen watchdog"},
			cli.IntFlag{Name: "black-screen-check-interval", Value: int(watchdog.CheckInterval.Seconds()), Usage: "seconds between watchdog checks"},
			cli.StringFlag{Name: "register-as-keepalive-for", Usage: "machine id this process proxies keepalive traffic for"},
			cli.BoolFlag{Name: "foreground", Usage: "stay attached instead of detaching (default on POSIX)"},
			cli.BoolFlag{Name: DetachedMarkerFlag, Hidden: true, Usage: "internal: marks an already-detached child"},
		},
		Action: runJoin,
	}
}

// DetachedMarkerFlag is the urfave/cli flag name mirroring
// daemon.DetachedMarker (urfave/cli strips the leading "--").
const DetachedMarkerFlag = "internal-detached"

func runJoin(c *cli.Context) error {
	if c.String("secret") == "" {
		return cli.NewExitError("join: --secret is required", 1)
	}

	detached := c.Bool(DetachedMarkerFlag)
	foreground := c.Bool("foreground") || detached

	// Windows defaults to detaching unless --foreground was passed
	// (spec.md §4.8: "detached start (Windows default for join)").
	shouldDetach := runtime.GOOS == "windows" && !c.Bool("foreground") && !detached
	if shouldDetach {
		return detachAndExit(c)
	}

	if rec, running, err := daemon.AlreadyRunning(); err != nil {
		return fmt.Errorf("join: check running instance: %w", err)
	} else if running {
		statusWarn("cyberdriver is already running (pid %d)", rec.PID)
		return nil
	}

	guard, err := daemon.NewGuard()
	if err != nil {
		return fmt.Errorf("join: build instance guard: %w", err)
	}
	if ok, err := guard.TryAcquire(); err != nil {
		return fmt.Errorf("join: acquire instance guard: %w", err)
	} else if !ok {
		statusWarn("cyberdriver is already running")
		return nil
	}
	defer guard.Release()

	log := newLogger(foreground)

	persisted, err := config.Load(version)
	if err != nil {
		return fmt.Errorf("join: load config: %w", err)
	}

	host := cleanHost(c.String("host"))
	coordinator := buildCoordinator(c, log)
	fwd := forwarder.New(0) // port filled in once the local server binds
	cache := idempotency.New()

	srv := localserver.New(coordinator, log)
	ln, localPort, err := localserver.Listen(c.Int("target-port"))
	if err != nil {
		return fmt.Errorf("join: bind local server: %w", err)
	}
	fwd.Port = localPort

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.WritePIDRecord(&config.PIDRecord{
		PID:       os.Getpid(),
		Version:   version,
		StartedAt: time.Now(),
		Argv:      os.Args,
		Command:   os.Args[0],
		LocalPort: localPort,
		CloudHost: host,
		CloudPort: c.Int("port"),
	}); err != nil {
		return fmt.Errorf("join: write pid record: %w", err)
	}
	defer config.RemovePIDRecord()

	go coordinator.Run(ctx)
	go func() {
		if err := srv.Serve(ln); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("local server stopped")
		}
	}()
	defer ln.Close()

	if c.Bool("black-screen-recovery") {
		wd := watchdog.New(
			watchdog.NewPlatformCapturer(),
			watchdog.StubRecoverer{},
			time.Duration(c.Int("black-screen-check-interval"))*time.Second,
			log,
		)
		go wd.Run(ctx)
	}

	cfg := tunnel.Config{
		Host:               host,
		Port:               c.Int("port"),
		Secret:             c.String("secret"),
		Fingerprint:        persisted.Fingerprint,
		Version:            ProtocolVersion,
		LoopbackPort:       localPort,
		RemoteKeepaliveFor: c.String("register-as-keepalive-for"),
	}
	sup := tunnel.NewSupervisor(cfg, fwd, cache, coordinator, log)

	log.Info().Int("local_port", localPort).Str("cloud_host", cfg.Host).Msg("joining cloud control plane")
	return sup.Run(ctx)
}

// cleanHost strips a leading http:// or https:// scheme from a --host
// value, mirroring original_source/cyberdriver.py's _connect_and_run,
// which accepts either a bare hostname or a URL and composes its own
// wss:// scheme either way.
func cleanHost(host string) string {
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}

// buildCoordinator wires the keepalive flags into a Coordinator. It is
// constructed regardless of --keepalive so the local server's remote
// control endpoints always have something to call; --keepalive only
// controls whether it starts enabled.
func buildCoordinator(c *cli.Context, log zerolog.Logger) *keepalive.Coordinator {
	threshold := time.Duration(c.Float64("keepalive-threshold-minutes") * float64(time.Minute))
	coordinator := keepalive.New(threshold, keepalive.StubActuator{}, log)
	if c.IsSet("keepalive-click-x") && c.IsSet("keepalive-click-y") {
		coordinator.SetClickPoint(c.Int("keepalive-click-x"), c.Int("keepalive-click-y"))
	}
	if c.Bool("keepalive") {
		coordinator.Enable()
	}
	return coordinator
}

// detachAndExit re-launches this process detached and exits the parent
// (spec.md §4.8).
func detachAndExit(c *cli.Context) error {
	pid, logPath, err := daemon.Relaunch()
	if err != nil {
		return fmt.Errorf("join: relaunch detached: %w", err)
	}
	statusOK("cyberdriver running in background (pid %d), logs at %s", pid, logPath)
	return nil
}
