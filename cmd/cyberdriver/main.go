// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command cyberdriver runs the reverse-tunnel agent: the local HTTP
// origin (`start`), the tunnel client that connects it to a cloud control
// plane (`join`), and the commands that manage an already-running
// detached instance (`stop`, `logs`).
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

// version is overridable at link time (-ldflags "-X main.version=...").
var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "cyberdriver"
	app.Usage = "local computer-control API and reverse-tunnel agent"
	app.Version = version
	app.Commands = []cli.Command{
		startCommand(),
		joinCommand(),
		stopCommand(),
		logsCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
