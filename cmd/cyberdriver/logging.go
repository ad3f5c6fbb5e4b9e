// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// newLogger builds the process's root logger: a colorized console writer
// when attached to a terminal in foreground mode, structured JSON lines
// otherwise (detached children always get JSON, since their stdout is a
// log file, not a terminal).
func newLogger(foreground bool) zerolog.Logger {
	if foreground && isatty.IsTerminal(os.Stdout.Fd()) {
		console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		return zerolog.New(console).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// statusOK and statusWarn print one-line, user-facing command results
// (not log events) colorized when stdout is a terminal — the messages
// start/join/stop print directly per spec.md §6, as distinct from the
// structured zerolog stream.
func statusOK(format string, args ...interface{}) {
	printStatus(color.New(color.FgGreen), format, args...)
}

func statusWarn(format string, args ...interface{}) {
	printStatus(color.New(color.FgYellow), format, args...)
}

func printStatus(c *color.Color, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if isatty.IsTerminal(os.Stdout.Fd()) {
		c.Println(msg)
		return
	}
	fmt.Println(msg)
}
