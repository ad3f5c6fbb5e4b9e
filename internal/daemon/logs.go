// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// TailHistoryBytes is how much of the log file's tail is printed as
// history before following (spec.md §4.8: "print the last ~16 KiB").
const TailHistoryBytes = 16 * 1024

// TailPollInterval is how often Tail polls for new bytes while following.
const TailPollInterval = 250 * time.Millisecond

// Tail prints up to the last TailHistoryBytes of the file at path, then
// follows appended writes until ctx is cancelled, writing everything to
// out. It handles truncation (spec.md §4.8) by reseeking to the start
// whenever the file shrinks.
func Tail(ctx context.Context, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("daemon: open log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("daemon: stat log file: %w", err)
	}

	offset := info.Size() - TailHistoryBytes
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("daemon: seek log file: %w", err)
	}
	if _, err := io.Copy(out, f); err != nil {
		return fmt.Errorf("daemon: read log history: %w", err)
	}
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(TailPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("daemon: stat log file: %w", err)
			}
			if info.Size() < pos {
				// Truncated (spec.md §4.8): reseek to the start.
				pos = 0
				if _, err := f.Seek(0, io.SeekStart); err != nil {
					return err
				}
			}
			if info.Size() > pos {
				n, err := io.Copy(out, f)
				if err != nil {
					return fmt.Errorf("daemon: read log append: %w", err)
				}
				pos += n
			}
		}
	}
}
