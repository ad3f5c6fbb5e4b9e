// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package daemon

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// MaxLogSize is the hard cap on the detached stdio log before it is
// truncated (spec.md §4.8: "10 MiB hard cap, truncate+header on overflow").
const MaxLogSize = 10 * 1024 * 1024

// cappedLogWriter is an io.Writer over a file that truncates itself (with
// a header noting the truncation) once it would exceed MaxLogSize.
type cappedLogWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	size int64
}

func newCappedLogWriter(path string) (*cappedLogWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("daemon: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("daemon: stat log file: %w", err)
	}
	return &cappedLogWriter{path: path, f: f, size: info.Size()}, nil
}

func (w *cappedLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > MaxLogSize {
		if err := w.truncateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *cappedLogWriter) truncateLocked() error {
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("daemon: truncate log file: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("daemon: seek log file: %w", err)
	}
	header := fmt.Sprintf("--- log truncated at %s (exceeded %d bytes) ---\n", time.Now().UTC().Format(time.RFC3339), MaxLogSize)
	n, err := w.f.WriteString(header)
	w.size = int64(n)
	return err
}

func (w *cappedLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
