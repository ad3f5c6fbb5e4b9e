package daemon

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyberdesk-hq/cyberdriver/internal/config"
)

func TestLooksLikeCyberdriver(t *testing.T) {
	cases := []struct {
		rec  config.PIDRecord
		want bool
	}{
		{config.PIDRecord{Command: "/usr/local/bin/cyberdriver"}, true},
		{config.PIDRecord{Argv: []string{"CyberDriver.exe", "join"}}, true},
		{config.PIDRecord{Command: "/usr/bin/totally-unrelated"}, false},
	}
	for _, c := range cases {
		if got := looksLikeCyberdriver(&c.rec); got != c.want {
			t.Errorf("looksLikeCyberdriver(%+v) = %v, want %v", c.rec, got, c.want)
		}
	}
}

func TestCappedLogWriter_TruncatesOnOverflow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stdio.log")

	w, err := newCappedLogWriter(path)
	if err != nil {
		t.Fatalf("newCappedLogWriter: %v", err)
	}
	defer w.Close()

	chunk := bytes.Repeat([]byte("x"), 1024)
	for i := 0; i < MaxLogSize/1024+10; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() > MaxLogSize {
		t.Fatalf("log file size %d exceeds cap %d", info.Size(), MaxLogSize)
	}
}

func TestTail_PrintsHistoryAndFollows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("line1\nline2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	go func() {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		time.Sleep(50 * time.Millisecond)
		f.WriteString("line3\n")
	}()

	if err := Tail(ctx, path, &out); err != nil {
		t.Fatalf("Tail: %v", err)
	}
	got := out.String()
	if !bytes.Contains([]byte(got), []byte("line1")) || !bytes.Contains([]byte(got), []byte("line3")) {
		t.Fatalf("expected history and follow-on content, got %q", got)
	}
}
