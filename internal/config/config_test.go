package config

import (
	"path/filepath"
	"testing"
	"time"
)

// withConfigDir points Dir() at a temp directory for the duration of the
// test by overriding the environment variable Dir() consults, so tests
// never touch the real per-user config location.
func withConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, DirName)
}

func TestLoad_CreatesThenReusesFingerprint(t *testing.T) {
	withConfigDir(t)

	first, err := Load("1.0.0")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if first.Fingerprint == "" {
		t.Fatal("expected a generated fingerprint")
	}

	second, err := Load("1.0.0")
	if err != nil {
		t.Fatalf("Load (reload): %v", err)
	}
	if second.Fingerprint != first.Fingerprint {
		t.Fatalf("fingerprint changed across reloads: %q != %q", second.Fingerprint, first.Fingerprint)
	}
}

func TestLoad_RewritesVersionOnUpgrade(t *testing.T) {
	withConfigDir(t)

	first, err := Load("1.0.0")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	upgraded, err := Load("2.0.0")
	if err != nil {
		t.Fatalf("Load (upgrade): %v", err)
	}
	if upgraded.Version != "2.0.0" {
		t.Fatalf("Version = %q, want 2.0.0", upgraded.Version)
	}
	if upgraded.Fingerprint != first.Fingerprint {
		t.Fatal("fingerprint must survive a version upgrade")
	}
}

func TestPIDRecord_WriteReadRemove(t *testing.T) {
	withConfigDir(t)

	rec := &PIDRecord{
		PID:       12345,
		Version:   "1.0.0",
		StartedAt: time.Unix(1700000000, 0).UTC(),
		Argv:      []string{"cyberdriver", "join"},
		Command:   "cyberdriver",
		LocalPort: 8765,
		CloudHost: "example.test",
		CloudPort: 443,
	}
	if err := WritePIDRecord(rec); err != nil {
		t.Fatalf("WritePIDRecord: %v", err)
	}

	got, err := ReadPIDRecord()
	if err != nil {
		t.Fatalf("ReadPIDRecord: %v", err)
	}
	if got.PID != rec.PID || got.CloudHost != rec.CloudHost || got.LocalPort != rec.LocalPort {
		t.Fatalf("ReadPIDRecord = %+v, want %+v", got, rec)
	}

	if err := RemovePIDRecord(); err != nil {
		t.Fatalf("RemovePIDRecord: %v", err)
	}
	if _, err := ReadPIDRecord(); err == nil {
		t.Fatal("expected an error reading a removed PID record")
	}
}
