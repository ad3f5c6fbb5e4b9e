// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config owns cyberdriver's persisted, per-user state: the
// fingerprint/version file, the PID registry record, and the directory
// layout both live under.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
)

// DirName is the folder created under the per-user config base.
const DirName = "cyberdriver"

// FileName is the persisted fingerprint/version file, relative to Dir().
const FileName = "config.json"

// PIDFileName is the PID registry file, relative to Dir().
const PIDFileName = "cyberdriver.pid.json"

// Persisted is the on-disk shape of config.json (spec.md §3, §6).
//
// Fingerprint is generated once and never changes across upgrades; Version
// is rewritten whenever the running binary's version differs from the
// stored one.
type Persisted struct {
	Version     string `json:"version"`
	Fingerprint string `json:"fingerprint"`
}

// Dir returns the per-user directory cyberdriver stores its state under.
// On Windows this is %LOCALAPPDATA%\cyberdriver; elsewhere it honors
// XDG_CONFIG_HOME and falls back to ~/.config/cyberdriver.
func Dir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("config: resolve home dir: %w", err)
			}
			base = home
		}
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("config: resolve home dir: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, DirName), nil
}

// Load reads config.json, creating it (with a fresh fingerprint) if absent,
// and rewriting it if the stored version differs from currentVersion.
func Load(currentVersion string) (*Persisted, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create config dir: %w", err)
	}

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var p Persisted
		if jsonErr := json.Unmarshal(data, &p); jsonErr != nil {
			return nil, fmt.Errorf("config: corrupt %s: %w", path, jsonErr)
		}
		if p.Fingerprint == "" {
			p.Fingerprint = uuid.NewString()
		}
		if p.Version != currentVersion {
			p.Version = currentVersion
			if saveErr := save(path, &p); saveErr != nil {
				return nil, saveErr
			}
		}
		return &p, nil
	case os.IsNotExist(err):
		p := &Persisted{Version: currentVersion, Fingerprint: uuid.NewString()}
		if saveErr := save(path, p); saveErr != nil {
			return nil, saveErr
		}
		return p, nil
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
}

func save(path string, p *Persisted) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return atomicWrite(path, data)
}

// atomicWrite writes data to path via a temp-file-then-rename, so readers
// never observe a partially written file (spec.md §3, PID Record).
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}
