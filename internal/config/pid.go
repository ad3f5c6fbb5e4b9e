package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/encoding/json"
)

// PIDRecord is the on-disk shape of cyberdriver.pid.json (spec.md §3).
// It exists only to let a later invocation detect and stop an
// already-running instance; it is never consulted for anything else.
type PIDRecord struct {
	PID       int       `json:"pid"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	Frozen    bool      `json:"frozen"`
	Argv      []string  `json:"argv"`
	Command   string    `json:"command"`
	LocalPort int       `json:"local_port"`
	CloudHost string    `json:"cloud_host"`
	CloudPort int       `json:"cloud_port"`
}

// PIDPath returns the absolute path to cyberdriver.pid.json.
func PIDPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, PIDFileName), nil
}

// WritePIDRecord atomically writes rec to the PID registry file.
func WritePIDRecord(rec *PIDRecord) error {
	path, err := PIDPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode pid record: %w", err)
	}
	return atomicWrite(path, data)
}

// ReadPIDRecord reads the PID registry file. It returns os.ErrNotExist
// (wrapped) if no instance has ever registered one.
func ReadPIDRecord() (*PIDRecord, error) {
	path, err := PIDPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec PIDRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("config: corrupt %s: %w", path, err)
	}
	return &rec, nil
}

// RemovePIDRecord deletes the PID registry file, ignoring a not-exist error.
func RemovePIDRecord() error {
	path, err := PIDPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: remove pid file: %w", err)
	}
	return nil
}
