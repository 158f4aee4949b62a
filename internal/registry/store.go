package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/shieldserve/internal/process"
)

// File names inside the data directory.
const (
	RecordFile   = "server.pid"
	SentinelFile = "stopping"
	LockFile     = "session.lock"
	ManifestFile = "session.json"
)

// ErrNoRecord is returned by Read when no session is recorded.
var ErrNoRecord = errors.New("no registry record")

// State is the session state composed from the record and the stop sentinel.
type State int

const (
	Absent State = iota
	Active
	StopRequested
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Active:
		return "active"
	case StopRequested:
		return "stop-requested"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Manifest records how the supervised processes of a session were launched,
// so a separate watchdog process can relaunch them identically. Starts holds
// the start time (Unix seconds) of each recorded PID; a PID whose process
// started at another time has been reused and is not part of the session.
type Manifest struct {
	SessionID string                 `json:"session_id"`
	StartedAt time.Time              `json:"started_at"`
	Interval  time.Duration          `json:"interval"`
	Service   process.Spec           `json:"service"`
	Proxy     process.Spec           `json:"proxy"`
	Starts    map[process.Role]int64 `json:"starts,omitempty"`
}

// StartOf returns the recorded start time of role, or 0.
func (m Manifest) StartOf(role process.Role) int64 { return m.Starts[role] }

// SetStart records the start time of role. The map is copied, so manifests
// sharing it are unaffected.
func (m *Manifest) SetStart(role process.Role, sec int64) {
	starts := make(map[process.Role]int64, len(m.Starts)+1)
	maps.Copy(starts, m.Starts)
	starts[role] = sec
	m.Starts = starts
}

// Spec returns the launch spec for role.
func (m Manifest) Spec(role process.Role) (process.Spec, bool) {
	switch role {
	case process.RoleService:
		return m.Service, m.Service.Path != ""
	case process.RoleProxy:
		return m.Proxy, m.Proxy.Path != ""
	}
	return process.Spec{}, false
}

// Store is the file-backed registry rooted at one data directory.
// The record and the sentinel are the only state shared between the
// controller and the watchdog.
type Store struct {
	dir string
}

func New(dir string) *Store { return &Store{dir: dir} }

func (s *Store) Dir() string          { return s.dir }
func (s *Store) RecordPath() string   { return filepath.Join(s.dir, RecordFile) }
func (s *Store) SentinelPath() string { return filepath.Join(s.dir, SentinelFile) }
func (s *Store) LockPath() string     { return filepath.Join(s.dir, LockFile) }
func (s *Store) ManifestPath() string { return filepath.Join(s.dir, ManifestFile) }

// Read returns the current record, or ErrNoRecord.
func (s *Store) Read() (Record, error) {
	b, err := os.ReadFile(s.RecordPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, ErrNoRecord
		}
		return Record{}, err
	}
	return ParseRecord(string(b))
}

// Write replaces the record atomically.
func (s *Store) Write(r Record) error {
	return writeFileAtomic(s.RecordPath(), []byte(r.String()+"\n"), 0o600)
}

// Remove deletes the record. A missing record is not an error.
func (s *Store) Remove() error { return removeIfExists(s.RecordPath()) }

// RequestStop creates the stop sentinel.
func (s *Store) RequestStop() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.SentinelPath(), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o600)
}

// ClearStop removes the stop sentinel.
func (s *Store) ClearStop() error { return removeIfExists(s.SentinelPath()) }

// StopRequested reports whether the stop sentinel is present.
func (s *Store) StopRequested() bool {
	_, err := os.Stat(s.SentinelPath())
	return err == nil
}

// State composes the record and sentinel into one value. The sentinel wins:
// once stop is requested the session is never considered active.
func (s *Store) State() State {
	if s.StopRequested() {
		return StopRequested
	}
	if _, err := os.Stat(s.RecordPath()); err == nil {
		return Active
	}
	return Absent
}

// WriteManifest persists m atomically.
func (s *Store) WriteManifest(m Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.ManifestPath(), append(b, '\n'), 0o600)
}

// ReadManifest loads the session manifest.
func (s *Store) ReadManifest() (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(s.ManifestPath())
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	return m, nil
}

// RemoveManifest deletes the session manifest. A missing file is not an error.
func (s *Store) RemoveManifest() error { return removeIfExists(s.ManifestPath()) }

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
