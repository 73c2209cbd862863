package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists the checkpoint snapshot under:
//
//	<stateDir>/checkpoint.json
//
// Concurrent orchestrator invocations against the same state directory
// serialize through an advisory lock on <stateDir>/checkpoint.lock held for
// the duration of each mutation. The lock is released on all exit paths and
// drops automatically if the holding process dies.
type Store struct {
	stateDir string
}

func NewStore(stateDir string) (*Store, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, errors.New("stateDir is required")
	}
	return &Store{stateDir: stateDir}, nil
}

func (s *Store) snapshotPath() string {
	return filepath.Join(s.stateDir, "checkpoint.json")
}

func (s *Store) lockPath() string {
	return filepath.Join(s.stateDir, "checkpoint.lock")
}

// Load reads the current snapshot. A missing file yields a zero Snapshot
// (empty SessionID, no records): every node reads as pending.
func (s *Store) Load() (Snapshot, error) {
	var snap Snapshot
	if err := readJSONStrict(s.snapshotPath(), &snap); err != nil {
		if os.IsNotExist(err) {
			return Snapshot{Records: map[string]Record{}}, nil
		}
		return Snapshot{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if err := snap.validate(); err != nil {
		return Snapshot{}, fmt.Errorf("invalid checkpoint on disk: %w", err)
	}
	if snap.Records == nil {
		snap.Records = map[string]Record{}
	}
	return snap, nil
}

// Begin ensures a session exists and returns its snapshot.
//
// When fresh is true any existing snapshot is discarded and a new session id
// is minted; otherwise an existing session is kept (the resume path) and a
// session is created only if none exists yet.
func (s *Store) Begin(fresh bool) (Snapshot, error) {
	var out Snapshot
	err := s.withLock(func() error {
		snap, err := s.Load()
		if err != nil {
			return err
		}
		if fresh || snap.SessionID == "" {
			now := time.Now().UTC()
			snap = Snapshot{
				SessionID: uuid.NewString(),
				CreatedAt: now,
				UpdatedAt: now,
				Records:   map[string]Record{},
			}
			if err := s.write(snap); err != nil {
				return err
			}
		}
		out = snap
		return nil
	})
	return out, err
}

// Save upserts the record for a workflow id with a fresh timestamp, merging
// into whatever is currently on disk rather than what the caller last saw.
//
// Guarantee: after Save(id, done) returns, any subsequent process reading the
// store observes done for id, even across interruption and restart.
func (s *Store) Save(id string, status Status) (Snapshot, error) {
	if strings.TrimSpace(id) == "" {
		return Snapshot{}, errors.New("workflow id is required")
	}
	var out Snapshot
	err := s.withLock(func() error {
		snap, err := s.Load()
		if err != nil {
			return err
		}
		if snap.SessionID == "" {
			return errors.New("no active session (checkpoint store not initialized)")
		}
		from := snap.Get(id)
		if from != status && !allowedTransition(from, status) {
			return fmt.Errorf("disallowed transition for %q: %s -> %s", id, from, status)
		}
		now := time.Now().UTC()
		snap.Records[id] = Record{Status: status, UpdatedAt: now}
		snap.UpdatedAt = now
		if err := s.write(snap); err != nil {
			return err
		}
		out = snap
		return nil
	})
	return out, err
}

// Reset deletes the checkpoint snapshot. Evidence is untouched: resetting
// forgets progress, not history.
func (s *Store) Reset() error {
	return s.withLock(func() error {
		if err := os.Remove(s.snapshotPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reset checkpoint: %w", err)
		}
		return nil
	})
}

func (s *Store) withLock(fn func() error) error {
	if err := ensureDirDurable(s.stateDir, 0o755); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}
	unlock, err := acquireLock(s.lockPath())
	if err != nil {
		return fmt.Errorf("acquire checkpoint lock: %w", err)
	}
	defer unlock()
	return fn()
}

func (s *Store) write(snap Snapshot) error {
	if err := snap.validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}
	data, err := jsonMarshalStable(snap)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := writeFileAtomicDurable(s.snapshotPath(), data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure no trailing junk.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	// Best-effort durability: sync the directory and its parent.
	if err := fsyncDir(dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	if parent != dir {
		if err := fsyncDir(parent); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
