package snapshotstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/one-ui/control-plane/internal/adapter/outbound/filelock"
)

// Store persists and lists config snapshots under a single directory, two
// files per snapshot: "<id>.config.json" and "<id>.meta.json". Writes are
// atomic (temp file + fsync + rename) and serialized by an in-process mutex
// plus a cross-process flock. Apply's own config-file write shares the
// temp-file-and-rename step but takes neither lock.
type Store struct {
	dir       string
	retention int
	logger    *slog.Logger

	mu sync.Mutex
}

// New creates a Store rooted at dir, pruning to at most retention entries
// (bounded 1-500 by the caller's config validation).
func New(dir string, retention int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, retention: retention, logger: logger}
}

// newID produces a "<ISO8601-with-colons-as-dashes>-<6-hex>" identifier.
func newID() string {
	ts := strings.ReplaceAll(time.Now().UTC().Format(time.RFC3339Nano), ":", "-")
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return ts + "-" + suffix
}

// Create persists rawConfig as a new snapshot with the given reason and
// prunes the store to the retention bound afterward. Pruning failures are
// logged, not returned: retention is best-effort.
func (s *Store) Create(reason string, rawConfig []byte) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return Snapshot{}, fmt.Errorf("snapshotstore: create dir: %w", err)
	}

	unlock, err := s.lock()
	if err != nil {
		return Snapshot{}, err
	}
	defer unlock()

	id := newID()
	now := time.Now().UTC()
	m := meta{ID: id, CreatedAt: now, Reason: reason, ConfigPath: s.configPath(id)}

	if err := s.writeAtomic(s.configPath(id), rawConfig); err != nil {
		return Snapshot{}, fmt.Errorf("snapshotstore: write config: %w", err)
	}
	metaBytes, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshotstore: marshal meta: %w", err)
	}
	if err := s.writeAtomic(s.metaPath(id), metaBytes); err != nil {
		return Snapshot{}, fmt.Errorf("snapshotstore: write meta: %w", err)
	}

	if err := s.prune(); err != nil {
		s.logger.Warn("snapshot retention prune failed", "error", err)
	}

	return Snapshot{ID: id, CreatedAt: now, Reason: reason, ConfigPath: m.ConfigPath, RawConfig: rawConfig}, nil
}

// List returns all retained snapshots, newest-first.
func (s *Store) List() ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

func (s *Store) list() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshotstore: read dir: %w", err)
	}

	var out []Snapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta.json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("snapshotstore: skipping unreadable meta file", "file", e.Name(), "error", err)
			continue
		}
		var m meta
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("snapshotstore: skipping corrupt meta file", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, Snapshot{ID: m.ID, CreatedAt: m.CreatedAt, Reason: m.Reason, ConfigPath: m.ConfigPath})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Load reads back the raw config bytes for a snapshot id.
func (s *Store) Load(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.ReadFile(s.configPath(id))
}

// prune removes the oldest snapshots beyond the retention bound. Must be
// called with s.mu held.
func (s *Store) prune() error {
	if s.retention <= 0 {
		return nil
	}
	snaps, err := s.list()
	if err != nil {
		return err
	}
	if len(snaps) <= s.retention {
		return nil
	}

	var firstErr error
	for _, snap := range snaps[s.retention:] {
		if err := os.Remove(s.configPath(snap.ID)); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(s.metaPath(snap.ID)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) configPath(id string) string { return filepath.Join(s.dir, id+".config.json") }
func (s *Store) metaPath(id string) string   { return filepath.Join(s.dir, id+".meta.json") }

func (s *Store) lock() (func(), error) {
	lockPath := filepath.Join(s.dir, ".snapshotstore.lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: open lock file: %w", err)
	}
	if err := filelock.Lock(f.Fd()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("snapshotstore: acquire lock: %w", err)
	}
	return func() {
		_ = filelock.Unlock(f.Fd())
		_ = f.Close()
	}, nil
}

// writeAtomic writes data to path via a temp-file-plus-rename sequence,
// fsyncing before the rename so a crash never leaves a half-written file
// visible at path.
func (s *Store) writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}
	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
