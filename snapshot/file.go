package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/c360studio/semflow/engine"
)

// FileStore persists snapshots as a single JSON file. Writes go to a
// temp file in the same directory followed by a rename, so a crash
// mid-write never leaves a torn snapshot behind.
type FileStore struct {
	path string
}

// NewFileStore creates a file store at the given path, creating parent
// directories as needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes the snapshot atomically.
func (s *FileStore) Save(ctx context.Context, snap engine.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersistenceWrite, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename: %v", ErrPersistenceWrite, err)
	}
	return nil
}

// Load reads and validates the last saved snapshot.
func (s *FileStore) Load(ctx context.Context) (engine.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return engine.Snapshot{}, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return engine.Snapshot{}, ErrNoSnapshot
		}
		return engine.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return engine.Snapshot{}, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if err := snap.Validate(); err != nil {
		return engine.Snapshot{}, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	return snap, nil
}
