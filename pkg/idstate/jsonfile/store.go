// Package jsonfile stores identifier state in a single JSON document, the
// id_state.json format existing deployments already have on disk.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/rfidgate/pkg/idstate"
)

// Store reads and rewrites one JSON file.
//
// Save writes a sibling temp file, syncs it and renames it over the target,
// so a crash mid-write leaves either the old or the new snapshot.
type Store struct {
	path string
	mu   sync.Mutex
}

var _ idstate.Store = (*Store)(nil)

// New returns a store for path. The file need not exist yet.
func New(path string) *Store {
	return &Store{path: filepath.Clean(path)}
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

func (s *Store) Load(ctx context.Context) (idstate.State, error) {
	if err := ctx.Err(); err != nil {
		return idstate.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return idstate.State{}, idstate.ErrNotFound
	}
	if err != nil {
		return idstate.State{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	return Decode(data)
}

func (s *Store) Save(ctx context.Context, st idstate.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, data)
}

func (s *Store) Close() error { return nil }

// Decode parses a snapshot. Missing fields take their defaults.
func Decode(data []byte) (idstate.State, error) {
	var st idstate.State
	if err := json.Unmarshal(data, &st); err != nil {
		return idstate.State{}, fmt.Errorf("decode identifier state: %w", err)
	}
	return st.Normalize(), nil
}

// Encode renders a snapshot in the legacy format.
func Encode(st idstate.State) ([]byte, error) {
	st = st.Normalize()
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode identifier state: %w", err)
	}
	return data, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
