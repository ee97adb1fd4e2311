// Package objects provides the file-backed object store holding
// persisted target results, keyed by target name.
package objects

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/cespare/xxhash/v2"
)

// ErrNotFound is returned when no result is stored for a target.
var ErrNotFound = errors.New("no stored result")

// ErrBadName is returned for names that cannot be store keys.
var ErrBadName = errors.New("invalid target name")

// Names reach the store from scripts and from CLI arguments; only
// valid target names map to files under the store root.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Store persists target results as JSON files under a root directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on
// first Put.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

// Put serializes value as JSON under the target name and returns the
// content hash of the stored bytes.
func (s *Store) Put(name string, value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode result for %q: %w", name, err)
	}

	path, err := s.path(name)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create object store: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write result for %q: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to store result for %q: %w", name, err)
	}

	return HashBytes(data), nil
}

// Get loads the stored result for a target.
func (s *Store) Get(name string) (any, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("target %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read result for %q: %w", name, err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("failed to decode result for %q: %w", name, err)
	}
	return value, nil
}

// Has reports whether a result is stored for the target.
func (s *Store) Has(name string) bool {
	path, err := s.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Read reports the stored result for a target, if any. It adapts the
// store to the script environment's result resolver.
func (s *Store) Read(name string) (any, bool, error) {
	if !s.Has(name) {
		return nil, false, nil
	}
	v, err := s.Get(name)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Hash returns the content hash of the stored result.
func (s *Store) Hash(name string) (string, error) {
	path, err := s.path(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("target %q: %w", name, ErrNotFound)
		}
		return "", err
	}
	return HashBytes(data), nil
}

// Delete removes a stored result. Missing entries are not an error.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete result for %q: %w", name, err)
	}
	return nil
}

// Clear removes every stored result.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) path(name string) (string, error) {
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("target %q: %w", name, ErrBadName)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// HashBytes returns the hex xxhash of data.
func HashBytes(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// HashFile returns the hex xxhash of a file's contents. Used for
// file-format targets whose command returns a path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
