package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// LocalStore keeps rendered statement files on the local filesystem under a
// single base directory. Names passed in are treated as paths relative to it.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates the base directory when missing and returns a handle.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = "./statements"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create statement directory: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Write persists the payload under the given relative name.
func (s *LocalStore) Write(name string, data []byte) (string, error) {
	path := s.abs(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare statement directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write statement file: %w", err)
	}
	return name, nil
}

// WriteFrom streams the reader into the target file.
func (s *LocalStore) WriteFrom(name string, r io.Reader) (string, error) {
	path := s.abs(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare statement directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create statement file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	if _, err := io.Copy(file, r); err != nil {
		return "", fmt.Errorf("stream statement file: %w", err)
	}
	return name, nil
}

// Open returns a read-only handle for a stored statement.
func (s *LocalStore) Open(name string) (*os.File, error) {
	file, err := os.Open(s.abs(name))
	if err != nil {
		return nil, fmt.Errorf("open statement file: %w", err)
	}
	return file, nil
}

// Remove deletes a stored statement, ignoring files already gone.
func (s *LocalStore) Remove(name string) error {
	if err := os.Remove(s.abs(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove statement file: %w", err)
	}
	return nil
}

// Sweep deletes files whose modification time is older than ttl and
// reports the relative names it removed.
func (s *LocalStore) Sweep(ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	removed := make([]string, 0)
	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			rel = path
		}
		removed = append(removed, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweep statement directory: %w", err)
	}
	return removed, nil
}

func (s *LocalStore) abs(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.baseDir, name)
}
