// Package fileserv is the embedded file store: a small HTTP service
// that accepts uploads and serves them back under stable URLs, for
// deployments without an external blob host.
package fileserv

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound marks a stored name that does not exist.
var ErrNotFound = errors.New("file not found")

// Store keeps uploaded files on the local filesystem, one file per
// stored name.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create file dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the reader's bytes under the requested filename and
// returns the stored name. A taken name gets a unique prefix instead
// of overwriting the earlier upload.
func (s *Store) Save(filename string, r io.Reader) (string, int64, error) {
	name := sanitizeName(filename)

	s.mu.Lock()
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err == nil {
		name = uuid.New().String()[:8] + "_" + name
		path = filepath.Join(s.dir, name)
	}
	f, err := os.Create(path)
	s.mu.Unlock()
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	return name, n, nil
}

// Open returns a reader for a stored name.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes a stored file.
func (s *Store) Delete(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// resolve maps a stored name to its path, rejecting names that would
// escape the store directory.
func (s *Store) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return filepath.Join(s.dir, name), nil
}

// sanitizeName reduces a requested filename to a safe flat name,
// generating one when nothing usable remains.
func sanitizeName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.Trim(name, "._")
	if name == "" {
		return uuid.New().String() + ".bin"
	}
	return name
}
