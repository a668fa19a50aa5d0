// Package blob stores attachment payloads on a filesystem, addressed by a storage key.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrInvalidKey is returned for keys that were not produced by Write.
var ErrInvalidKey = errors.New("invalid storage key")

type Store struct {
	fs afero.Fs
}

// NewStore roots a blob store at dir on the local disk, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	return NewStoreFs(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewStoreFs uses fs as is. Tests pass afero.NewMemMapFs().
func NewStoreFs(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// Write copies r into a new blob and returns its key and size.
// A partially written blob is removed on error.
func (s *Store) Write(r io.Reader) (string, int64, error) {
	key := uuid.NewString()

	f, err := s.fs.Create(key)
	if err != nil {
		return "", -1, fmt.Errorf("failed to create blob: %w", err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = s.fs.Remove(key)
		return "", -1, fmt.Errorf("failed to write blob: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = s.fs.Remove(key)
		return "", -1, fmt.Errorf("failed to close blob: %w", err)
	}

	return key, size, nil
}

// Open returns a reader over the blob stored under key.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}

	f, err := s.fs.Open(key)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// ReadAll returns the whole content of the blob stored under key.
func (s *Store) ReadAll(key string) ([]byte, error) {
	r, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

func (s *Store) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	return s.fs.Remove(key)
}

// Keys are uuids, so a well-formed key can never escape the store root.
func validKey(key string) error {
	if _, err := uuid.Parse(key); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
