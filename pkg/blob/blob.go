package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store is the contract the engine needs from a blob store: durable
// storage for payloads too large to keep inline on a record.
type Store interface {
	Write(ctx context.Context, data []byte) (handle string, err error)
	Read(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
}

// FileStore implements Store over a local directory. Handles are UUIDs;
// each blob is one file.
type FileStore struct {
	dir string
}

// NewFileStore creates a blob store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Write(ctx context.Context, data []byte) (string, error) {
	handle := uuid.NewString()
	path := filepath.Join(s.dir, handle)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return handle, nil
}

func (s *FileStore) Read(ctx context.Context, handle string) ([]byte, error) {
	path, err := s.path(handle)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", handle, err)
	}
	return data, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *FileStore) Delete(ctx context.Context, handle string) error {
	path, err := s.path(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", handle, err)
	}
	return nil
}

func (s *FileStore) path(handle string) (string, error) {
	if handle == "" || handle != filepath.Base(handle) {
		return "", fmt.Errorf("invalid blob handle %q", handle)
	}
	return filepath.Join(s.dir, handle), nil
}
