package storage

import (
	"context"
	"errors"
	"os"
)

// LocalStorage implements ports.StorageProvider for local filesystem
type LocalStorage struct{}

// NewLocalStorage creates a new local storage provider
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{}
}

// Exists checks if a regular file exists
func (s *LocalStorage) Exists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// Size returns file size in bytes
func (s *LocalStorage) Size(_ context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes a file; a file that is already gone is not an error
func (s *LocalStorage) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MkdirAll creates dir and any missing parents
func (s *LocalStorage) MkdirAll(_ context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
