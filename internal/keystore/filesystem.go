package keystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"luks-keeper/internal/keeper"
)

// FileSystemBlobStore keeps one file per record in a single directory:
//
//	<dir>/
//	  luks-pass_<device>.age
//
// The directory is created 0700 and records are written 0600.
type FileSystemBlobStore struct {
	dir string
}

// NewFileSystemBlobStore creates a store rooted at dir, creating it if needed.
func NewFileSystemBlobStore(dir string) (*FileSystemBlobStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file keystore requires key_dir to be set")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	return &FileSystemBlobStore{dir: dir}, nil
}

// Dir returns the directory holding the records.
func (s *FileSystemBlobStore) Dir() string {
	return s.dir
}

func (s *FileSystemBlobStore) path(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid record name: %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Get copies the named record to w.
func (s *FileSystemBlobStore) Get(_ context.Context, name string, w io.Writer) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("record %s: %w", name, keeper.ErrNotFound)
		}
		return fmt.Errorf("failed to open record: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	return nil
}

// Exists reports whether the named record is present.
func (s *FileSystemBlobStore) Exists(_ context.Context, name string) (bool, error) {
	path, err := s.path(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat record: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// Put writes the record from r using an atomic write (temp file + rename).
func (s *FileSystemBlobStore) Put(_ context.Context, name string, r io.Reader, size int64) error {
	destPath, err := s.path(name)
	if err != nil {
		return err
	}

	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to set record permissions: %w", err)
	}

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ BlobStore = (*FileSystemBlobStore)(nil)
