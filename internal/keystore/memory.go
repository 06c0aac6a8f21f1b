package keystore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"luks-keeper/internal/keeper"
)

// MemoryBlobStore is an in-memory BlobStore, useful for testing.
// This implementation is safe for concurrent use.
type MemoryBlobStore struct {
	records map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryBlobStore creates an empty in-memory store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{records: make(map[string][]byte)}
}

// Get copies the named record to w.
func (m *MemoryBlobStore) Get(_ context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[name]
	if !ok {
		return fmt.Errorf("record %s: %w", name, keeper.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Exists reports whether the named record is present.
func (m *MemoryBlobStore) Exists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.records[name]
	return ok, nil
}

// Put stores the record. The reader is drained before the map is touched,
// so a failed read leaves the previous record in place.
func (m *MemoryBlobStore) Put(_ context.Context, name string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[name] = data
	return nil
}

// Names returns the stored record names.
func (m *MemoryBlobStore) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	return names
}

var _ BlobStore = (*MemoryBlobStore)(nil)
