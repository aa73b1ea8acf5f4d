package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copilotz/copilotz/pkg/models"
)

type memoryEntry struct {
	data  []byte
	asset models.Asset
}

// MemoryStore keeps assets in process memory. It is the default store
// for embedded use and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Save stores the reader's bytes under a fresh id.
func (s *MemoryStore) Save(_ context.Context, data io.Reader, opts SaveOptions) (*models.Asset, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return nil, fmt.Errorf("failed to read asset data: %w", err)
	}

	asset := models.Asset{
		ID:        uuid.New().String(),
		MimeType:  opts.MimeType,
		Size:      int64(buf.Len()),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.entries[asset.ID] = memoryEntry{data: buf.Bytes(), asset: asset}
	s.mu.Unlock()
	return &asset, nil
}

// Get returns a copy of the asset bytes and its descriptor.
func (s *MemoryStore) Get(_ context.Context, id string) ([]byte, *models.Asset, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	data := make([]byte, len(entry.data))
	copy(data, entry.data)
	asset := entry.asset
	return data, &asset, nil
}

// Head returns the asset descriptor.
func (s *MemoryStore) Head(_ context.Context, id string) (*models.Asset, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	asset := entry.asset
	return &asset, nil
}

// Delete removes the asset if present.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Close releases nothing for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Len reports how many assets the store holds.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
