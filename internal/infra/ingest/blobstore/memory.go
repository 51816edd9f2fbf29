package blobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// Memory is the in-process BlobStore fallback used in tests and local dev,
// grounded on internal/infra/uploadask/storage/memory.go.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory constructs the in-memory content store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	return key, nil
}

func (m *Memory) Get(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", path)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, path)
	return nil
}

var _ ingest.BlobStore = (*Memory)(nil)
