package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory is an in-process Store for tests and local runs.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	names map[string]string

	failUpload error
	failDelete error
}

func NewMemory() *Memory {
	return &Memory{
		blobs: make(map[string][]byte),
		names: make(map[string]string),
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Upload(ctx context.Context, id, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpload != nil {
		return m.failUpload
	}
	m.blobs[id] = append([]byte(nil), data...)
	m.names[id] = name
	return nil
}

func (m *Memory) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return false, m.failDelete
	}
	_, ok := m.blobs[id]
	delete(m.blobs, id)
	delete(m.names, id)
	return ok, nil
}

// FailWith makes Upload and Delete return the given errors. Nil clears
// the failure.
func (m *Memory) FailWith(upload, del error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpload = upload
	m.failDelete = del
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Has reports whether id is stored.
func (m *Memory) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[id]
	return ok
}
