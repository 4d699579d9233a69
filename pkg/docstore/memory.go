package docstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend keeps documents in memory. It is used for tests and for
// ephemeral runs where persistence is not wanted.
type MemoryBackend struct {
	mu     sync.RWMutex
	docs   map[string]Document
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]Document)}
}

func (b *MemoryBackend) Get(_ context.Context, id string) (Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrBackendClosed
	}

	doc, ok := b.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidID, id)
	}

	return copyDocument(doc), nil
}

func (b *MemoryBackend) Set(_ context.Context, id string, doc Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}

	b.docs[id] = copyDocument(doc)

	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}

	if _, ok := b.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidID, id)
	}

	delete(b.docs, id)

	return nil
}

func (b *MemoryBackend) Contains(_ context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, ErrBackendClosed
	}

	_, ok := b.docs[id]

	return ok, nil
}

func (b *MemoryBackend) Values(_ context.Context) ([]Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrBackendClosed
	}

	docs := make([]Document, 0, len(b.docs))
	for _, doc := range b.docs {
		docs = append(docs, copyDocument(doc))
	}

	return docs, nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.docs = nil
	b.closed = true

	return nil
}
