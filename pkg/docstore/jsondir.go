package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/carverauto/provisiond/pkg/logger"
)

// JSONDirBackend persists one compact JSON file per document under a
// directory, with a full in-memory copy for reads. Unreadable or
// undecodable files are skipped at load time so one corrupt document does
// not take the whole collection down.
type JSONDirBackend struct {
	mu        sync.RWMutex
	directory string
	docs      map[string]Document
	closed    bool
	log       logger.Logger
}

// NewJSONDirBackend opens (or creates) the directory and loads every
// document in it.
func NewJSONDirBackend(directory string, log logger.Logger) (*JSONDirBackend, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	b := &JSONDirBackend{
		directory: directory,
		docs:      make(map[string]Document),
		log:       log,
	}

	if err := b.load(); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *JSONDirBackend) load() error {
	if err := os.MkdirAll(b.directory, 0o755); err != nil {
		return fmt.Errorf("creating document directory: %w", err)
	}

	entries, err := os.ReadDir(b.directory)
	if err != nil {
		return fmt.Errorf("reading document directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(b.directory, entry.Name())

		raw, err := os.ReadFile(path)
		if err != nil {
			b.log.Warn().Err(err).Str("file", path).Msg("Could not read document file")
			continue
		}

		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			b.log.Warn().Err(err).Str("file", path).Msg("Could not decode JSON document")
			continue
		}

		b.docs[entry.Name()] = doc
	}

	return nil
}

func (b *JSONDirBackend) Get(_ context.Context, id string) (Document, error) {
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

func (b *JSONDirBackend) Set(_ context.Context, id string, doc Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", id, err)
	}

	path := filepath.Join(b.directory, id)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing document %s: %w", id, err)
	}

	b.docs[id] = copyDocument(doc)

	return nil
}

func (b *JSONDirBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}

	if _, ok := b.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidID, id)
	}

	delete(b.docs, id)

	if err := os.Remove(filepath.Join(b.directory, id)); err != nil {
		b.log.Info().Err(err).Str("id", id).Msg("Error while removing JSON document")
	}

	return nil
}

func (b *JSONDirBackend) Contains(_ context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, ErrBackendClosed
	}

	_, ok := b.docs[id]

	return ok, nil
}

func (b *JSONDirBackend) Values(_ context.Context) ([]Document, error) {
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

func (b *JSONDirBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.docs = nil
	b.closed = true

	return nil
}
