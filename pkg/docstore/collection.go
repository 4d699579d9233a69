package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/carverauto/provisiond/pkg/logger"
)

// SortSpec selects a single sort key and a direction: 1 ascending,
// -1 descending.
type SortSpec struct {
	Key       string
	Direction int
}

// FindOptions tunes a Find call. The zero value returns whole documents,
// unsorted, without pagination.
type FindOptions struct {
	Fields []string
	Skip   int
	Limit  int
	Sort   *SortSpec
}

// Collection exposes document operations over a Backend, with optional
// equality indexes on dotted keys.
type Collection struct {
	backend   Backend
	generator IDGenerator
	log       logger.Logger

	mu      sync.Mutex
	indexes map[string]map[any][]string
}

// NewCollection wraps the backend. generator defaults to the uuid
// generator when nil.
func NewCollection(backend Backend, generator IDGenerator, log logger.Logger) *Collection {
	if generator == nil {
		generator = NewUUIDGenerator()
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Collection{
		backend:   backend,
		generator: generator,
		log:       log,
		indexes:   make(map[string]map[any][]string),
	}
}

// Close closes the underlying backend.
func (c *Collection) Close() error {
	return c.backend.Close()
}

// Insert stores a new document and returns its id. When the document has
// no id one is generated and set on the document. A document with an id
// already in use is rejected with ErrInvalidID.
func (c *Collection) Insert(ctx context.Context, doc Document) (string, error) {
	var docID string

	if rawID, ok := doc[IDKey]; ok {
		docID, ok = rawID.(string)
		if !ok {
			return "", fmt.Errorf("%w: id is not a string", ErrInvalidID)
		}

		present, err := c.backend.Contains(ctx, docID)
		if err != nil {
			return "", err
		}

		if present {
			return "", fmt.Errorf("%w: %s", ErrInvalidID, docID)
		}
	} else {
		var err error

		docID, err = c.generateNewID(ctx)
		if err != nil {
			return "", err
		}

		doc[IDKey] = docID
	}

	if err := c.backend.Set(ctx, docID, doc); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.indexDocument(doc)
	c.mu.Unlock()

	return docID, nil
}

// Update replaces the stored document with the same id.
func (c *Collection) Update(ctx context.Context, doc Document) error {
	rawID, ok := doc[IDKey]
	if !ok {
		return fmt.Errorf("%w: no id key in document", ErrInvalidID)
	}

	docID, ok := rawID.(string)
	if !ok {
		return fmt.Errorf("%w: id is not a string", ErrInvalidID)
	}

	oldDoc, err := c.backend.Get(ctx, docID)
	if err != nil {
		return err
	}

	if err := c.backend.Set(ctx, docID, doc); err != nil {
		return err
	}

	c.mu.Lock()
	c.unindexDocument(oldDoc)
	c.indexDocument(doc)
	c.mu.Unlock()

	return nil
}

// Delete removes the document, honoring a "deletable": false marker.
func (c *Collection) Delete(ctx context.Context, docID string) error {
	oldDoc, err := c.backend.Get(ctx, docID)
	if err != nil {
		return err
	}

	if deletable, ok := oldDoc["deletable"].(bool); ok && !deletable {
		return fmt.Errorf("%w: %s", ErrNonDeletable, docID)
	}

	if err := c.backend.Delete(ctx, docID); err != nil {
		return err
	}

	c.mu.Lock()
	c.unindexDocument(oldDoc)
	c.mu.Unlock()

	return nil
}

// Retrieve returns the document with the given id, or nil when absent.
func (c *Collection) Retrieve(ctx context.Context, docID string) (Document, error) {
	doc, err := c.backend.Get(ctx, docID)
	if err != nil {
		if isInvalidID(err) {
			return nil, nil
		}

		return nil, err
	}

	return doc, nil
}

// Find returns the documents matching the selector, honoring opts.
func (c *Collection) Find(ctx context.Context, selector Selector, opts *FindOptions) ([]Document, error) {
	if opts == nil {
		opts = &FindOptions{}
	}

	c.log.Debug().
		Interface("selector", selector).
		Interface("options", opts).
		Msg("Executing find on document collection")

	docs, err := c.matchingDocuments(ctx, selector)
	if err != nil {
		return nil, err
	}

	if opts.Sort != nil {
		if err := sortDocuments(docs, opts.Sort); err != nil {
			return nil, err
		}
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(docs) {
			docs = nil
		} else {
			docs = docs[opts.Skip:]
		}
	}

	if opts.Limit > 0 && opts.Limit < len(docs) {
		docs = docs[:opts.Limit]
	}

	if len(opts.Fields) > 0 {
		projected := make([]Document, len(docs))
		for i, doc := range docs {
			projected[i] = projectFields(doc, opts.Fields)
		}

		docs = projected
	}

	return docs, nil
}

// FindOne returns the first document matching the selector, or nil.
func (c *Collection) FindOne(ctx context.Context, selector Selector) (Document, error) {
	docs, err := c.Find(ctx, selector, &FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}

	if len(docs) == 0 {
		return nil, nil
	}

	return docs[0], nil
}

// EnsureIndex builds an equality index on the dotted key if one does not
// exist yet.
func (c *Collection) EnsureIndex(ctx context.Context, complexKey string) error {
	c.mu.Lock()
	if _, ok := c.indexes[complexKey]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.log.Info().Str("key", complexKey).Msg("Creating index on complex key")

	docs, err := c.backend.Values(ctx)
	if err != nil {
		return err
	}

	index := make(map[any][]string)

	for _, doc := range docs {
		docID, ok := doc[IDKey].(string)
		if !ok {
			continue
		}

		if value, ok := valueFromComplexKey(complexKey, doc); ok {
			addIndexValue(index, docID, value)
		}
	}

	c.mu.Lock()
	c.indexes[complexKey] = index
	c.mu.Unlock()

	return nil
}

func (c *Collection) generateNewID(ctx context.Context) (string, error) {
	for {
		docID := c.generator()

		present, err := c.backend.Contains(ctx, docID)
		if err != nil {
			return "", err
		}

		if !present {
			return docID, nil
		}
	}
}

// matchingDocuments splits the selector into an indexable part and a
// regular part, intersects index hits where possible, and filters the rest
// with a selector predicate.
func (c *Collection) matchingDocuments(ctx context.Context, selector Selector) ([]Document, error) {
	// Fast path: lookup by id only.
	if len(selector) == 1 {
		if rawID, ok := selector[IDKey]; ok && !containsOperator(rawID) {
			if docID, ok := rawID.(string); ok {
				doc, err := c.Retrieve(ctx, docID)
				if err != nil {
					return nil, err
				}

				if doc == nil {
					return nil, nil
				}

				return []Document{doc}, nil
			}
		}
	}

	indexSelector := make(Selector)
	regularSelector := make(Selector)

	c.mu.Lock()
	for sKey, sValue := range selector {
		_, indexed := c.indexes[sKey]
		if indexed && !containsOperator(sValue) && isIndexable(sValue) {
			indexSelector[sKey] = sValue
		} else {
			regularSelector[sKey] = sValue
		}
	}

	var candidates []Document

	if len(indexSelector) > 0 {
		ids := c.idsFromIndexes(indexSelector)
		c.mu.Unlock()

		for _, docID := range ids {
			doc, err := c.backend.Get(ctx, docID)
			if err != nil {
				if isInvalidID(err) {
					continue
				}

				return nil, err
			}

			candidates = append(candidates, doc)
		}
	} else {
		c.mu.Unlock()

		var err error

		candidates, err = c.backend.Values(ctx)
		if err != nil {
			return nil, err
		}
	}

	if len(regularSelector) == 0 {
		return candidates, nil
	}

	pred, err := NewPredFromSelector(regularSelector)
	if err != nil {
		return nil, err
	}

	var matched []Document

	for _, doc := range candidates {
		if pred(doc) {
			matched = append(matched, doc)
		}
	}

	return matched, nil
}

func (c *Collection) idsFromIndexes(indexSelector Selector) []string {
	var ids map[string]struct{}

	for sKey, sValue := range indexSelector {
		entry := c.indexes[sKey][sValue]

		if ids == nil {
			ids = make(map[string]struct{}, len(entry))
			for _, docID := range entry {
				ids[docID] = struct{}{}
			}

			continue
		}

		keep := make(map[string]struct{}, len(entry))
		for _, docID := range entry {
			if _, ok := ids[docID]; ok {
				keep[docID] = struct{}{}
			}
		}

		ids = keep
	}

	ordered := make([]string, 0, len(ids))
	for docID := range ids {
		ordered = append(ordered, docID)
	}

	sort.Strings(ordered)

	return ordered
}

func (c *Collection) indexDocument(doc Document) {
	docID, ok := doc[IDKey].(string)
	if !ok {
		return
	}

	for complexKey, index := range c.indexes {
		if value, ok := valueFromComplexKey(complexKey, doc); ok {
			addIndexValue(index, docID, value)
		}
	}
}

func (c *Collection) unindexDocument(doc Document) {
	docID, ok := doc[IDKey].(string)
	if !ok {
		return
	}

	for complexKey, index := range c.indexes {
		if value, ok := valueFromComplexKey(complexKey, doc); ok {
			removeIndexValue(index, docID, value)
		}
	}
}

// addIndexValue indexes a scalar value directly; for a list value every
// element is indexed so selector equality against elements keeps working.
func addIndexValue(index map[any][]string, docID string, value any) {
	add := func(v any) {
		if !isIndexable(v) {
			return
		}

		entry := index[v]
		for _, existing := range entry {
			if existing == docID {
				return
			}
		}

		index[v] = append(entry, docID)
	}

	if list, ok := value.([]any); ok {
		for _, item := range list {
			add(item)
		}

		return
	}

	add(value)
}

func removeIndexValue(index map[any][]string, docID string, value any) {
	remove := func(v any) {
		if !isIndexable(v) {
			return
		}

		entry := index[v]
		for i, existing := range entry {
			if existing == docID {
				entry = append(entry[:i], entry[i+1:]...)
				break
			}
		}

		if len(entry) == 0 {
			delete(index, v)
		} else {
			index[v] = entry
		}
	}

	if list, ok := value.([]any); ok {
		for _, item := range list {
			remove(item)
		}

		return
	}

	remove(value)
}

// valueFromComplexKey walks the dotted key through nested mappings and
// reports whether the document has the key.
func valueFromComplexKey(complexKey string, doc Document) (any, bool) {
	var current any = doc

	for _, token := range strings.Split(complexKey, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[token]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func sortDocuments(docs []Document, spec *SortSpec) error {
	var reverse bool

	switch spec.Direction {
	case 1:
		reverse = false
	case -1:
		reverse = true
	default:
		return fmt.Errorf("%w: invalid sort direction %d", ErrInvalidSelector, spec.Direction)
	}

	keyFunc := NewSortKeyFunc(spec.Key)

	sort.SliceStable(docs, func(i, j int) bool {
		cmp := CompareDocValues(keyFunc(docs[i]), keyFunc(docs[j]))
		if reverse {
			return cmp > 0
		}

		return cmp < 0
	})

	return nil
}

// projectFields returns a new document holding the id plus the selected
// dotted fields, keeping their nesting.
func projectFields(doc Document, fields []string) Document {
	result := Document{IDKey: doc[IDKey]}

	for _, field := range fields {
		value, ok := valueFromComplexKey(field, doc)
		if !ok {
			continue
		}

		tokens := strings.Split(field, ".")
		target := result

		for _, token := range tokens[:len(tokens)-1] {
			next, ok := target[token].(map[string]any)
			if !ok {
				next = make(map[string]any)
				target[token] = next
			}

			target = next
		}

		target[tokens[len(tokens)-1]] = value
	}

	return result
}

func isIndexable(v any) bool {
	switch v.(type) {
	case nil, bool, string, float64, float32, int, int32, int64, uint, uint64:
		return true
	default:
		return false
	}
}

func isInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}
