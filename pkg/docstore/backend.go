// Package docstore implements the minimal embedded document store backing
// device, config and plugin records: schemaless JSON documents addressed
// by id, filtered with selectors.
package docstore

import "context"

// Document is a loosely typed record. Nested values follow the JSON model:
// map[string]any, []any, string, float64, bool, nil.
type Document = map[string]any

// IDKey is the mandatory document identity field.
const IDKey = "id"

// Backend is the raw id -> document storage under a Collection. Backends
// must return copies that the caller may mutate freely.
type Backend interface {
	Get(ctx context.Context, id string) (Document, error)
	Set(ctx context.Context, id string, doc Document) error
	Delete(ctx context.Context, id string) error
	Contains(ctx context.Context, id string) (bool, error)
	Values(ctx context.Context) ([]Document, error)
	Close() error
}

func copyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}

	return copyValue(doc).(Document)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}

		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}

		return out
	default:
		return v
	}
}
