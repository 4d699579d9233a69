package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	return NewCollection(NewMemoryBackend(), nil, nil)
}

func TestInsertGeneratesID(t *testing.T) {
	c := newTestCollection(t)

	doc := Document{"k": "v"}
	docID, err := c.Insert(context.Background(), doc)
	require.NoError(t, err)
	assert.NotEmpty(t, docID)
	assert.Equal(t, docID, doc[IDKey])

	stored, err := c.Retrieve(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, "v", stored["k"])
}

func TestInsertDuplicateID(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.Insert(ctx, Document{IDKey: "dup"})
	require.NoError(t, err)

	_, err = c.Insert(ctx, Document{IDKey: "dup"})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestUpdateUnknownID(t *testing.T) {
	c := newTestCollection(t)

	err := c.Update(context.Background(), Document{IDKey: "nope", "k": "v"})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestUpdateMissingIDKey(t *testing.T) {
	c := newTestCollection(t)

	err := c.Update(context.Background(), Document{"k": "v"})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestDeleteHonorsDeletableFlag(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.Insert(ctx, Document{IDKey: "a", "deletable": false})
	require.NoError(t, err)

	err = c.Delete(ctx, "a")
	assert.ErrorIs(t, err, ErrNonDeletable)

	doc, err := c.Retrieve(ctx, "a")
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestRetrieveAbsent(t *testing.T) {
	c := newTestCollection(t)

	doc, err := c.Retrieve(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestFindWithOptions(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	for _, doc := range []Document{
		{IDKey: "1", "vendor": "acme", "seq": 3},
		{IDKey: "2", "vendor": "acme", "seq": 1},
		{IDKey: "3", "vendor": "other", "seq": 2},
		{IDKey: "4", "vendor": "acme", "seq": 2},
	} {
		_, err := c.Insert(ctx, doc)
		require.NoError(t, err)
	}

	docs, err := c.Find(ctx, Selector{"vendor": "acme"}, &FindOptions{
		Sort: &SortSpec{Key: "seq", Direction: 1},
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "2", docs[0][IDKey])
	assert.Equal(t, "4", docs[1][IDKey])
	assert.Equal(t, "1", docs[2][IDKey])

	docs, err = c.Find(ctx, Selector{"vendor": "acme"}, &FindOptions{
		Sort:  &SortSpec{Key: "seq", Direction: -1},
		Skip:  1,
		Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "4", docs[0][IDKey])
}

func TestFindFieldsProjection(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.Insert(ctx, Document{
		IDKey:    "a",
		"vendor": "acme",
		"raw":    map[string]any{"inner": "v", "noise": "x"},
	})
	require.NoError(t, err)

	docs, err := c.Find(ctx, Selector{}, &FindOptions{Fields: []string{"vendor", "raw.inner"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, Document{
		IDKey:    "a",
		"vendor": "acme",
		"raw":    map[string]any{"inner": "v"},
	}, docs[0])
}

func TestFindByIDFastPath(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.Insert(ctx, Document{IDKey: "a", "k": "v"})
	require.NoError(t, err)

	docs, err := c.Find(ctx, Selector{IDKey: "a"}, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docs, err = c.Find(ctx, Selector{IDKey: "missing"}, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIndexedFind(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.Insert(ctx, Document{IDKey: "1", "mac": "00:11:22:33:44:55"})
	require.NoError(t, err)

	require.NoError(t, c.EnsureIndex(ctx, "mac"))

	// indexed after EnsureIndex
	_, err = c.Insert(ctx, Document{IDKey: "2", "mac": "aa:bb:cc:dd:ee:ff"})
	require.NoError(t, err)

	docs, err := c.Find(ctx, Selector{"mac": "aa:bb:cc:dd:ee:ff"}, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2", docs[0][IDKey])

	// update moves the document to the new index entry
	docs[0]["mac"] = "00:00:00:00:00:01"
	require.NoError(t, c.Update(ctx, docs[0]))

	docs, err = c.Find(ctx, Selector{"mac": "aa:bb:cc:dd:ee:ff"}, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = c.Find(ctx, Selector{"mac": "00:00:00:00:00:01"}, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	// delete drops the index entry
	require.NoError(t, c.Delete(ctx, "2"))

	docs, err = c.Find(ctx, Selector{"mac": "00:00:00:00:00:01"}, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIndexedFindOnListValues(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureIndex(ctx, "tags"))

	_, err := c.Insert(ctx, Document{IDKey: "1", "tags": []any{"a", "b"}})
	require.NoError(t, err)

	docs, err := c.Find(ctx, Selector{"tags": "b"}, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "1", docs[0][IDKey])
}

func TestFindOne(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	doc, err := c.FindOne(ctx, Selector{"k": "v"})
	require.NoError(t, err)
	assert.Nil(t, doc)

	_, err = c.Insert(ctx, Document{IDKey: "a", "k": "v"})
	require.NoError(t, err)

	doc, err = c.FindOne(ctx, Selector{"k": "v"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "a", doc[IDKey])
}

func TestNumericGenerator(t *testing.T) {
	gen := NewNumericGenerator("cfg", 1)

	assert.Equal(t, "cfg1", gen())
	assert.Equal(t, "cfg2", gen())
}

func TestUUIDGenerator(t *testing.T) {
	gen := NewUUIDGenerator()

	first := gen()
	second := gen()

	assert.Len(t, first, 32)
	assert.NotContains(t, first, "-")
	assert.NotEqual(t, first, second)
}
