package devices

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/provisiond/pkg/docstore"
)

func newTestConfigCollection(t *testing.T) *ConfigCollection {
	t.Helper()

	collection := docstore.NewCollection(docstore.NewMemoryBackend(), nil, nil)

	return NewConfigCollection(collection)
}

func insertConfig(t *testing.T, c *ConfigCollection, config docstore.Document) {
	t.Helper()

	_, err := c.Insert(context.Background(), config)
	require.NoError(t, err)
}

func TestInsertRejectsInvalidConfig(t *testing.T) {
	c := newTestConfigCollection(t)
	ctx := context.Background()

	_, err := c.Insert(ctx, docstore.Document{"id": "a"})
	assert.Error(t, err)

	_, err = c.Insert(ctx, docstore.Document{"id": "a", "raw_config": "nope"})
	assert.Error(t, err)

	_, err = c.Insert(ctx, docstore.Document{"id": "a", "parent_id": 42, "raw_config": map[string]any{}})
	assert.Error(t, err)

	_, err = c.Insert(ctx, docstore.Document{"id": "a", "parent_id": nil, "raw_config": map[string]any{}})
	assert.NoError(t, err)
}

func TestGetAncestorsAndDescendants(t *testing.T) {
	c := newTestConfigCollection(t)
	ctx := context.Background()

	insertConfig(t, c, docstore.Document{"id": "root", "raw_config": map[string]any{}})
	insertConfig(t, c, docstore.Document{"id": "mid", "parent_id": "root", "raw_config": map[string]any{}})
	insertConfig(t, c, docstore.Document{"id": "leaf", "parent_id": "mid", "raw_config": map[string]any{}})
	insertConfig(t, c, docstore.Document{"id": "other", "parent_id": "root", "raw_config": map[string]any{}})

	ancestors, err := c.GetAncestors(ctx, "leaf")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"mid": {}, "root": {}}, ancestors)

	descendants, err := c.GetDescendants(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"mid": {}, "leaf": {}, "other": {}}, descendants)

	empty, err := c.GetAncestors(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetRawConfigMergesAncestors(t *testing.T) {
	c := newTestConfigCollection(t)
	ctx := context.Background()

	insertConfig(t, c, docstore.Document{
		"id": "root",
		"raw_config": map[string]any{
			"ntp_enabled": true,
			"ntp_ip":      "10.0.0.5",
			"sip_lines":   map[string]any{"1": map[string]any{"proxy_ip": "10.0.0.6"}},
		},
	})
	insertConfig(t, c, docstore.Document{
		"id":        "leaf",
		"parent_id": "root",
		"raw_config": map[string]any{
			"ntp_ip":    "10.0.0.7",
			"sip_lines": map[string]any{"1": map[string]any{"username": "abc"}},
		},
	})

	raw, err := c.GetRawConfig(ctx, "leaf", map[string]any{"locale": "fr_FR"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"locale":      "fr_FR",
		"ntp_enabled": true,
		"ntp_ip":      "10.0.0.7",
		"sip_lines": map[string]any{
			"1": map[string]any{
				"proxy_ip": "10.0.0.6",
				"username": "abc",
			},
		},
	}, raw)
}

func TestGetRawConfigUnknownID(t *testing.T) {
	c := newTestConfigCollection(t)

	raw, err := c.GetRawConfig(context.Background(), "unknown", nil)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestBuildAutocreateConfig(t *testing.T) {
	base := docstore.Document{
		"id": "autocreate",
		"raw_config": map[string]any{
			"sip_lines": map[string]any{"1": map[string]any{"username": "ap1234"}},
		},
	}

	config := BuildAutocreateConfig(base)
	require.NotNil(t, config)

	newID, ok := config["id"].(string)
	require.True(t, ok)
	assert.True(t, len(newID) > len("autocreate"))
	assert.Equal(t, "autocreate", config["parent_id"])
	assert.Equal(t, true, config["transient"])
	assert.Equal(t, true, config["deletable"])
	assert.Equal(t, map[string]any{}, config["raw_config"])
}

func TestBuildAutocreateConfigRequiresFirstSIPLine(t *testing.T) {
	assert.Nil(t, BuildAutocreateConfig(docstore.Document{"id": "a", "raw_config": map[string]any{}}))
	assert.Nil(t, BuildAutocreateConfig(docstore.Document{
		"id":         "a",
		"raw_config": map[string]any{"sip_lines": map[string]any{"2": map[string]any{}}},
	}))
}
