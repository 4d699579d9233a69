package devices

import (
	"context"
	"fmt"

	"github.com/carverauto/provisiond/pkg/docstore"
	"github.com/google/uuid"
)

// Config documents form a tree: each config may name a parent_id, the root
// has none. A device's effective raw config is the recursive merge of its
// ancestors' raw_config under its own, most specific key winning.
//
// Standardized keys:
//
//	id         -- document id (mandatory)
//	parent_id  -- id of the parent config; absent or null on the root
//	label      -- display label
//	deletable  -- whether the config may be deleted
//	type       -- internal, registrar or device
//	role       -- "default" or "autocreate"
//	raw_config -- nested mapping of network, SIP/SCCP line and protocol
//	              settings (mandatory)
//	transient  -- autocreated configs deleted once unused
type ConfigCollection struct {
	collection *docstore.Collection
}

const (
	// RoleAutocreate marks the base config that autocreated configs are
	// derived from.
	RoleAutocreate = "autocreate"

	// RoleDefault marks the config used for devices with no assigned
	// config.
	RoleDefault = "default"
)

// NewConfigCollection wraps a docstore collection holding config documents.
func NewConfigCollection(collection *docstore.Collection) *ConfigCollection {
	return &ConfigCollection{collection: collection}
}

func checkConfigValidity(config docstore.Document) error {
	if rawParent, ok := config["parent_id"]; ok && rawParent != nil {
		if _, ok := rawParent.(string); !ok {
			return fmt.Errorf("parent_id must be a string; is %T", rawParent)
		}
	}

	rawConfig, ok := config["raw_config"]
	if !ok {
		return fmt.Errorf(`missing "raw_config" field in config`)
	}

	if _, ok := rawConfig.(map[string]any); !ok {
		return fmt.Errorf(`"raw_config" field must be a mapping; is %T`, rawConfig)
	}

	return nil
}

// Insert validates and stores a new config document.
func (c *ConfigCollection) Insert(ctx context.Context, config docstore.Document) (string, error) {
	if err := checkConfigValidity(config); err != nil {
		return "", err
	}

	return c.collection.Insert(ctx, config)
}

// Update validates and replaces a config document.
func (c *ConfigCollection) Update(ctx context.Context, config docstore.Document) error {
	if err := checkConfigValidity(config); err != nil {
		return err
	}

	return c.collection.Update(ctx, config)
}

// Delete removes a config document.
func (c *ConfigCollection) Delete(ctx context.Context, configID string) error {
	return c.collection.Delete(ctx, configID)
}

// Retrieve returns a config document, or nil when the id is unknown.
func (c *ConfigCollection) Retrieve(ctx context.Context, configID string) (docstore.Document, error) {
	return c.collection.Retrieve(ctx, configID)
}

// Find returns config documents matching the selector.
func (c *ConfigCollection) Find(ctx context.Context, selector docstore.Selector, opts *docstore.FindOptions) ([]docstore.Document, error) {
	return c.collection.Find(ctx, selector, opts)
}

// FindOne returns the first config document matching the selector, or nil.
func (c *ConfigCollection) FindOne(ctx context.Context, selector docstore.Selector) (docstore.Document, error) {
	return c.collection.FindOne(ctx, selector)
}

// GetAncestors returns the set of config ids the given config depends on,
// directly or indirectly. Unknown ids yield an empty set. The walk is
// cycle-safe even though stored trees are expected to be acyclic.
func (c *ConfigCollection) GetAncestors(ctx context.Context, configID string) (map[string]struct{}, error) {
	visited := make(map[string]struct{})

	current := configID

	for {
		config, err := c.collection.Retrieve(ctx, current)
		if err != nil {
			return nil, err
		}

		if config == nil {
			return visited, nil
		}

		parentID, ok := config["parent_id"].(string)
		if !ok || parentID == "" {
			return visited, nil
		}

		if _, seen := visited[parentID]; seen {
			return visited, nil
		}

		visited[parentID] = struct{}{}
		current = parentID
	}
}

// GetDescendants returns the set of config ids depending on the given
// config, directly or indirectly.
func (c *ConfigCollection) GetDescendants(ctx context.Context, configID string) (map[string]struct{}, error) {
	visited := make(map[string]struct{})

	var walk func(curID string) error
	walk = func(curID string) error {
		children, err := c.collection.Find(ctx, docstore.Selector{"parent_id": curID}, nil)
		if err != nil {
			return err
		}

		for _, child := range children {
			childID, ok := child[docstore.IDKey].(string)
			if !ok {
				continue
			}

			if _, seen := visited[childID]; seen {
				continue
			}

			visited[childID] = struct{}{}

			if err := walk(childID); err != nil {
				return err
			}
		}

		return nil
	}

	if err := walk(configID); err != nil {
		return nil, err
	}

	return visited, nil
}

// GetRawConfig returns the flattened raw config of the given config: every
// ancestor's raw_config merged from the root down, the config's own values
// winning over its ancestors', all over base. Returns nil when the id is
// unknown.
func (c *ConfigCollection) GetRawConfig(ctx context.Context, configID string, base map[string]any) (map[string]any, error) {
	chain, err := c.configChain(ctx, configID)
	if err != nil {
		return nil, err
	}

	if chain == nil {
		return nil, nil
	}

	flattened := make(map[string]any)
	if base != nil {
		recUpdateMap(flattened, base)
	}

	// chain is ordered most specific first; apply root first.
	for i := len(chain) - 1; i >= 0; i-- {
		if rawConfig, ok := chain[i]["raw_config"].(map[string]any); ok {
			recUpdateMap(flattened, rawConfig)
		}
	}

	return flattened, nil
}

// configChain returns the config and its ancestors, most specific first,
// or nil when the id is unknown.
func (c *ConfigCollection) configChain(ctx context.Context, configID string) ([]docstore.Document, error) {
	var chain []docstore.Document

	visited := map[string]struct{}{configID: {}}
	current := configID

	for current != "" {
		config, err := c.collection.Retrieve(ctx, current)
		if err != nil {
			return nil, err
		}

		if config == nil {
			break
		}

		chain = append(chain, config)

		parentID, _ := config["parent_id"].(string)
		if parentID == "" {
			break
		}

		if _, seen := visited[parentID]; seen {
			break
		}

		visited[parentID] = struct{}{}
		current = parentID
	}

	return chain, nil
}

// recUpdateMap merges overlay into base recursively; overlay wins per key.
func recUpdateMap(base, overlay map[string]any) {
	for k, v := range overlay {
		if overlayMap, ok := v.(map[string]any); ok {
			baseMap, ok := base[k].(map[string]any)
			if !ok {
				baseMap = make(map[string]any)
				base[k] = baseMap
			}

			recUpdateMap(baseMap, overlayMap)
		} else {
			base[k] = v
		}
	}
}

// BuildAutocreateConfig derives a new transient config document from the
// autocreate base config. Returns nil when the base config has no first
// SIP line to seed the new config from.
func BuildAutocreateConfig(baseConfig docstore.Document) docstore.Document {
	rawConfig, ok := baseConfig["raw_config"].(map[string]any)
	if !ok {
		return nil
	}

	sipLines, ok := rawConfig["sip_lines"].(map[string]any)
	if !ok {
		return nil
	}

	if _, ok := sipLines["1"]; !ok {
		return nil
	}

	baseID, _ := baseConfig[docstore.IDKey].(string)
	newSuffix := uuid.NewString()

	return docstore.Document{
		docstore.IDKey: baseID + newSuffix,
		"parent_id":    baseID,
		"transient":    true,
		"deletable":    true,
		"raw_config":   map[string]any{},
	}
}
