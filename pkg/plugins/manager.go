// Package plugins keeps track of the vendor plugins loaded in the
// process and notifies interested components when the set changes.
// Rendering device configuration files is the plugins' own business and
// out of scope here.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/carverauto/provisiond/pkg/ident"
	"github.com/carverauto/provisiond/pkg/logger"
)

var (
	// ErrPluginAlreadyLoaded is returned when loading a plugin whose id
	// is already registered.
	ErrPluginAlreadyLoaded = errors.New("plugin already loaded")

	// ErrPluginNotLoaded is returned when unloading an unknown plugin.
	ErrPluginNotLoaded = errors.New("plugin not loaded")
)

// Manager is the process-wide plugin registry. It implements the
// pipeline's PluginManager contract.
type Manager struct {
	log logger.Logger

	mu        sync.RWMutex
	plugins   map[string]ident.Plugin
	observers []ident.PluginObserver
}

func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Manager{
		log:     log,
		plugins: make(map[string]ident.Plugin),
	}
}

// Load registers a plugin and notifies observers.
func (m *Manager) Load(_ context.Context, plugin ident.Plugin) error {
	pluginID := plugin.ID()

	m.mu.Lock()
	if _, ok := m.plugins[pluginID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginAlreadyLoaded, pluginID)
	}

	m.plugins[pluginID] = plugin
	observers := append([]ident.PluginObserver(nil), m.observers...)
	m.mu.Unlock()

	m.log.Info().Str("plugin_id", pluginID).Msg("Plugin loaded")

	for _, observer := range observers {
		observer.PluginLoaded(pluginID)
	}

	return nil
}

// Unload removes a plugin and notifies observers.
func (m *Manager) Unload(_ context.Context, pluginID string) error {
	m.mu.Lock()
	if _, ok := m.plugins[pluginID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginNotLoaded, pluginID)
	}

	delete(m.plugins, pluginID)
	observers := append([]ident.PluginObserver(nil), m.observers...)
	m.mu.Unlock()

	m.log.Info().Str("plugin_id", pluginID).Msg("Plugin unloaded")

	for _, observer := range observers {
		observer.PluginUnloaded(pluginID)
	}

	return nil
}

// Get returns the plugin with the given id, or nil when unknown.
func (m *Manager) Get(pluginID string) ident.Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.plugins[pluginID]
}

// Plugins returns every loaded plugin.
func (m *Manager) Plugins() []ident.Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ident.Plugin, 0, len(m.plugins))
	for _, plugin := range m.plugins {
		out = append(out, plugin)
	}

	return out
}

// Attach subscribes an observer to load/unload events. Attaching the
// same observer twice is a no-op.
func (m *Manager) Attach(observer ident.PluginObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.observers {
		if existing == observer {
			return
		}
	}

	m.observers = append(m.observers, observer)
}

// Detach unsubscribes an observer. Detaching an unknown observer is a
// no-op.
func (m *Manager) Detach(observer ident.PluginObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.observers {
		if existing == observer {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}
