package ident

import (
	"context"
	"fmt"
	"sync"

	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/docstore"
)

// fakeApp is an in-memory Application recording the calls the pipeline
// makes against it.
type fakeApp struct {
	mu sync.Mutex

	devices map[string]devices.Device
	configs map[string]docstore.Document

	nat         bool
	newConfigID string
	manager     *fakePluginManager

	nextID int

	insertedDevices  []devices.Device
	updateCalls      []updateCall
	cfgRetrieveCalls []string
	createNewCalls   int
}

type updateCall struct {
	device  devices.Device
	hookSet bool
}

func newFakeApp() *fakeApp {
	return &fakeApp{
		devices: make(map[string]devices.Device),
		configs: make(map[string]docstore.Document),
		manager: newFakePluginManager(),
	}
}

func (a *fakeApp) DevInsert(_ context.Context, device devices.Device) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	deviceID := fmt.Sprintf("dev%d", a.nextID)
	device[docstore.IDKey] = deviceID
	a.devices[deviceID] = devices.Copy(device)
	a.insertedDevices = append(a.insertedDevices, devices.Copy(device))

	return deviceID, nil
}

func (a *fakeApp) DevFind(_ context.Context, selector docstore.Selector) ([]devices.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pred, err := docstore.NewPredFromSelector(selector)
	if err != nil {
		return nil, err
	}

	var found []devices.Device

	for _, device := range a.devices {
		if pred(device) {
			found = append(found, devices.Copy(device))
		}
	}

	return found, nil
}

func (a *fakeApp) DevFindOne(ctx context.Context, selector docstore.Selector) (devices.Device, error) {
	found, err := a.DevFind(ctx, selector)
	if err != nil || len(found) == 0 {
		return nil, err
	}

	return found[0], nil
}

func (a *fakeApp) DevUpdate(_ context.Context, device devices.Device, hook PreUpdateHook) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hook != nil {
		var config docstore.Document
		if configID, _ := device["config"].(string); configID != "" {
			config = a.configs[configID]
		}

		hook(device, config)
	}

	deviceID, _ := device[docstore.IDKey].(string)
	a.devices[deviceID] = devices.Copy(device)
	a.updateCalls = append(a.updateCalls, updateCall{device: devices.Copy(device), hookSet: hook != nil})

	return nil
}

func (a *fakeApp) CfgRetrieve(_ context.Context, configID string) (docstore.Document, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfgRetrieveCalls = append(a.cfgRetrieveCalls, configID)

	return a.configs[configID], nil
}

func (a *fakeApp) CfgCreateNew(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.createNewCalls++

	return a.newConfigID, nil
}

func (a *fakeApp) NATEnabled() bool { return a.nat }

func (a *fakeApp) PluginManager() PluginManager { return a.manager }

// fakePluginManager is a minimal plugin registry for pipeline tests.
type fakePluginManager struct {
	mu        sync.Mutex
	plugins   map[string]Plugin
	observers []PluginObserver
}

func newFakePluginManager() *fakePluginManager {
	return &fakePluginManager{plugins: make(map[string]Plugin)}
}

func (m *fakePluginManager) add(plugin Plugin) {
	m.mu.Lock()
	m.plugins[plugin.ID()] = plugin
	observers := append([]PluginObserver(nil), m.observers...)
	m.mu.Unlock()

	for _, observer := range observers {
		observer.PluginLoaded(plugin.ID())
	}
}

func (m *fakePluginManager) remove(pluginID string) {
	m.mu.Lock()
	delete(m.plugins, pluginID)
	observers := append([]PluginObserver(nil), m.observers...)
	m.mu.Unlock()

	for _, observer := range observers {
		observer.PluginUnloaded(pluginID)
	}
}

func (m *fakePluginManager) Get(pluginID string) Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.plugins[pluginID]
}

func (m *fakePluginManager) Plugins() []Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Plugin, 0, len(m.plugins))
	for _, plugin := range m.plugins {
		out = append(out, plugin)
	}

	return out
}

func (m *fakePluginManager) Attach(observer PluginObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observers = append(m.observers, observer)
}

func (m *fakePluginManager) Detach(observer PluginObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.observers {
		if existing == observer {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}

// fakePlugin is a Plugin with canned answers.
type fakePlugin struct {
	id              string
	triggerFilename string
	extractors      map[RequestType]DeviceInfoExtractor
	sensitive       map[string]bool
}

func (p *fakePlugin) ID() string { return p.id }

func (p *fakePlugin) RemoteStateTriggerFilename(devices.Device) string { return p.triggerFilename }

func (p *fakePlugin) DeviceInfoExtractor(requestType RequestType) DeviceInfoExtractor {
	return p.extractors[requestType]
}

func (p *fakePlugin) IsSensitiveFilename(filename string) bool { return p.sensitive[filename] }

// staticExtractor returns the same info for every request.
type staticExtractor struct {
	info devices.Info
	err  error
}

func (e staticExtractor) Extract(context.Context, *Request) (devices.Info, error) {
	return e.info, e.err
}

func httpRequest(path, clientIP string) *Request {
	return NewHTTPRequest(&HTTPRequest{Path: path, ClientIP: clientIP})
}
