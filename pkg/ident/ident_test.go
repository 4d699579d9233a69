package ident

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/docstore"
)

func sipConfig(username string) docstore.Document {
	return docstore.Document{
		"id": "c1",
		"raw_config": map[string]any{
			"sip_lines": map[string]any{
				"1": map[string]any{"username": username},
			},
		},
	}
}

func newTriggerApp() *fakeApp {
	app := newFakeApp()
	app.devices["dev1"] = devices.Device{
		"id":         "dev1",
		"ip":         "10.0.0.1",
		"plugin":     "p1",
		"config":     "c1",
		"configured": true,
	}
	app.configs["c1"] = sipConfig("user1001")
	app.manager.add(&fakePlugin{id: "p1", triggerFilename: "check-state.xml"})

	return app
}

func newService(app *fakeApp, updater DeviceUpdater) *RequestProcessingService {
	extractor := StandardDeviceInfoExtractor{}
	retriever := NewIPDeviceRetriever(app, nil)

	if updater == nil {
		updater = NullDeviceUpdater{}
	}

	return NewRequestProcessingService(app, extractor, retriever, updater, nil)
}

func TestProcessNoDevice(t *testing.T) {
	app := newFakeApp()
	service := newService(app, nil)

	device, pluginID, err := service.Process(context.Background(), httpRequest("/cfg.xml", "10.9.9.9"))
	require.NoError(t, err)
	assert.Nil(t, device)
	assert.Empty(t, pluginID)
	assert.Empty(t, app.updateCalls)
}

func TestProcessRoutesToPlugin(t *testing.T) {
	app := newTriggerApp()
	service := newService(app, nil)

	device, pluginID, err := service.Process(context.Background(), httpRequest("/other.xml", "10.0.0.1"))
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "p1", pluginID)
}

func TestProcessExtractionErrorAborts(t *testing.T) {
	app := newTriggerApp()
	service := newService(app, nil)

	req := NewHTTPRequest(&HTTPRequest{Path: "/cfg.xml", ClientIP: "10.0.0.1", NumHTTPProxies: 1})

	_, _, err := service.Process(context.Background(), req)
	assert.ErrorIs(t, err, ErrMalformedProxyChain)
	assert.Empty(t, app.updateCalls)
}

func TestProcessUpdaterErrorAborts(t *testing.T) {
	app := newTriggerApp()
	wantErr := errors.New("updater failed")
	service := newService(app, failingUpdater{err: wantErr})

	_, _, err := service.Process(context.Background(), httpRequest("/cfg.xml", "10.0.0.1"))
	assert.ErrorIs(t, err, wantErr)
	assert.Empty(t, app.updateCalls)
}

type failingUpdater struct{ err error }

func (u failingUpdater) Update(context.Context, devices.Device, devices.Info, *Request) error {
	return u.err
}

func TestRemoteStateTriggerWithoutDeviceChange(t *testing.T) {
	app := newTriggerApp()
	service := newService(app, nil)

	device, _, err := service.Process(context.Background(), httpRequest("/check-state.xml", "10.0.0.1"))
	require.NoError(t, err)
	require.NotNil(t, device)

	// config fetched exactly once, username derived from the first SIP line
	assert.Equal(t, []string{"c1"}, app.cfgRetrieveCalls)

	require.Len(t, app.updateCalls, 1)
	call := app.updateCalls[0]
	assert.False(t, call.hookSet)
	assert.Equal(t, "user1001", call.device["remote_state_sip_username"])
}

func TestRemoteStateTriggerUnchangedUsernameSkipsPersist(t *testing.T) {
	app := newTriggerApp()
	app.devices["dev1"]["remote_state_sip_username"] = "user1001"
	service := newService(app, nil)

	_, _, err := service.Process(context.Background(), httpRequest("/check-state.xml", "10.0.0.1"))
	require.NoError(t, err)
	assert.Empty(t, app.updateCalls)
}

func TestRemoteStateTriggerWithDeviceChange(t *testing.T) {
	app := newTriggerApp()
	app.devices["dev1"]["vendor"] = "old"
	service := newService(app, vendorUpdater{})

	device, _, err := service.Process(context.Background(), httpRequest("/check-state.xml", "10.0.0.1"))
	require.NoError(t, err)
	require.NotNil(t, device)

	// mutated device persists through the pre-commit hook
	require.Len(t, app.updateCalls, 1)
	call := app.updateCalls[0]
	assert.True(t, call.hookSet)
	assert.Equal(t, "new", call.device["vendor"])
	assert.Equal(t, "user1001", call.device["remote_state_sip_username"])
}

type vendorUpdater struct{}

func (vendorUpdater) Update(_ context.Context, device devices.Device, _ devices.Info, _ *Request) error {
	device["vendor"] = "new"
	return nil
}

func TestDeviceChangeWithoutTriggerPersistsWithoutHook(t *testing.T) {
	app := newTriggerApp()
	service := newService(app, vendorUpdater{})

	device, _, err := service.Process(context.Background(), httpRequest("/other.xml", "10.0.0.1"))
	require.NoError(t, err)
	require.NotNil(t, device)

	require.Len(t, app.updateCalls, 1)
	assert.False(t, app.updateCalls[0].hookSet)
	assert.NotContains(t, app.updateCalls[0].device, "remote_state_sip_username")
}

func TestRemoteStateTriggerIgnoresUnconfiguredDevice(t *testing.T) {
	app := newTriggerApp()
	app.devices["dev1"]["configured"] = false
	service := newService(app, nil)

	_, _, err := service.Process(context.Background(), httpRequest("/check-state.xml", "10.0.0.1"))
	require.NoError(t, err)
	assert.Empty(t, app.cfgRetrieveCalls)
	assert.Empty(t, app.updateCalls)
}

func TestLogSensitiveRequest(t *testing.T) {
	plugin := &fakePlugin{id: "p1", sensitive: map[string]bool{"secret.cfg": true}}

	// does not panic and only logs for flagged filenames
	LogSensitiveRequest(plugin, httpRequest("/secret.cfg", "10.0.0.1"))
	LogSensitiveRequest(plugin, httpRequest("/public.cfg", "10.0.0.1"))
}
