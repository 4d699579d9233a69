package ident

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/logger"
)

func TestSearchDeviceRetriever(t *testing.T) {
	app := newFakeApp()
	app.devices["a"] = devices.Device{"id": "a", "mac": "00:11:22:aa:bb:cc"}

	r := NewMacDeviceRetriever(app)

	device, err := r.Retrieve(context.Background(), devices.Info{"mac": "00:11:22:aa:bb:cc"})
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "a", device["id"])

	// missing key resolves to no device, not an error
	device, err = r.Retrieve(context.Background(), devices.Info{"ip": "10.0.0.1"})
	require.NoError(t, err)
	assert.Nil(t, device)
}

func TestIPDeviceRetriever(t *testing.T) {
	app := newFakeApp()
	app.devices["a"] = devices.Device{"id": "a", "ip": "10.0.0.1", "vendor": "acme"}

	r := NewIPDeviceRetriever(app, nil)

	device, err := r.Retrieve(context.Background(), devices.Info{"ip": "10.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "a", device["id"])
}

func TestIPDeviceRetrieverAmbiguous(t *testing.T) {
	app := newFakeApp()
	app.devices["a"] = devices.Device{"id": "a", "ip": "10.0.0.1"}
	app.devices["b"] = devices.Device{"id": "b", "ip": "10.0.0.1"}

	r := NewIPDeviceRetriever(app, nil)

	device, err := r.Retrieve(context.Background(), devices.Info{"ip": "10.0.0.1"})
	require.NoError(t, err)
	assert.Nil(t, device)
}

func TestIPDeviceRetrieverNarrowsByAttributes(t *testing.T) {
	app := newFakeApp()
	app.devices["a"] = devices.Device{"id": "a", "ip": "10.0.0.1", "vendor": "acme"}
	app.devices["b"] = devices.Device{"id": "b", "ip": "10.0.0.1", "vendor": "other"}

	r := NewIPDeviceRetriever(app, nil)

	device, err := r.Retrieve(context.Background(), devices.Info{"ip": "10.0.0.1", "vendor": "acme"})
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "a", device["id"])
}

func TestAddDeviceRetriever(t *testing.T) {
	var buf bytes.Buffer

	logger.SetSecurityOutput(&buf)
	t.Cleanup(func() { logger.SetSecurityOutput(&bytes.Buffer{}) })

	app := newFakeApp()
	r := NewAddDeviceRetriever(app)

	device, err := r.Retrieve(context.Background(), devices.Info{"ip": "169.254.1.1"})
	require.NoError(t, err)
	require.NotNil(t, device)

	assert.Equal(t, "169.254.1.1", device["ip"])
	assert.Equal(t, "auto", device["added"])

	require.Len(t, app.insertedDevices, 1)
	deviceID, _ := device["id"].(string)
	require.NotEmpty(t, deviceID)

	// exactly one security message, naming the source IP and the new id
	logLines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 1, logLines)
	assert.Contains(t, buf.String(), "169.254.1.1")
	assert.Contains(t, buf.String(), deviceID)
}

func TestFirstCompositeDeviceRetriever(t *testing.T) {
	app := newFakeApp()
	app.devices["a"] = devices.Device{"id": "a", "sn": "XYZ"}

	r := NewFirstCompositeDeviceRetriever(
		NewMacDeviceRetriever(app),
		NewSerialNumberDeviceRetriever(app),
	)

	device, err := r.Retrieve(context.Background(), devices.Info{"sn": "XYZ"})
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "a", device["id"])

	device, err = r.Retrieve(context.Background(), devices.Info{"sn": "nope"})
	require.NoError(t, err)
	assert.Nil(t, device)
}
