package ident

import (
	"context"

	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/docstore"
	"github.com/carverauto/provisiond/pkg/logger"
)

// SearchDeviceRetriever resolves a device by matching one identity key
// against the store, returning the first device found.
type SearchDeviceRetriever struct {
	app Application
	key string
}

func NewSearchDeviceRetriever(app Application, key string) *SearchDeviceRetriever {
	return &SearchDeviceRetriever{app: app, key: key}
}

func (r *SearchDeviceRetriever) Retrieve(ctx context.Context, info devices.Info) (devices.Device, error) {
	value, ok := info[r.key]
	if !ok {
		return nil, nil
	}

	return r.app.DevFindOne(ctx, docstore.Selector{r.key: value})
}

// NewMacDeviceRetriever resolves devices by MAC address.
func NewMacDeviceRetriever(app Application) *SearchDeviceRetriever {
	return NewSearchDeviceRetriever(app, "mac")
}

// NewSerialNumberDeviceRetriever resolves devices by serial number.
func NewSerialNumberDeviceRetriever(app Application) *SearchDeviceRetriever {
	return NewSearchDeviceRetriever(app, "sn")
}

// NewUUIDDeviceRetriever resolves devices by UUID.
func NewUUIDDeviceRetriever(app Application) *SearchDeviceRetriever {
	return NewSearchDeviceRetriever(app, "uuid")
}

// IPDeviceRetriever resolves a device by observed IP, narrowing candidates
// by any mac/vendor/model attributes also observed. An ambiguous match
// resolves to no device.
type IPDeviceRetriever struct {
	app Application
	log logger.Logger
}

func NewIPDeviceRetriever(app Application, log logger.Logger) *IPDeviceRetriever {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &IPDeviceRetriever{app: app, log: log}
}

func (r *IPDeviceRetriever) Retrieve(ctx context.Context, info devices.Info) (devices.Device, error) {
	ip, ok := info["ip"]
	if !ok {
		return nil, nil
	}

	candidates, err := r.app.DevFind(ctx, docstore.Selector{"ip": ip})
	if err != nil {
		return nil, err
	}

	candidates = filterCandidates(candidates, info)

	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return nil, nil
	default:
		r.log.Warn().
			Int("candidates", len(candidates)).
			Msg("Multiple device match in IP device retriever")

		return nil, nil
	}
}

func filterCandidates(candidates []devices.Device, info devices.Info) []devices.Device {
	for _, key := range []string{"mac", "vendor", "model"} {
		expected, ok := info[key]
		if !ok {
			continue
		}

		kept := candidates[:0]

		for _, device := range candidates {
			value, present := device[key]
			if !present || value == expected {
				kept = append(kept, device)
			}
		}

		candidates = kept
	}

	return candidates
}

// AddDeviceRetriever does no lookup and always inserts a new device built
// from the observed info, stamping its provenance. It is meant to run last
// in a FirstCompositeDeviceRetriever, making auto-registration the
// fallback when nothing matched.
type AddDeviceRetriever struct {
	app Application
}

func NewAddDeviceRetriever(app Application) *AddDeviceRetriever {
	return &AddDeviceRetriever{app: app}
}

func (r *AddDeviceRetriever) Retrieve(ctx context.Context, info devices.Info) (devices.Device, error) {
	device := make(devices.Device, len(info)+1)
	for k, v := range info {
		device[k] = v
	}

	device["added"] = "auto"

	deviceID, err := r.app.DevInsert(ctx, device)
	if err != nil {
		return nil, err
	}

	if deviceIP, ok := info["ip"].(string); ok && deviceIP != "" {
		logger.LogSecurityMsg("New device created automatically from %s: %s", deviceIP, deviceID)
	}

	recordAutoAddedDevice(ctx)

	return device, nil
}

// FirstCompositeDeviceRetriever returns the device of the first retriever
// that resolves one.
type FirstCompositeDeviceRetriever struct {
	retrievers []DeviceRetriever
}

func NewFirstCompositeDeviceRetriever(retrievers ...DeviceRetriever) *FirstCompositeDeviceRetriever {
	return &FirstCompositeDeviceRetriever{retrievers: retrievers}
}

func (r *FirstCompositeDeviceRetriever) Retrieve(ctx context.Context, info devices.Info) (devices.Device, error) {
	for _, retriever := range r.retrievers {
		device, err := retriever.Retrieve(ctx, info)
		if err != nil {
			return nil, err
		}

		if device != nil {
			return device, nil
		}
	}

	return nil, nil
}
