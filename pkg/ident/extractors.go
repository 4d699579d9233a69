package ident

import (
	"context"
	"sync"

	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/logger"
)

// StandardDeviceInfoExtractor returns the readily available identity
// attributes of a request: the client IP always, plus the MAC address for
// DHCP requests. Deployments should always run this extractor.
type StandardDeviceInfoExtractor struct{}

func (StandardDeviceInfoExtractor) Extract(_ context.Context, req *Request) (devices.Info, error) {
	ip, err := IPFromRequest(req)
	if err != nil {
		return nil, err
	}

	info := devices.Info{"ip": ip}

	if req.Type == RequestTypeDHCP {
		info["mac"] = req.DHCP.MAC
	}

	return info, nil
}

// CollaboratingDeviceInfoExtractor runs a set of extractors and merges
// their observations through a fresh accumulator per call. Extractors that
// fail or return nothing are skipped.
type CollaboratingDeviceInfoExtractor struct {
	accumulatorFactory func() InfoAccumulator
	extractors         []DeviceInfoExtractor
	log                logger.Logger
}

// NewCollaboratingDeviceInfoExtractor composes extractors with a merge
// policy. The factory decides conflict resolution: NewLastSeenUpdater for
// last-write-wins, NewVotingUpdater for most-popular-wins.
func NewCollaboratingDeviceInfoExtractor(factory func() InfoAccumulator, extractors []DeviceInfoExtractor, log logger.Logger) *CollaboratingDeviceInfoExtractor {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &CollaboratingDeviceInfoExtractor{
		accumulatorFactory: factory,
		extractors:         extractors,
		log:                log,
	}
}

func (e *CollaboratingDeviceInfoExtractor) Extract(ctx context.Context, req *Request) (devices.Info, error) {
	accumulator := e.accumulatorFactory()

	for _, extractor := range e.extractors {
		info, err := extractor.Extract(ctx, req)
		if err != nil {
			e.log.Debug().Err(err).Msg("Collaborating extractor member failed")
			continue
		}

		if len(info) == 0 {
			continue
		}

		e.log.Debug().Interface("dev_info", info).Msg("Extract result")
		accumulator.Accumulate(info)
	}

	return accumulator.DevInfo(), nil
}

// AllPluginsDeviceInfoExtractor forwards extraction to the extractors of
// every loaded plugin, rebuilding its per-request-type composites whenever
// a plugin is loaded or unloaded.
type AllPluginsDeviceInfoExtractor struct {
	extractorFactory func(extractors []DeviceInfoExtractor) DeviceInfoExtractor
	pluginManager    PluginManager
	log              logger.Logger

	mu         sync.RWMutex
	extractors map[RequestType]DeviceInfoExtractor
}

// NewAllPluginsDeviceInfoExtractor builds the composite and attaches it to
// the plugin manager for load/unload refreshes.
func NewAllPluginsDeviceInfoExtractor(factory func(extractors []DeviceInfoExtractor) DeviceInfoExtractor, pluginManager PluginManager, log logger.Logger) *AllPluginsDeviceInfoExtractor {
	if log == nil {
		log = logger.NewTestLogger()
	}

	e := &AllPluginsDeviceInfoExtractor{
		extractorFactory: factory,
		pluginManager:    pluginManager,
		log:              log,
		extractors:       make(map[RequestType]DeviceInfoExtractor),
	}

	e.rebuild()
	pluginManager.Attach(e)

	return e
}

func (e *AllPluginsDeviceInfoExtractor) rebuild() {
	e.log.Debug().Msg("Updating plugin device info extractors")

	plugins := e.pluginManager.Plugins()
	extractors := make(map[RequestType]DeviceInfoExtractor, len(RequestTypes))

	for _, requestType := range RequestTypes {
		var pluginExtractors []DeviceInfoExtractor

		for _, plugin := range plugins {
			if extractor := plugin.DeviceInfoExtractor(requestType); extractor != nil {
				pluginExtractors = append(pluginExtractors, extractor)
			}
		}

		extractors[requestType] = e.extractorFactory(pluginExtractors)
	}

	e.mu.Lock()
	e.extractors = extractors
	e.mu.Unlock()
}

func (e *AllPluginsDeviceInfoExtractor) PluginLoaded(string) { e.rebuild() }

func (e *AllPluginsDeviceInfoExtractor) PluginUnloaded(string) { e.rebuild() }

func (e *AllPluginsDeviceInfoExtractor) Extract(ctx context.Context, req *Request) (devices.Info, error) {
	e.mu.RLock()
	extractor := e.extractors[req.Type]
	e.mu.RUnlock()

	if extractor == nil {
		return nil, nil
	}

	return extractor.Extract(ctx, req)
}
