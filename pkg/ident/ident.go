package ident

import (
	"context"
	"strconv"
	"sync"

	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/docstore"
	"github.com/carverauto/provisiond/pkg/logger"
)

// RequestProcessingService drives the identification pipeline for one
// deployment: extract identity info from a request, resolve it to a
// device, merge the observation back in and persist whatever changed.
type RequestProcessingService struct {
	app       Application
	extractor DeviceInfoExtractor
	retriever DeviceRetriever
	updater   DeviceUpdater
	log       logger.Logger

	mu    sync.Mutex
	reqID int
}

func NewRequestProcessingService(app Application, extractor DeviceInfoExtractor, retriever DeviceRetriever, updater DeviceUpdater, log logger.Logger) *RequestProcessingService {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &RequestProcessingService{
		app:       app,
		extractor: extractor,
		retriever: retriever,
		updater:   updater,
		log:       log,
	}
}

// request ids only disambiguate interleaved log lines, so a small
// cycling counter is enough.
func (s *RequestProcessingService) newRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strconv.Itoa(s.reqID)
	s.reqID = (s.reqID + 1) % 100

	return id
}

// Process runs the pipeline for one request. It returns the identified
// device, or nil when no device could be resolved, along with the id of
// the plugin that should continue serving the request, or "" when the
// device has none assigned.
func (s *RequestProcessingService) Process(ctx context.Context, req *Request) (devices.Device, string, error) {
	helper := &requestHelper{
		app:       s.app,
		req:       req,
		requestID: s.newRequestID(),
		log:       s.log,
	}

	info, err := helper.extractDeviceInfo(ctx, s.extractor)
	if err != nil {
		recordRequest(ctx, req.Type, "error")
		return nil, "", err
	}

	device, err := helper.retrieveDevice(ctx, s.retriever, info)
	if err != nil {
		recordRequest(ctx, req.Type, "error")
		return nil, "", err
	}

	if err := helper.updateDevice(ctx, s.updater, device, info); err != nil {
		recordRequest(ctx, req.Type, "error")
		return nil, "", err
	}

	recordRequest(ctx, req.Type, "ok")

	return device, helper.getPluginID(device), nil
}

type requestHelper struct {
	app       Application
	req       *Request
	requestID string
	log       logger.Logger
}

func (h *requestHelper) extractDeviceInfo(ctx context.Context, extractor DeviceInfoExtractor) (devices.Info, error) {
	info, err := extractor.Extract(ctx, h.req)
	if err != nil {
		return nil, err
	}

	if len(info) == 0 {
		h.log.Info().Str("request_id", h.requestID).Msg("No device info extracted")
		return devices.Info{}, nil
	}

	h.log.Info().
		Str("request_id", h.requestID).
		Interface("dev_info", info).
		Msg("Extracted device info")

	return info, nil
}

func (h *requestHelper) retrieveDevice(ctx context.Context, retriever DeviceRetriever, info devices.Info) (devices.Device, error) {
	device, err := retriever.Retrieve(ctx, info)
	if err != nil {
		return nil, err
	}

	if device == nil {
		h.log.Info().Str("request_id", h.requestID).Msg("No device retrieved")
	} else {
		h.log.Info().
			Str("request_id", h.requestID).
			Interface("device_id", device[docstore.IDKey]).
			Msg("Retrieved device")
	}

	return device, nil
}

func (h *requestHelper) updateDevice(ctx context.Context, updater DeviceUpdater, device devices.Device, info devices.Info) error {
	if device == nil {
		return nil
	}

	origDevice := devices.Copy(device)

	if err := updater.Update(ctx, device, info, h.req); err != nil {
		return err
	}

	if devices.Equal(device, origDevice) {
		return h.updateDeviceOnNoChange(ctx, device)
	}

	h.log.Info().Str("request_id", h.requestID).Msg("Device has been updated")

	return h.updateDeviceOnChange(ctx, device)
}

// updateDeviceOnNoChange catches the case where nothing in the device
// record moved but the request is the plugin's remote state trigger:
// the SIP username must still be re-derived from the config and, when it
// changed, committed.
func (h *requestHelper) updateDeviceOnNoChange(ctx context.Context, device devices.Device) error {
	if !truthyValue(device["configured"]) {
		return nil
	}

	if !h.shouldUpdateRemoteState(device) {
		return nil
	}

	configID, _ := device["config"].(string)

	config, err := h.app.CfgRetrieve(ctx, configID)
	if err != nil {
		return err
	}

	if config == nil {
		return nil
	}

	if h.updateRemoteStateSIPUsername(device, config) {
		recordRemoteStateRefresh(ctx)
		return h.app.DevUpdate(ctx, device, nil)
	}

	return nil
}

func (h *requestHelper) updateDeviceOnChange(ctx context.Context, device devices.Device) error {
	var hook PreUpdateHook
	if h.shouldUpdateRemoteState(device) {
		recordRemoteStateRefresh(ctx)
		hook = h.preUpdateHook
	}

	return h.app.DevUpdate(ctx, device, hook)
}

// shouldUpdateRemoteState reports whether this request is the remote
// state trigger of the device's plugin: a configured device whose plugin
// declares a trigger filename matching the requested one.
func (h *requestHelper) shouldUpdateRemoteState(device devices.Device) bool {
	filename := FilenameFromRequest(h.req)
	if filename == "" {
		return false
	}

	pluginID, _ := device["plugin"].(string)
	if pluginID == "" {
		return false
	}

	plugin := h.app.PluginManager().Get(pluginID)
	if plugin == nil {
		return false
	}

	triggerFilename := plugin.RemoteStateTriggerFilename(device)
	if triggerFilename == "" || triggerFilename != filename {
		return false
	}

	configID, _ := device["config"].(string)

	return configID != ""
}

// preUpdateHook runs inside the application's update commit, once the
// device's config is known.
func (h *requestHelper) preUpdateHook(device devices.Device, config docstore.Document) {
	if config == nil {
		return
	}

	if !truthyValue(device["configured"]) {
		return
	}

	h.updateRemoteStateSIPUsername(device, config)
}

// updateRemoteStateSIPUsername stamps the username of the first SIP line
// of the config onto the device. It reports whether the device changed.
func (h *requestHelper) updateRemoteStateSIPUsername(device devices.Device, config docstore.Document) bool {
	sipUsername := sipUsernameFromConfig(config)
	if sipUsername == "" {
		return false
	}

	if current, _ := device["remote_state_sip_username"].(string); current == sipUsername {
		return false
	}

	device["remote_state_sip_username"] = sipUsername
	h.log.Debug().Str("request_id", h.requestID).Msg("Remote state SIP username updated")

	return true
}

func sipUsernameFromConfig(config docstore.Document) string {
	rawConfig, _ := config["raw_config"].(map[string]any)
	if rawConfig == nil {
		return ""
	}

	sipLines, _ := rawConfig["sip_lines"].(map[string]any)
	if sipLines == nil {
		return ""
	}

	sipLine, _ := sipLines["1"].(map[string]any)
	if sipLine == nil {
		return ""
	}

	username, _ := sipLine["username"].(string)

	return username
}

func (h *requestHelper) getPluginID(device devices.Device) string {
	if device == nil {
		h.log.Info().Str("request_id", h.requestID).Msg("No route found")
		return ""
	}

	pluginID, _ := device["plugin"].(string)
	if pluginID == "" {
		h.log.Info().Str("request_id", h.requestID).Msg("No route found")
		return ""
	}

	h.log.Info().
		Str("request_id", h.requestID).
		Str("plugin_id", pluginID).
		Msg("Routing request to plugin")

	return pluginID
}

func truthyValue(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case int:
		return value != 0
	case float64:
		return value != 0
	default:
		return true
	}
}

// LogSensitiveRequest security-logs the retrieval of a file the plugin
// flags as sensitive. Transports call it once they know which plugin a
// request routes to.
func LogSensitiveRequest(plugin Plugin, req *Request) {
	checker, ok := plugin.(SensitiveFilenameChecker)
	if !ok {
		return
	}

	filename := FilenameFromRequest(req)
	if filename == "" || !checker.IsSensitiveFilename(filename) {
		return
	}

	ip, err := IPFromRequest(req)
	if err != nil {
		ip = "unknown"
	}

	logger.LogSecurityMsg("Sensitive file requested from %s: %s", ip, filename)
}
