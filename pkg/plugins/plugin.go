package plugins

import (
	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/ident"
)

// StandardPlugin is a declarative plugin: vendor integrations describe
// their identification behavior as data and get the Plugin contract for
// free.
type StandardPlugin struct {
	// PluginID is the unique plugin identifier, like "aastra-4.2.0".
	PluginID string

	// Extractors holds the per-request-type device info extractors the
	// plugin contributes, if any.
	Extractors map[ident.RequestType]ident.DeviceInfoExtractor

	// TriggerFilename derives the remote-state trigger filename for a
	// device. Nil when the plugin has no trigger.
	TriggerFilename func(device devices.Device) string

	// SensitiveFilenames lists filenames whose retrieval must be
	// security-logged, typically per-device config files with credentials.
	SensitiveFilenames map[string]struct{}
}

var (
	_ ident.Plugin                   = (*StandardPlugin)(nil)
	_ ident.SensitiveFilenameChecker = (*StandardPlugin)(nil)
)

func (p *StandardPlugin) ID() string { return p.PluginID }

func (p *StandardPlugin) RemoteStateTriggerFilename(device devices.Device) string {
	if p.TriggerFilename == nil {
		return ""
	}

	return p.TriggerFilename(device)
}

func (p *StandardPlugin) DeviceInfoExtractor(requestType ident.RequestType) ident.DeviceInfoExtractor {
	return p.Extractors[requestType]
}

func (p *StandardPlugin) IsSensitiveFilename(filename string) bool {
	_, ok := p.SensitiveFilenames[filename]
	return ok
}
