package ident

import (
	"context"

	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/docstore"
)

// DeviceInfoExtractor extracts identity attributes from a request. It is a
// pure function of the request apart from any lookups its own attribute
// resolution needs. A nil result with a nil error means nothing could be
// extracted; the pipeline treats that as an empty observation, never as an
// error.
type DeviceInfoExtractor interface {
	Extract(ctx context.Context, req *Request) (devices.Info, error)
}

// DeviceRetriever resolves extracted identity info to a device record.
// Implementations may have side effects on the application, like inserting
// a new device. A nil device with a nil error means no device matched.
type DeviceRetriever interface {
	Retrieve(ctx context.Context, info devices.Info) (devices.Device, error)
}

// DeviceUpdater merges newly observed identity info into a device record,
// mutating it in place. Being able to do side effects is the reason this
// interface exists.
type DeviceUpdater interface {
	Update(ctx context.Context, device devices.Device, info devices.Info, req *Request) error
}

// InfoAccumulator folds successive identity observations into one resolved
// view. Accumulators are private to one configured pipeline; sharing an
// instance across pipelines is only safe when that sharing is intentional.
type InfoAccumulator interface {
	Accumulate(info devices.Info)
	DevInfo() devices.Info
}

// Plugin is the narrow capability surface the pipeline needs from a vendor
// plugin. Plugins are opaque; they are looked up by id from the manager.
type Plugin interface {
	ID() string

	// RemoteStateTriggerFilename returns the filename whose retrieval by
	// the device signals that remote synchronization state must be
	// refreshed, or "" when the plugin has no such trigger.
	RemoteStateTriggerFilename(device devices.Device) string

	// DeviceInfoExtractor returns the plugin's extractor for the given
	// request type, or nil when the plugin contributes none.
	DeviceInfoExtractor(requestType RequestType) DeviceInfoExtractor
}

// SensitiveFilenameChecker is implemented by plugins able to flag filenames
// whose retrieval must be security-logged.
type SensitiveFilenameChecker interface {
	IsSensitiveFilename(filename string) bool
}

// PluginObserver is notified when plugins are loaded or unloaded.
type PluginObserver interface {
	PluginLoaded(pluginID string)
	PluginUnloaded(pluginID string)
}

// PluginManager is the plugin registry collaborator.
type PluginManager interface {
	// Get returns the plugin with the given id, or nil when unknown.
	Get(pluginID string) Plugin

	// Plugins returns every loaded plugin.
	Plugins() []Plugin

	Attach(observer PluginObserver)
	Detach(observer PluginObserver)
}

// PreUpdateHook runs against the device and its current config just before
// the store commits an update.
type PreUpdateHook func(device devices.Device, config docstore.Document)

// Application is the surface of the provisioning application the pipeline
// depends on.
type Application interface {
	DevInsert(ctx context.Context, device devices.Device) (string, error)
	DevFind(ctx context.Context, selector docstore.Selector) ([]devices.Device, error)
	DevFindOne(ctx context.Context, selector docstore.Selector) (devices.Device, error)
	DevUpdate(ctx context.Context, device devices.Device, hook PreUpdateHook) error

	CfgRetrieve(ctx context.Context, configID string) (docstore.Document, error)
	CfgCreateNew(ctx context.Context) (string, error)

	// NATEnabled reports whether the deployment expects many devices to
	// share one observed IP.
	NATEnabled() bool

	PluginManager() PluginManager
}
