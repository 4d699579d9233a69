// Package app hosts the provisioning application: the device and config
// collections plus the operations the identification pipeline and the
// management surface share.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/docstore"
	"github.com/carverauto/provisiond/pkg/ident"
	"github.com/carverauto/provisiond/pkg/logger"
)

// Config carries the application-level knobs.
type Config struct {
	// NATEnabled tells the pipeline that many devices may legitimately
	// share one observed IP.
	NATEnabled bool

	// BaseRawConfig is merged under every config tree resolution, holding
	// deployment-wide settings like the provisioning server URLs.
	BaseRawConfig map[string]any
}

// ProvisioningApplication implements the pipeline's Application contract
// on top of the document store. Mutating device operations serialize on
// one write lock; a device update races its own reconfiguration check
// otherwise.
type ProvisioningApplication struct {
	devices       *docstore.Collection
	configs       *devices.ConfigCollection
	pluginManager ident.PluginManager
	config        Config
	log           logger.Logger

	writeMu sync.Mutex
}

func New(deviceCollection *docstore.Collection, configCollection *devices.ConfigCollection, pluginManager ident.PluginManager, config Config, log logger.Logger) *ProvisioningApplication {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &ProvisioningApplication{
		devices:       deviceCollection,
		configs:       configCollection,
		pluginManager: pluginManager,
		config:        config,
		log:           log,
	}
}

var _ ident.Application = (*ProvisioningApplication)(nil)

func (a *ProvisioningApplication) NATEnabled() bool { return a.config.NATEnabled }

func (a *ProvisioningApplication) PluginManager() ident.PluginManager { return a.pluginManager }

// deviceConfigurable reports whether the device carries enough to be
// provisioned: a loaded plugin and a resolvable config. Rendering the
// config files is the plugin's business and not done here.
func (a *ProvisioningApplication) deviceConfigurable(ctx context.Context, device devices.Device) (bool, error) {
	pluginID, _ := device["plugin"].(string)
	if pluginID == "" || a.pluginManager.Get(pluginID) == nil {
		return false, nil
	}

	configID, _ := device["config"].(string)
	if configID == "" {
		return false, nil
	}

	rawConfig, err := a.configs.GetRawConfig(ctx, configID, a.config.BaseRawConfig)
	if err != nil {
		return false, err
	}

	return rawConfig != nil, nil
}

// DevInsert stores a new device. The configured flag is always
// re-derived, whatever the caller set.
func (a *ProvisioningApplication) DevInsert(ctx context.Context, device devices.Device) (string, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.log.Info().Msg("Inserting new device")

	device["configured"] = false
	device["is_new"] = true

	deviceID, err := a.devices.Insert(ctx, device)
	if err != nil {
		return "", err
	}

	configured, err := a.deviceConfigurable(ctx, device)
	if err != nil {
		return "", err
	}

	if configured {
		device["configured"] = true

		if err := a.devices.Update(ctx, device); err != nil {
			return "", err
		}
	}

	return deviceID, nil
}

// DevUpdate replaces a device record. The configured flag is re-derived
// when an identity or provisioning key changed; the hook, when given,
// runs with the device's current config just before persisting. Devices
// equal to their stored record are not rewritten.
func (a *ProvisioningApplication) DevUpdate(ctx context.Context, device devices.Device, hook ident.PreUpdateHook) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	deviceID, _ := device[docstore.IDKey].(string)
	if deviceID == "" {
		return fmt.Errorf("%w: no id key in device", docstore.ErrInvalidID)
	}

	a.log.Info().Str("device_id", deviceID).Msg("Updating device")

	oldDevice, err := a.devices.Retrieve(ctx, deviceID)
	if err != nil {
		return err
	}

	if oldDevice == nil {
		return fmt.Errorf("%w: %s", docstore.ErrInvalidID, deviceID)
	}

	if devices.NeedsReconfiguration(oldDevice, device) {
		configured, err := a.deviceConfigurable(ctx, device)
		if err != nil {
			return err
		}

		device["configured"] = configured
	} else {
		device["configured"] = oldDevice["configured"]
	}

	if hook != nil {
		var config docstore.Document

		if configID, _ := device["config"].(string); configID != "" {
			config, err = a.configs.Retrieve(ctx, configID)
			if err != nil {
				return err
			}
		}

		hook(device, config)
	}

	if devices.Equal(device, oldDevice) {
		a.log.Info().Str("device_id", deviceID).Msg("Not updating device: not changed")
		return nil
	}

	if err := a.devices.Update(ctx, device); err != nil {
		return err
	}

	oldConfigID, _ := oldDevice["config"].(string)
	newConfigID, _ := device["config"].(string)

	if oldConfigID != "" && oldConfigID != newConfigID {
		if err := a.deleteTransientConfigIfUnused(ctx, oldConfigID); err != nil {
			return err
		}
	}

	return nil
}

// DevDelete removes a device, reaping its transient config when no other
// device still uses it.
func (a *ProvisioningApplication) DevDelete(ctx context.Context, deviceID string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.log.Info().Str("device_id", deviceID).Msg("Deleting device")

	device, err := a.devices.Retrieve(ctx, deviceID)
	if err != nil {
		return err
	}

	if device == nil {
		return fmt.Errorf("%w: %s", docstore.ErrInvalidID, deviceID)
	}

	if err := a.devices.Delete(ctx, deviceID); err != nil {
		return err
	}

	if configID, _ := device["config"].(string); configID != "" {
		return a.deleteTransientConfigIfUnused(ctx, configID)
	}

	return nil
}

func (a *ProvisioningApplication) deleteTransientConfigIfUnused(ctx context.Context, configID string) error {
	config, err := a.configs.Retrieve(ctx, configID)
	if err != nil {
		return err
	}

	if config == nil || !truthy(config["transient"]) {
		return nil
	}

	user, err := a.devices.FindOne(ctx, docstore.Selector{"config": configID})
	if err != nil {
		return err
	}

	if user != nil {
		return nil
	}

	a.log.Debug().Str("config_id", configID).Msg("Deleting unused transient config")

	return a.configs.Delete(ctx, configID)
}

func (a *ProvisioningApplication) DevRetrieve(ctx context.Context, deviceID string) (devices.Device, error) {
	return a.devices.Retrieve(ctx, deviceID)
}

func (a *ProvisioningApplication) DevFind(ctx context.Context, selector docstore.Selector) ([]devices.Device, error) {
	docs, err := a.devices.Find(ctx, selector, nil)
	if err != nil {
		return nil, err
	}

	found := make([]devices.Device, len(docs))
	for i, doc := range docs {
		found[i] = devices.Device(doc)
	}

	return found, nil
}

func (a *ProvisioningApplication) DevFindOne(ctx context.Context, selector docstore.Selector) (devices.Device, error) {
	doc, err := a.devices.FindOne(ctx, selector)
	if err != nil || doc == nil {
		return nil, err
	}

	return devices.Device(doc), nil
}

// CfgRetrieve returns a config document, or nil when the id is unknown.
func (a *ProvisioningApplication) CfgRetrieve(ctx context.Context, configID string) (docstore.Document, error) {
	return a.configs.Retrieve(ctx, configID)
}

// CfgRetrieveRawConfig returns the flattened raw config of a config,
// with the deployment base settings underneath.
func (a *ProvisioningApplication) CfgRetrieveRawConfig(ctx context.Context, configID string) (map[string]any, error) {
	return a.configs.GetRawConfig(ctx, configID, a.config.BaseRawConfig)
}

// CfgCreateNew derives a fresh transient config from the config holding
// the autocreate role. Returns "" when no such config exists or it lacks
// a first SIP line.
func (a *ProvisioningApplication) CfgCreateNew(ctx context.Context) (string, error) {
	a.log.Info().Msg("Creating new config")

	baseConfig, err := a.configs.FindOne(ctx, docstore.Selector{"role": devices.RoleAutocreate})
	if err != nil {
		return "", err
	}

	if baseConfig == nil {
		a.log.Debug().Msg("No config with the autocreate role found")
		return "", nil
	}

	newConfig := devices.BuildAutocreateConfig(baseConfig)
	if newConfig == nil {
		a.log.Debug().Msg("Autocreate base config has no first SIP line")
		return "", nil
	}

	return a.configs.Insert(ctx, newConfig)
}

func truthy(v any) bool {
	b, _ := v.(bool)
	return b
}
