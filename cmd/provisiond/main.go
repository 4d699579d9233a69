/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/carverauto/provisiond/pkg/app"
	"github.com/carverauto/provisiond/pkg/config"
	"github.com/carverauto/provisiond/pkg/devices"
	"github.com/carverauto/provisiond/pkg/docstore"
	"github.com/carverauto/provisiond/pkg/ident"
	"github.com/carverauto/provisiond/pkg/logger"
	"github.com/carverauto/provisiond/pkg/plugins"
	"github.com/carverauto/provisiond/pkg/synchronize"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/provisiond/provisiond.json", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := &logger.Config{
		Level:        cfg.Logging.Level,
		Debug:        cfg.Logging.Debug,
		SecurityFile: cfg.Logging.SecurityFile,
	}

	if err := logger.Init(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	mainLogger := logger.FromZerolog(logger.WithComponent("provisiond"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deviceBackend, configBackend, closeStore, err := openStore(cfg, mainLogger)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer closeStore()

	generator := docstore.NewUUIDGenerator()
	deviceCollection := docstore.NewCollection(deviceBackend, generator, logger.FromZerolog(mainLogger.WithComponent("devices")))
	configCollection := docstore.NewCollection(configBackend, generator, logger.FromZerolog(mainLogger.WithComponent("configs")))

	if err := deviceCollection.EnsureIndex(ctx, "mac"); err != nil {
		return fmt.Errorf("failed to index devices: %w", err)
	}

	if err := deviceCollection.EnsureIndex(ctx, "ip"); err != nil {
		return fmt.Errorf("failed to index devices: %w", err)
	}

	pluginManager := plugins.NewManager(logger.FromZerolog(mainLogger.WithComponent("plugins")))

	application := app.New(
		deviceCollection,
		devices.NewConfigCollection(configCollection),
		pluginManager,
		app.Config{
			NATEnabled:    cfg.General.NATEnabled,
			BaseRawConfig: cfg.BaseRawConfig,
		},
		logger.FromZerolog(mainLogger.WithComponent("app")),
	)

	if cfg.Sync.Host != "" {
		synchronize.Register(synchronize.NewAMIBackend(&cfg.Sync, logger.FromZerolog(mainLogger.WithComponent("sync"))))
		defer synchronize.Unregister()
	}

	service := buildProcessingService(cfg, application, pluginManager, mainLogger)
	_ = service // handed to the HTTP/TFTP/DHCP transport front ends

	mainLogger.Info().
		Str("store_backend", cfg.General.StoreBackend).
		Bool("nat_enabled", cfg.General.NATEnabled).
		Msg("provisiond started")

	<-ctx.Done()

	mainLogger.Info().Msg("provisiond shutting down")

	return nil
}

func openStore(cfg *config.Config, log logger.Logger) (deviceBackend, configBackend docstore.Backend, closeStore func(), err error) {
	switch cfg.General.StoreBackend {
	case config.StoreBackendMemory:
		deviceBackend = docstore.NewMemoryBackend()
		configBackend = docstore.NewMemoryBackend()
		closeStore = func() {}
	case config.StoreBackendJSONDir:
		deviceBackend, err = docstore.NewJSONDirBackend(cfg.General.StoreDir+"/devices", log)
		if err != nil {
			return nil, nil, nil, err
		}

		configBackend, err = docstore.NewJSONDirBackend(cfg.General.StoreDir+"/configs", log)
		if err != nil {
			return nil, nil, nil, err
		}

		closeStore = func() {}
	case config.StoreBackendSQLite:
		store, openErr := docstore.OpenSQLiteStore(cfg.General.SQLitePath)
		if openErr != nil {
			return nil, nil, nil, openErr
		}

		deviceBackend = store.Backend("devices")
		configBackend = store.Backend("configs")
		closeStore = func() { _ = store.Close() }
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.General.StoreBackend)
	}

	return deviceBackend, configBackend, closeStore, nil
}

func buildProcessingService(cfg *config.Config, application *app.ProvisioningApplication, pluginManager ident.PluginManager, log logger.Logger) *ident.RequestProcessingService {
	accumulatorFactory := func() ident.InfoAccumulator { return ident.NewLastSeenUpdater() }
	if cfg.General.ConflictResolution == config.ConflictResolutionVoting {
		accumulatorFactory = func() ident.InfoAccumulator { return ident.NewVotingUpdater() }
	}

	identLogger := logger.FromZerolog(log.WithComponent("ident"))

	compositeFactory := func(extractors []ident.DeviceInfoExtractor) ident.DeviceInfoExtractor {
		return ident.NewCollaboratingDeviceInfoExtractor(accumulatorFactory, extractors, identLogger)
	}

	extractor := ident.NewCollaboratingDeviceInfoExtractor(
		accumulatorFactory,
		[]ident.DeviceInfoExtractor{
			ident.StandardDeviceInfoExtractor{},
			ident.NewAllPluginsDeviceInfoExtractor(compositeFactory, pluginManager, identLogger),
		},
		identLogger,
	)

	retriever := ident.NewFirstCompositeDeviceRetriever(
		ident.NewMacDeviceRetriever(application),
		ident.NewSerialNumberDeviceRetriever(application),
		ident.NewUUIDDeviceRetriever(application),
		ident.NewIPDeviceRetriever(application, identLogger),
		ident.NewAddDeviceRetriever(application),
	)

	updater := ident.NewCompositeDeviceUpdater(
		ident.NewRemoveOutdatedIPDeviceUpdater(application),
		ident.NewDynamicDeviceUpdater([]string{"ip", "vendor", "model", "version"}, true),
		ident.AddInfoDeviceUpdater{},
		ident.NewAutocreateConfigDeviceUpdater(application),
	)

	return ident.NewRequestProcessingService(application, extractor, retriever, updater, identLogger)
}
