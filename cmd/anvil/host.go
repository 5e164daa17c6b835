package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/anvil/internal/config"
	"github.com/jbweber/anvil/internal/disk"
	"github.com/jbweber/anvil/internal/driver"
	"github.com/jbweber/anvil/internal/encryptors"
	"github.com/jbweber/anvil/internal/events"
	"github.com/jbweber/anvil/internal/firewall"
	"github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/network"
	"github.com/jbweber/anvil/internal/shell"
	"github.com/jbweber/anvil/internal/storage"
	"github.com/jbweber/anvil/internal/volume"
)

// host is everything one CLI invocation needs to act on this hypervisor.
type host struct {
	cfg     *config.HostConfig
	log     *logrus.Logger
	client  *libvirt.Client
	events  *events.Coordinator
	storage *storage.Manager
	volumes *volume.Registry
	driver  *driver.Driver
}

// loadConfig reads the host configuration and builds the logger.
func loadConfig() (*config.HostConfig, *logrus.Logger, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logging.New(logging.Options{Level: level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openHost connects to libvirt and wires the start driver.
func openHost(ctx context.Context) (*host, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	client, err := libvirt.ConnectWithContext(ctx, cfg.Libvirt.Socket, cfg.Libvirt.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}

	h := &host{
		cfg:     cfg,
		log:     log,
		client:  client,
		events:  events.NewCoordinator(log),
		storage: storage.NewManager(client.Libvirt(), log),
	}
	if err := h.wire(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return h, nil
}

func (h *host) wire() error {
	cfg, log := h.cfg, h.log
	runner := shell.NewExec(cfg.RootHelper, log)

	mapper := volume.NewRBDMapper(runner, log)
	mapper.User = cfg.RBD.User
	mapper.Cluster = cfg.RBD.Cluster
	mapper.ConfPath = cfg.RBD.ConfPath
	mapper.MonHosts = cfg.RBD.MonHosts
	mapper.UseMultipath = cfg.VolumeUseMultipath

	netDriver := volume.NewNetDriver("rbd", cfg.RBD.SecretUUID, log)
	h.volumes = volume.NewRegistry(map[string]volume.Driver{
		"rbd": volume.NewRBDDriver(netDriver, mapper, cfg.SymlinkDir, log),
	})

	catalog := encryptors.NewCatalog(nil)
	if cfg.KeyManager.Catalog != "" {
		loaded, err := encryptors.LoadCatalog(cfg.KeyManager.Catalog)
		if err != nil {
			return err
		}
		catalog = loaded
	}
	keys, err := encryptors.NewVaultKeyManager(cfg.KeyManager.Address, cfg.KeyManager.Token, cfg.KeyManager.Mount, cfg.KeyManager.Path)
	if err != nil {
		return err
	}

	taps, err := network.NewHostTapDriver(cfg.Network.MTU, log)
	if err != nil {
		return err
	}

	fw, err := firewall.New(cfg.Firewall.Driver, h.client.Libvirt(), log)
	if err != nil {
		return err
	}

	var disks disk.Handler = disk.NoopHandler{}
	if cfg.ConfigDrive {
		disks = disk.NewConfigDriveHandler(cfg.InstancesPath, log)
	}

	h.driver, err = driver.New(cfg, driver.Deps{
		Libvirt:    h.client.Libvirt(),
		Volumes:    h.volumes,
		Resolver:   encryptors.NewResolver(catalog, log),
		Encryptors: encryptors.NewFactory(runner, keys, log),
		Events:     h.events,
		VIFs:       taps,
		Firewall:   fw,
		Disks:      disks,
		Storage:    h.storage,
	}, log)
	return err
}

// serveEvents starts the external event ingress. The caller shuts it down.
func (h *host) serveEvents() *events.Server {
	srv := events.NewServer(h.cfg.Events.Listen, events.NewHandler(h.events, h.log), h.log)
	srv.RunInBackground()
	return srv
}

func (h *host) Close() {
	if err := h.client.Close(); err != nil {
		h.log.WithError(err).Warn("Failed to close libvirt connection")
	}
}
