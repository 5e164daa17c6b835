package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the host configuration is read from when no
// --config flag is given.
const DefaultPath = "/etc/anvil/anvil.yaml"

// Network backends.
const (
	// NetworkBackendNeutron reports VIF plug confirmations as external events.
	NetworkBackendNeutron = "neutron"

	// NetworkBackendNone never reports plug events.
	NetworkBackendNone = "none"
)

// Firewall drivers.
const (
	FirewallNWFilter = "nwfilter"
	FirewallNoop     = "noop"
)

// HostConfig is the host-level configuration of the instance start path.
type HostConfig struct {
	// VIFPluggingTimeout is how long to wait for plug confirmations, in
	// seconds. Zero disables waiting.
	VIFPluggingTimeout *int `yaml:"vif_plugging_timeout,omitempty"`

	// VIFPluggingIsFatal fails the start when confirmations time out.
	VIFPluggingIsFatal *bool `yaml:"vif_plugging_is_fatal,omitempty"`

	// VolumeUseMultipath is passed through to the local block-mapping transport.
	VolumeUseMultipath bool `yaml:"volume_use_multipath,omitempty"`

	Libvirt    LibvirtConfig    `yaml:"libvirt,omitempty"`
	Network    NetworkConfig    `yaml:"network,omitempty"`
	Firewall   FirewallConfig   `yaml:"firewall,omitempty"`
	KeyManager KeyManagerConfig `yaml:"key_manager,omitempty"`
	RBD        RBDConfig        `yaml:"rbd,omitempty"`
	Events     EventsConfig     `yaml:"events,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`

	// SymlinkDir holds the per-volume device symlinks (default /dev).
	SymlinkDir string `yaml:"symlink_dir,omitempty"`

	// RootHelper is prefixed to privileged commands, e.g. "sudo".
	RootHelper string `yaml:"root_helper,omitempty"`

	// InstancesPath is the per-instance state directory root.
	InstancesPath string `yaml:"instances_path,omitempty"`

	// StoragePool is the libvirt pool holding instance-local volumes.
	StoragePool string `yaml:"storage_pool,omitempty"`

	// ConfigDrive attaches a config-drive ISO to every instance.
	ConfigDrive bool `yaml:"config_drive,omitempty"`
}

// LibvirtConfig selects the libvirt connection.
type LibvirtConfig struct {
	Socket  string        `yaml:"socket,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// NetworkConfig describes the network backend.
type NetworkConfig struct {
	Backend string `yaml:"backend,omitempty"`
	MTU     int    `yaml:"mtu,omitempty"`
}

// FirewallConfig selects the firewall driver.
type FirewallConfig struct {
	Driver string `yaml:"driver,omitempty"`
}

// KeyManagerConfig points at the Vault KV store holding volume keys.
type KeyManagerConfig struct {
	Address string `yaml:"address,omitempty"`
	Token   string `yaml:"token,omitempty"`
	Mount   string `yaml:"mount,omitempty"`
	Path    string `yaml:"path,omitempty"`

	// Catalog is a YAML file with per-volume encryption metadata.
	Catalog string `yaml:"catalog,omitempty"`
}

// RBDConfig carries Ceph client settings used by the local mapping transport.
type RBDConfig struct {
	User       string   `yaml:"user,omitempty"`
	Cluster    string   `yaml:"cluster,omitempty"`
	ConfPath   string   `yaml:"conf,omitempty"`
	MonHosts   []string `yaml:"mon_hosts,omitempty"`
	SecretUUID string   `yaml:"secret_uuid,omitempty"`
}

// EventsConfig configures the external event ingress.
type EventsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *HostConfig {
	c := &HostConfig{}
	c.Normalize()
	return c
}

// Normalize fills defaults for unset fields.
// Called by LoadFromFile before validation.
func (c *HostConfig) Normalize() {
	if c.VIFPluggingTimeout == nil {
		timeout := 300
		c.VIFPluggingTimeout = &timeout
	}
	if c.VIFPluggingIsFatal == nil {
		fatal := true
		c.VIFPluggingIsFatal = &fatal
	}

	if c.Libvirt.Socket == "" {
		c.Libvirt.Socket = "/var/run/libvirt/libvirt-sock"
	}
	if c.Libvirt.Timeout == 0 {
		c.Libvirt.Timeout = 5 * time.Second
	}

	c.Network.Backend = strings.ToLower(strings.TrimSpace(c.Network.Backend))
	if c.Network.Backend == "" {
		c.Network.Backend = NetworkBackendNeutron
	}

	c.Firewall.Driver = strings.ToLower(strings.TrimSpace(c.Firewall.Driver))
	if c.Firewall.Driver == "" {
		c.Firewall.Driver = FirewallNWFilter
	}

	if c.KeyManager.Mount == "" {
		c.KeyManager.Mount = "secret"
	}
	if c.KeyManager.Path == "" {
		c.KeyManager.Path = "anvil/volumes"
	}

	if c.RBD.Cluster == "" {
		c.RBD.Cluster = "ceph"
	}

	if c.SymlinkDir == "" {
		c.SymlinkDir = "/dev"
	}
	if c.InstancesPath == "" {
		c.InstancesPath = "/var/lib/anvil/instances"
	}
	if c.StoragePool == "" {
		c.StoragePool = "anvil-instances"
	}
	if c.Events.Listen == "" {
		c.Events.Listen = "127.0.0.1:8775"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for errors.
// Does not contact libvirt, Vault or Ceph - only checks structure.
func (c *HostConfig) Validate() error {
	if c.VIFPluggingTimeout != nil && *c.VIFPluggingTimeout < 0 {
		return fmt.Errorf("vif_plugging_timeout must not be negative, got %d", *c.VIFPluggingTimeout)
	}

	switch c.Network.Backend {
	case NetworkBackendNeutron, NetworkBackendNone:
	default:
		return fmt.Errorf("network.backend must be %q or %q, got %q",
			NetworkBackendNeutron, NetworkBackendNone, c.Network.Backend)
	}
	if c.Network.MTU < 0 {
		return fmt.Errorf("network.mtu must not be negative, got %d", c.Network.MTU)
	}

	switch c.Firewall.Driver {
	case FirewallNWFilter, FirewallNoop:
	default:
		return fmt.Errorf("firewall.driver must be %q or %q, got %q",
			FirewallNWFilter, FirewallNoop, c.Firewall.Driver)
	}

	for i, mon := range c.RBD.MonHosts {
		if _, _, err := net.SplitHostPort(mon); err != nil {
			return fmt.Errorf("rbd.mon_hosts[%d]: %w", i, err)
		}
	}

	if !strings.HasPrefix(c.SymlinkDir, "/") {
		return fmt.Errorf("symlink_dir must be an absolute path, got %q", c.SymlinkDir)
	}
	if !strings.HasPrefix(c.InstancesPath, "/") {
		return fmt.Errorf("instances_path must be an absolute path, got %q", c.InstancesPath)
	}

	if _, _, err := net.SplitHostPort(c.Events.Listen); err != nil {
		return fmt.Errorf("events.listen: %w", err)
	}

	return nil
}

// PluggingTimeout returns vif_plugging_timeout as a duration.
func (c *HostConfig) PluggingTimeout() time.Duration {
	if c.VIFPluggingTimeout == nil {
		return 0
	}
	return time.Duration(*c.VIFPluggingTimeout) * time.Second
}

// PluggingIsFatal returns vif_plugging_is_fatal.
func (c *HostConfig) PluggingIsFatal() bool {
	return c.VIFPluggingIsFatal != nil && *c.VIFPluggingIsFatal
}

// EventCapable reports whether the network backend emits plug events.
func (c *HostConfig) EventCapable() bool {
	return c.Network.Backend == NetworkBackendNeutron
}

// LoadFromFile loads a host configuration from a YAML file.
// A missing file yields the defaults.
func LoadFromFile(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config HostConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
