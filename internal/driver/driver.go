// Package driver starts instances on a libvirt host.
//
// CreateDomainAndNetwork is the core start sequence: attach volume
// encryptors, plug VIFs, set up filtering, create the domain (paused while
// plug confirmations are outstanding), wait for the confirmations and
// resume. Any failure inside that sequence runs the cleanup exactly once
// and returns the original error. Spawn wraps it with volume connection,
// domain XML generation and instance status bookkeeping.
package driver

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/anvil/internal/config"
	"github.com/jbweber/anvil/internal/disk"
	"github.com/jbweber/anvil/internal/events"
	"github.com/jbweber/anvil/internal/firewall"
	"github.com/jbweber/anvil/internal/guest"
	"github.com/jbweber/anvil/internal/logging"
)

// Deps are the collaborators of a Driver. Every field except Disks and
// Storage is required.
type Deps struct {
	Libvirt    LibvirtClient
	Volumes    volumeLookup
	Resolver   encryptionResolver
	Encryptors encryptorFactory
	Events     *events.Coordinator
	VIFs       vifDriver
	Firewall   firewall.Driver

	// Disks handles instance-local disks; nil means none.
	Disks disk.Handler

	// Storage is used to destroy disks on failure; nil skips it.
	Storage instanceStorage
}

// Driver starts and cleans up instances.
type Driver struct {
	cfg  *config.HostConfig
	deps Deps
	host *guest.Host
	log  logrus.FieldLogger

	// supportsStartPaused is true for every libvirt domain type the driver
	// creates.
	supportsStartPaused bool
}

// New returns a driver for cfg.
func New(cfg *config.HostConfig, deps Deps, log logrus.FieldLogger) (*Driver, error) {
	if cfg == nil {
		return nil, errors.New("host configuration is required")
	}
	switch {
	case deps.Libvirt == nil:
		return nil, errors.New("libvirt client is required")
	case deps.Volumes == nil:
		return nil, errors.New("volume registry is required")
	case deps.Resolver == nil:
		return nil, errors.New("encryption resolver is required")
	case deps.Encryptors == nil:
		return nil, errors.New("encryptor factory is required")
	case deps.Events == nil:
		return nil, errors.New("event coordinator is required")
	case deps.VIFs == nil:
		return nil, errors.New("VIF driver is required")
	case deps.Firewall == nil:
		return nil, errors.New("firewall driver is required")
	}
	if deps.Disks == nil {
		deps.Disks = disk.NoopHandler{}
	}

	log = logging.Ensure(log)
	return &Driver{
		cfg:                 cfg,
		deps:                deps,
		host:                guest.NewHost(deps.Libvirt, deps.VIFs, log),
		log:                 log,
		supportsStartPaused: true,
	}, nil
}
