package storage

import (
	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/anvil/internal/logging"
)

// LibvirtClient is the subset of *libvirt.Libvirt used for pool volumes.
// This allows for dependency injection and testing.
type LibvirtClient interface {
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolListAllVolumes(Pool libvirt.StoragePool, NeedResults int32, Flags uint32) ([]libvirt.StorageVol, uint32, error)
	StoragePoolRefresh(Pool libvirt.StoragePool, Flags uint32) error
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolDelete(Vol libvirt.StorageVol, Flags libvirt.StorageVolDeleteFlags) error
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)
	StorageVolGetInfo(Vol libvirt.StorageVol) (rType int8, rCapacity uint64, rAllocation uint64, err error)
}

// Manager coordinates volume operations on storage pools.
type Manager struct {
	client LibvirtClient
	log    logrus.FieldLogger
}

// NewManager creates a new storage manager.
func NewManager(client LibvirtClient, log logrus.FieldLogger) *Manager {
	return &Manager{
		client: client,
		log:    logging.Ensure(log),
	}
}
