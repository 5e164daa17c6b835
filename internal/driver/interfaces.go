package driver

import (
	"context"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/encryptors"
	"github.com/jbweber/anvil/internal/guest"
	"github.com/jbweber/anvil/internal/metadata"
	"github.com/jbweber/anvil/internal/volume"
)

// LibvirtClient defines the libvirt operations the driver needs.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type LibvirtClient interface {
	guest.DomainClient
	metadata.LibvirtClient
}

// volumeLookup selects the volume driver for a connection descriptor.
// In production, this is satisfied by *volume.Registry.
type volumeLookup interface {
	Lookup(info *v1alpha1.ConnectionInfo) (volume.Driver, error)
}

// encryptionResolver returns a volume's encryption metadata, nil when the
// volume is not encrypted. In production, this is *encryptors.Resolver.
type encryptionResolver interface {
	Resolve(ctx context.Context, inst *v1alpha1.Instance, volumeID string, info *v1alpha1.ConnectionInfo) (*encryptors.Metadata, error)
}

// encryptorFactory builds the encryptor of a volume.
// In production, this is *encryptors.Factory.
type encryptorFactory interface {
	Get(info *v1alpha1.ConnectionInfo, meta *encryptors.Metadata) (encryptors.Encryptor, error)
}

// vifDriver plugs and unplugs instance VIFs.
// In production, this is *network.TapDriver.
type vifDriver interface {
	Plug(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error
	Unplug(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error
	EnableHairpin(devices []string) error
}

// instanceStorage removes instance-local volumes from the storage pool.
// In production, this is *storage.Manager.
type instanceStorage interface {
	DeleteInstanceVolumes(ctx context.Context, poolName, instanceUUID string) ([]string, error)
}
