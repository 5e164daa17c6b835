// Package volume connects block storage volumes to the host and builds the
// libvirt disk descriptors that attach them to a guest.
//
// A Driver is selected per volume by the connection descriptor's
// driver_volume_type through an explicit Registry. NetDriver hands network
// volumes to qemu natively; RBDDriver does the same for unencrypted RBD
// volumes but maps encrypted ones on the host so an encryptor can sit
// between the mapped device and the guest.
package volume

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// ErrDeviceNotFound is returned by a local mapping transport when the
// device to disconnect no longer exists.
var ErrDeviceNotFound = errors.New("volume device not found")

// ErrUnknownDriver is returned by Registry.Lookup for unregistered types.
var ErrUnknownDriver = errors.New("unknown volume driver")

// Driver connects one class of volumes.
type Driver interface {
	// Connect prepares the volume on the host. It may record the resolved
	// local device path in info.
	Connect(ctx context.Context, info *v1alpha1.ConnectionInfo, disk v1alpha1.DiskInfo) error

	// Disconnect reverses Connect.
	Disconnect(ctx context.Context, info *v1alpha1.ConnectionInfo, diskDev string) error

	// GetConfig returns the guest disk descriptor for the volume.
	GetConfig(info *v1alpha1.ConnectionInfo, disk v1alpha1.DiskInfo) (*libvirtxml.DomainDisk, error)
}

// Registry maps driver_volume_type to a Driver.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry returns a registry over drivers.
func NewRegistry(drivers map[string]Driver) *Registry {
	r := &Registry{drivers: make(map[string]Driver, len(drivers))}
	for name, d := range drivers {
		r.drivers[name] = d
	}
	return r
}

// Lookup returns the driver for a connection descriptor.
func (r *Registry) Lookup(info *v1alpha1.ConnectionInfo) (Driver, error) {
	if info == nil {
		return nil, fmt.Errorf("missing connection info: %w", ErrUnknownDriver)
	}
	d, ok := r.drivers[info.DriverVolumeType]
	if !ok {
		return nil, fmt.Errorf("%q: %w", info.DriverVolumeType, ErrUnknownDriver)
	}
	return d, nil
}

// Types returns the registered driver types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// baseConfig returns the descriptor fields shared by every volume type.
func baseConfig(info *v1alpha1.ConnectionInfo, disk v1alpha1.DiskInfo) *libvirtxml.DomainDisk {
	conf := &libvirtxml.DomainDisk{
		Device: disk.Type,
		Driver: &libvirtxml.DomainDiskDriver{
			Name:  "qemu",
			Type:  "raw",
			Cache: "none",
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: disk.Dev,
			Bus: disk.Bus,
		},
		Serial: info.Serial,
	}

	if mode, _ := info.Data["access_mode"].(string); mode == "ro" {
		conf.ReadOnly = &libvirtxml.DomainDiskReadOnly{}
	}
	return conf
}
