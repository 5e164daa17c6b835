package driver

import (
	"context"
	"errors"
	"fmt"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/naming"
)

// ConnectVolume connects one volume to the host and returns its guest
// disk descriptor. The connection descriptor's device_path is updated in
// place by drivers that map the volume locally.
func (d *Driver) ConnectVolume(ctx context.Context, inst *v1alpha1.Instance, bdm v1alpha1.BlockDeviceMapping) (*libvirtxml.DomainDisk, error) {
	info := bdm.ConnectionInfo
	drv, err := d.deps.Volumes.Lookup(info)
	if err != nil {
		return nil, err
	}

	diskInfo := bdm.DiskInfo()
	if err := drv.Connect(ctx, info, diskInfo); err != nil {
		return nil, fmt.Errorf("failed to connect volume at %s: %w", bdm.MountDevice, err)
	}

	conf, err := drv.GetConfig(info, diskInfo)
	if err != nil {
		if derr := drv.Disconnect(ctx, info, diskInfo.Dev); derr != nil {
			logging.ForInstance(d.log, inst.UUID()).WithError(derr).Warn("Failed to disconnect volume after config error")
		}
		return nil, fmt.Errorf("failed to build disk config for %s: %w", bdm.MountDevice, err)
	}

	return conf, nil
}

// DisconnectVolume detaches the volume's encryptor, if any, then
// disconnects the volume from the host.
func (d *Driver) DisconnectVolume(ctx context.Context, inst *v1alpha1.Instance, bdm v1alpha1.BlockDeviceMapping) error {
	return d.disconnectVolume(ctx, inst, bdm)
}

func (d *Driver) disconnectVolume(ctx context.Context, inst *v1alpha1.Instance, bdm v1alpha1.BlockDeviceMapping) error {
	info := bdm.ConnectionInfo
	if info == nil {
		return fmt.Errorf("volume at %s has no connection info", bdm.MountDevice)
	}

	// The transport is disconnected even when the encryptor could not be
	// detached, so the symlink never outlives the volume.
	encErr := d.detachEncryptor(ctx, inst, info)

	drv, err := d.deps.Volumes.Lookup(info)
	if err != nil {
		return errors.Join(encErr, err)
	}
	return errors.Join(encErr, drv.Disconnect(ctx, info, bdm.DiskInfo().Dev))
}

// detachEncryptor closes the encryptor of an encrypted volume. A descriptor
// without device_path, as saved before the volume was connected, is pointed
// at the volume's symlink, which is where the encryptor was attached.
func (d *Driver) detachEncryptor(ctx context.Context, inst *v1alpha1.Instance, info *v1alpha1.ConnectionInfo) error {
	volumeID, ok := info.VolumeID()
	if !ok {
		return nil
	}

	meta, err := d.deps.Resolver.Resolve(ctx, inst, volumeID, info)
	if err != nil {
		return err
	}
	if meta == nil {
		return nil
	}

	if info.DevicePath() == "" {
		info.SetDevicePath(naming.DeviceSymlink(d.cfg.SymlinkDir, volumeID))
	}

	enc, err := d.deps.Encryptors.Get(info, meta)
	if err != nil {
		return fmt.Errorf("failed to get encryptor for volume %s: %w", volumeID, err)
	}
	if err := enc.Detach(ctx, meta); err != nil {
		return fmt.Errorf("failed to detach encryptor for volume %s: %w", volumeID, err)
	}
	return nil
}

// connectVolumes connects every volume in mapping order. On failure the
// volumes connected so far are disconnected again.
func (d *Driver) connectVolumes(ctx context.Context, inst *v1alpha1.Instance) ([]libvirtxml.DomainDisk, error) {
	log := logging.ForInstance(d.log, inst.UUID())
	mapping := inst.Spec.BlockDeviceInfo.Mapping()

	disks := make([]libvirtxml.DomainDisk, 0, len(mapping))
	for i, bdm := range mapping {
		conf, err := d.ConnectVolume(ctx, inst, bdm)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				if derr := d.disconnectTransport(ctx, mapping[j]); derr != nil {
					log.WithError(derr).WithField(logging.FieldDevice, mapping[j].MountDevice).Warn("Failed to disconnect volume")
				}
			}
			return nil, err
		}
		disks = append(disks, *conf)
	}
	return disks, nil
}

// disconnectTransport reverses a ConnectVolume. Encryptors are attached
// later in the start sequence, so there is nothing to detach yet.
func (d *Driver) disconnectTransport(ctx context.Context, bdm v1alpha1.BlockDeviceMapping) error {
	drv, err := d.deps.Volumes.Lookup(bdm.ConnectionInfo)
	if err != nil {
		return err
	}
	return drv.Disconnect(ctx, bdm.ConnectionInfo, bdm.DiskInfo().Dev)
}
