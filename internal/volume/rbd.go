package volume

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/naming"
)

// RBDDriver attaches RBD volumes.
//
// Unencrypted volumes are handed to qemu through Net. Encrypted volumes are
// mapped on the host, exposed through a per-volume symlink that the
// encryptor later re-points at its mapped device, and attached to the guest
// as a block device.
//
// Connect and Disconnect of the same volume are serialized.
type RBDDriver struct {
	Net    *NetDriver
	Mapper LocalMapper

	// SymlinkDir holds the rbd-volume-<id> symlinks.
	SymlinkDir string

	Log logrus.FieldLogger

	locks keyedMutex
}

// NewRBDDriver returns an RBD volume driver.
func NewRBDDriver(net *NetDriver, mapper LocalMapper, symlinkDir string, log logrus.FieldLogger) *RBDDriver {
	return &RBDDriver{
		Net:        net,
		Mapper:     mapper,
		SymlinkDir: symlinkDir,
		Log:        logging.Ensure(log),
	}
}

func (d *RBDDriver) volumeID(info *v1alpha1.ConnectionInfo) (string, error) {
	id, ok := info.VolumeID()
	if !ok {
		return "", fmt.Errorf("encrypted rbd volume has no volume_id")
	}
	return id, nil
}

// Connect implements Driver.
func (d *RBDDriver) Connect(ctx context.Context, info *v1alpha1.ConnectionInfo, disk v1alpha1.DiskInfo) error {
	if !info.Encrypted() {
		return d.Net.Connect(ctx, info, disk)
	}

	volumeID, err := d.volumeID(info)
	if err != nil {
		return err
	}
	unlock := d.locks.Lock(volumeID)
	defer unlock()

	data, err := decodeData(info)
	if err != nil {
		return err
	}
	data.VolumeID = volumeID

	log := logging.ForVolume(d.Log, volumeID)
	log.Debug("Attaching RBD block device on the host")

	device, err := d.Mapper.Connect(ctx, data)
	if err != nil {
		return err
	}

	link := naming.DeviceSymlink(d.SymlinkDir, volumeID)
	if err := replaceSymlink(device, link); err != nil {
		if uerr := d.Mapper.Disconnect(ctx, data); uerr != nil {
			log.WithError(uerr).Warnf("Failed to unmap %s after symlink failure", device)
		}
		return err
	}
	info.SetDevicePath(link)

	log.WithField(logging.FieldDevice, link).Infof("Mapped %s to %s", data.Name, device)
	return nil
}

// GetConfig implements Driver.
func (d *RBDDriver) GetConfig(info *v1alpha1.ConnectionInfo, disk v1alpha1.DiskInfo) (*libvirtxml.DomainDisk, error) {
	if !info.Encrypted() {
		d.Log.Debug("RBD volume is not encrypted, letting qemu handle it")
		return d.Net.GetConfig(info, disk)
	}

	devicePath := info.DevicePath()
	if devicePath == "" {
		return nil, fmt.Errorf("encrypted rbd volume is not connected: no device_path")
	}

	conf := baseConfig(info, disk)
	conf.Source = &libvirtxml.DomainDiskSource{
		Block: &libvirtxml.DomainDiskSourceBlock{Dev: devicePath},
	}
	return conf, nil
}

// Disconnect implements Driver. The symlink is removed even when the
// mapped device is already gone.
func (d *RBDDriver) Disconnect(ctx context.Context, info *v1alpha1.ConnectionInfo, diskDev string) error {
	if err := d.Net.Disconnect(ctx, info, diskDev); err != nil {
		return err
	}
	if !info.Encrypted() {
		return nil
	}

	volumeID, err := d.volumeID(info)
	if err != nil {
		return err
	}
	unlock := d.locks.Lock(volumeID)
	defer unlock()

	link := naming.DeviceSymlink(d.SymlinkDir, volumeID)
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", link, err)
	}

	data, err := decodeData(info)
	if err != nil {
		return err
	}
	data.VolumeID = volumeID

	err = d.Mapper.Disconnect(ctx, data)
	if errors.Is(err, ErrDeviceNotFound) {
		logging.ForVolume(d.Log, volumeID).Warnf("Ignoring missing device on disconnect: %v", err)
		return nil
	}
	return err
}

// replaceSymlink points link at target, replacing whatever is there.
func replaceSymlink(target, link string) error {
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace %s: %w", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("failed to link %s to %s: %w", link, target, err)
	}
	return nil
}
