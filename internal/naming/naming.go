// Package naming provides the deterministic host-side names derived from
// instance, volume and VIF identifiers: device symlinks, tap devices,
// nwfilter names, crypt mapper names and instance volume prefixes.
//
// Every name is a pure function of its inputs so that cleanup can find the
// resources a failed start left behind without any saved state.
package naming

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SymlinkPrefix is the file name prefix of per-volume device symlinks.
const SymlinkPrefix = "rbd-volume-"

// nicNameLen is the length of generated tap names: "tap" plus the first
// 11 characters of the VIF id, the name network backends look for.
const nicNameLen = 14

// DeviceSymlink returns the symlink path handed to the encryptor for a volume.
//
// Example: ("/dev", "6f1c") → /dev/rbd-volume-6f1c
func DeviceSymlink(dir, volumeID string) string {
	return filepath.Join(dir, SymlinkPrefix+volumeID)
}

// CryptName returns the device-mapper name an encryptor opens for the
// device at path. The mapped device appears at /dev/mapper/<name>.
func CryptName(path string) string {
	return filepath.Base(path)
}

// MapperPath returns the device-mapper node for name.
func MapperPath(name string) string {
	return filepath.Join("/dev/mapper", name)
}

// TapName returns the tap device name for a VIF.
// Format: tap{first 11 chars of the VIF id}
//
// Example: VIF 2f9c0f86-8c4e-4e37-9f0a-... → tap2f9c0f86-8c
func TapName(vifID string) string {
	name := "tap" + vifID
	if len(name) > nicNameLen {
		name = name[:nicNameLen]
	}
	return name
}

// VIFDevice returns devName when the backend supplied one, else TapName.
func VIFDevice(devName, vifID string) string {
	if devName != "" {
		return devName
	}
	return TapName(vifID)
}

// BaseFilterName is the nwfilter every instance filter references.
const BaseFilterName = "anvil-base"

// InstanceFilterName returns the nwfilter name for one instance interface.
// Format: anvil-instance-{uuid}-{mac without colons}
func InstanceFilterName(instanceUUID, mac string) string {
	return fmt.Sprintf("anvil-instance-%s-%s", instanceUUID, strings.ReplaceAll(strings.ToLower(mac), ":", ""))
}

// InstanceFilterPrefix matches every nwfilter of an instance.
func InstanceFilterPrefix(instanceUUID string) string {
	return fmt.Sprintf("anvil-instance-%s-", instanceUUID)
}

// InstanceVolumePrefix is the prefix of every storage pool volume owned by
// an instance.
func InstanceVolumePrefix(instanceUUID string) string {
	return instanceUUID + "_"
}

// VolumeNameDisk returns the pool volume name of an instance-local disk.
// Format: {uuid}_{disk} (e.g. "6f1c..._disk.config")
func VolumeNameDisk(instanceUUID, disk string) string {
	return InstanceVolumePrefix(instanceUUID) + disk
}

// InstanceDir returns the per-instance state directory.
func InstanceDir(instancesPath, instanceUUID string) string {
	return filepath.Join(instancesPath, instanceUUID)
}

// ConfigDrivePath returns the config-drive ISO path of an instance.
func ConfigDrivePath(instancesPath, instanceUUID string) string {
	return filepath.Join(InstanceDir(instancesPath, instanceUUID), "disk.config")
}
