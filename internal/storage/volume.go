package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/anvil/internal/naming"
)

// DeleteVolume deletes a volume from the specified pool.
func (m *Manager) DeleteVolume(ctx context.Context, poolName, volumeName string) error {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	vol, err := m.client.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return fmt.Errorf("volume not found: %w", err)
	}

	if err := m.client.StorageVolDelete(vol, 0); err != nil {
		return fmt.Errorf("failed to delete volume: %w", err)
	}

	return nil
}

// ListVolumes lists all volumes in the specified pool.
func (m *Manager) ListVolumes(ctx context.Context, poolName string) ([]VolumeInfo, error) {
	return m.listVolumes(poolName, "")
}

// ListInstanceVolumes lists the volumes owned by an instance.
func (m *Manager) ListInstanceVolumes(ctx context.Context, poolName, instanceUUID string) ([]VolumeInfo, error) {
	return m.listVolumes(poolName, naming.InstanceVolumePrefix(instanceUUID))
}

func (m *Manager) listVolumes(poolName, prefix string) ([]VolumeInfo, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}

	// Pick up volumes created outside libvirt, e.g. by qemu-img.
	if err := m.client.StoragePoolRefresh(pool, 0); err != nil {
		m.log.WithError(err).Warnf("Failed to refresh pool %s", poolName)
	}

	volumes, _, err := m.client.StoragePoolListAllVolumes(pool, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	var volumeInfos []VolumeInfo
	for _, vol := range volumes {
		if !strings.HasPrefix(vol.Name, prefix) {
			continue
		}

		path, err := m.client.StorageVolGetPath(vol)
		if err != nil {
			// Skip volumes we can't get the path for
			continue
		}

		_, capacity, allocation, err := m.client.StorageVolGetInfo(vol)
		if err != nil {
			continue
		}

		volumeInfos = append(volumeInfos, VolumeInfo{
			Name:       vol.Name,
			Path:       path,
			Pool:       poolName,
			Capacity:   capacity,
			Allocation: allocation,
		})
	}

	return volumeInfos, nil
}

// DeleteInstanceVolumes deletes every volume owned by an instance and
// returns the names it deleted. It keeps going after a failed delete and
// reports all failures together.
func (m *Manager) DeleteInstanceVolumes(ctx context.Context, poolName, instanceUUID string) ([]string, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}

	volumes, _, err := m.client.StoragePoolListAllVolumes(pool, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	prefix := naming.InstanceVolumePrefix(instanceUUID)
	var deleted []string
	var errs []error
	for _, vol := range volumes {
		if !strings.HasPrefix(vol.Name, prefix) {
			continue
		}
		if err := m.client.StorageVolDelete(vol, libvirt.StorageVolDeleteNormal); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete volume %s: %w", vol.Name, err))
			continue
		}
		m.log.WithField("instance", instanceUUID).Infof("Deleted volume %s", vol.Name)
		deleted = append(deleted, vol.Name)
	}

	return deleted, errors.Join(errs...)
}

// VolumeExists checks if a volume exists in the specified pool.
func (m *Manager) VolumeExists(ctx context.Context, poolName, volumeName string) (bool, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return false, fmt.Errorf("pool not found: %w", err)
	}

	if _, err := m.client.StorageVolLookupByName(pool, volumeName); err != nil {
		return false, nil
	}

	return true, nil
}
