package storage

import (
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
)

// mockLibvirtClient is a mock implementation of LibvirtClient for testing.
type mockLibvirtClient struct {
	mu      sync.Mutex
	pools   map[string]bool
	volumes map[string]map[string]*mockVolume // pool name -> volume name -> volume

	// deleteErr fails StorageVolDelete for the named volumes
	deleteErr map[string]error
	refreshes int
}

type mockVolume struct {
	path      string
	capacity  uint64
	allocated uint64
}

func newMockLibvirtClient() *mockLibvirtClient {
	return &mockLibvirtClient{
		pools:     make(map[string]bool),
		volumes:   make(map[string]map[string]*mockVolume),
		deleteErr: make(map[string]error),
	}
}

func (m *mockLibvirtClient) addVolume(pool, name string, capacity uint64) {
	m.pools[pool] = true
	if m.volumes[pool] == nil {
		m.volumes[pool] = make(map[string]*mockVolume)
	}
	m.volumes[pool][name] = &mockVolume{
		path:      "/var/lib/libvirt/images/" + name,
		capacity:  capacity,
		allocated: capacity / 2,
	}
}

func (m *mockLibvirtClient) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pools[name] {
		return libvirt.StoragePool{}, fmt.Errorf("storage pool not found: %s", name)
	}
	return libvirt.StoragePool{Name: name}, nil
}

func (m *mockLibvirtClient) StoragePoolListAllVolumes(pool libvirt.StoragePool, _ int32, _ uint32) ([]libvirt.StorageVol, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var vols []libvirt.StorageVol
	for name := range m.volumes[pool.Name] {
		vols = append(vols, libvirt.StorageVol{Pool: pool.Name, Name: name, Key: pool.Name + "/" + name})
	}
	return vols, uint32(len(vols)), nil
}

func (m *mockLibvirtClient) StoragePoolRefresh(_ libvirt.StoragePool, _ uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return nil
}

func (m *mockLibvirtClient) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.volumes[pool.Name][name]; !ok {
		return libvirt.StorageVol{}, fmt.Errorf("volume not found: %s", name)
	}
	return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
}

func (m *mockLibvirtClient) StorageVolDelete(vol libvirt.StorageVol, _ libvirt.StorageVolDeleteFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErr[vol.Name]; err != nil {
		return err
	}
	if _, ok := m.volumes[vol.Pool][vol.Name]; !ok {
		return fmt.Errorf("volume not found: %s", vol.Name)
	}
	delete(m.volumes[vol.Pool], vol.Name)
	return nil
}

func (m *mockLibvirtClient) StorageVolGetPath(vol libvirt.StorageVol) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.volumes[vol.Pool][vol.Name]
	if !ok {
		return "", fmt.Errorf("volume not found: %s", vol.Name)
	}
	return v.path, nil
}

func (m *mockLibvirtClient) StorageVolGetInfo(vol libvirt.StorageVol) (int8, uint64, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.volumes[vol.Pool][vol.Name]
	if !ok {
		return 0, 0, 0, fmt.Errorf("volume not found: %s", vol.Name)
	}
	return 0, v.capacity, v.allocated, nil
}
