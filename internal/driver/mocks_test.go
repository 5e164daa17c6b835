package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/disk"
	"github.com/jbweber/anvil/internal/encryptors"
	"github.com/jbweber/anvil/internal/volume"
)

// callLog records the order of calls across every mock of one test.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *callLog) count(call string) int {
	n := 0
	for _, got := range c.list() {
		if got == call {
			n++
		}
	}
	return n
}

// mockLibvirt is a mock implementation of LibvirtClient for testing.
type mockLibvirt struct {
	log *callLog

	DomainDefineXMLFunc       func(xml string) (libvirt.Domain, error)
	DomainCreateWithFlagsFunc func(dom libvirt.Domain, flags uint32) (libvirt.Domain, error)
	DomainResumeFunc          func(dom libvirt.Domain) error
	DomainDestroyFunc         func(dom libvirt.Domain) error
	DomainUndefineFlagsFunc   func(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	DomainLookupByNameFunc    func(name string) (libvirt.Domain, error)
	DomainSetMetadataFunc     func(dom libvirt.Domain, metadata string) error

	mu             sync.Mutex
	CreateFlags    []uint32
	StoredMetadata []string
}

func newMockLibvirt(log *callLog) *mockLibvirt {
	return &mockLibvirt{
		log: log,
		DomainDefineXMLFunc: func(string) (libvirt.Domain, error) {
			return libvirt.Domain{Name: "instance-" + testUUID}, nil
		},
		DomainCreateWithFlagsFunc: func(dom libvirt.Domain, _ uint32) (libvirt.Domain, error) { return dom, nil },
		DomainResumeFunc:          func(libvirt.Domain) error { return nil },
		DomainDestroyFunc:         func(libvirt.Domain) error { return nil },
		DomainUndefineFlagsFunc:   func(libvirt.Domain, libvirt.DomainUndefineFlagsValues) error { return nil },
		DomainLookupByNameFunc: func(name string) (libvirt.Domain, error) {
			return libvirt.Domain{}, fmt.Errorf("domain not found: %s", name)
		},
		DomainSetMetadataFunc: func(libvirt.Domain, string) error { return nil },
	}
}

func (m *mockLibvirt) DomainDefineXML(xml string) (libvirt.Domain, error) {
	m.log.add("define")
	return m.DomainDefineXMLFunc(xml)
}

func (m *mockLibvirt) DomainCreateWithFlags(dom libvirt.Domain, flags uint32) (libvirt.Domain, error) {
	m.mu.Lock()
	m.CreateFlags = append(m.CreateFlags, flags)
	m.mu.Unlock()
	m.log.add("launch")
	return m.DomainCreateWithFlagsFunc(dom, flags)
}

func (m *mockLibvirt) DomainResume(dom libvirt.Domain) error {
	m.log.add("resume")
	return m.DomainResumeFunc(dom)
}

func (m *mockLibvirt) DomainDestroy(dom libvirt.Domain) error {
	m.log.add("destroy")
	return m.DomainDestroyFunc(dom)
}

func (m *mockLibvirt) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	m.log.add("undefine")
	return m.DomainUndefineFlagsFunc(dom, flags)
}

func (m *mockLibvirt) DomainGetXMLDesc(dom libvirt.Domain, _ libvirt.DomainXMLFlags) (string, error) {
	return fmt.Sprintf(`<domain type="kvm"><name>%s</name><devices>`+
		`<interface type="bridge"><source bridge="br0"/><target dev="tap0001"/></interface>`+
		`</devices></domain>`, dom.Name), nil
}

func (m *mockLibvirt) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.log.add("lookup")
	return m.DomainLookupByNameFunc(name)
}

func (m *mockLibvirt) DomainGetState(libvirt.Domain, uint32) (int32, int32, error) {
	return int32(libvirt.DomainShutoff), 0, nil
}

func (m *mockLibvirt) DomainSetMetadata(dom libvirt.Domain, _ int32, metadata libvirt.OptString, _ libvirt.OptString, _ libvirt.OptString, _ libvirt.DomainModificationImpact) error {
	value := ""
	if len(metadata) > 0 {
		value = metadata[0]
	}
	m.mu.Lock()
	m.StoredMetadata = append(m.StoredMetadata, value)
	m.mu.Unlock()
	m.log.add("set-metadata")
	return m.DomainSetMetadataFunc(dom, value)
}

func (m *mockLibvirt) DomainGetMetadata(dom libvirt.Domain, _ int32, _ libvirt.OptString, _ libvirt.DomainModificationImpact) (string, error) {
	return "", fmt.Errorf("metadata not found for %s", dom.Name)
}

// mockVolumeDriver is a mock implementation of volume.Driver for testing.
type mockVolumeDriver struct {
	log *callLog

	ConnectFunc    func(info *v1alpha1.ConnectionInfo, disk v1alpha1.DiskInfo) error
	DisconnectFunc func(info *v1alpha1.ConnectionInfo, diskDev string) error
	GetConfigFunc  func(info *v1alpha1.ConnectionInfo, disk v1alpha1.DiskInfo) (*libvirtxml.DomainDisk, error)
}

func newMockVolumeDriver(log *callLog) *mockVolumeDriver {
	return &mockVolumeDriver{
		log:            log,
		ConnectFunc:    func(*v1alpha1.ConnectionInfo, v1alpha1.DiskInfo) error { return nil },
		DisconnectFunc: func(*v1alpha1.ConnectionInfo, string) error { return nil },
		GetConfigFunc: func(_ *v1alpha1.ConnectionInfo, d v1alpha1.DiskInfo) (*libvirtxml.DomainDisk, error) {
			return &libvirtxml.DomainDisk{
				Device: d.Type,
				Target: &libvirtxml.DomainDiskTarget{Dev: d.Dev, Bus: d.Bus},
			}, nil
		},
	}
}

func (m *mockVolumeDriver) Connect(_ context.Context, info *v1alpha1.ConnectionInfo, d v1alpha1.DiskInfo) error {
	m.log.add("connect %s", d.Dev)
	return m.ConnectFunc(info, d)
}

func (m *mockVolumeDriver) Disconnect(_ context.Context, info *v1alpha1.ConnectionInfo, diskDev string) error {
	m.log.add("disconnect %s", diskDev)
	return m.DisconnectFunc(info, diskDev)
}

func (m *mockVolumeDriver) GetConfig(info *v1alpha1.ConnectionInfo, d v1alpha1.DiskInfo) (*libvirtxml.DomainDisk, error) {
	return m.GetConfigFunc(info, d)
}

// mockVolumeLookup returns the same driver for every known volume type.
type mockVolumeLookup struct {
	driver *mockVolumeDriver
}

func (m *mockVolumeLookup) Lookup(info *v1alpha1.ConnectionInfo) (volume.Driver, error) {
	if info == nil || info.DriverVolumeType != "rbd" {
		return nil, volume.ErrUnknownDriver
	}
	return m.driver, nil
}

// mockResolver returns metadata for volumes marked encrypted.
type mockResolver struct {
	ResolveFunc func(volumeID string, info *v1alpha1.ConnectionInfo) (*encryptors.Metadata, error)
}

func newMockResolver() *mockResolver {
	return &mockResolver{
		ResolveFunc: func(_ string, info *v1alpha1.ConnectionInfo) (*encryptors.Metadata, error) {
			if !info.Encrypted() {
				return nil, nil
			}
			return &encryptors.Metadata{Provider: "luks", KeyID: "key-1"}, nil
		},
	}
}

func (m *mockResolver) Resolve(_ context.Context, _ *v1alpha1.Instance, volumeID string, info *v1alpha1.ConnectionInfo) (*encryptors.Metadata, error) {
	return m.ResolveFunc(volumeID, info)
}

// mockEncryptor is a mock implementation of encryptors.Encryptor.
type mockEncryptor struct {
	log *callLog

	AttachFunc func(meta *encryptors.Metadata) encryptors.AttachResult
	DetachFunc func(meta *encryptors.Metadata) error
}

func newMockEncryptor(log *callLog) *mockEncryptor {
	return &mockEncryptor{
		log:        log,
		AttachFunc: func(*encryptors.Metadata) encryptors.AttachResult { return encryptors.AttachResult{} },
		DetachFunc: func(*encryptors.Metadata) error { return nil },
	}
}

func (m *mockEncryptor) Attach(_ context.Context, meta *encryptors.Metadata) encryptors.AttachResult {
	m.log.add("attach-encryptor")
	return m.AttachFunc(meta)
}

func (m *mockEncryptor) Detach(_ context.Context, meta *encryptors.Metadata) error {
	m.log.add("detach-encryptor")
	return m.DetachFunc(meta)
}

// mockEncryptorFactory returns its encryptor, or GetErr when set. It records
// the device path each encryptor was requested for.
type mockEncryptorFactory struct {
	encryptor *mockEncryptor
	GetErr    error

	mu          sync.Mutex
	devicePaths []string
}

func (m *mockEncryptorFactory) Get(info *v1alpha1.ConnectionInfo, _ *encryptors.Metadata) (encryptors.Encryptor, error) {
	m.mu.Lock()
	m.devicePaths = append(m.devicePaths, info.DevicePath())
	m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.encryptor, nil
}

// mockVIFs is a mock implementation of vifDriver for testing.
type mockVIFs struct {
	log *callLog

	PlugFunc    func(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error
	UnplugFunc  func(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error
	HairpinFunc func(devices []string) error
}

func newMockVIFs(log *callLog) *mockVIFs {
	return &mockVIFs{
		log:         log,
		PlugFunc:    func(*v1alpha1.Instance, v1alpha1.NetworkInfo) error { return nil },
		UnplugFunc:  func(*v1alpha1.Instance, v1alpha1.NetworkInfo) error { return nil },
		HairpinFunc: func([]string) error { return nil },
	}
}

func (m *mockVIFs) Plug(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error {
	m.log.add("plug")
	return m.PlugFunc(inst, vifs)
}

func (m *mockVIFs) Unplug(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error {
	m.log.add("unplug")
	return m.UnplugFunc(inst, vifs)
}

func (m *mockVIFs) EnableHairpin(devices []string) error {
	m.log.add("hairpin")
	return m.HairpinFunc(devices)
}

// mockFirewall is a mock implementation of firewall.Driver for testing.
type mockFirewall struct {
	log *callLog

	PrepareFunc  func(inst *v1alpha1.Instance) error
	ApplyFunc    func(inst *v1alpha1.Instance) error
	UnfilterFunc func(inst *v1alpha1.Instance) error
}

func newMockFirewall(log *callLog) *mockFirewall {
	return &mockFirewall{
		log:          log,
		PrepareFunc:  func(*v1alpha1.Instance) error { return nil },
		ApplyFunc:    func(*v1alpha1.Instance) error { return nil },
		UnfilterFunc: func(*v1alpha1.Instance) error { return nil },
	}
}

func (m *mockFirewall) SetupBasicFiltering(*v1alpha1.Instance, v1alpha1.NetworkInfo) error {
	m.log.add("basic-filter")
	return nil
}

func (m *mockFirewall) PrepareInstanceFilter(inst *v1alpha1.Instance, _ v1alpha1.NetworkInfo) error {
	m.log.add("prepare-filter")
	return m.PrepareFunc(inst)
}

func (m *mockFirewall) ApplyInstanceFilter(inst *v1alpha1.Instance, _ v1alpha1.NetworkInfo) error {
	m.log.add("apply-filter")
	return m.ApplyFunc(inst)
}

func (m *mockFirewall) UnfilterInstance(inst *v1alpha1.Instance, _ v1alpha1.NetworkInfo) error {
	m.log.add("unfilter")
	return m.UnfilterFunc(inst)
}

func (m *mockFirewall) FiltersInterfaces() bool {
	return true
}

// mockDisks is a mock implementation of disk.Handler for testing.
type mockDisks struct {
	log *callLog

	EnterFunc func(inst *v1alpha1.Instance) error
}

func newMockDisks(log *callLog) *mockDisks {
	return &mockDisks{
		log:       log,
		EnterFunc: func(*v1alpha1.Instance) error { return nil },
	}
}

func (m *mockDisks) Enter(_ context.Context, inst *v1alpha1.Instance) (disk.Scope, error) {
	m.log.add("disks-enter")
	if err := m.EnterFunc(inst); err != nil {
		return nil, err
	}
	return &mockScope{log: m.log}, nil
}

type mockScope struct {
	log *callLog
}

func (s *mockScope) Release() error {
	s.log.add("disks-release")
	return nil
}

// mockStorage is a mock implementation of instanceStorage for testing.
type mockStorage struct {
	log *callLog

	DeleteFunc func(poolName, instanceUUID string) ([]string, error)
}

func newMockStorage(log *callLog) *mockStorage {
	return &mockStorage{
		log:        log,
		DeleteFunc: func(string, string) ([]string, error) { return nil, nil },
	}
}

func (m *mockStorage) DeleteInstanceVolumes(_ context.Context, poolName, instanceUUID string) ([]string, error) {
	m.log.add("delete-volumes %s", poolName)
	return m.DeleteFunc(poolName, instanceUUID)
}
