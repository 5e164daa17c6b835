package guest

import (
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
)

// mockDomainClient is a mock implementation of DomainClient and
// InventoryClient for testing.
type mockDomainClient struct {
	mu sync.Mutex

	// Configurable behavior
	domainDefineXMLFunc       func(xml string) (libvirt.Domain, error)
	domainCreateWithFlagsFunc func(dom libvirt.Domain, flags uint32) (libvirt.Domain, error)
	domainResumeFunc          func(dom libvirt.Domain) error
	domainDestroyFunc         func(dom libvirt.Domain) error
	domainUndefineFlagsFunc   func(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	domainGetXMLDescFunc      func(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)
	domainLookupByNameFunc    func(name string) (libvirt.Domain, error)
	domainGetStateFunc        func(dom libvirt.Domain, flags uint32) (int32, int32, error)
	connectListAllDomainsFunc func(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	domainGetMetadataFunc     func(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error)

	// Call tracking
	domainDefineXMLCalls       []string
	domainCreateWithFlagsCalls []uint32
	domainResumeCalls          []libvirt.Domain
	domainDestroyCalls         []libvirt.Domain
	domainUndefineFlagsCalls   []libvirt.DomainUndefineFlagsValues
}

func newMockDomainClient() *mockDomainClient {
	m := &mockDomainClient{}
	m.domainDefineXMLFunc = func(xml string) (libvirt.Domain, error) {
		return libvirt.Domain{Name: "instance-test"}, nil
	}
	m.domainCreateWithFlagsFunc = func(dom libvirt.Domain, _ uint32) (libvirt.Domain, error) {
		return dom, nil
	}
	m.domainResumeFunc = func(libvirt.Domain) error { return nil }
	m.domainDestroyFunc = func(libvirt.Domain) error { return nil }
	m.domainUndefineFlagsFunc = func(libvirt.Domain, libvirt.DomainUndefineFlagsValues) error { return nil }
	m.domainGetXMLDescFunc = func(libvirt.Domain, libvirt.DomainXMLFlags) (string, error) {
		return "<domain type='kvm'><name>instance-test</name></domain>", nil
	}
	m.domainLookupByNameFunc = func(name string) (libvirt.Domain, error) {
		return libvirt.Domain{}, fmt.Errorf("domain not found: %s", name)
	}
	m.domainGetStateFunc = func(libvirt.Domain, uint32) (int32, int32, error) {
		return int32(libvirt.DomainShutoff), 0, nil
	}
	m.connectListAllDomainsFunc = func(int32, libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
		return nil, 0, nil
	}
	m.domainGetMetadataFunc = func(dom libvirt.Domain, _ int32, _ libvirt.OptString, _ libvirt.DomainModificationImpact) (string, error) {
		return "", fmt.Errorf("metadata not found for %s", dom.Name)
	}
	return m
}

func (m *mockDomainClient) DomainDefineXML(xml string) (libvirt.Domain, error) {
	m.mu.Lock()
	m.domainDefineXMLCalls = append(m.domainDefineXMLCalls, xml)
	m.mu.Unlock()
	return m.domainDefineXMLFunc(xml)
}

func (m *mockDomainClient) DomainCreateWithFlags(dom libvirt.Domain, flags uint32) (libvirt.Domain, error) {
	m.mu.Lock()
	m.domainCreateWithFlagsCalls = append(m.domainCreateWithFlagsCalls, flags)
	m.mu.Unlock()
	return m.domainCreateWithFlagsFunc(dom, flags)
}

func (m *mockDomainClient) DomainResume(dom libvirt.Domain) error {
	m.mu.Lock()
	m.domainResumeCalls = append(m.domainResumeCalls, dom)
	m.mu.Unlock()
	return m.domainResumeFunc(dom)
}

func (m *mockDomainClient) DomainDestroy(dom libvirt.Domain) error {
	m.mu.Lock()
	m.domainDestroyCalls = append(m.domainDestroyCalls, dom)
	m.mu.Unlock()
	return m.domainDestroyFunc(dom)
}

func (m *mockDomainClient) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	m.mu.Lock()
	m.domainUndefineFlagsCalls = append(m.domainUndefineFlagsCalls, flags)
	m.mu.Unlock()
	return m.domainUndefineFlagsFunc(dom, flags)
}

func (m *mockDomainClient) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	return m.domainGetXMLDescFunc(dom, flags)
}

func (m *mockDomainClient) DomainLookupByName(name string) (libvirt.Domain, error) {
	return m.domainLookupByNameFunc(name)
}

func (m *mockDomainClient) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	return m.domainGetStateFunc(dom, flags)
}

func (m *mockDomainClient) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	return m.connectListAllDomainsFunc(needResults, flags)
}

func (m *mockDomainClient) DomainSetMetadata(libvirt.Domain, int32, libvirt.OptString, libvirt.OptString, libvirt.OptString, libvirt.DomainModificationImpact) error {
	return nil
}

func (m *mockDomainClient) DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error) {
	return m.domainGetMetadataFunc(dom, typ, uri, flags)
}

// mockHairpin records hairpin requests.
type mockHairpin struct {
	devices []string
	err     error
}

func (m *mockHairpin) EnableHairpin(devices []string) error {
	m.devices = append(m.devices, devices...)
	return m.err
}
