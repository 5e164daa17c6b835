package firewall

import (
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"
)

// mockNWFilterClient is an in-memory nwfilter store.
type mockNWFilterClient struct {
	mu sync.Mutex

	filters map[string]string // name -> XML

	defineErr   error
	undefineErr map[string]error
	listErr     error

	defineCalls   []string
	undefineCalls []string
}

func newMockNWFilterClient() *mockNWFilterClient {
	return &mockNWFilterClient{
		filters:     make(map[string]string),
		undefineErr: make(map[string]error),
	}
}

func (m *mockNWFilterClient) NwfilterDefineXML(xml string) (libvirt.Nwfilter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defineCalls = append(m.defineCalls, xml)
	if m.defineErr != nil {
		return libvirt.Nwfilter{}, m.defineErr
	}
	name := extractName(xml)
	m.filters[name] = xml
	return libvirt.Nwfilter{Name: name}, nil
}

func (m *mockNWFilterClient) NwfilterLookupByName(name string) (libvirt.Nwfilter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.filters[name]; !ok {
		return libvirt.Nwfilter{}, fmt.Errorf("Network filter not found: no nwfilter with matching name '%s'", name)
	}
	return libvirt.Nwfilter{Name: name}, nil
}

func (m *mockNWFilterClient) NwfilterUndefine(f libvirt.Nwfilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undefineCalls = append(m.undefineCalls, f.Name)
	if err := m.undefineErr[f.Name]; err != nil {
		return err
	}
	delete(m.filters, f.Name)
	return nil
}

func (m *mockNWFilterClient) ConnectListAllNwfilters(_ int32, _ uint32) ([]libvirt.Nwfilter, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var out []libvirt.Nwfilter
	for name := range m.filters {
		out = append(out, libvirt.Nwfilter{Name: name})
	}
	return out, uint32(len(out)), nil
}

// extractName pulls the filter name out of nwfilter XML.
func extractName(xml string) string {
	var filter libvirtxml.NWFilter
	if err := filter.Unmarshal(xml); err != nil {
		return ""
	}
	return filter.Name
}
