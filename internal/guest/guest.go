// Package guest wraps a libvirt domain for the instance start sequence.
//
// Host.Create defines a domain without starting it. The returned Guest is
// then launched (optionally paused), resumed once networking is confirmed,
// or destroyed if the start attempt fails.
package guest

import (
	"errors"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"

	anvillibvirt "github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/logging"
)

// DomainClient defines the libvirt operations needed for guest management.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type DomainClient interface {
	DomainDefineXML(XML string) (libvirt.Domain, error)
	DomainCreateWithFlags(Dom libvirt.Domain, Flags uint32) (libvirt.Domain, error)
	DomainResume(Dom libvirt.Domain) error
	DomainDestroy(Dom libvirt.Domain) error
	DomainUndefineFlags(Dom libvirt.Domain, Flags libvirt.DomainUndefineFlagsValues) error
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)
	DomainLookupByName(Name string) (libvirt.Domain, error)
	DomainGetState(Dom libvirt.Domain, Flags uint32) (int32, int32, error)
}

// HairpinEnabler turns on hairpin mode for bridge ports.
type HairpinEnabler interface {
	EnableHairpin(devices []string) error
}

// State is the lifecycle state of a guest as seen by the start sequence.
type State string

const (
	StateAbsent         State = "absent"
	StateDefined        State = "defined"
	StateCreatedPaused  State = "created_paused"
	StateCreatedRunning State = "created_running"
)

// Host creates guests on one libvirt connection.
type Host struct {
	client  DomainClient
	hairpin HairpinEnabler
	log     logrus.FieldLogger
}

// NewHost returns a Host. hairpin may be nil when interfaces are not bridged.
func NewHost(client DomainClient, hairpin HairpinEnabler, log logrus.FieldLogger) *Host {
	return &Host{client: client, hairpin: hairpin, log: logging.Ensure(log)}
}

// Create defines a domain from xml. The domain is not started.
func (h *Host) Create(xml string) (*Guest, error) {
	dom, err := h.client.DomainDefineXML(xml)
	if err != nil {
		return nil, fmt.Errorf("failed to define domain: %w", err)
	}
	h.log.WithField("domain", dom.Name).Debug("Defined domain")
	return &Guest{host: h, dom: dom, state: StateDefined}, nil
}

// Lookup returns the guest for an existing domain.
func (h *Host) Lookup(name string) (*Guest, error) {
	dom, err := h.client.DomainLookupByName(name)
	if err != nil {
		return nil, fmt.Errorf("domain %s not found: %w", name, err)
	}
	g := &Guest{host: h, dom: dom, state: StateDefined}
	if state, _, err := h.client.DomainGetState(dom, 0); err == nil {
		switch libvirt.DomainState(state) {
		case libvirt.DomainRunning:
			g.state = StateCreatedRunning
		case libvirt.DomainPaused:
			g.state = StateCreatedPaused
		}
	}
	return g, nil
}

// Guest is a defined libvirt domain.
type Guest struct {
	host  *Host
	dom   libvirt.Domain
	state State
}

// Domain returns the underlying libvirt domain.
func (g *Guest) Domain() libvirt.Domain {
	return g.dom
}

// Name returns the domain name.
func (g *Guest) Name() string {
	return g.dom.Name
}

// State returns the last known state.
func (g *Guest) State() State {
	return g.state
}

// Launch starts the domain, paused when pause is set.
func (g *Guest) Launch(pause bool) error {
	var flags uint32
	if pause {
		flags = uint32(libvirt.DomainStartPaused)
	}

	if _, err := g.host.client.DomainCreateWithFlags(g.dom, flags); err != nil {
		return fmt.Errorf("failed to launch domain %s: %w", g.dom.Name, err)
	}

	if pause {
		g.state = StateCreatedPaused
	} else {
		g.state = StateCreatedRunning
	}
	return nil
}

// Resume unpauses a paused domain.
func (g *Guest) Resume() error {
	if err := g.host.client.DomainResume(g.dom); err != nil {
		return fmt.Errorf("failed to resume domain %s: %w", g.dom.Name, err)
	}
	g.state = StateCreatedRunning
	return nil
}

// EnableHairpin turns on hairpin mode for every bridged interface of the
// domain, so the guest can reach itself through a floating address.
func (g *Guest) EnableHairpin() error {
	if g.host.hairpin == nil {
		return nil
	}

	xml, err := g.host.client.DomainGetXMLDesc(g.dom, 0)
	if err != nil {
		return fmt.Errorf("failed to get domain XML: %w", err)
	}
	devices, err := anvillibvirt.InterfaceDevices(xml)
	if err != nil {
		return err
	}
	return g.host.hairpin.EnableHairpin(devices)
}

// Destroy stops the domain if it is running and undefines it. Both steps
// are attempted; errors from either are returned together.
func (g *Guest) Destroy() error {
	var errs []error

	if g.state == StateCreatedPaused || g.state == StateCreatedRunning {
		if err := g.host.client.DomainDestroy(g.dom); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy domain %s: %w", g.dom.Name, err))
		}
	}

	if err := g.host.client.DomainUndefineFlags(g.dom, libvirt.DomainUndefineNvram|libvirt.DomainUndefineManagedSave); err != nil {
		errs = append(errs, fmt.Errorf("failed to undefine domain %s: %w", g.dom.Name, err))
	}

	if len(errs) == 0 {
		g.state = StateAbsent
	}
	return errors.Join(errs...)
}
