// Package network plugs instance VIFs into the host: one tap device per VIF,
// enslaved to the VIF's bridge.
package network

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/naming"
)

// LinkOps is the subset of netlink used to manage tap devices.
// *netlink.Handle satisfies it.
type LinkOps interface {
	LinkByName(name string) (netlink.Link, error)
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error
	LinkSetMaster(link netlink.Link, master netlink.Link) error
	LinkSetUp(link netlink.Link) error
	LinkSetHairpin(link netlink.Link, mode bool) error
}

// TapDriver plugs VIFs as tap devices on Linux bridges.
type TapDriver struct {
	links      LinkOps
	defaultMTU int
	log        logrus.FieldLogger
}

// NewTapDriver returns a driver using links. A zero defaultMTU leaves the
// kernel default in place for VIFs without an MTU.
func NewTapDriver(links LinkOps, defaultMTU int, log logrus.FieldLogger) *TapDriver {
	return &TapDriver{links: links, defaultMTU: defaultMTU, log: logging.Ensure(log)}
}

// NewHostTapDriver returns a driver bound to the host network namespace.
func NewHostTapDriver(defaultMTU int, log logrus.FieldLogger) (*TapDriver, error) {
	handle, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("failed to open netlink handle: %w", err)
	}
	return NewTapDriver(handle, defaultMTU, log), nil
}

// DeviceName returns the host device name of vif.
func DeviceName(vif v1alpha1.VIF) string {
	return naming.VIFDevice(vif.DevName, vif.ID)
}

// Plug creates the tap devices of every VIF and attaches them to their
// bridges. Existing tap devices are reused.
func (d *TapDriver) Plug(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error {
	log := logging.ForInstance(d.log, inst.UUID())
	for _, vif := range vifs {
		if err := d.plug(vif); err != nil {
			return fmt.Errorf("failed to plug vif %s: %w", vif.ID, err)
		}
		log.WithField(logging.FieldVIF, vif.ID).WithField(logging.FieldDevice, DeviceName(vif)).Debug("Plugged VIF")
	}
	return nil
}

func (d *TapDriver) plug(vif v1alpha1.VIF) error {
	name := DeviceName(vif)

	link, err := d.links.LinkByName(name)
	if err != nil {
		if !IsLinkNotFound(err) {
			return fmt.Errorf("lookup %s: %w", name, err)
		}
		tap := &netlink.Tuntap{
			LinkAttrs: netlink.LinkAttrs{Name: name},
			Mode:      netlink.TUNTAP_MODE_TAP,
			Flags:     netlink.TUNTAP_NO_PI | netlink.TUNTAP_VNET_HDR,
		}
		if err := d.links.LinkAdd(tap); err != nil && !errors.Is(err, syscall.EEXIST) {
			return fmt.Errorf("create tap %s: %w", name, err)
		}
		if link, err = d.links.LinkByName(name); err != nil {
			return fmt.Errorf("lookup %s: %w", name, err)
		}
	}

	if mtu := d.mtu(vif); mtu > 0 {
		if err := d.links.LinkSetMTU(link, mtu); err != nil {
			return fmt.Errorf("set mtu on %s: %w", name, err)
		}
	}

	if vif.Bridge != "" {
		bridge, err := d.links.LinkByName(vif.Bridge)
		if err != nil {
			return fmt.Errorf("bridge %s not found: %w", vif.Bridge, err)
		}
		if err := d.links.LinkSetMaster(link, bridge); err != nil {
			return fmt.Errorf("attach %s to %s: %w", name, vif.Bridge, err)
		}
	}

	if err := d.links.LinkSetUp(link); err != nil {
		return fmt.Errorf("bring %s up: %w", name, err)
	}
	return nil
}

func (d *TapDriver) mtu(vif v1alpha1.VIF) int {
	if vif.MTU > 0 {
		return vif.MTU
	}
	return d.defaultMTU
}

// Unplug removes the tap devices of every VIF. Missing devices are skipped
// and the remaining VIFs are still processed; failures are joined.
func (d *TapDriver) Unplug(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error {
	log := logging.ForInstance(d.log, inst.UUID())
	var errs []error
	for _, vif := range vifs {
		name := DeviceName(vif)
		link, err := d.links.LinkByName(name)
		if err != nil {
			if IsLinkNotFound(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("lookup %s: %w", name, err))
			continue
		}
		if err := d.links.LinkDel(link); err != nil && !IsLinkNotFound(err) {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		log.WithField(logging.FieldVIF, vif.ID).WithField(logging.FieldDevice, name).Debug("Unplugged VIF")
	}
	return errors.Join(errs...)
}

// EnableHairpin turns on hairpin mode for the bridge ports named devices.
func (d *TapDriver) EnableHairpin(devices []string) error {
	for _, name := range devices {
		link, err := d.links.LinkByName(name)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", name, err)
		}
		if err := d.links.LinkSetHairpin(link, true); err != nil {
			return fmt.Errorf("enable hairpin on %s: %w", name, err)
		}
	}
	return nil
}

// IsLinkNotFound reports whether err means the link does not exist.
func IsLinkNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ENODEV) {
		return true
	}
	var notFound netlink.LinkNotFoundError
	return errors.As(err, &notFound)
}
