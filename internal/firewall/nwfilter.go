package firewall

import (
	"errors"
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/naming"
)

// NWFilterClient is the subset of *libvirt.Libvirt used for nwfilters.
type NWFilterClient interface {
	NwfilterDefineXML(XML string) (libvirt.Nwfilter, error)
	NwfilterLookupByName(Name string) (libvirt.Nwfilter, error)
	NwfilterUndefine(OptNwfilter libvirt.Nwfilter) error
	ConnectListAllNwfilters(NeedResults int32, Flags uint32) ([]libvirt.Nwfilter, uint32, error)
}

// baseFilterRefs are libvirt's stock filters every instance gets.
var baseFilterRefs = []string{"clean-traffic"}

// NWFilterDriver filters instance traffic with libvirt nwfilters.
//
// One base filter references libvirt's anti-spoofing filters. Each
// interface gets its own filter, anvil-instance-<uuid>-<mac>, which
// references the base filter and is named by the domain XML.
type NWFilterDriver struct {
	client NWFilterClient
	log    logrus.FieldLogger
}

// NewNWFilterDriver returns an nwfilter driver.
func NewNWFilterDriver(client NWFilterClient, log logrus.FieldLogger) *NWFilterDriver {
	return &NWFilterDriver{client: client, log: logging.Ensure(log)}
}

// FiltersInterfaces implements Driver.
func (d *NWFilterDriver) FiltersInterfaces() bool { return true }

// SetupBasicFiltering defines the base filter if it does not exist yet.
func (d *NWFilterDriver) SetupBasicFiltering(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error {
	if len(vifs) == 0 {
		return nil
	}
	if _, err := d.client.NwfilterLookupByName(naming.BaseFilterName); err == nil {
		return nil
	}

	filter := libvirtxml.NWFilter{
		Name:  naming.BaseFilterName,
		UUID:  uuid.NewSHA1(uuid.NameSpaceOID, []byte(naming.BaseFilterName)).String(),
		Chain: "root",
	}
	for _, ref := range baseFilterRefs {
		filter.Entries = append(filter.Entries, libvirtxml.NWFilterEntry{
			Ref: &libvirtxml.NWFilterRef{Filter: ref},
		})
	}

	if err := d.define(filter); err != nil {
		return fmt.Errorf("failed to define base filter: %w", err)
	}
	logging.ForInstance(d.log, inst.UUID()).Debugf("Defined nwfilter %s", naming.BaseFilterName)
	return nil
}

// PrepareInstanceFilter defines one filter per interface. Defining an
// existing filter replaces it.
func (d *NWFilterDriver) PrepareInstanceFilter(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error {
	log := logging.ForInstance(d.log, inst.UUID())
	for _, vif := range vifs {
		name := naming.InstanceFilterName(inst.UUID(), vif.Address)
		filter := libvirtxml.NWFilter{
			Name:  name,
			UUID:  uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String(),
			Chain: "root",
			Entries: []libvirtxml.NWFilterEntry{{
				Ref: &libvirtxml.NWFilterRef{Filter: naming.BaseFilterName},
			}},
		}
		if err := d.define(filter); err != nil {
			return fmt.Errorf("failed to define filter for vif %s: %w", vif.ID, err)
		}
		log.WithField(logging.FieldVIF, vif.ID).Debugf("Defined nwfilter %s", name)
	}
	return nil
}

// ApplyInstanceFilter checks that every interface filter is in place.
// libvirt binds the filters itself when the domain starts.
func (d *NWFilterDriver) ApplyInstanceFilter(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error {
	for _, vif := range vifs {
		name := naming.InstanceFilterName(inst.UUID(), vif.Address)
		if _, err := d.client.NwfilterLookupByName(name); err != nil {
			return fmt.Errorf("filter %s for vif %s is missing: %w", name, vif.ID, err)
		}
	}
	return nil
}

// UnfilterInstance undefines every filter of the instance, including
// filters of VIFs no longer in vifs.
func (d *NWFilterDriver) UnfilterInstance(inst *v1alpha1.Instance, _ v1alpha1.NetworkInfo) error {
	filters, _, err := d.client.ConnectListAllNwfilters(1, 0)
	if err != nil {
		return fmt.Errorf("failed to list nwfilters: %w", err)
	}

	log := logging.ForInstance(d.log, inst.UUID())
	prefix := naming.InstanceFilterPrefix(inst.UUID())
	var errs []error
	for _, f := range filters {
		if !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		if err := d.client.NwfilterUndefine(f); err != nil {
			errs = append(errs, fmt.Errorf("failed to undefine %s: %w", f.Name, err))
			continue
		}
		log.Debugf("Undefined nwfilter %s", f.Name)
	}
	return errors.Join(errs...)
}

func (d *NWFilterDriver) define(filter libvirtxml.NWFilter) error {
	xml, err := filter.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal nwfilter XML: %w", err)
	}
	if _, err := d.client.NwfilterDefineXML(xml); err != nil {
		return err
	}
	return nil
}
