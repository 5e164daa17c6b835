// Package firewall applies per-instance network filtering around domain
// creation.
//
// The start sequence calls SetupBasicFiltering and PrepareInstanceFilter
// before the domain exists and ApplyInstanceFilter after it was created.
// UnfilterInstance removes everything an instance left behind and is safe
// to call for instances that were never filtered.
package firewall

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/config"
)

// Driver is the filtering backend.
type Driver interface {
	SetupBasicFiltering(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error
	PrepareInstanceFilter(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error
	ApplyInstanceFilter(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error
	UnfilterInstance(inst *v1alpha1.Instance, vifs v1alpha1.NetworkInfo) error

	// FiltersInterfaces reports whether domain interfaces must reference
	// the per-instance filters.
	FiltersInterfaces() bool
}

// New returns the driver named by the host configuration.
func New(name string, client NWFilterClient, log logrus.FieldLogger) (Driver, error) {
	switch name {
	case config.FirewallNWFilter:
		if client == nil {
			return nil, fmt.Errorf("firewall driver %q needs a libvirt connection", name)
		}
		return NewNWFilterDriver(client, log), nil
	case config.FirewallNoop, "":
		return NoopDriver{}, nil
	default:
		return nil, fmt.Errorf("unknown firewall driver %q", name)
	}
}

// NoopDriver filters nothing.
type NoopDriver struct{}

func (NoopDriver) SetupBasicFiltering(*v1alpha1.Instance, v1alpha1.NetworkInfo) error   { return nil }
func (NoopDriver) PrepareInstanceFilter(*v1alpha1.Instance, v1alpha1.NetworkInfo) error { return nil }
func (NoopDriver) ApplyInstanceFilter(*v1alpha1.Instance, v1alpha1.NetworkInfo) error   { return nil }
func (NoopDriver) UnfilterInstance(*v1alpha1.Instance, v1alpha1.NetworkInfo) error      { return nil }
func (NoopDriver) FiltersInterfaces() bool                                              { return false }
