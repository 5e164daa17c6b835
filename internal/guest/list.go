package guest

import (
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/metadata"
)

// InventoryClient defines the libvirt operations needed to list instances.
type InventoryClient interface {
	metadata.LibvirtClient
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	DomainGetState(Dom libvirt.Domain, Flags uint32) (int32, int32, error)
}

// ListInstances returns the instances stored in domain metadata, with the
// phase derived from each domain's current state. Domains without anvil
// metadata are skipped.
func ListInstances(client InventoryClient, log logrus.FieldLogger) ([]*v1alpha1.Instance, error) {
	log = logging.Ensure(log)

	// NeedResults: 1 means populate the domains slice
	// Flags: 0 means all domains (active and inactive)
	domains, _, err := client.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	instances := make([]*v1alpha1.Instance, 0, len(domains))
	for _, dom := range domains {
		if !metadata.Exists(client, dom) {
			continue
		}

		inst, err := metadata.Load(client, dom)
		if err != nil {
			log.WithError(err).Warnf("Failed to load instance metadata for domain %s", dom.Name)
			continue
		}

		inst.Status.DomainName = dom.Name
		state, _, err := client.DomainGetState(dom, 0)
		if err != nil {
			log.WithError(err).Warnf("Failed to get state of domain %s", dom.Name)
		} else {
			inst.Status.Phase = phaseForState(libvirt.DomainState(state))
		}

		instances = append(instances, inst)
	}

	return instances, nil
}

// phaseForState maps a libvirt domain state to an instance phase.
func phaseForState(state libvirt.DomainState) v1alpha1.InstancePhase {
	switch state {
	case libvirt.DomainRunning, libvirt.DomainBlocked:
		return v1alpha1.InstancePhaseRunning
	case libvirt.DomainPaused:
		return v1alpha1.InstancePhaseSpawning
	case libvirt.DomainShutdown, libvirt.DomainShutoff, libvirt.DomainPmsuspended:
		return v1alpha1.InstancePhaseStopped
	case libvirt.DomainCrashed:
		return v1alpha1.InstancePhaseFailed
	default:
		return v1alpha1.InstancePhasePending
	}
}
