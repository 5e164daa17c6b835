package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/encryptors"
	"github.com/jbweber/anvil/internal/guest"
	anvillibvirt "github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/metadata"
	"github.com/jbweber/anvil/internal/naming"
	"github.com/jbweber/anvil/internal/status"
)

// Spawn starts inst on this host.
//
// This orchestrates the entire start:
//  1. Connect every volume and build its disk descriptor
//  2. Generate the domain XML
//  3. CreateDomainAndNetwork, storing the instance in the domain metadata
//     once the domain is defined
//
// inst.Status is updated along the way; on failure it ends in the Failed
// phase with the cause recorded in the conditions.
func (d *Driver) Spawn(ctx context.Context, inst *v1alpha1.Instance) (*guest.Guest, error) {
	log := logging.ForInstance(d.log, inst.UUID())

	if err := status.TransitionToSpawning(inst); err != nil {
		return nil, err
	}

	log.Infof("Connecting %d volume(s)...", len(inst.Spec.BlockDeviceInfo.Mapping()))
	disks, err := d.connectVolumes(ctx, inst)
	if err != nil {
		status.MarkVolumesFailed(inst, err)
		status.TransitionToFailed(inst, "VolumeConnectFailed", err.Error())
		return nil, err
	}
	status.MarkVolumesAttached(inst)

	opts := anvillibvirt.DomainOptions{
		Disks:            disks,
		FilterInterfaces: d.deps.Firewall.FiltersInterfaces(),
	}
	if d.cfg.ConfigDrive {
		opts.ConfigDrive = naming.ConfigDrivePath(d.cfg.InstancesPath, inst.UUID())
	}

	xml, err := anvillibvirt.GenerateDomainXML(inst, opts)
	if err != nil {
		err = fmt.Errorf("failed to generate domain XML: %w", err)
		d.disconnectTransports(ctx, inst, log)
		status.TransitionToFailed(inst, "InvalidDomain", err.Error())
		return nil, err
	}

	log.Info("Creating domain and network...")
	res, err := d.createDomainAndNetwork(ctx, inst, xml, CreateOptions{
		PowerOn:               inst.IsPowerOn(),
		VIFsAlreadyPlugged:    inst.Spec.VIFsAlreadyPlugged,
		DestroyDisksOnFailure: inst.Spec.DestroyDisksOnFailure,
		PostXMLCallback: func(g *guest.Guest) error {
			if err := metadata.Store(d.deps.Libvirt, g.Domain(), inst); err != nil {
				return fmt.Errorf("failed to store instance metadata: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		if !res.cleanedUp {
			d.disconnectTransports(ctx, inst, log)
		}
		status.MarkNetworkFailed(inst, err)
		status.TransitionToFailed(inst, failureReason(err), err.Error())
		return nil, err
	}

	status.MarkNetworkPlugged(inst, res.plugTimedOut)
	inst.Status.DomainName = res.guest.Name()
	if inst.IsPowerOn() {
		err = status.TransitionToRunning(inst)
	} else {
		err = status.TransitionToStopped(inst)
	}
	if err != nil {
		return nil, err
	}

	log.Infof("Instance %s started as %s", inst.Name, res.guest.Name())
	return res.guest, nil
}

// failureReason maps a start error to a condition reason.
func failureReason(err error) string {
	var vifErr *VirtualInterfaceCreateError
	var encErr *encryptors.EncryptionError
	switch {
	case errors.As(err, &vifErr):
		return "VirtualInterfaceCreateFailed"
	case errors.As(err, &encErr):
		return "EncryptionFailed"
	default:
		return "StartFailed"
	}
}

// disconnectTransports releases every connected volume of inst when the
// start failed before cleanup could take over.
func (d *Driver) disconnectTransports(ctx context.Context, inst *v1alpha1.Instance, log logrus.FieldLogger) {
	for _, bdm := range inst.Spec.BlockDeviceInfo.Mapping() {
		if err := d.disconnectTransport(ctx, bdm); err != nil {
			log.WithError(err).WithField(logging.FieldDevice, bdm.MountDevice).Warn("Failed to disconnect volume")
		}
	}
}
