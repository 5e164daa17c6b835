package driver

import (
	"context"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/disk"
	"github.com/jbweber/anvil/internal/guest"
	"github.com/jbweber/anvil/internal/logging"
)

// Cleanup tears down everything a start of inst may have left on the host.
// It is safe to run for instances that never started and always attempts
// every step.
func (d *Driver) Cleanup(ctx context.Context, inst *v1alpha1.Instance, destroyDisks bool) {
	d.cleanupFailedStart(ctx, inst, nil, destroyDisks)
}

// cleanupFailedStart attempts to clean up all instance resources on failure.
//
// This is best-effort: it logs errors but continues trying to clean up
// as much as possible. It never returns an error, so the failure that
// triggered it is what the caller sees.
func (d *Driver) cleanupFailedStart(ctx context.Context, inst *v1alpha1.Instance, g *guest.Guest, destroyDisks bool) {
	log := logging.ForInstance(d.log, inst.UUID())
	log.Info("Cleaning up after failed start...")

	if g == nil {
		if found, err := d.host.Lookup(inst.DomainName()); err == nil {
			g = found
		}
	}
	if g != nil {
		log.Debugf("Destroying domain %s...", g.Name())
		if err := g.Destroy(); err != nil {
			log.WithError(err).Warn("Failed to destroy domain")
		}
	}

	log.Debug("Unplugging VIFs...")
	if err := d.deps.VIFs.Unplug(inst, inst.Spec.Network); err != nil {
		log.WithError(err).Warn("Failed to unplug VIFs")
	}

	if err := d.deps.Firewall.UnfilterInstance(inst, inst.Spec.Network); err != nil {
		log.WithError(err).Warn("Failed to remove instance filters")
	}

	for _, bdm := range inst.Spec.BlockDeviceInfo.Mapping() {
		if bdm.ConnectionInfo == nil {
			continue
		}
		if err := d.disconnectVolume(ctx, inst, bdm); err != nil {
			log.WithError(err).WithField(logging.FieldDevice, bdm.MountDevice).Warn("Failed to disconnect volume")
		}
	}

	if destroyDisks {
		if d.deps.Storage != nil {
			log.Debug("Deleting instance volumes...")
			if _, err := d.deps.Storage.DeleteInstanceVolumes(ctx, d.cfg.StoragePool, inst.UUID()); err != nil {
				log.WithError(err).Warn("Failed to delete instance volumes")
			}
		}
		if d.cfg.InstancesPath != "" {
			if err := disk.RemoveInstanceDir(d.cfg.InstancesPath, inst.UUID()); err != nil {
				log.WithError(err).Warn("Failed to remove instance directory")
			}
		}
	}

	log.Info("Cleanup complete")
}
