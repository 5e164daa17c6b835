package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/encryptors"
	"github.com/jbweber/anvil/internal/events"
	"github.com/jbweber/anvil/internal/guest"
	"github.com/jbweber/anvil/internal/logging"
)

// CreateOptions are the per-start flags of CreateDomainAndNetwork.
type CreateOptions struct {
	// PowerOn starts the domain after it is defined.
	PowerOn bool

	// VIFsAlreadyPlugged skips waiting for plug confirmations.
	VIFsAlreadyPlugged bool

	// DestroyDisksOnFailure removes instance-local disks during cleanup.
	DestroyDisksOnFailure bool

	// PostXMLCallback runs right after the domain is defined.
	PostXMLCallback func(g *guest.Guest) error
}

// createResult carries what Spawn needs beyond the guest itself.
type createResult struct {
	guest *guest.Guest

	// plugTimedOut is set when confirmations never arrived and the timeout
	// was not fatal.
	plugTimedOut bool

	// cleanedUp is set once cleanupFailedStart ran for this attempt.
	cleanedUp bool
}

// CreateDomainAndNetwork plugs the instance's VIFs and creates its domain
// from xml. On success the returned guest is running, or defined only when
// PowerOn is false. On failure everything the attempt set up is torn down
// before the original error is returned.
func (d *Driver) CreateDomainAndNetwork(ctx context.Context, inst *v1alpha1.Instance, xml string, opts CreateOptions) (*guest.Guest, error) {
	res, err := d.createDomainAndNetwork(ctx, inst, xml, opts)
	if err != nil {
		return nil, err
	}
	return res.guest, nil
}

// createDomainAndNetwork always returns a result, also on error, so the
// caller can tell whether cleanup already ran.

func (d *Driver) createDomainAndNetwork(ctx context.Context, inst *v1alpha1.Instance, xml string, opts CreateOptions) (*createResult, error) {
	log := logging.ForInstance(d.log, inst.UUID())
	res := &createResult{}

	attached, err := d.attachEncryptors(ctx, inst, log)
	if err != nil {
		return res, err
	}

	expected := d.plugEvents(inst, opts)
	pause := len(expected) > 0

	guard, err := d.deps.Events.Prepare(inst, expected, d.cfg.PluggingTimeout(), d.vifPlugFailed)
	if err != nil {
		d.detachEncryptors(ctx, attached, log)
		return res, fmt.Errorf("failed to prepare for plug events: %w", err)
	}

	var g *guest.Guest
	var cleaned atomic.Bool
	cleanup := func() {
		if cleaned.Swap(true) {
			return
		}
		d.cleanupFailedStart(ctx, inst, g, opts.DestroyDisksOnFailure)
		res.cleanedUp = true
	}

	g, err = d.runGuarded(ctx, inst, xml, opts, pause, guard, log)
	if err != nil {
		var vifErr *VirtualInterfaceCreateError
		switch {
		case errors.As(err, &vifErr):
			cleanup()
			return res, err
		case errors.Is(err, events.ErrPlugTimeout):
			log.WithField("events", guard.Events()).Warn("Timeout waiting for VIF plugging events")
			if d.cfg.PluggingIsFatal() {
				cleanup()
				return res, &VirtualInterfaceCreateError{
					InstanceUUID: inst.UUID(),
					Reason:       "timed out waiting for VIF plugging events",
				}
			}
			res.plugTimedOut = true
		default:
			log.WithError(err).Error("Failed to start libvirt guest")
			cleanup()
			return res, err
		}
	}

	if pause {
		log.Debug("Resuming guest")
		if err := g.Resume(); err != nil {
			log.WithError(err).Error("Failed to resume guest")
			cleanup()
			return res, err
		}
	}

	res.guest = g
	log.Info("Guest started")
	return res, nil
}

// runGuarded is the region covered by the plug-event guard. The returned
// guest is set as soon as the domain was defined, also on error, so the
// caller can destroy it. Collaborator errors are returned as they are.
func (d *Driver) runGuarded(ctx context.Context, inst *v1alpha1.Instance, xml string, opts CreateOptions, pause bool, guard *events.Guard, log logrus.FieldLogger) (*guest.Guest, error) {
	defer guard.Release()

	vifs := inst.Spec.Network

	log.Debug("Plugging VIFs...")
	if err := d.deps.VIFs.Plug(inst, vifs); err != nil {
		return nil, err
	}
	if err := d.checkDeadline(guard); err != nil {
		return nil, err
	}

	log.Debug("Setting up instance filtering...")
	if err := d.deps.Firewall.SetupBasicFiltering(inst, vifs); err != nil {
		return nil, err
	}
	if err := d.deps.Firewall.PrepareInstanceFilter(inst, vifs); err != nil {
		return nil, err
	}
	if err := d.checkDeadline(guard); err != nil {
		return nil, err
	}

	g, err := d.createDomain(ctx, inst, xml, opts, pause, log)
	if err != nil {
		return g, err
	}

	if err := d.deps.Firewall.ApplyInstanceFilter(inst, vifs); err != nil {
		return g, err
	}

	if pause {
		log.WithField("events", guard.Events()).Debug("Waiting for VIF plugging events")
	}
	return g, guard.Wait(ctx)
}

// checkDeadline ends the guarded region early once the deadline elapsed
// and a timeout would fail the start anyway.
func (d *Driver) checkDeadline(guard *events.Guard) error {
	if guard.Expired() && d.cfg.PluggingIsFatal() {
		return events.ErrPlugTimeout
	}
	return nil
}

// createDomain defines the domain inside the disk-handling scope and
// launches it when requested.
func (d *Driver) createDomain(ctx context.Context, inst *v1alpha1.Instance, xml string, opts CreateOptions, pause bool, log logrus.FieldLogger) (g *guest.Guest, err error) {
	scope, err := d.deps.Disks.Enter(ctx, inst)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := scope.Release(); rerr != nil {
			log.WithError(rerr).Warn("Failed to release instance disks")
		}
	}()

	log.Debug("Defining domain...")
	g, err = d.host.Create(xml)
	if err != nil {
		return nil, err
	}

	if opts.PostXMLCallback != nil {
		if err := opts.PostXMLCallback(g); err != nil {
			return g, err
		}
	}

	if opts.PowerOn || pause {
		log.WithField("paused", pause).Debug("Launching domain...")
		if err := g.Launch(pause); err != nil {
			return g, err
		}
	}

	if opts.PowerOn {
		if err := g.EnableHairpin(); err != nil {
			return g, err
		}
	}

	return g, nil
}

// plugEvents returns the plug confirmations to wait for: one per inactive
// VIF, and none unless every precondition for waiting holds.
func (d *Driver) plugEvents(inst *v1alpha1.Instance, opts CreateOptions) []events.Expected {
	if !d.supportsStartPaused ||
		!d.cfg.EventCapable() ||
		opts.VIFsAlreadyPlugged ||
		!opts.PowerOn ||
		d.cfg.PluggingTimeout() <= 0 {
		return nil
	}

	var expected []events.Expected
	for _, vif := range inst.Spec.Network {
		if vif.IsActive() {
			continue
		}
		expected = append(expected, events.Expected{Name: v1alpha1.VIFPluggedEvent, Tag: vif.ID})
	}
	return expected
}

// vifPlugFailed handles a plug event the network backend reported as failed.
func (d *Driver) vifPlugFailed(ev events.Event, inst *v1alpha1.Instance) error {
	logging.ForInstance(d.log, inst.UUID()).
		WithField(logging.FieldVIF, ev.Tag).
		Errorf("Network backend reported failure on event %s", ev.Key())

	if d.cfg.PluggingIsFatal() {
		return &VirtualInterfaceCreateError{
			InstanceUUID: inst.UUID(),
			Reason:       fmt.Sprintf("event %s failed", ev.Key()),
		}
	}
	return nil
}

// attachedEncryptor is an encryptor opened by this start attempt.
type attachedEncryptor struct {
	volumeID string
	enc      encryptors.Encryptor
	meta     *encryptors.Metadata
}

// attachEncryptors attaches the encryptor of every encrypted volume. On
// failure the encryptors attached so far are detached again; the volumes
// themselves stay connected for the caller to release.
func (d *Driver) attachEncryptors(ctx context.Context, inst *v1alpha1.Instance, log logrus.FieldLogger) ([]attachedEncryptor, error) {
	var attached []attachedEncryptor
	fail := func(err error) ([]attachedEncryptor, error) {
		d.detachEncryptors(ctx, attached, log)
		return nil, err
	}

	for _, bdm := range inst.Spec.BlockDeviceInfo.Mapping() {
		info := bdm.ConnectionInfo
		if info == nil {
			continue
		}
		volumeID, ok := info.VolumeID()
		if !ok {
			continue
		}

		meta, err := d.deps.Resolver.Resolve(ctx, inst, volumeID, info)
		if err != nil {
			return fail(err)
		}
		if meta == nil {
			continue
		}

		enc, err := d.deps.Encryptors.Get(info, meta)
		if err != nil {
			return fail(fmt.Errorf("failed to get encryptor for volume %s: %w", volumeID, err))
		}
		if err := encryptors.AttachVolume(ctx, enc, volumeID, meta, log); err != nil {
			return fail(err)
		}
		attached = append(attached, attachedEncryptor{volumeID: volumeID, enc: enc, meta: meta})
	}
	return attached, nil
}

// detachEncryptors detaches in reverse attach order. Failures are logged.
func (d *Driver) detachEncryptors(ctx context.Context, attached []attachedEncryptor, log logrus.FieldLogger) {
	for i := len(attached) - 1; i >= 0; i-- {
		a := attached[i]
		if err := a.enc.Detach(ctx, a.meta); err != nil {
			logging.ForVolume(log, a.volumeID).WithError(err).Warn("Failed to detach encryptor")
		}
	}
}
