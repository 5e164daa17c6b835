package v1alpha1

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// GroupName is the API group for anvil resources.
	GroupName = "anvil.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	// InstanceKind is the kind string for Instance resources.
	InstanceKind = "Instance"

	// VIFPluggedEvent is the external event name confirming a plugged VIF.
	VIFPluggedEvent = "network-vif-plugged"
)

// NewInstance creates a new Instance with TypeMeta and ObjectMeta defaults.
func NewInstance(name string) *Instance {
	powerOn := true

	return &Instance{
		TypeMeta: TypeMeta{
			APIVersion: GroupName + "/" + Version,
			Kind:       InstanceKind,
		},
		ObjectMeta: ObjectMeta{
			Name:              name,
			UID:               uuid.New().String(),
			CreationTimestamp: Time{Time: time.Now()},
			Generation:        1,
		},
		Spec: InstanceSpec{
			PowerOn: &powerOn,
		},
		Status: InstanceStatus{
			Phase: InstancePhasePending,
		},
	}
}

// SetDefaultAPIVersion ensures the instance has the correct apiVersion and kind.
func SetDefaultAPIVersion(inst *Instance) {
	if inst.APIVersion == "" {
		inst.APIVersion = GroupName + "/" + Version
	}
	if inst.Kind == "" {
		inst.Kind = InstanceKind
	}
}

// UUID returns the instance identity used for events, filters and disks.
func (inst *Instance) UUID() string {
	return inst.UID
}

// IsPowerOn reports whether the guest should run after creation (default true).
func (inst *Instance) IsPowerOn() bool {
	if inst.Spec.PowerOn == nil {
		return true
	}
	return *inst.Spec.PowerOn
}

// DomainName returns the libvirt domain name for the instance.
// Format: instance-<uuid>
func (inst *Instance) DomainName() string {
	return fmt.Sprintf("instance-%s", inst.UID)
}

// SetPhase sets the instance phase in status.
func (inst *Instance) SetPhase(phase InstancePhase) {
	inst.Status.Phase = phase
}

// GetPhase returns the current instance phase.
func (inst *Instance) GetPhase() InstancePhase {
	return inst.Status.Phase
}

// UpdateObservedGeneration updates status.observedGeneration to match metadata.generation.
func (inst *Instance) UpdateObservedGeneration() {
	inst.Status.ObservedGeneration = inst.Generation
}

// Normalize sanitizes user input and fills defaults.
func (inst *Instance) Normalize() {
	inst.Name = strings.ToLower(strings.TrimSpace(inst.Name))
	if inst.UID == "" {
		inst.UID = uuid.New().String()
	}
	if inst.Spec.PowerOn == nil {
		powerOn := true
		inst.Spec.PowerOn = &powerOn
	}
	if inst.Status.Phase == "" {
		inst.Status.Phase = InstancePhasePending
	}
}

// IsActive reports whether the backend already considers the VIF up.
func (v VIF) IsActive() bool {
	if v.Active == nil {
		return true
	}
	return *v.Active
}

// Mapping returns the block device mapping, tolerating a nil receiver.
func (b *BlockDeviceInfo) Mapping() []BlockDeviceMapping {
	if b == nil {
		return nil
	}
	return b.BlockDeviceMapping
}

// VolumeID returns data.volume_id when present.
func (c *ConnectionInfo) VolumeID() (string, bool) {
	if c == nil || c.Data == nil {
		return "", false
	}
	id, ok := c.Data["volume_id"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Encrypted reports whether data.encrypted is the boolean true.
// Strings such as "true" are not accepted.
func (c *ConnectionInfo) Encrypted() bool {
	if c == nil || c.Data == nil {
		return false
	}
	encrypted, ok := c.Data["encrypted"].(bool)
	return ok && encrypted
}

// DevicePath returns data.device_path, or "" when unset.
func (c *ConnectionInfo) DevicePath() string {
	if c == nil || c.Data == nil {
		return ""
	}
	path, _ := c.Data["device_path"].(string)
	return path
}

// SetDevicePath records the resolved local device path in data.device_path.
func (c *ConnectionInfo) SetDevicePath(path string) {
	if c.Data == nil {
		c.Data = make(map[string]interface{})
	}
	c.Data["device_path"] = path
}

// DiskInfo derives the guest placement of a mapped volume.
func (m BlockDeviceMapping) DiskInfo() DiskInfo {
	info := DiskInfo{
		Bus:  m.DiskBus,
		Dev:  strings.TrimPrefix(m.MountDevice, "/dev/"),
		Type: m.DeviceType,
	}
	if info.Bus == "" {
		info.Bus = "virtio"
	}
	if info.Type == "" {
		info.Type = "disk"
	}
	return info
}
