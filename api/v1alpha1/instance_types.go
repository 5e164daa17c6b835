package v1alpha1

// Instance is a single guest instance to be started on this host.
//
// The Spec carries everything one start attempt needs: identity, image
// metadata, the VIFs to plug and the block devices to attach. Spec is
// treated as immutable for the duration of a start attempt; the only field
// mutated during a start is ConnectionInfo.Data, where volume drivers record
// the resolved local device path.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
type Instance struct {
	TypeMeta `json:",inline" yaml:",inline"`

	// +optional
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec InstanceSpec `json:"spec" yaml:"spec"`

	// +optional
	Status InstanceStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// InstanceSpec defines the desired state of an Instance.
type InstanceSpec struct {
	// ImageMeta describes the image the instance boots from.
	// +optional
	ImageMeta ImageMeta `json:"imageMeta,omitempty" yaml:"imageMeta,omitempty"`

	// VCPUs is the number of virtual CPUs.
	// +kubebuilder:validation:Minimum=1
	VCPUs int `json:"vcpus" yaml:"vcpus"`

	// MemoryMiB is the guest memory in mebibytes.
	// +kubebuilder:validation:Minimum=1
	MemoryMiB int `json:"memoryMiB" yaml:"memoryMiB"`

	// Network is the ordered list of virtual interfaces to plug.
	// +optional
	Network NetworkInfo `json:"network,omitempty" yaml:"network,omitempty"`

	// BlockDeviceInfo describes the volumes attached to the instance.
	// +optional
	BlockDeviceInfo *BlockDeviceInfo `json:"blockDeviceInfo,omitempty" yaml:"blockDeviceInfo,omitempty"`

	// PowerOn starts the guest after it is defined. Defaults to true.
	// +optional
	PowerOn *bool `json:"powerOn,omitempty" yaml:"powerOn,omitempty"`

	// VIFsAlreadyPlugged skips waiting for plug confirmations.
	// +optional
	VIFsAlreadyPlugged bool `json:"vifsAlreadyPlugged,omitempty" yaml:"vifsAlreadyPlugged,omitempty"`

	// DestroyDisksOnFailure removes instance disks when the start fails.
	// +optional
	DestroyDisksOnFailure bool `json:"destroyDisksOnFailure,omitempty" yaml:"destroyDisksOnFailure,omitempty"`

	// SSHKeys are authorized keys published through the config drive.
	// +optional
	SSHKeys []string `json:"sshKeys,omitempty" yaml:"sshKeys,omitempty"`
}

// ImageMeta is the subset of image metadata the host cares about.
type ImageMeta struct {
	ID         string            `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	DiskFormat string            `json:"diskFormat,omitempty" yaml:"diskFormat,omitempty"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// VIF is a virtual network interface as described by the network backend.
type VIF struct {
	// ID is the port identifier used to correlate plug events.
	ID string `json:"id" yaml:"id"`

	// Address is the MAC address of the interface.
	Address string `json:"address" yaml:"address"`

	// Bridge is the host bridge the tap device is enslaved to.
	Bridge string `json:"bridge" yaml:"bridge"`

	// DevName overrides the derived tap device name.
	// +optional
	DevName string `json:"devname,omitempty" yaml:"devname,omitempty"`

	// MTU of the tap device. Zero keeps the host default.
	// +optional
	MTU int `json:"mtu,omitempty" yaml:"mtu,omitempty"`

	// Active reports whether the backend already considers the port up.
	// A nil value is treated as active.
	// +optional
	Active *bool `json:"active,omitempty" yaml:"active,omitempty"`
}

// NetworkInfo is the ordered collection of VIFs for an instance.
type NetworkInfo []VIF

// BlockDeviceInfo is the opaque block device structure handed to the host.
type BlockDeviceInfo struct {
	// RootDeviceName is the guest device the instance boots from.
	// +optional
	RootDeviceName string `json:"rootDeviceName,omitempty" yaml:"rootDeviceName,omitempty"`

	// BlockDeviceMapping lists attached volumes in attachment order.
	// +optional
	BlockDeviceMapping []BlockDeviceMapping `json:"blockDeviceMapping,omitempty" yaml:"blockDeviceMapping,omitempty"`
}

// BlockDeviceMapping is one volume attachment.
type BlockDeviceMapping struct {
	// ConnectionInfo is the per-volume connection descriptor.
	ConnectionInfo *ConnectionInfo `json:"connectionInfo" yaml:"connectionInfo"`

	// MountDevice is the guest device path (e.g. "/dev/vdb").
	MountDevice string `json:"mountDevice" yaml:"mountDevice"`

	// DiskBus is the guest bus. Defaults to virtio.
	// +optional
	DiskBus string `json:"diskBus,omitempty" yaml:"diskBus,omitempty"`

	// DeviceType is "disk" (default) or "cdrom".
	// +optional
	DeviceType string `json:"deviceType,omitempty" yaml:"deviceType,omitempty"`

	// BootIndex orders bootable volumes.
	// +optional
	BootIndex *int `json:"bootIndex,omitempty" yaml:"bootIndex,omitempty"`
}

// ConnectionInfo describes how to reach a volume.
//
// Data is an open map because each volume backend defines its own keys.
// The keys every backend shares are volume_id, encrypted and device_path.
type ConnectionInfo struct {
	// DriverVolumeType selects the volume driver (e.g. "rbd").
	DriverVolumeType string `json:"driver_volume_type" yaml:"driver_volume_type"`

	// Data holds the backend-specific connection parameters.
	Data map[string]interface{} `json:"data" yaml:"data"`

	// Serial is the volume serial exposed to the guest.
	// +optional
	Serial string `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// DiskInfo is the guest-side placement of a volume.
type DiskInfo struct {
	// Bus is the guest bus, e.g. "virtio" or "scsi".
	Bus string `json:"bus" yaml:"bus"`

	// Dev is the guest device name without /dev/, e.g. "vdb".
	Dev string `json:"dev" yaml:"dev"`

	// Type is "disk" or "cdrom".
	Type string `json:"type" yaml:"type"`
}

// InstanceStatus is the observed state of an Instance.
type InstanceStatus struct {
	// +optional
	// +kubebuilder:validation:Enum=Pending;Spawning;Running;Stopped;Failed
	Phase InstancePhase `json:"phase,omitempty" yaml:"phase,omitempty"`

	// +optional
	// +listType=map
	// +listMapKey=type
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// DomainName is the libvirt domain backing the instance.
	// +optional
	DomainName string `json:"domainName,omitempty" yaml:"domainName,omitempty"`

	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty" yaml:"observedGeneration,omitempty"`
}

// InstancePhase is the lifecycle phase of an Instance.
type InstancePhase string

const (
	InstancePhasePending  InstancePhase = "Pending"
	InstancePhaseSpawning InstancePhase = "Spawning"
	InstancePhaseRunning  InstancePhase = "Running"
	InstancePhaseStopped  InstancePhase = "Stopped"
	InstancePhaseFailed   InstancePhase = "Failed"
)

// Condition types reported on Instance resources.
const (
	// ConditionReady is true once the guest is running.
	ConditionReady = "Ready"

	// ConditionVolumesAttached is true once every volume is connected.
	ConditionVolumesAttached = "VolumesAttached"

	// ConditionNetworkPlugged is true once VIFs are plugged and confirmed.
	ConditionNetworkPlugged = "NetworkPlugged"
)
