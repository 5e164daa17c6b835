package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/naming"
)

// DomainOptions carries the host-side inputs of domain XML generation that
// are not part of the Instance spec.
type DomainOptions struct {
	// Disks are the volume descriptors built by the volume drivers, in
	// block device mapping order.
	Disks []libvirtxml.DomainDisk

	// ConfigDrive is the path of the config-drive ISO; empty for none.
	ConfigDrive string

	// FilterInterfaces adds an nwfilter reference to every interface.
	FilterInterfaces bool
}

// GenerateDomainXML generates libvirt domain XML for an instance.
//
// Interfaces are unmanaged ethernet devices: the tap device is created and
// bridged on the host before the domain is started, so libvirt only opens it.
func GenerateDomainXML(inst *v1alpha1.Instance, opts DomainOptions) (string, error) {
	if inst.Spec.VCPUs < 1 {
		return "", fmt.Errorf("vcpus must be at least 1")
	}
	if inst.Spec.MemoryMiB < 1 {
		return "", fmt.Errorf("memoryMiB must be at least 1")
	}

	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: inst.DomainName(),
		UUID: inst.UUID(),
		Memory: &libvirtxml.DomainMemory{
			Value: uint(inst.Spec.MemoryMiB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(inst.Spec.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BIOS: &libvirtxml.DomainBIOS{
				UseSerial: "yes",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "destroy",
		Devices: &libvirtxml.DomainDeviceList{
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	domain.Devices.Disks = append(domain.Devices.Disks, opts.Disks...)

	if opts.ConfigDrive != "" {
		domain.Devices.Disks = append(domain.Devices.Disks, libvirtxml.DomainDisk{
			Device: "cdrom",
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: "raw",
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{
					File: opts.ConfigDrive,
				},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: "sda",
				Bus: "sata",
			},
			ReadOnly: &libvirtxml.DomainDiskReadOnly{},
		})
	}

	for _, vif := range inst.Spec.Network {
		iface := libvirtxml.DomainInterface{
			MAC: &libvirtxml.DomainInterfaceMAC{
				Address: vif.Address,
			},
			Source: &libvirtxml.DomainInterfaceSource{
				Ethernet: &libvirtxml.DomainInterfaceSourceEthernet{},
			},
			Model: &libvirtxml.DomainInterfaceModel{
				Type: "virtio",
			},
			Target: &libvirtxml.DomainInterfaceTarget{
				Dev:     naming.VIFDevice(vif.DevName, vif.ID),
				Managed: "no",
			},
		}
		if vif.MTU > 0 {
			iface.MTU = &libvirtxml.DomainInterfaceMTU{Size: uint(vif.MTU)}
		}
		if opts.FilterInterfaces {
			iface.FilterRef = &libvirtxml.DomainInterfaceFilterRef{
				Filter: naming.InstanceFilterName(inst.UUID(), vif.Address),
			}
		}
		domain.Devices.Interfaces = append(domain.Devices.Interfaces, iface)
	}

	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainSerialTarget{
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "serial",
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}

	return xml, nil
}

// InterfaceDevices returns the host device names of the bridged or ethernet
// interfaces in a domain XML document.
func InterfaceDevices(domainXML string) ([]string, error) {
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(domainXML); err != nil {
		return nil, fmt.Errorf("failed to parse domain XML: %w", err)
	}
	if domain.Devices == nil {
		return nil, nil
	}

	var devices []string
	for _, iface := range domain.Devices.Interfaces {
		if iface.Target == nil || iface.Target.Dev == "" || iface.Source == nil {
			continue
		}
		if iface.Source.Bridge == nil && iface.Source.Ethernet == nil {
			continue
		}
		devices = append(devices, iface.Target.Dev)
	}
	return devices, nil
}
