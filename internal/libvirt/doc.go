// Package libvirt manages the connection to the local libvirt daemon and
// renders instance domain XML.
//
// The package wraps github.com/digitalocean/go-libvirt:
//
//	client, err := libvirt.Connect(cfg.Libvirt.Socket, cfg.Libvirt.Timeout)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Domain XML is generated from an Instance plus the disk descriptors the
// volume drivers built for it:
//
//	xml, err := libvirt.GenerateDomainXML(inst, libvirt.DomainOptions{
//	    Disks:            disks,
//	    FilterInterfaces: true,
//	})
//
// This package does not define interfaces. Consumers (internal/guest,
// internal/firewall, internal/storage) declare the subset of the libvirt API
// they need; *libvirt.Libvirt satisfies them implicitly.
package libvirt
