// Package cloudinit generates the OpenStack config-drive content that
// cloud-init's ConfigDrive datasource reads on first boot.
//
// The drive carries three files under openstack/latest/:
//   - meta_data.json: identity, hostname and public keys
//   - network_data.json: one link per VIF, matched by MAC address
//   - user_data: cloud-config YAML with hostname and SSH keys
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/configdrive.html
package cloudinit

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// MetaData is the openstack/latest/meta_data.json document.
type MetaData struct {
	UUID        string            `json:"uuid"`
	Name        string            `json:"name"`
	Hostname    string            `json:"hostname"`
	LaunchIndex int               `json:"launch_index"`
	PublicKeys  map[string]string `json:"public_keys,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// NetworkData is the openstack/latest/network_data.json document.
type NetworkData struct {
	Links    []Link    `json:"links"`
	Networks []Network `json:"networks"`
	Services []string  `json:"services"`
}

// Link is a guest NIC, identified by its MAC address.
type Link struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	EthernetMACAddress string `json:"ethernet_mac_address"`
	MTU                int    `json:"mtu,omitempty"`
	VIFID              string `json:"vif_id"`
}

// Network is the L3 configuration of a link. Only DHCP is published.
type Network struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Link      string `json:"link"`
	NetworkID string `json:"network_id"`
}

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname          string   `yaml:"hostname"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
	SSHPasswordAuth   bool     `yaml:"ssh_pwauth"`
}

// hostname derives a DNS-safe host name from the instance name.
func hostname(inst *v1alpha1.Instance) string {
	name := strings.ToLower(inst.Name)
	name = strings.SplitN(name, ".", 2)[0]
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, name)
}

// GenerateMetaData generates meta_data.json for an instance.
//
// The uuid is the instance UUID, so cloud-init treats a recreated instance
// with the same UUID as the same machine.
func GenerateMetaData(inst *v1alpha1.Instance) (string, error) {
	if inst == nil {
		return "", fmt.Errorf("instance cannot be nil")
	}

	meta := MetaData{
		UUID:     inst.UUID(),
		Name:     inst.Name,
		Hostname: hostname(inst),
		Meta:     inst.Labels,
	}

	if len(inst.Spec.SSHKeys) > 0 {
		meta.PublicKeys = make(map[string]string, len(inst.Spec.SSHKeys))
		for i, key := range inst.Spec.SSHKeys {
			meta.PublicKeys[fmt.Sprintf("key-%d", i)] = key
		}
	}

	data, err := json.Marshal(&meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta_data.json: %w", err)
	}

	return string(data), nil
}

// GenerateNetworkData generates network_data.json with one DHCP network
// per VIF.
func GenerateNetworkData(inst *v1alpha1.Instance) (string, error) {
	if inst == nil {
		return "", fmt.Errorf("instance cannot be nil")
	}

	nd := NetworkData{
		Links:    make([]Link, 0, len(inst.Spec.Network)),
		Networks: make([]Network, 0, len(inst.Spec.Network)),
		Services: []string{},
	}

	for i, vif := range inst.Spec.Network {
		linkID := fmt.Sprintf("tap%d", i)
		nd.Links = append(nd.Links, Link{
			ID:                 linkID,
			Type:               "bridge",
			EthernetMACAddress: strings.ToLower(vif.Address),
			MTU:                vif.MTU,
			VIFID:              vif.ID,
		})
		nd.Networks = append(nd.Networks, Network{
			ID:        fmt.Sprintf("network%d", i),
			Type:      "ipv4_dhcp",
			Link:      linkID,
			NetworkID: vif.ID,
		})
	}

	data, err := json.Marshal(&nd)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network_data.json: %w", err)
	}

	return string(data), nil
}

// GenerateUserData generates the user_data content.
//
// Returns the complete file content including the "#cloud-config" header.
func GenerateUserData(inst *v1alpha1.Instance) (string, error) {
	if inst == nil {
		return "", fmt.Errorf("instance cannot be nil")
	}

	userData := UserData{
		Hostname:          hostname(inst),
		SSHAuthorizedKeys: inst.Spec.SSHKeys,
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user_data to YAML: %w", err)
	}

	// Prepend #cloud-config header (required by cloud-init spec)
	return "#cloud-config\n" + string(yamlBytes), nil
}
