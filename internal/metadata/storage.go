// Package metadata stores Instance resources in libvirt's custom XML domain
// metadata, so the spec a guest was started from persists with the domain
// and a later cleanup can recover its VIFs and volumes without any other
// state.
package metadata

import (
	"encoding/xml"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
)

const (
	// MetadataNamespace is the XML namespace for anvil metadata.
	MetadataNamespace = "http://anvil.cofront.xyz/v1alpha1"

	// MetadataKey is the key used to store/retrieve metadata from libvirt.
	MetadataKey = "anvil-instance"
)

// LibvirtClient is the subset of *libvirt.Libvirt used for domain metadata.
type LibvirtClient interface {
	DomainSetMetadata(Dom libvirt.Domain, Type int32, Metadata libvirt.OptString, Key libvirt.OptString, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (string, error)
}

// InstanceMetadata is the XML element holding the Instance serialized as
// YAML, readable when inspecting the domain XML directly.
type InstanceMetadata struct {
	XMLName  xml.Name `xml:"instance"`
	Xmlns    string   `xml:"xmlns,attr"`
	SpecYAML string   `xml:",chardata"`
}

// Store saves inst to the domain metadata, replacing any previous value.
// Status is not stored; it describes one start attempt only.
func Store(l LibvirtClient, domain libvirt.Domain, inst *v1alpha1.Instance) error {
	stored := *inst
	stored.Status = v1alpha1.InstanceStatus{}
	v1alpha1.SetDefaultAPIVersion(&stored)

	yamlData, err := yaml.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal instance to YAML: %w", err)
	}

	xmlData, err := xml.MarshalIndent(InstanceMetadata{
		Xmlns:    MetadataNamespace,
		SpecYAML: string(yamlData),
	}, "  ", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata to XML: %w", err)
	}

	err = l.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{string(xmlData)},
		libvirt.OptString{MetadataKey},
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		return fmt.Errorf("failed to set libvirt domain metadata: %w", err)
	}

	return nil
}

// Load retrieves the Instance stored on a domain.
func Load(l LibvirtClient, domain libvirt.Domain) (*v1alpha1.Instance, error) {
	xmlStr, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get libvirt domain metadata: %w", err)
	}

	var meta InstanceMetadata
	if err := xml.Unmarshal([]byte(xmlStr), &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}

	var inst v1alpha1.Instance
	if err := yaml.Unmarshal([]byte(meta.SpecYAML), &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance from YAML: %w", err)
	}

	return &inst, nil
}

// Exists checks if anvil metadata exists for a domain.
func Exists(l LibvirtClient, domain libvirt.Domain) bool {
	_, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainAffectConfig,
	)
	return err == nil
}
