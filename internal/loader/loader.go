// Package loader provides functions for loading Instance resources and
// volume connection descriptors from YAML files.
package loader

import (
	"fmt"
	"net"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// LoadFromFile loads an Instance resource from a YAML file.
// The file must be in the anvil.cofront.xyz/v1alpha1 format.
func LoadFromFile(path string) (*v1alpha1.Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	return LoadFromYAML(data)
}

// LoadFromYAML loads an Instance resource from YAML bytes.
// The YAML must be in the anvil.cofront.xyz/v1alpha1 format.
func LoadFromYAML(data []byte) (*v1alpha1.Instance, error) {
	var inst v1alpha1.Instance
	if err := yaml.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if inst.APIVersion == "" {
		return nil, fmt.Errorf("missing required field: apiVersion")
	}
	if inst.Kind == "" {
		return nil, fmt.Errorf("missing required field: kind")
	}

	expectedAPIVersion := v1alpha1.GroupName + "/" + v1alpha1.Version
	if inst.APIVersion != expectedAPIVersion {
		return nil, fmt.Errorf("unsupported apiVersion: %s (expected: %s)", inst.APIVersion, expectedAPIVersion)
	}
	if inst.Kind != v1alpha1.InstanceKind {
		return nil, fmt.Errorf("unsupported kind: %s (expected: %s)", inst.Kind, v1alpha1.InstanceKind)
	}

	// Generates a UID when none was given
	inst.Normalize()

	if err := validateSpec(&inst); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &inst, nil
}

// SaveToFile saves an Instance resource, including its status, to a YAML file.
func SaveToFile(inst *v1alpha1.Instance, path string) error {
	v1alpha1.SetDefaultAPIVersion(inst)

	data, err := yaml.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}

// LoadConnectionInfo loads a single volume connection descriptor from a
// YAML or JSON file.
func LoadConnectionInfo(path string) (*v1alpha1.ConnectionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	var info v1alpha1.ConnectionInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection info: %w", err)
	}
	if err := validateConnectionInfo(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// validateSpec validates the Instance spec for required fields and consistency.
func validateSpec(inst *v1alpha1.Instance) error {
	if inst.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if _, err := uuid.Parse(inst.UID); err != nil {
		return fmt.Errorf("metadata.uid %q is not a UUID: %w", inst.UID, err)
	}

	if inst.Spec.VCPUs <= 0 {
		return fmt.Errorf("spec.vcpus must be greater than 0")
	}
	if inst.Spec.MemoryMiB <= 0 {
		return fmt.Errorf("spec.memoryMiB must be greater than 0")
	}

	vifsSeen := make(map[string]bool)
	for i, vif := range inst.Spec.Network {
		if vif.ID == "" {
			return fmt.Errorf("spec.network[%d].id is required", i)
		}
		if vifsSeen[vif.ID] {
			return fmt.Errorf("spec.network[%d].id %q is duplicated", i, vif.ID)
		}
		vifsSeen[vif.ID] = true

		if _, err := net.ParseMAC(vif.Address); err != nil {
			return fmt.Errorf("spec.network[%d].address: %w", i, err)
		}
		if vif.MTU < 0 {
			return fmt.Errorf("spec.network[%d].mtu must not be negative", i)
		}
	}

	devicesSeen := make(map[string]bool)
	for i, bdm := range inst.Spec.BlockDeviceInfo.Mapping() {
		if bdm.MountDevice == "" {
			return fmt.Errorf("spec.blockDeviceInfo.blockDeviceMapping[%d].mountDevice is required", i)
		}
		if devicesSeen[bdm.MountDevice] {
			return fmt.Errorf("spec.blockDeviceInfo.blockDeviceMapping[%d].mountDevice %q is duplicated", i, bdm.MountDevice)
		}
		devicesSeen[bdm.MountDevice] = true

		if err := validateConnectionInfo(bdm.ConnectionInfo); err != nil {
			return fmt.Errorf("spec.blockDeviceInfo.blockDeviceMapping[%d]: %w", i, err)
		}
	}

	for i, key := range inst.Spec.SSHKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("spec.sshKeys[%d]: %w", i, err)
		}
	}

	return nil
}

func validateConnectionInfo(info *v1alpha1.ConnectionInfo) error {
	if info == nil {
		return fmt.Errorf("connectionInfo is required")
	}
	if info.DriverVolumeType == "" {
		return fmt.Errorf("connectionInfo.driver_volume_type is required")
	}
	if info.Encrypted() {
		if _, ok := info.VolumeID(); !ok {
			return fmt.Errorf("connectionInfo.data.volume_id is required for encrypted volumes")
		}
	}
	return nil
}
