package v1alpha1

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestNewInstance(t *testing.T) {
	inst := NewInstance("web-1")

	if inst.APIVersion != "anvil.cofront.xyz/v1alpha1" {
		t.Errorf("Expected APIVersion 'anvil.cofront.xyz/v1alpha1', got %s", inst.APIVersion)
	}
	if inst.Kind != "Instance" {
		t.Errorf("Expected Kind 'Instance', got %s", inst.Kind)
	}
	if inst.UID == "" {
		t.Error("Expected UID to be set")
	}
	if inst.Generation != 1 {
		t.Errorf("Expected Generation 1, got %d", inst.Generation)
	}
	if inst.CreationTimestamp.IsZero() {
		t.Error("Expected CreationTimestamp to be set")
	}
	if !inst.IsPowerOn() {
		t.Error("Expected power on by default")
	}
	if inst.GetPhase() != InstancePhasePending {
		t.Errorf("Expected phase Pending, got %s", inst.GetPhase())
	}
	if inst.DomainName() != "instance-"+inst.UID {
		t.Errorf("Unexpected domain name %s", inst.DomainName())
	}
}

func TestSetDefaultAPIVersion(t *testing.T) {
	inst := &Instance{TypeMeta: TypeMeta{Kind: "Custom"}}
	SetDefaultAPIVersion(inst)

	if inst.APIVersion != GroupName+"/"+Version {
		t.Errorf("Expected default APIVersion, got %s", inst.APIVersion)
	}
	if inst.Kind != "Custom" {
		t.Errorf("Expected Kind to be preserved, got %s", inst.Kind)
	}
}

func TestInstance_Normalize(t *testing.T) {
	off := false
	inst := &Instance{ObjectMeta: ObjectMeta{Name: "  Web-1 "}}
	inst.Normalize()

	if inst.Name != "web-1" {
		t.Errorf("Expected name 'web-1', got %q", inst.Name)
	}
	if inst.UID == "" {
		t.Error("Expected UID to be generated")
	}
	if !inst.IsPowerOn() {
		t.Error("Expected PowerOn default true")
	}

	inst = &Instance{ObjectMeta: ObjectMeta{UID: "fixed"}, Spec: InstanceSpec{PowerOn: &off}}
	inst.Normalize()
	if inst.UID != "fixed" {
		t.Errorf("Expected UID to be kept, got %s", inst.UID)
	}
	if inst.IsPowerOn() {
		t.Error("Expected explicit PowerOn=false to be kept")
	}
}

func TestVIF_IsActive(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name string
		vif  VIF
		want bool
	}{
		{name: "unset counts as active", vif: VIF{ID: "a"}, want: true},
		{name: "active", vif: VIF{ID: "a", Active: &yes}, want: true},
		{name: "inactive", vif: VIF{ID: "a", Active: &no}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.vif.IsActive(); got != tt.want {
				t.Errorf("IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConnectionInfo_Encrypted(t *testing.T) {
	tests := []struct {
		name string
		info *ConnectionInfo
		want bool
	}{
		{name: "nil info", info: nil, want: false},
		{name: "no data", info: &ConnectionInfo{}, want: false},
		{name: "key absent", info: &ConnectionInfo{Data: map[string]interface{}{"name": "pool/vol"}}, want: false},
		{name: "true", info: &ConnectionInfo{Data: map[string]interface{}{"encrypted": true}}, want: true},
		{name: "false", info: &ConnectionInfo{Data: map[string]interface{}{"encrypted": false}}, want: false},
		{name: "string true is not boolean true", info: &ConnectionInfo{Data: map[string]interface{}{"encrypted": "true"}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Encrypted(); got != tt.want {
				t.Errorf("Encrypted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConnectionInfo_DevicePath(t *testing.T) {
	info := &ConnectionInfo{DriverVolumeType: "rbd"}
	if info.DevicePath() != "" {
		t.Errorf("Expected empty device path, got %s", info.DevicePath())
	}

	info.SetDevicePath("/dev/rbd-volume-v1")
	if info.DevicePath() != "/dev/rbd-volume-v1" {
		t.Errorf("Expected device path to be recorded, got %s", info.DevicePath())
	}

	if _, ok := info.VolumeID(); ok {
		t.Error("Expected no volume id")
	}
	info.Data["volume_id"] = "v1"
	if id, ok := info.VolumeID(); !ok || id != "v1" {
		t.Errorf("VolumeID() = %q, %v", id, ok)
	}
}

func TestBlockDeviceInfo_FromYAML(t *testing.T) {
	input := `
apiVersion: anvil.cofront.xyz/v1alpha1
kind: Instance
metadata:
  name: db-1
  uid: 0b7e9c52-3f0a-4a6e-8a41-5e2d9b6f1c70
spec:
  vcpus: 2
  memoryMiB: 4096
  network:
    - id: port-1
      address: "52:54:00:aa:bb:cc"
      bridge: br-int
      active: false
  blockDeviceInfo:
    blockDeviceMapping:
      - mountDevice: /dev/vdb
        connectionInfo:
          driver_volume_type: rbd
          data:
            volume_id: v1
            name: volumes/volume-v1
            encrypted: true
`
	var inst Instance
	if err := yaml.Unmarshal([]byte(input), &inst); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	mapping := inst.Spec.BlockDeviceInfo.Mapping()
	if len(mapping) != 1 {
		t.Fatalf("Expected 1 mapping, got %d", len(mapping))
	}
	if !mapping[0].ConnectionInfo.Encrypted() {
		t.Error("Expected volume to be encrypted")
	}
	if inst.Spec.Network[0].IsActive() {
		t.Error("Expected VIF to be inactive")
	}

	var empty *BlockDeviceInfo
	if empty.Mapping() != nil {
		t.Error("Expected nil mapping for nil block device info")
	}
}
