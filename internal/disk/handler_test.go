package disk

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/kdomanski/iso9660"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/cloudinit"
	"github.com/jbweber/anvil/internal/naming"
)

func newTestInstance() *v1alpha1.Instance {
	inst := v1alpha1.NewInstance("web-1")
	inst.UID = "6f1c8d2e-3a4b-4c5d-8e9f-0a1b2c3d4e5f"
	inst.Spec.Network = v1alpha1.NetworkInfo{{ID: "port-a", Address: "fa:16:3e:00:00:01", Bridge: "br-int"}}
	return inst
}

func currentOwner() (string, string, error) {
	return strconv.Itoa(os.Getuid()), strconv.Itoa(os.Getgid()), nil
}

func TestNoopHandler(t *testing.T) {
	scope, err := NoopHandler{}.Enter(context.Background(), newTestInstance())
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	if err := scope.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestConfigDriveHandler_Enter(t *testing.T) {
	dir := t.TempDir()
	inst := newTestInstance()
	h := &ConfigDriveHandler{InstancesPath: dir, Owner: currentOwner}

	scope, err := h.Enter(context.Background(), inst)
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}

	path := naming.ConfigDrivePath(dir, inst.UUID())
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config drive not written: %v", err)
	}

	img, err := iso9660.OpenImage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("config drive is not an ISO: %v", err)
	}
	label, err := img.Label()
	if err != nil {
		t.Fatalf("failed to read label: %v", err)
	}
	if !strings.EqualFold(label, cloudinit.VolumeLabel) {
		t.Errorf("label = %q, want %q", label, cloudinit.VolumeLabel)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("staging file left behind: %v", err)
	}

	if err := scope.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Release() must keep the config drive: %v", err)
	}
}

func TestConfigDriveHandler_OwnerFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	h := &ConfigDriveHandler{
		InstancesPath: dir,
		Owner:         func() (string, string, error) { return "", "", errors.New("no qemu user") },
	}

	scope, err := h.Enter(context.Background(), newTestInstance())
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	_ = scope.Release()
}

func TestConfigDriveHandler_UnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	h := &ConfigDriveHandler{InstancesPath: blocker}
	if _, err := h.Enter(context.Background(), newTestInstance()); err == nil {
		t.Error("expected error when the instances path is a file")
	}
}

func TestConfigDriveScope_ReleaseRemovesStaging(t *testing.T) {
	staging := filepath.Join(t.TempDir(), "disk.config.tmp")
	if err := os.WriteFile(staging, []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	s := &configDriveScope{staging: staging}
	if err := s.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Error("staging file not removed")
	}

	// Second release is a no-op.
	if err := s.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestRemoveInstanceDir(t *testing.T) {
	dir := t.TempDir()
	inst := newTestInstance()
	instDir := naming.InstanceDir(dir, inst.UUID())
	if err := os.MkdirAll(instDir, DirPermissions); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(instDir, "disk.config"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := RemoveInstanceDir(dir, inst.UUID()); err != nil {
		t.Fatalf("RemoveInstanceDir() error = %v", err)
	}
	if _, err := os.Stat(instDir); !os.IsNotExist(err) {
		t.Error("instance directory still exists")
	}

	// Missing directory is fine.
	if err := RemoveInstanceDir(dir, inst.UUID()); err != nil {
		t.Errorf("RemoveInstanceDir() on missing dir error = %v", err)
	}
}

func TestRemoveInstanceDir_InvalidUUID(t *testing.T) {
	for _, id := range []string{"", "../etc", "a/b"} {
		if err := RemoveInstanceDir(t.TempDir(), id); err == nil {
			t.Errorf("RemoveInstanceDir(%q) expected error", id)
		}
	}
}
