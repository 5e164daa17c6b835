// Package disk handles instance-local disks that must exist on the host
// while the domain is being created, such as the config drive.
//
// A Handler is entered right before the domain is created and the returned
// Scope is released on every exit path, whether creation succeeded or not.
package disk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/cloudinit"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/naming"
)

const (
	// DirPermissions are the permissions for instance directories
	DirPermissions = 0755

	// FilePermissions are the permissions for instance disk files
	FilePermissions = 0644
)

// Handler prepares instance-local disks for domain creation.
type Handler interface {
	Enter(ctx context.Context, inst *v1alpha1.Instance) (Scope, error)
}

// Scope is an entered Handler. Release must be called exactly once.
type Scope interface {
	Release() error
}

// NoopHandler is used when the instance has no host-local disks.
type NoopHandler struct{}

// Enter implements Handler.
func (NoopHandler) Enter(context.Context, *v1alpha1.Instance) (Scope, error) {
	return noopScope{}, nil
}

type noopScope struct{}

func (noopScope) Release() error { return nil }

// ConfigDriveHandler writes the config-drive ISO to
// <instances path>/<uuid>/disk.config.
type ConfigDriveHandler struct {
	InstancesPath string

	// Owner resolves the uid/gid the disk file is handed to. Nil leaves
	// ownership unchanged.
	Owner func() (uid, gid string, err error)

	Log logrus.FieldLogger
}

// NewConfigDriveHandler returns a handler that chowns the drive to the
// qemu user.
func NewConfigDriveHandler(instancesPath string, log logrus.FieldLogger) *ConfigDriveHandler {
	return &ConfigDriveHandler{
		InstancesPath: instancesPath,
		Owner:         QEMUUserGroup,
		Log:           logging.Ensure(log),
	}
}

// Enter builds the ISO and writes it next to the rest of the instance
// state. The image is staged under a temporary name and renamed into place
// so the domain never sees a partial file.
func (h *ConfigDriveHandler) Enter(ctx context.Context, inst *v1alpha1.Instance) (Scope, error) {
	log := logging.ForInstance(h.Log, inst.UUID())

	dir := naming.InstanceDir(h.InstancesPath, inst.UUID())
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create instance directory %s: %w", dir, err)
	}

	isoData, err := cloudinit.GenerateISO(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to generate config drive: %w", err)
	}

	path := naming.ConfigDrivePath(h.InstancesPath, inst.UUID())
	scope := &configDriveScope{staging: path + ".tmp", log: log}

	if err := os.WriteFile(scope.staging, isoData, FilePermissions); err != nil {
		_ = scope.Release()
		return nil, fmt.Errorf("failed to write config drive %s: %w", scope.staging, err)
	}

	if h.Owner != nil {
		if err := chown(scope.staging, h.Owner); err != nil {
			// libvirt's dynamic ownership usually fixes this up on start.
			log.WithError(err).Warnf("Failed to set ownership on %s", scope.staging)
		}
	}

	if err := os.Rename(scope.staging, path); err != nil {
		_ = scope.Release()
		return nil, fmt.Errorf("failed to move config drive into place: %w", err)
	}

	log.Debugf("Wrote config drive %s (%d bytes)", path, len(isoData))
	return scope, nil
}

type configDriveScope struct {
	staging string
	log     logrus.FieldLogger
}

// Release removes the staging file if it is still around.
func (s *configDriveScope) Release() error {
	if err := os.Remove(s.staging); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", s.staging, err)
	}
	return nil
}

func chown(path string, owner func() (string, string, error)) error {
	uidStr, gidStr, err := owner()
	if err != nil && uidStr == "" {
		return err
	}
	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return fmt.Errorf("invalid uid %q: %w", uidStr, err)
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return fmt.Errorf("invalid gid %q: %w", gidStr, err)
	}
	return os.Chown(path, uid, gid)
}

// RemoveInstanceDir removes the instance directory and all its contents.
// A missing directory is not an error.
func RemoveInstanceDir(instancesPath, instanceUUID string) error {
	if instanceUUID == "" || filepath.Base(instanceUUID) != instanceUUID {
		return fmt.Errorf("invalid instance uuid %q", instanceUUID)
	}

	dir := naming.InstanceDir(instancesPath, instanceUUID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete instance directory %s: %w", dir, err)
	}

	return nil
}
