// Package storage manages instance-owned volumes in a libvirt storage pool.
//
// Instance-local disks are named "<instance uuid>_<disk>" (see
// naming.VolumeNameDisk), so every volume an instance owns can be found by
// prefix. The package is used when a failed start asks for its disks to be
// destroyed and by the "anvil disks" command.
//
// Example:
//
//	mgr := storage.NewManager(client.Libvirt(), log)
//	deleted, err := mgr.DeleteInstanceVolumes(ctx, "default", inst.UUID())
package storage
