package storage

// VolumeInfo contains information about a storage volume.
type VolumeInfo struct {
	Name       string // Volume name
	Path       string // Full path to volume
	Pool       string // Pool name
	Capacity   uint64 // Capacity in bytes
	Allocation uint64 // Allocated space in bytes
}

// CapacityGB returns the volume capacity in GB.
func (v *VolumeInfo) CapacityGB() float64 {
	return float64(v.Capacity) / (1024 * 1024 * 1024)
}

// AllocationGB returns the volume allocation in GB.
func (v *VolumeInfo) AllocationGB() float64 {
	return float64(v.Allocation) / (1024 * 1024 * 1024)
}

// DefaultPool is the pool instance-local disks live in when none is configured.
const DefaultPool = "default"
