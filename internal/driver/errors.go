package driver

import "fmt"

// VirtualInterfaceCreateError means the network backend failed to plug a
// VIF, or never confirmed it when plugging is fatal.
type VirtualInterfaceCreateError struct {
	InstanceUUID string
	Reason       string
}

func (e *VirtualInterfaceCreateError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("virtual interface creation failed for instance %s", e.InstanceUUID)
	}
	return fmt.Sprintf("virtual interface creation failed for instance %s: %s", e.InstanceUUID, e.Reason)
}
