// Package status manages Instance status fields: conditions and phase
// transitions of a start attempt.
package status

import (
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// SetCondition adds or updates a condition in the instance status.
// If a condition with the same type already exists, it updates it.
// The LastTransitionTime is only updated if the status changes.
func SetCondition(inst *v1alpha1.Instance, condType string, status v1alpha1.ConditionStatus, reason, message string) {
	now := v1alpha1.Time{Time: time.Now()}

	for i := range inst.Status.Conditions {
		if inst.Status.Conditions[i].Type != condType {
			continue
		}
		existing := &inst.Status.Conditions[i]

		// Only update LastTransitionTime if status changed
		if existing.Status != status {
			existing.LastTransitionTime = now
		}

		existing.Status = status
		existing.Reason = reason
		existing.Message = message
		existing.ObservedGeneration = inst.Generation
		return
	}

	inst.Status.Conditions = append(inst.Status.Conditions, v1alpha1.Condition{
		Type:               condType,
		Status:             status,
		ObservedGeneration: inst.Generation,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	})
}

// GetCondition returns a condition by type, or nil if not found.
func GetCondition(inst *v1alpha1.Instance, condType string) *v1alpha1.Condition {
	for i := range inst.Status.Conditions {
		if inst.Status.Conditions[i].Type == condType {
			return &inst.Status.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue returns true if the condition exists and has status True.
func IsConditionTrue(inst *v1alpha1.Instance, condType string) bool {
	cond := GetCondition(inst, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionTrue
}

// IsConditionFalse returns true if the condition exists and has status False.
func IsConditionFalse(inst *v1alpha1.Instance, condType string) bool {
	cond := GetCondition(inst, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionFalse
}

// RemoveCondition removes a condition by type.
func RemoveCondition(inst *v1alpha1.Instance, condType string) {
	filtered := make([]v1alpha1.Condition, 0, len(inst.Status.Conditions))
	for _, cond := range inst.Status.Conditions {
		if cond.Type != condType {
			filtered = append(filtered, cond)
		}
	}
	inst.Status.Conditions = filtered
}

// MarkVolumesAttached marks every block device as connected.
func MarkVolumesAttached(inst *v1alpha1.Instance) {
	SetCondition(inst, v1alpha1.ConditionVolumesAttached, v1alpha1.ConditionTrue, "VolumesConnected", "All volumes connected")
}

// MarkVolumesFailed records a volume connection failure.
func MarkVolumesFailed(inst *v1alpha1.Instance, err error) {
	SetCondition(inst, v1alpha1.ConditionVolumesAttached, v1alpha1.ConditionFalse, "VolumeConnectFailed", err.Error())
}

// MarkNetworkPlugged marks the VIFs as plugged.
// timedOut records that confirmations never arrived but the start went on.
func MarkNetworkPlugged(inst *v1alpha1.Instance, timedOut bool) {
	if timedOut {
		SetCondition(inst, v1alpha1.ConditionNetworkPlugged, v1alpha1.ConditionUnknown, "PlugUnconfirmed", "Timed out waiting for vif plugging")
		return
	}
	SetCondition(inst, v1alpha1.ConditionNetworkPlugged, v1alpha1.ConditionTrue, "Plugged", "Network interfaces plugged")
}

// MarkNetworkFailed records a VIF plugging failure.
func MarkNetworkFailed(inst *v1alpha1.Instance, err error) {
	SetCondition(inst, v1alpha1.ConditionNetworkPlugged, v1alpha1.ConditionFalse, "PlugFailed", err.Error())
}
