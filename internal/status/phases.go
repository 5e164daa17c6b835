package status

import (
	"fmt"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// TransitionToSpawning transitions the instance phase to Spawning.
// This should be called when a start attempt begins.
func TransitionToSpawning(inst *v1alpha1.Instance) error {
	// A failed or stopped instance may be started again
	switch inst.GetPhase() {
	case v1alpha1.InstancePhasePending, v1alpha1.InstancePhaseStopped, v1alpha1.InstancePhaseFailed:
	default:
		return fmt.Errorf("cannot transition to Spawning from phase %s", inst.GetPhase())
	}

	inst.SetPhase(v1alpha1.InstancePhaseSpawning)
	SetCondition(inst, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Spawning", "Instance start in progress")
	return nil
}

// TransitionToRunning transitions the instance phase to Running.
// This should be called when the guest has been created and resumed.
func TransitionToRunning(inst *v1alpha1.Instance) error {
	if inst.GetPhase() != v1alpha1.InstancePhaseSpawning {
		return fmt.Errorf("cannot transition to Running from phase %s", inst.GetPhase())
	}

	inst.SetPhase(v1alpha1.InstancePhaseRunning)
	SetCondition(inst, v1alpha1.ConditionReady, v1alpha1.ConditionTrue, "GuestRunning", "Guest is running")
	inst.UpdateObservedGeneration()
	return nil
}

// TransitionToStopped transitions the instance phase to Stopped.
// This is used when the guest was defined but not powered on.
func TransitionToStopped(inst *v1alpha1.Instance) error {
	phase := inst.GetPhase()
	if phase != v1alpha1.InstancePhaseSpawning && phase != v1alpha1.InstancePhaseRunning {
		return fmt.Errorf("cannot transition to Stopped from phase %s", phase)
	}

	inst.SetPhase(v1alpha1.InstancePhaseStopped)
	SetCondition(inst, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Stopped", "Guest is defined but not running")
	inst.UpdateObservedGeneration()
	return nil
}

// TransitionToFailed transitions the instance phase to Failed.
// This can happen from any phase when an error occurs.
func TransitionToFailed(inst *v1alpha1.Instance, reason, message string) {
	inst.SetPhase(v1alpha1.InstancePhaseFailed)
	SetCondition(inst, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, reason, message)
}

// IsTerminal returns true if the phase is terminal (Stopped or Failed).
func IsTerminal(phase v1alpha1.InstancePhase) bool {
	return phase == v1alpha1.InstancePhaseStopped || phase == v1alpha1.InstancePhaseFailed
}

// IsRunning returns true if the instance is running.
func IsRunning(phase v1alpha1.InstancePhase) bool {
	return phase == v1alpha1.InstancePhaseRunning
}
