// Package controller reconciles CephUpgrade resources against
// internal/upgrade.Controller, and provides the shared condition helpers
// the reconciler uses to project upgrade.Status onto .status.conditions.
package controller

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Standard condition types following Kubernetes API conventions.
const (
	ConditionTypeReady       = "Ready"
	ConditionTypeProgressing = "Progressing"
	ConditionTypeDegraded    = "Degraded"
)

// Reason constants for the Ready condition.
const (
	ConditionReasonNotStarted = "NotStarted"
	ConditionReasonInProgress = "UpgradeInProgress"
	ConditionReasonPaused     = "UpgradePaused"
	ConditionReasonCompleted  = "UpgradeCompleted"
	ConditionReasonFailed     = "UpgradeFailed"
)

// PhaseToConditionStatus maps a CephUpgradeStatus.Phase to a ConditionStatus
// and Ready condition reason.
func PhaseToConditionStatus(phase string) (metav1.ConditionStatus, string) {
	switch phase {
	case "Completed":
		return metav1.ConditionTrue, ConditionReasonCompleted
	case "Failed":
		return metav1.ConditionFalse, ConditionReasonFailed
	case "Paused":
		return metav1.ConditionUnknown, ConditionReasonPaused
	case "InProgress":
		return metav1.ConditionUnknown, ConditionReasonInProgress
	default:
		return metav1.ConditionUnknown, ConditionReasonNotStarted
	}
}

// SetReadyCondition sets the standard "Ready" condition on a conditions
// slice. It preserves LastTransitionTime when status and reason are
// unchanged. Returns true if the condition was changed.
func SetReadyCondition(conditions *[]metav1.Condition, generation int64, status metav1.ConditionStatus, reason, message string) bool {
	return SetNamedCondition(conditions, ConditionTypeReady, generation, status, reason, message)
}

// SetNamedCondition upserts any named condition type on a conditions slice.
// It preserves LastTransitionTime when status and reason are unchanged.
// Returns true if the condition changed.
func SetNamedCondition(conditions *[]metav1.Condition, condType string, generation int64, status metav1.ConditionStatus, reason, message string) bool {
	existing := findCondition(*conditions, condType)
	if existing != nil && existing.Status == status && existing.Reason == reason {
		existing.ObservedGeneration = generation
		existing.Message = message
		return false
	}
	newCond := metav1.Condition{
		Type:               condType,
		Status:             status,
		ObservedGeneration: generation,
		LastTransitionTime: metav1.Now(),
		Reason:             reason,
		Message:            message,
	}
	*conditions = upsertCondition(*conditions, newCond)
	return true
}

func findCondition(conditions []metav1.Condition, condType string) *metav1.Condition {
	for i := range conditions {
		if conditions[i].Type == condType {
			return &conditions[i]
		}
	}
	return nil
}

func upsertCondition(conditions []metav1.Condition, cond metav1.Condition) []metav1.Condition {
	for i := range conditions {
		if conditions[i].Type == cond.Type {
			conditions[i] = cond
			return conditions
		}
	}
	return append(conditions, cond)
}
