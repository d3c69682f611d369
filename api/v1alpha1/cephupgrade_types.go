/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// EDIT THIS FILE!  THIS IS SCAFFOLDING FOR YOU TO OWN!
// NOTE: json tags are required.  Any new fields you add must have json tags for the fields to be serialized.

// CephUpgradeSpec defines the desired target of a rolling Ceph upgrade.
// It is the declarative mirror of cephadmctl's start/pause/resume/stop
// imperative surface: a reconcile loop drives the same Controller these
// commands drive directly.
type CephUpgradeSpec struct {
	// TargetImage is a fully-qualified container image reference
	// (registry/repo[:tag][@digest]) to upgrade every daemon to. Exactly
	// one of TargetImage or TargetVersion must be set.
	// +optional
	TargetImage string `json:"targetImage,omitempty"`

	// TargetVersion is a short Ceph release version ("16.2.5") resolved
	// against the default image repository. Exactly one of TargetImage
	// or TargetVersion must be set.
	// +optional
	TargetVersion string `json:"targetVersion,omitempty"`

	// Paused suspends the upgrade loop without abandoning progress. The
	// controller stops touching daemons but keeps the persisted state.
	// +kubebuilder:default=false
	Paused bool `json:"paused,omitempty"`

	// Stop unconditionally tears down any in-progress upgrade tracked for
	// this resource, clearing persisted state and health alerts.
	// +kubebuilder:default=false
	Stop bool `json:"stop,omitempty"`

	// PreferDigestAddressing is stored on the resource but not read by the
	// reconciler; digest rather than tag addressing is chosen for the whole
	// controller by its --prefer-digest-addressing flag.
	// +kubebuilder:default=false
	PreferDigestAddressing bool `json:"preferDigestAddressing,omitempty"`
}

// CephUpgradeStatus is the observed state of a CephUpgrade, a read-only
// projection of internal/upgrade.Status and the persisted upgrade state.
type CephUpgradeStatus struct {
	// Conditions represent the current state of the upgrade.
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// Phase is a short, human-oriented summary of where the upgrade loop
	// currently stands.
	// +kubebuilder:validation:Enum=NotStarted;InProgress;Paused;Completed;Failed
	Phase string `json:"phase,omitempty"`

	// TargetImage is the fully resolved image reference the loop is
	// driving every daemon toward.
	TargetImage string `json:"targetImage,omitempty"`

	// ProgressID is the orchestrator progress-event identifier for this
	// upgrade run, stable for the lifetime of one upgrade.
	ProgressID string `json:"progressId,omitempty"`

	// Message carries the last error summary or a short progress note.
	Message string `json:"message,omitempty"`

	// ServicesComplete is copied from upgrade.Status.ServicesComplete.
	// Controller.Status does not fill that list, so it is always empty.
	ServicesComplete []string `json:"servicesComplete,omitempty"`

	// LastTransitionTime records when Phase last changed.
	LastTransitionTime *metav1.Time `json:"lastTransitionTime,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Target",type=string,JSONPath=`.status.targetImage`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Paused",type=boolean,JSONPath=`.spec.paused`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// CephUpgrade is the Schema for the cephupgrades API
type CephUpgrade struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   CephUpgradeSpec   `json:"spec,omitempty"`
	Status CephUpgradeStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// CephUpgradeList contains a list of CephUpgrade
type CephUpgradeList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []CephUpgrade `json:"items"`
}

func init() {
	SchemeBuilder.Register(&CephUpgrade{}, &CephUpgradeList{})
}
