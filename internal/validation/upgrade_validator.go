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

package validation

import (
	"k8s.io/apimachinery/pkg/util/validation/field"

	cephv1alpha1 "github.com/ceph/ceph-upgrade-controller/api/v1alpha1"
	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

// UpgradeValidator validates CephUpgrade resources against the same
// version policy (C2) the controller itself enforces at Start time, so
// admission rejects an invalid spec before it is ever persisted.
type UpgradeValidator struct{}

// NewUpgradeValidator creates a new upgrade validator.
func NewUpgradeValidator() *UpgradeValidator {
	return &UpgradeValidator{}
}

// ValidateSpec validates a CephUpgradeSpec in isolation: exactly one of
// TargetImage/TargetVersion must be set, and a given TargetVersion must
// clear the version-policy floor and forward-jump checks against current.
func (v *UpgradeValidator) ValidateSpec(spec *cephv1alpha1.CephUpgradeSpec, current upgrade.ClusterVersion) field.ErrorList {
	var allErrs field.ErrorList
	specPath := field.NewPath("spec")

	if spec.Stop {
		return allErrs
	}

	if spec.TargetImage == "" && spec.TargetVersion == "" {
		allErrs = append(allErrs, field.Required(specPath, "one of targetImage or targetVersion must be set"))
		return allErrs
	}
	if spec.TargetImage != "" && spec.TargetVersion != "" {
		allErrs = append(allErrs, field.Invalid(specPath, spec, "targetImage and targetVersion are mutually exclusive"))
		return allErrs
	}

	if spec.TargetVersion != "" {
		if reason := upgrade.CheckTargetVersion(spec.TargetVersion, current); reason != "" {
			allErrs = append(allErrs, field.Invalid(specPath.Child("targetVersion"), spec.TargetVersion, reason))
		}
	}

	return allErrs
}

// ValidateUpdate validates a spec transition: once an upgrade's target is
// set it may not be changed to a different target while in progress
// (mirroring Controller.Start's ErrDifferentTargetInProgress), though
// pausing, resuming, and stopping remain always legal.
func (v *UpgradeValidator) ValidateUpdate(oldSpec, newSpec *cephv1alpha1.CephUpgradeSpec, inProgress bool) field.ErrorList {
	var allErrs field.ErrorList
	if !inProgress || newSpec.Stop {
		return allErrs
	}
	if oldTarget(oldSpec) != "" && oldTarget(oldSpec) != oldTarget(newSpec) {
		allErrs = append(allErrs, field.Invalid(
			field.NewPath("spec"),
			newSpec,
			"cannot change target while an upgrade to a different target is in progress",
		))
	}
	return allErrs
}

func oldTarget(spec *cephv1alpha1.CephUpgradeSpec) string {
	if spec.TargetImage != "" {
		return spec.TargetImage
	}
	return spec.TargetVersion
}
