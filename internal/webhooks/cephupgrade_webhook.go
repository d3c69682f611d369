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

package webhooks

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	cephv1alpha1 "github.com/ceph/ceph-upgrade-controller/api/v1alpha1"
	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
	"github.com/ceph/ceph-upgrade-controller/internal/validation"
)

// CephUpgradeWebhook implements the defaulting and validating admission
// webhook for CephUpgrade, gating the C2 version policy at admission time
// instead of only at Start.
type CephUpgradeWebhook struct {
	Client    client.Client
	RPC       upgrade.ClusterRPC
	Validator *validation.UpgradeValidator
}

// +kubebuilder:webhook:path=/mutate-ceph-rook-io-v1alpha1-cephupgrade,mutating=true,failurePolicy=fail,sideEffects=None,groups=ceph.rook.io,resources=cephupgrades,verbs=create;update,versions=v1alpha1,name=mcephupgrade.kb.io,admissionReviewVersions=v1

// Default implements the defaulting webhook for CephUpgrade.
func (w *CephUpgradeWebhook) Default(ctx context.Context, obj runtime.Object) error {
	cr, ok := obj.(*cephv1alpha1.CephUpgrade)
	if !ok {
		return fmt.Errorf("expected CephUpgrade, got %T", obj)
	}

	log := ctrl.LoggerFrom(ctx).WithName("cephupgrade-webhook").WithValues("name", cr.Name)

	if cr.Spec.TargetVersion != "" && cr.Spec.TargetImage == "" {
		log.V(1).Info("target given as bare version, resolved at start against the default image repository")
	}

	return nil
}

// +kubebuilder:webhook:path=/validate-ceph-rook-io-v1alpha1-cephupgrade,mutating=false,failurePolicy=fail,sideEffects=None,groups=ceph.rook.io,resources=cephupgrades,verbs=create;update,versions=v1alpha1,name=vcephupgrade.kb.io,admissionReviewVersions=v1

// ValidateCreate implements the validation webhook for CephUpgrade creation.
func (w *CephUpgradeWebhook) ValidateCreate(ctx context.Context, obj runtime.Object) (admission.Warnings, error) {
	cr, ok := obj.(*cephv1alpha1.CephUpgrade)
	if !ok {
		return nil, fmt.Errorf("expected CephUpgrade, got %T", obj)
	}

	current, err := w.RPC.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading current cluster version: %w", err)
	}

	if allErrs := w.Validator.ValidateSpec(&cr.Spec, current); len(allErrs) > 0 {
		return nil, allErrs.ToAggregate()
	}
	return nil, nil
}

// ValidateUpdate implements the validation webhook for CephUpgrade updates.
func (w *CephUpgradeWebhook) ValidateUpdate(ctx context.Context, oldObj, newObj runtime.Object) (admission.Warnings, error) {
	newCR, ok := newObj.(*cephv1alpha1.CephUpgrade)
	if !ok {
		return nil, fmt.Errorf("expected CephUpgrade, got %T", newObj)
	}
	oldCR, ok := oldObj.(*cephv1alpha1.CephUpgrade)
	if !ok {
		return nil, fmt.Errorf("expected CephUpgrade, got %T", oldObj)
	}

	current, err := w.RPC.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading current cluster version: %w", err)
	}

	allErrs := w.Validator.ValidateSpec(&newCR.Spec, current)
	allErrs = append(allErrs, w.Validator.ValidateUpdate(&oldCR.Spec, &newCR.Spec, oldCR.Status.Phase == "InProgress")...)
	if len(allErrs) > 0 {
		return nil, allErrs.ToAggregate()
	}
	return nil, nil
}

// ValidateDelete allows all deletions.
func (w *CephUpgradeWebhook) ValidateDelete(_ context.Context, _ runtime.Object) (admission.Warnings, error) {
	return nil, nil
}

// SetupWebhookWithManager configures the webhook with the manager.
func (w *CephUpgradeWebhook) SetupWebhookWithManager(mgr ctrl.Manager) error {
	return ctrl.NewWebhookManagedBy(mgr).
		For(&cephv1alpha1.CephUpgrade{}).
		WithDefaulter(w).
		WithValidator(w).
		Complete()
}
