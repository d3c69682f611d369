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

package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	cephv1alpha1 "github.com/ceph/ceph-upgrade-controller/api/v1alpha1"
	"github.com/ceph/ceph-upgrade-controller/internal/progress"
	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

// CephUpgradeReconciler reconciles a CephUpgrade object: it translates the
// CR's spec into calls against a shared upgrade.Controller and ticks it
// once per reconcile, then projects the persisted upgrade.State back onto
// .status.
type CephUpgradeReconciler struct {
	client.Client
	Scheme       *runtime.Scheme
	Recorder     record.EventRecorder
	Upgrade      *upgrade.Controller
	ProgressSink *progress.EventSink
	HealthSink   *HealthConditionSink
	RequeueAfter time.Duration
}

const tickRequeueAfter = 15 * time.Second

//+kubebuilder:rbac:groups=ceph.rook.io,resources=cephupgrades,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=ceph.rook.io,resources=cephupgrades/status,verbs=get;update;patch
//+kubebuilder:rbac:groups=ceph.rook.io,resources=cephupgrades/finalizers,verbs=update
//+kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups="",resources=events,verbs=create;patch

func (r *CephUpgradeReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	cr := &cephv1alpha1.CephUpgrade{}
	if err := r.Get(ctx, req.NamespacedName, cr); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		logger.Error(err, "failed to get CephUpgrade")
		return ctrl.Result{}, err
	}

	if err := r.reconcileSpec(ctx, cr); err != nil {
		r.Recorder.Eventf(cr, corev1.EventTypeWarning, EventReasonReconcileFailed, "%v", err)
		return ctrl.Result{RequeueAfter: r.requeueAfter()}, err
	}

	if r.ProgressSink != nil {
		r.ProgressSink.SetTarget(cr)
	}
	if r.HealthSink != nil {
		r.HealthSink.SetTarget(client.ObjectKeyFromObject(cr))
	}

	worked, err := r.Upgrade.Tick(ctx)
	if err != nil {
		logger.Error(err, "upgrade tick failed")
		r.Recorder.Eventf(cr, corev1.EventTypeWarning, EventReasonUpgradeFailed, "%v", err)
	}
	if worked {
		logger.V(1).Info("upgrade tick made progress")
	}

	if err := r.refreshStatus(ctx, cr); err != nil {
		logger.Error(err, "failed to refresh status")
		return ctrl.Result{RequeueAfter: r.requeueAfter()}, err
	}

	return ctrl.Result{RequeueAfter: tickRequeueAfter}, nil
}

// reconcileSpec drives the imperative control surface from the
// declarative spec: it starts, pauses, resumes, or stops the shared
// upgrade.Controller to match cr.Spec, tolerating the idempotent/no-op
// responses each of those calls already defines.
func (r *CephUpgradeReconciler) reconcileSpec(ctx context.Context, cr *cephv1alpha1.CephUpgrade) error {
	if cr.Spec.Stop {
		if err := r.Upgrade.Stop(ctx); err != nil {
			return fmt.Errorf("stopping upgrade: %w", err)
		}
		r.Recorder.Event(cr, corev1.EventTypeNormal, EventReasonUpgradeStopped, "upgrade stopped on request")
		return nil
	}

	status, err := r.Upgrade.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading upgrade status: %w", err)
	}

	if !status.InProgress {
		if cr.Spec.TargetImage == "" && cr.Spec.TargetVersion == "" {
			return nil
		}
		if err := r.Upgrade.Start(ctx, cr.Spec.TargetImage, cr.Spec.TargetVersion); err != nil {
			if isPrecondition(err) {
				return err
			}
			return fmt.Errorf("starting upgrade: %w", err)
		}
		r.Recorder.Event(cr, corev1.EventTypeNormal, EventReasonUpgradeStarted, "upgrade started")
		return nil
	}

	if cr.Spec.Paused {
		if err := r.Upgrade.Pause(ctx); err != nil && !errors.Is(err, upgrade.ErrNotInProgress) {
			return fmt.Errorf("pausing upgrade: %w", err)
		}
		r.Recorder.Event(cr, corev1.EventTypeNormal, EventReasonUpgradePaused, "upgrade paused")
		return nil
	}

	if err := r.Upgrade.Resume(ctx); err != nil && !errors.Is(err, upgrade.ErrNotInProgress) {
		return fmt.Errorf("resuming upgrade: %w", err)
	}
	return nil
}

func isPrecondition(err error) bool {
	var pc *upgrade.ErrPreconditionFailed
	return errors.As(err, &pc)
}

// refreshStatus projects the current upgrade.Status onto cr.Status and
// patches it using a read-modify-patch against the cached object.
func (r *CephUpgradeReconciler) refreshStatus(ctx context.Context, cr *cephv1alpha1.CephUpgrade) error {
	status, err := r.Upgrade.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading upgrade status: %w", err)
	}

	phase := "NotStarted"
	switch {
	case !status.InProgress:
		phase = "NotStarted"
	case status.Message == "paused":
		phase = "Paused"
	case status.Message != "":
		phase = "Failed"
	default:
		phase = "InProgress"
	}

	patch := client.MergeFrom(cr.DeepCopy())
	cr.Status.Phase = phase
	cr.Status.TargetImage = status.TargetImage
	cr.Status.ProgressID = status.ProgressString
	cr.Status.Message = status.Message
	cr.Status.ServicesComplete = status.ServicesComplete
	now := metav1.Now()
	cr.Status.LastTransitionTime = &now

	condStatus, reason := PhaseToConditionStatus(phase)
	SetReadyCondition(&cr.Status.Conditions, cr.Generation, condStatus, reason, status.Message)

	return r.Status().Patch(ctx, cr, patch)
}

func (r *CephUpgradeReconciler) requeueAfter() time.Duration {
	if r.RequeueAfter > 0 {
		return r.RequeueAfter
	}
	return tickRequeueAfter
}

// SetupWithManager sets up the controller with the Manager.
func (r *CephUpgradeReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&cephv1alpha1.CephUpgrade{}).
		WithOptions(controller.Options{
			MaxConcurrentReconciles: 1,
			RateLimiter: workqueue.NewTypedMaxOfRateLimiter(
				workqueue.NewTypedItemExponentialFailureRateLimiter[reconcile.Request](5*time.Second, 30*time.Second),
				&workqueue.TypedBucketRateLimiter[reconcile.Request]{
					Limiter: rate.NewLimiter(rate.Every(6*time.Second), 10),
				},
			),
		}).
		Complete(r)
}
