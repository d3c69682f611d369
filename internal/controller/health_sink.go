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
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"

	cephv1alpha1 "github.com/ceph/ceph-upgrade-controller/api/v1alpha1"
	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

// alertConditionType maps each stable alert code to a Kubernetes-condition
// type name, so the five externally-documented codes (§6/§7) also show up
// as a named .status.conditions entry, not just an Event.
var alertConditionType = map[upgrade.AlertCode]string{
	upgrade.AlertNoStandbyMgr:     "NoStandbyManager",
	upgrade.AlertFailedPull:       "FailedPull",
	upgrade.AlertRedeployDaemon:   "RedeployFailed",
	upgrade.AlertBadTargetVersion: "BadTargetVersion",
	upgrade.AlertException:        "Exception",
}

// HealthConditionSink implements upgrade.HealthSink by upserting a named
// Condition and emitting an Event on whatever CephUpgrade object key
// SetTarget last recorded, the same single-target-per-process shape as
// progress.EventSink.
type HealthConditionSink struct {
	Client   client.Client
	Recorder record.EventRecorder

	mu  sync.Mutex
	key client.ObjectKey
	set bool
}

// NewHealthConditionSink builds a HealthConditionSink.
func NewHealthConditionSink(c client.Client, recorder record.EventRecorder) *HealthConditionSink {
	return &HealthConditionSink{Client: c, Recorder: recorder}
}

var _ upgrade.HealthSink = (*HealthConditionSink)(nil)

// SetTarget records which CephUpgrade resource SetHealthCheck/ClearHealthCheck
// should patch.
func (h *HealthConditionSink) SetTarget(key client.ObjectKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.key = key
	h.set = true
}

// SetHealthCheck upserts a True condition and a Warning event for code.
func (h *HealthConditionSink) SetHealthCheck(ctx context.Context, code upgrade.AlertCode, summary string) {
	h.upsert(ctx, code, metav1.ConditionTrue, summary, corev1.EventTypeWarning)
}

// ClearHealthCheck upserts a False condition and a Normal event for code.
func (h *HealthConditionSink) ClearHealthCheck(ctx context.Context, code upgrade.AlertCode) {
	h.upsert(ctx, code, metav1.ConditionFalse, "cleared", corev1.EventTypeNormal)
}

func (h *HealthConditionSink) upsert(ctx context.Context, code upgrade.AlertCode, status metav1.ConditionStatus, message, eventType string) {
	h.mu.Lock()
	key, ok := h.key, h.set
	h.mu.Unlock()
	if !ok || h.Client == nil {
		return
	}

	condType, known := alertConditionType[code]
	if !known {
		condType = string(code)
	}

	var cr cephv1alpha1.CephUpgrade
	if err := h.Client.Get(ctx, key, &cr); err != nil {
		return
	}
	patch := client.MergeFrom(cr.DeepCopy())
	SetNamedCondition(&cr.Status.Conditions, condType, cr.Generation, status, string(code), message)
	if err := h.Client.Status().Patch(ctx, &cr, patch); err != nil {
		return
	}

	if h.Recorder != nil {
		h.Recorder.Eventf(&cr, eventType, string(code), "%s", message)
	}
}
