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

// Package progress implements upgrade.ProgressSink as Kubernetes Events on
// the owning CephUpgrade resource, the nearest cluster-native analogue of
// the mgr module's own progress-module events.
package progress

import (
	"context"
	"fmt"
	"sync"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"

	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

// EventSink publishes progress updates as Events against whatever target
// object SetTarget last recorded. The caller (the CephUpgrade reconciler)
// sets the target once per reconcile, before ticking the upgrade, because
// a single controller process drives exactly one CephUpgrade at a time.
type EventSink struct {
	Recorder record.EventRecorder

	mu     sync.Mutex
	target runtime.Object
}

// NewEventSink builds an EventSink that records through recorder.
func NewEventSink(recorder record.EventRecorder) *EventSink {
	return &EventSink{Recorder: recorder}
}

var _ upgrade.ProgressSink = (*EventSink)(nil)

// SetTarget records the object Update/Complete should emit Events against.
func (s *EventSink) SetTarget(obj runtime.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = obj
}

func (s *EventSink) currentTarget() runtime.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Update records a progress event with a human-readable fraction.
func (s *EventSink) Update(_ context.Context, progressID, message string, fraction float64) {
	target := s.currentTarget()
	if target == nil || s.Recorder == nil {
		return
	}
	s.Recorder.Eventf(target, corev1.EventTypeNormal, "UpgradeProgress",
		"%s: %s (%.0f%%)", progressID, message, fraction*100)
}

// Complete records that a progress event has finished.
func (s *EventSink) Complete(_ context.Context, progressID string) {
	target := s.currentTarget()
	if target == nil || s.Recorder == nil {
		return
	}
	s.Recorder.Event(target, corev1.EventTypeNormal, "UpgradeProgress", fmt.Sprintf("%s: complete", progressID))
}
