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

package upgrade

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// FailUpgrade implements spec §4.7: record the failure on state, persist
// it, and register the alert with the health sink. It is a no-op if state
// is nil, matching "operator raced a stop" — the upgrade has already been
// cleared and there is nothing left to fail.
func FailUpgrade(ctx context.Context, store StateStore, sink HealthSink, metrics MetricsRecorder, state *State, code AlertCode, summary string) error {
	if state == nil {
		return nil
	}
	if !validAlertCode(code) {
		return fmt.Errorf("invalid alert code %q", code)
	}

	state.Error = fmt.Sprintf("%s: %s", code, summary)
	state.Paused = true
	if err := store.Save(ctx, state); err != nil {
		return fmt.Errorf("persisting failed upgrade state: %w", err)
	}

	sink.SetHealthCheck(ctx, code, summary)
	if metrics != nil {
		metrics.RecordAlert(code)
	}
	log.FromContext(ctx).Error(fmt.Errorf(summary), "upgrade failed", "alertCode", code)
	return nil
}

func validAlertCode(code AlertCode) bool {
	for _, c := range AllAlertCodes {
		if c == code {
			return true
		}
	}
	return false
}

// UpdateProgress implements spec §4.7: ensure progress_id is populated,
// persisting it the moment it's assigned, then publish a progress event.
func UpdateProgress(ctx context.Context, sink ProgressSink, store StateStore, state *State, message string, fraction float64) error {
	if state.ProgressID == "" {
		state.ProgressID = uuid.NewString()
		if err := store.Save(ctx, state); err != nil {
			return fmt.Errorf("persisting progress id: %w", err)
		}
	}
	sink.Update(ctx, state.ProgressID, message, fraction)
	return nil
}

// ClearUpgradeHealthChecks removes all five alert codes from the health
// sink; called on Start and Stop.
func ClearUpgradeHealthChecks(ctx context.Context, sink HealthSink) {
	for _, code := range AllAlertCodes {
		sink.ClearHealthCheck(ctx, code)
	}
}
