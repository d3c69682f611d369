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

// State is the single long-lived record describing an active or paused
// upgrade. Its absence (a nil *State held by the caller) means no upgrade
// is in progress. Field names intentionally mirror the persisted JSON
// shape (see internal/store) rather than Go convention for the JSON tags,
// since the wire shape predates this rendition and must stay
// byte-compatible with legacy consumers of the same ConfigMap key.
type State struct {
	// TargetName is the user- or system-supplied image reference as first
	// submitted, e.g. "quay.io/ceph/ceph:v16.2.5".
	TargetName string `json:"target_name"`

	// ProgressID ties this upgrade to a progress event on the reporting
	// sink. Populated lazily by UpdateProgress on first use.
	ProgressID string `json:"progress_id,omitempty"`

	// TargetID is the content-addressable id of the target image, learned
	// on first pull. Unset until learned (invariant P1).
	TargetID string `json:"target_id,omitempty"`

	// TargetDigests is the non-empty list of registry digests for the
	// target image; the first is the preferred canonical form. Unset
	// until learned (invariant P1).
	TargetDigests []string `json:"target_digests,omitempty"`

	// TargetVersion is the short version string X.Y.Z extracted from the
	// image, learned on first pull. Unset until learned (invariant P1).
	TargetVersion string `json:"target_version,omitempty"`

	// Error, if set, is a human-readable "<ALERT_CODE>: <summary>" string
	// describing the failure that paused the upgrade.
	Error string `json:"error,omitempty"`

	// Paused suppresses all forward progress in Tick.
	Paused bool `json:"paused"`

	// FSOriginalMaxMDS maps filesystem id (as a decimal string, matching
	// the JSON shape produced by the orchestrator's key-value encoding) to
	// its original active-MDS fan-out, captured during MDS pre-stage so it
	// can be restored on metadata-server class completion. Non-empty only
	// between pre-stage and class completion (invariant P3).
	FSOriginalMaxMDS map[string]int `json:"fs_original_max_mds,omitempty"`
}

// HasTarget reports whether the target image has been fully resolved
// (invariant P1: TargetID, TargetVersion, TargetDigests are either all
// set or all unset).
func (s *State) HasTarget() bool {
	return s.TargetID != "" && s.TargetVersion != "" && len(s.TargetDigests) > 0
}

// SetTarget records a fully-resolved target in one step, preserving
// invariant P1 by construction: callers can never observe a State with
// only some of the three fields set.
func (s *State) SetTarget(id, version string, digests []string) {
	s.TargetID = id
	s.TargetVersion = version
	s.TargetDigests = digests
}

// CanonicalTarget returns the authoritative image reference to pass to
// redeployments: the first target digest when digest addressing is
// preferred and available, else the originally-submitted name.
func (s *State) CanonicalTarget(preferDigest bool) string {
	if preferDigest && len(s.TargetDigests) > 0 {
		return s.TargetDigests[0]
	}
	return s.TargetName
}

// SameTarget reports whether image refers to the same upgrade target
// already recorded on s, used by Start to decide between "resume" and
// "reject: different target in progress".
func (s *State) SameTarget(image string) bool {
	return s.TargetName == image
}

// InPrestage reports whether MDS pre-stage is currently holding a
// filesystem at a reduced max_mds awaiting drain (invariant P3).
func (s *State) InPrestage() bool {
	return len(s.FSOriginalMaxMDS) > 0
}

// ClearPrestage drops the recorded pre-stage fan-out map, restoring
// invariant P3's "empty outside the pre-stage window" condition.
func (s *State) ClearPrestage() {
	s.FSOriginalMaxMDS = nil
}
