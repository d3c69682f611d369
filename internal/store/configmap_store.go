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

// Package store implements internal/upgrade.StateStore against a single
// Kubernetes ConfigMap, the same way the orchestrator's key-value store
// backs UpgradeState in the original mgr module.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

// stateKey is the single ConfigMap data key holding the JSON-encoded
// upgrade state, matching the orchestrator's well-known key
// "upgrade_state" (spec §6).
const stateKey = "upgrade_state"

// wireState is the on-the-wire JSON shape, kept distinct from
// upgrade.State so legacy-field translation (repo_digest, prefixed
// target_version) can be applied in Load without polluting the in-memory
// type with fields nothing else ever reads.
type wireState struct {
	TargetName       string         `json:"target_name"`
	ProgressID       string         `json:"progress_id,omitempty"`
	TargetID         string         `json:"target_id,omitempty"`
	TargetDigests    []string       `json:"target_digests,omitempty"`
	TargetVersion    string         `json:"target_version,omitempty"`
	Error            string         `json:"error,omitempty"`
	Paused           bool           `json:"paused"`
	FSOriginalMaxMDS map[string]int `json:"fs_original_max_mds,omitempty"`

	// RepoDigest is the legacy single-digest field, rewritten to
	// TargetDigests = [RepoDigest] on Load when present.
	RepoDigest string `json:"repo_digest,omitempty"`
}

// ConfigMapStore persists upgrade.State as a single JSON-encoded key in a
// named ConfigMap, read-modify-written through client-go's
// retry.RetryOnConflict to survive concurrent reconciles.
type ConfigMapStore struct {
	Client    client.Client
	Name      string
	Namespace string
}

// NewConfigMapStore builds a ConfigMapStore backed by the named
// ConfigMap in namespace, created lazily on first Save.
func NewConfigMapStore(c client.Client, name, namespace string) *ConfigMapStore {
	return &ConfigMapStore{Client: c, Name: name, Namespace: namespace}
}

// Load implements upgrade.StateStore. It returns (nil, nil) when the
// ConfigMap or its data key is absent, matching "no upgrade in
// progress".
func (s *ConfigMapStore) Load(ctx context.Context) (*upgrade.State, error) {
	cm := &corev1.ConfigMap{}
	err := s.Client.Get(ctx, types.NamespacedName{Name: s.Name, Namespace: s.Namespace}, cm)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting upgrade state configmap %s/%s: %w", s.Namespace, s.Name, err)
	}

	raw, ok := cm.Data[stateKey]
	if !ok || raw == "" {
		return nil, nil
	}

	var w wireState
	if err := yaml.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decoding upgrade state: %w", err)
	}

	if w.RepoDigest != "" && len(w.TargetDigests) == 0 {
		w.TargetDigests = []string{w.RepoDigest}
	}
	w.TargetVersion = stripVersionPrefix(w.TargetVersion)

	return &upgrade.State{
		TargetName:       w.TargetName,
		ProgressID:       w.ProgressID,
		TargetID:         w.TargetID,
		TargetDigests:    w.TargetDigests,
		TargetVersion:    w.TargetVersion,
		Error:            w.Error,
		Paused:           w.Paused,
		FSOriginalMaxMDS: w.FSOriginalMaxMDS,
	}, nil
}

// Save implements upgrade.StateStore. A nil state deletes the key (and,
// if the ConfigMap becomes empty, the ConfigMap itself), matching spec
// §4.3's "if state is none, deletes the key".
func (s *ConfigMapStore) Save(ctx context.Context, state *upgrade.State) error {
	return retry.RetryOnConflict(retry.DefaultBackoff, func() error {
		cm := &corev1.ConfigMap{}
		err := s.Client.Get(ctx, types.NamespacedName{Name: s.Name, Namespace: s.Namespace}, cm)
		switch {
		case apierrors.IsNotFound(err):
			if state == nil {
				return nil
			}
			cm = &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{Name: s.Name, Namespace: s.Namespace},
				Data:       map[string]string{},
			}
			if err := s.encodeInto(cm, state); err != nil {
				return err
			}
			return s.Client.Create(ctx, cm)
		case err != nil:
			return fmt.Errorf("getting upgrade state configmap %s/%s: %w", s.Namespace, s.Name, err)
		}

		if state == nil {
			delete(cm.Data, stateKey)
			if len(cm.Data) == 0 {
				return s.Client.Delete(ctx, cm)
			}
			return s.Client.Update(ctx, cm)
		}
		if err := s.encodeInto(cm, state); err != nil {
			return err
		}
		return s.Client.Update(ctx, cm)
	})
}

func (s *ConfigMapStore) encodeInto(cm *corev1.ConfigMap, state *upgrade.State) error {
	w := wireState{
		TargetName:       state.TargetName,
		ProgressID:       state.ProgressID,
		TargetID:         state.TargetID,
		TargetDigests:    state.TargetDigests,
		TargetVersion:    state.TargetVersion,
		Error:            state.Error,
		Paused:           state.Paused,
		FSOriginalMaxMDS: state.FSOriginalMaxMDS,
	}
	encoded, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encoding upgrade state: %w", err)
	}
	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	cm.Data[stateKey] = string(encoded)
	return nil
}

// stripVersionPrefix rewrites the legacy "ceph version X.Y.Z (sha) name
// (stable)" form to the bare "X.Y.Z" the rest of this package expects.
func stripVersionPrefix(v string) string {
	const prefix = "ceph version "
	if len(v) > len(prefix) && v[:len(prefix)] == prefix {
		v = v[len(prefix):]
	}
	for i := 0; i < len(v); i++ {
		if v[i] == ' ' {
			return v[:i]
		}
	}
	return v
}
