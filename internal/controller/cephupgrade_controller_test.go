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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	cephv1alpha1 "github.com/ceph/ceph-upgrade-controller/api/v1alpha1"
	"github.com/ceph/ceph-upgrade-controller/internal/store"
	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

type noopInventory struct{}

func (noopInventory) Daemons(ctx context.Context, class upgrade.DaemonClass) ([]upgrade.Daemon, error) {
	if class == upgrade.ClassMgr {
		return []upgrade.Daemon{{Class: upgrade.ClassMgr, ID: "a"}, {Class: upgrade.ClassMgr, ID: "b"}}, nil
	}
	return nil, nil
}
func (noopInventory) SelfName(ctx context.Context) (string, error) { return "mgr.a", nil }

type noopRPC struct{}

func (noopRPC) CurrentVersion(ctx context.Context) (upgrade.ClusterVersion, error) {
	return upgrade.ClusterVersion{Major: 16, Minor: 2, Patch: 5, MinMonRelease: 16, RequireOSDReleaseMaj: 16}, nil
}
func (noopRPC) QuorumMonitorCount(ctx context.Context) (int, error) { return 3, nil }
func (noopRPC) OkToStop(ctx context.Context, d upgrade.Daemon) (upgrade.OkToStopResult, error) {
	return upgrade.OkToStopResult{OK: true}, nil
}
func (noopRPC) Filesystems(ctx context.Context) ([]upgrade.Filesystem, error) { return nil, nil }
func (noopRPC) SetMaxMDS(ctx context.Context, fsID, maxMDS int) error         { return nil }
func (noopRPC) MDSShortVersions(ctx context.Context) (map[string]string, error) {
	return nil, nil
}
func (noopRPC) DaemonVersions(ctx context.Context) (map[upgrade.DaemonClass]map[string]int, error) {
	return nil, nil
}
func (noopRPC) SetConfigImage(ctx context.Context, section, image string) error      { return nil }
func (noopRPC) RemoveConfigOverride(ctx context.Context, section, name string) error { return nil }
func (noopRPC) RequireOSDRelease(ctx context.Context) (string, error)                { return "pacific", nil }
func (noopRPC) SetRequireOSDRelease(ctx context.Context, release string) error       { return nil }
func (noopRPC) HasLocalConfigMap(ctx context.Context) (bool, error)                  { return true, nil }
func (noopRPC) FailoverManager(ctx context.Context) error                            { return nil }

type noopAgent struct{}

func (noopAgent) InspectImage(ctx context.Context, host, image string) ([]string, error) {
	return []string{"quay.io/ceph/ceph@sha256:abc"}, nil
}
func (noopAgent) Pull(ctx context.Context, host, image string) (string, string, []string, error) {
	return "sha256:abc", "ceph version 16.2.5 (abc) pacific (stable)", []string{"quay.io/ceph/ceph@sha256:abc"}, nil
}
func (noopAgent) Redeploy(ctx context.Context, d upgrade.Daemon, image string) error { return nil }

type noopProgress struct{}

func (noopProgress) Update(ctx context.Context, progressID, message string, fraction float64) {}
func (noopProgress) Complete(ctx context.Context, progressID string)                          {}

type noopHealth struct{}

func (noopHealth) SetHealthCheck(ctx context.Context, code upgrade.AlertCode, summary string) {}
func (noopHealth) ClearHealthCheck(ctx context.Context, code upgrade.AlertCode)                {}

func newTestReconciler(t *testing.T) (*CephUpgradeReconciler, *cephv1alpha1.CephUpgrade) {
	scheme := runtime.NewScheme()
	require.NoError(t, cephv1alpha1.AddToScheme(scheme))
	require.NoError(t, corev1.AddToScheme(scheme))

	cr := &cephv1alpha1.CephUpgrade{
		ObjectMeta: metav1.ObjectMeta{Name: "cluster", Namespace: "rook-ceph"},
		Spec:       cephv1alpha1.CephUpgradeSpec{TargetVersion: "16.2.5"},
	}

	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(cr).WithStatusSubresource(cr).Build()
	ctrl := upgrade.NewController(upgrade.Config{
		RPC:       noopRPC{},
		Agent:     noopAgent{},
		Inventory: noopInventory{},
		Progress:  noopProgress{},
		Health:    noopHealth{},
		Store:     store.NewConfigMapStore(c, "ceph-upgrade-state", "rook-ceph"),
	})

	return &CephUpgradeReconciler{
		Client:   c,
		Scheme:   scheme,
		Recorder: record.NewFakeRecorder(32),
		Upgrade:  ctrl,
	}, cr
}

func TestReconcile_StartsAndProgressesUpgrade(t *testing.T) {
	r, cr := newTestReconciler(t)
	ctx := context.Background()
	req := ctrl.Request{NamespacedName: client.ObjectKeyFromObject(cr)}

	_, err := r.Reconcile(ctx, req)
	require.NoError(t, err)

	out := &cephv1alpha1.CephUpgrade{}
	require.NoError(t, r.Get(ctx, req.NamespacedName, out))
	assert.NotEmpty(t, out.Status.Phase)
	assert.NotEqual(t, "NotStarted", out.Status.Phase)
}

func TestReconcile_NotFoundIsNotAnError(t *testing.T) {
	r, _ := newTestReconciler(t)
	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: client.ObjectKey{Name: "missing", Namespace: "rook-ceph"}})
	require.NoError(t, err)
}
