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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	cephv1alpha1 "github.com/ceph/ceph-upgrade-controller/api/v1alpha1"
	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
	"github.com/ceph/ceph-upgrade-controller/internal/validation"
)

type fakeRPC struct {
	version upgrade.ClusterVersion
}

func (f fakeRPC) CurrentVersion(ctx context.Context) (upgrade.ClusterVersion, error) { return f.version, nil }
func (f fakeRPC) QuorumMonitorCount(ctx context.Context) (int, error)                { return 3, nil }
func (f fakeRPC) OkToStop(ctx context.Context, d upgrade.Daemon) (upgrade.OkToStopResult, error) {
	return upgrade.OkToStopResult{OK: true}, nil
}
func (f fakeRPC) Filesystems(ctx context.Context) ([]upgrade.Filesystem, error) { return nil, nil }
func (f fakeRPC) SetMaxMDS(ctx context.Context, fsID, maxMDS int) error         { return nil }
func (f fakeRPC) MDSShortVersions(ctx context.Context) (map[string]string, error) {
	return nil, nil
}
func (f fakeRPC) DaemonVersions(ctx context.Context) (map[upgrade.DaemonClass]map[string]int, error) {
	return nil, nil
}
func (f fakeRPC) SetConfigImage(ctx context.Context, section, image string) error      { return nil }
func (f fakeRPC) RemoveConfigOverride(ctx context.Context, section, name string) error { return nil }
func (f fakeRPC) RequireOSDRelease(ctx context.Context) (string, error)                { return "pacific", nil }
func (f fakeRPC) SetRequireOSDRelease(ctx context.Context, release string) error       { return nil }
func (f fakeRPC) HasLocalConfigMap(ctx context.Context) (bool, error)                  { return true, nil }
func (f fakeRPC) FailoverManager(ctx context.Context) error                            { return nil }

func newTestWebhook() *CephUpgradeWebhook {
	return &CephUpgradeWebhook{
		RPC:       fakeRPC{version: upgrade.ClusterVersion{Major: 15, Minor: 2, Patch: 13, MinMonRelease: 15, RequireOSDReleaseMaj: 15}},
		Validator: validation.NewUpgradeValidator(),
	}
}

func TestValidateCreate_AcceptsGoodTarget(t *testing.T) {
	w := newTestWebhook()
	cr := &cephv1alpha1.CephUpgrade{ObjectMeta: metav1.ObjectMeta{Name: "x"}, Spec: cephv1alpha1.CephUpgradeSpec{TargetVersion: "16.2.0"}}
	_, err := w.ValidateCreate(context.Background(), cr)
	require.NoError(t, err)
}

func TestValidateCreate_RejectsBadJump(t *testing.T) {
	w := newTestWebhook()
	cr := &cephv1alpha1.CephUpgrade{ObjectMeta: metav1.ObjectMeta{Name: "x"}, Spec: cephv1alpha1.CephUpgradeSpec{TargetVersion: "18.2.0"}}
	_, err := w.ValidateCreate(context.Background(), cr)
	assert.Error(t, err)
}

func TestValidateUpdate_RejectsTargetChangeInProgress(t *testing.T) {
	w := newTestWebhook()
	oldCR := &cephv1alpha1.CephUpgrade{
		ObjectMeta: metav1.ObjectMeta{Name: "x"},
		Spec:       cephv1alpha1.CephUpgradeSpec{TargetVersion: "16.2.0"},
		Status:     cephv1alpha1.CephUpgradeStatus{Phase: "InProgress"},
	}
	newCR := &cephv1alpha1.CephUpgrade{
		ObjectMeta: metav1.ObjectMeta{Name: "x"},
		Spec:       cephv1alpha1.CephUpgradeSpec{TargetVersion: "16.2.5"},
	}
	_, err := w.ValidateUpdate(context.Background(), oldCR, newCR)
	assert.Error(t, err)
}

func TestValidateDelete_AlwaysAllowed(t *testing.T) {
	w := newTestWebhook()
	_, err := w.ValidateDelete(context.Background(), &cephv1alpha1.CephUpgrade{})
	require.NoError(t, err)
}
