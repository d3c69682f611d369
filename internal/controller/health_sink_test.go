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
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	cephv1alpha1 "github.com/ceph/ceph-upgrade-controller/api/v1alpha1"
	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

func newHealthTestSink(t *testing.T) (*HealthConditionSink, client.Client, *cephv1alpha1.CephUpgrade) {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, cephv1alpha1.AddToScheme(scheme))

	cr := &cephv1alpha1.CephUpgrade{ObjectMeta: metav1.ObjectMeta{Name: "default", Namespace: "rook-ceph"}}
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(cr).WithStatusSubresource(cr).Build()

	sink := NewHealthConditionSink(c, record.NewFakeRecorder(10))
	sink.SetTarget(client.ObjectKeyFromObject(cr))
	return sink, c, cr
}

func TestHealthConditionSink_SetHealthCheck(t *testing.T) {
	sink, c, cr := newHealthTestSink(t)
	sink.SetHealthCheck(context.Background(), upgrade.AlertNoStandbyMgr, "no standby manager available")

	var got cephv1alpha1.CephUpgrade
	require.NoError(t, c.Get(context.Background(), client.ObjectKeyFromObject(cr), &got))
	cond := findCondition(got.Status.Conditions, "NoStandbyManager")
	require.NotNil(t, cond)
	assert.Equal(t, metav1.ConditionTrue, cond.Status)
	assert.Equal(t, "no standby manager available", cond.Message)
}

func TestHealthConditionSink_ClearHealthCheck(t *testing.T) {
	sink, c, cr := newHealthTestSink(t)
	sink.SetHealthCheck(context.Background(), upgrade.AlertFailedPull, "pull failed")
	sink.ClearHealthCheck(context.Background(), upgrade.AlertFailedPull)

	var got cephv1alpha1.CephUpgrade
	require.NoError(t, c.Get(context.Background(), client.ObjectKeyFromObject(cr), &got))
	cond := findCondition(got.Status.Conditions, "FailedPull")
	require.NotNil(t, cond)
	assert.Equal(t, metav1.ConditionFalse, cond.Status)
}

func TestHealthConditionSink_NoOpWithoutTarget(t *testing.T) {
	sink := NewHealthConditionSink(nil, record.NewFakeRecorder(10))
	sink.SetHealthCheck(context.Background(), upgrade.AlertException, "boom")
}
