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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealthSink struct {
	set   map[AlertCode]string
	clear map[AlertCode]bool
}

func newFakeHealthSink() *fakeHealthSink {
	return &fakeHealthSink{set: map[AlertCode]string{}, clear: map[AlertCode]bool{}}
}

func (f *fakeHealthSink) SetHealthCheck(ctx context.Context, code AlertCode, summary string) {
	f.set[code] = summary
}

func (f *fakeHealthSink) ClearHealthCheck(ctx context.Context, code AlertCode) {
	f.clear[code] = true
}

type fakeProgressSink struct {
	updates  []string
	fraction float64
	complete string
}

func (f *fakeProgressSink) Update(ctx context.Context, progressID, message string, fraction float64) {
	f.updates = append(f.updates, progressID+":"+message)
	f.fraction = fraction
}

func (f *fakeProgressSink) Complete(ctx context.Context, progressID string) {
	f.complete = progressID
}

func TestFailUpgrade(t *testing.T) {
	store := &fakeStateStore{}
	sink := newFakeHealthSink()
	state := &State{}
	err := FailUpgrade(context.Background(), store, sink, nil, state, AlertFailedPull, "registry unreachable")
	require.NoError(t, err)
	assert.Equal(t, "UPGRADE_FAILED_PULL: registry unreachable", state.Error)
	assert.True(t, state.Paused)
	assert.Equal(t, "registry unreachable", sink.set[AlertFailedPull])
	assert.NotNil(t, store.saved)
}

func TestFailUpgrade_NilStateIsNoOp(t *testing.T) {
	store := &fakeStateStore{}
	sink := newFakeHealthSink()
	err := FailUpgrade(context.Background(), store, sink, nil, nil, AlertException, "boom")
	require.NoError(t, err)
	assert.Nil(t, store.saved)
	assert.Empty(t, sink.set)
}

func TestFailUpgrade_InvalidCode(t *testing.T) {
	store := &fakeStateStore{}
	sink := newFakeHealthSink()
	err := FailUpgrade(context.Background(), store, sink, nil, &State{}, AlertCode("NOT_REAL"), "x")
	assert.Error(t, err)
}

func TestUpdateProgress_GeneratesID(t *testing.T) {
	sink := &fakeProgressSink{}
	store := &fakeStateStore{}
	state := &State{}
	require.NoError(t, UpdateProgress(context.Background(), sink, store, state, "upgrading mon.a", 0.5))
	assert.NotEmpty(t, state.ProgressID)
	assert.Equal(t, 0.5, sink.fraction)
	require.Len(t, sink.updates, 1)
	assert.Equal(t, state.ProgressID, store.saved.ProgressID, "id is persisted the moment it's assigned")

	id := state.ProgressID
	require.NoError(t, UpdateProgress(context.Background(), sink, store, state, "upgrading mon.b", 0.75))
	assert.Equal(t, id, state.ProgressID, "progress id is stable across updates")
}

func TestClearUpgradeHealthChecks(t *testing.T) {
	sink := newFakeHealthSink()
	ClearUpgradeHealthChecks(context.Background(), sink)
	for _, code := range AllAlertCodes {
		assert.True(t, sink.clear[code])
	}
}
