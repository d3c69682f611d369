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

package integration_test

import (
	"context"

	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

// stateful fakes that, unlike internal/upgrade's own unit-test fakes,
// actually advance in response to Redeploy calls so a Controller can be
// driven across many real Tick calls to completion.

type daemonRecord struct {
	daemon upgrade.Daemon
}

type fakeInventory struct {
	byClass map[upgrade.DaemonClass][]*daemonRecord
	self    string
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{byClass: map[upgrade.DaemonClass][]*daemonRecord{}}
}

func (f *fakeInventory) addClass(class upgrade.DaemonClass, n int, host string) {
	for i := 0; i < n; i++ {
		d := upgrade.Daemon{Class: class, ID: string(rune('a' + i)), Host: host, Status: "Running"}
		f.byClass[class] = append(f.byClass[class], &daemonRecord{daemon: d})
	}
}

func (f *fakeInventory) Daemons(ctx context.Context, class upgrade.DaemonClass) ([]upgrade.Daemon, error) {
	recs := f.byClass[class]
	out := make([]upgrade.Daemon, len(recs))
	for i, r := range recs {
		out[i] = r.daemon
	}
	return out, nil
}

func (f *fakeInventory) SelfName(ctx context.Context) (string, error) {
	return f.self, nil
}

func (f *fakeInventory) markDeployed(name string, digests []string) {
	for _, recs := range f.byClass {
		for _, r := range recs {
			if r.daemon.Name() == name {
				r.daemon.CurrentDigests = digests
				r.daemon.DeployedBy = digests
			}
		}
	}
}

// fakeHostAgent always resolves/pulls the same target id/version/digests,
// and records every redeploy against the shared inventory so the next
// Tick sees the daemon as upgraded.
type fakeHostAgent struct {
	inv            *fakeInventory
	id, version    string
	digests        []string
	pullErr        error
	redeployErr    error
	pullErrOnHost  string
	pullCalls      int
	redeployCalls  int
}

func (f *fakeHostAgent) InspectImage(ctx context.Context, host, image string) ([]string, error) {
	return nil, nil
}

func (f *fakeHostAgent) Pull(ctx context.Context, host, image string) (string, string, []string, error) {
	f.pullCalls++
	if f.pullErr != nil && (f.pullErrOnHost == "" || f.pullErrOnHost == host) {
		err := f.pullErr
		f.pullErr = nil // the next Pull (post-resume) succeeds
		return "", "", nil, err
	}
	return f.id, f.version, f.digests, nil
}

func (f *fakeHostAgent) Redeploy(ctx context.Context, d upgrade.Daemon, image string) error {
	f.redeployCalls++
	if f.redeployErr != nil {
		return f.redeployErr
	}
	f.inv.markDeployed(d.Name(), f.digests)
	return nil
}

// fakeClusterRPC mirrors internal/upgrade's own unit-test fake, adding
// nothing stateful beyond what Controller itself mutates through it.
type fakeClusterRPC struct {
	version          upgrade.ClusterVersion
	quorum           int
	okToStop         upgrade.OkToStopResult
	filesystems      []upgrade.Filesystem
	daemonVersions   map[upgrade.DaemonClass]map[string]int
	hasLocalCM       bool
	failoverErr      error
	requireOSDRel    string
	configImageCalls map[string]string
	setMaxMDSCalls   int
}

func newFakeClusterRPC() *fakeClusterRPC {
	return &fakeClusterRPC{configImageCalls: map[string]string{}}
}

func (f *fakeClusterRPC) CurrentVersion(ctx context.Context) (upgrade.ClusterVersion, error) {
	return f.version, nil
}

func (f *fakeClusterRPC) QuorumMonitorCount(ctx context.Context) (int, error) {
	return f.quorum, nil
}

func (f *fakeClusterRPC) OkToStop(ctx context.Context, d upgrade.Daemon) (upgrade.OkToStopResult, error) {
	return f.okToStop, nil
}

func (f *fakeClusterRPC) Filesystems(ctx context.Context) ([]upgrade.Filesystem, error) {
	return f.filesystems, nil
}

func (f *fakeClusterRPC) SetMaxMDS(ctx context.Context, fsID int, maxMDS int) error {
	f.setMaxMDSCalls++
	return nil
}

func (f *fakeClusterRPC) MDSShortVersions(ctx context.Context) (map[string]string, error) {
	return nil, nil
}

func (f *fakeClusterRPC) DaemonVersions(ctx context.Context) (map[upgrade.DaemonClass]map[string]int, error) {
	return f.daemonVersions, nil
}

func (f *fakeClusterRPC) SetConfigImage(ctx context.Context, section string, image string) error {
	f.configImageCalls[section] = image
	return nil
}

func (f *fakeClusterRPC) RemoveConfigOverride(ctx context.Context, section string, name string) error {
	return nil
}

func (f *fakeClusterRPC) RequireOSDRelease(ctx context.Context) (string, error) {
	return f.requireOSDRel, nil
}

func (f *fakeClusterRPC) SetRequireOSDRelease(ctx context.Context, release string) error {
	f.requireOSDRel = release
	return nil
}

func (f *fakeClusterRPC) HasLocalConfigMap(ctx context.Context) (bool, error) {
	return f.hasLocalCM, nil
}

func (f *fakeClusterRPC) FailoverManager(ctx context.Context) error {
	return f.failoverErr
}

type fakeHealthSink struct {
	set   map[upgrade.AlertCode]string
	clear map[upgrade.AlertCode]bool
}

func newFakeHealthSink() *fakeHealthSink {
	return &fakeHealthSink{set: map[upgrade.AlertCode]string{}, clear: map[upgrade.AlertCode]bool{}}
}

func (f *fakeHealthSink) SetHealthCheck(ctx context.Context, code upgrade.AlertCode, summary string) {
	f.set[code] = summary
	delete(f.clear, code)
}

func (f *fakeHealthSink) ClearHealthCheck(ctx context.Context, code upgrade.AlertCode) {
	f.clear[code] = true
	delete(f.set, code)
}

type fakeProgressSink struct {
	updates  int
	complete string
}

func (f *fakeProgressSink) Update(ctx context.Context, progressID, message string, fraction float64) {
	f.updates++
}

func (f *fakeProgressSink) Complete(ctx context.Context, progressID string) {
	f.complete = progressID
}

type fakeStateStore struct {
	saved *upgrade.State
}

func (f *fakeStateStore) Load(ctx context.Context) (*upgrade.State, error) {
	return f.saved, nil
}

func (f *fakeStateStore) Save(ctx context.Context, s *upgrade.State) error {
	f.saved = s
	return nil
}
