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
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

const targetImage = "quay.io/ceph/ceph:v16.2.5"

var targetDigests = []string{"quay.io/ceph/ceph@sha256:abcdef0123456789"}

type harness struct {
	ctrl     *upgrade.Controller
	rpc      *fakeClusterRPC
	agent    *fakeHostAgent
	inv      *fakeInventory
	store    *fakeStateStore
	health   *fakeHealthSink
	progress *fakeProgressSink
}

// newHarness builds a Controller wired to stateful fakes representing a
// cluster with the given number of monitors, managers, and OSDs, all
// currently one major behind the upgrade target and all reachable on a
// single host.
func newHarness(mons, mgrs, osds int) *harness {
	inv := newFakeInventory()
	inv.addClass(upgrade.ClassMon, mons, "host0")
	inv.addClass(upgrade.ClassMgr, mgrs, "host0")
	inv.addClass(upgrade.ClassOSD, osds, "host0")

	rpc := newFakeClusterRPC()
	rpc.version = upgrade.ClusterVersion{Major: 15, Minor: 2, Patch: 13, MinMonRelease: 15, RequireOSDReleaseMaj: 15}
	rpc.quorum = mons
	rpc.okToStop = upgrade.OkToStopResult{OK: true}
	rpc.hasLocalCM = true

	agent := &fakeHostAgent{
		inv:     inv,
		id:      "sha256:abcdef0123456789",
		version: "ceph version 16.2.5 (abcdef0123456789) pacific (stable)",
		digests: targetDigests,
	}

	store := &fakeStateStore{}
	health := newFakeHealthSink()
	progress := &fakeProgressSink{}

	cfg := upgrade.Config{
		RPC:                    rpc,
		Agent:                  agent,
		Inventory:              inv,
		Progress:               progress,
		Health:                 health,
		Store:                  store,
		PreferDigestAddressing: true,
	}
	return &harness{
		ctrl: upgrade.NewController(cfg), rpc: rpc, agent: agent, inv: inv,
		store: store, health: health, progress: progress,
	}
}

// runToCompletion ticks the controller until the state store clears
// (upgrade finished) or maxTicks is exhausted, whichever comes first,
// returning the number of ticks consumed.
func (h *harness) runToCompletion(ctx context.Context, maxTicks int) int {
	ticks := 0
	for ; ticks < maxTicks; ticks++ {
		_, err := h.ctrl.Tick(ctx)
		Expect(err).NotTo(HaveOccurred())
		if h.store.saved == nil {
			ticks++
			break
		}
	}
	return ticks
}

var _ = Describe("Rolling upgrade", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	// Scenario 1: happy path, small cluster.
	It("completes a 3-monitor/2-manager/6-OSD upgrade within 12 ticks", func() {
		h := newHarness(3, 2, 6)
		Expect(h.ctrl.Start(ctx, targetImage, "")).To(Succeed())

		ticks := h.runToCompletion(ctx, 12)
		Expect(ticks).To(BeNumerically("<=", 12))
		Expect(h.store.saved).To(BeNil())
		Expect(h.progress.complete).NotTo(BeEmpty())
		Expect(h.health.set).To(BeEmpty())

		for _, class := range []upgrade.DaemonClass{upgrade.ClassMon, upgrade.ClassMgr, upgrade.ClassOSD} {
			daemons, err := h.inv.Daemons(ctx, class)
			Expect(err).NotTo(HaveOccurred())
			for _, d := range daemons {
				Expect(d.CurrentDigests).To(Equal(targetDigests), "daemon %s should be on the target digest", d.Name())
			}
		}

		Expect(h.rpc.configImageCalls["global"]).To(Equal(targetDigests[0]))
		Expect(h.rpc.requireOSDRel).To(Equal("16"))
	})

	// Scenario 2: pull failure then recovery.
	It("pauses with UPGRADE_FAILED_PULL on a failed pull and proceeds after resume", func() {
		h := newHarness(3, 2, 6)
		h.agent.pullErr = errors.New("registry unreachable")
		Expect(h.ctrl.Start(ctx, targetImage, "")).To(Succeed())

		worked, err := h.ctrl.Tick(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(worked).To(BeTrue())
		Expect(h.store.saved).NotTo(BeNil())
		Expect(h.store.saved.Paused).To(BeTrue())
		Expect(h.store.saved.Error).To(ContainSubstring("UPGRADE_FAILED_PULL"))
		Expect(h.health.set).To(HaveKey(upgrade.AlertFailedPull))

		Expect(h.ctrl.Resume(ctx)).To(Succeed())

		ticks := h.runToCompletion(ctx, 12)
		Expect(ticks).To(BeNumerically("<=", 12))
		Expect(h.store.saved).To(BeNil())
		Expect(h.progress.complete).NotTo(BeEmpty())
	})

	// Scenario 6: stop mid-upgrade.
	It("stops mid-upgrade leaving already-upgraded daemons on target and the rest untouched", func() {
		h := newHarness(0, 2, 4)
		Expect(h.ctrl.Start(ctx, targetImage, "")).To(Succeed())

		// Run enough ticks to resolve the target, roll both managers (one
		// per tick, since unprobed classes restart a single daemon per
		// tick too), and upgrade some but not all of the OSDs (also one
		// per tick, since the fake ok-to-stop probe reports no additional
		// safe-to-stop peers).
		for i := 0; i < 4; i++ {
			_, err := h.ctrl.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
		}

		osds, err := h.inv.Daemons(ctx, upgrade.ClassOSD)
		Expect(err).NotTo(HaveOccurred())
		upgraded := 0
		for _, d := range osds {
			if len(d.CurrentDigests) > 0 {
				upgraded++
			}
		}
		Expect(upgraded).To(BeNumerically(">", 0))
		Expect(upgraded).To(BeNumerically("<", len(osds)))

		Expect(h.ctrl.Stop(ctx)).To(Succeed())
		Expect(h.store.saved).To(BeNil())
		Expect(h.progress.complete).NotTo(BeEmpty())

		// Daemons already upgraded remain on target; no rollback is
		// attempted. A further tick is a pure no-op.
		osdsAfter, err := h.inv.Daemons(ctx, upgrade.ClassOSD)
		Expect(err).NotTo(HaveOccurred())
		stillUpgraded := 0
		for _, d := range osdsAfter {
			if len(d.CurrentDigests) > 0 {
				stillUpgraded++
			}
		}
		Expect(stillUpgraded).To(Equal(upgraded))

		worked, err := h.ctrl.Tick(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(worked).To(BeFalse())
	})

	// B1: manager count < 2 at start is rejected.
	It("rejects Start when fewer than two managers are running", func() {
		h := newHarness(3, 1, 6)
		err := h.ctrl.Start(ctx, targetImage, "")
		Expect(err).To(HaveOccurred())
		var precond *upgrade.ErrPreconditionFailed
		Expect(errors.As(err, &precond)).To(BeTrue())
		Expect(h.store.saved).To(BeNil())
	})
})
