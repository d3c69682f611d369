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
	"errors"
	"fmt"

	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// classPartition is the four-way split of one daemon class computed at
// the top of each class's traversal (spec §4.6 step 1).
type classPartition struct {
	done         []Daemon
	needSelf     bool
	needDeployer []Daemon
	needUpgrade  []Daemon
	total        int
}

func digestsIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func partitionClass(daemons []Daemon, class DaemonClass, targetDigests []string, selfName string) classPartition {
	p := classPartition{total: len(daemons)}
	for _, d := range daemons {
		// Monitoring-stack daemons aren't digest-addressed, so the
		// on-target check is forced true; they still need deployedBy to
		// reflect the target before counting as done.
		onTarget := MonitoringStackClasses[class] || digestsIntersect(d.CurrentDigests, targetDigests)
		deployedFromTarget := digestsIntersect(d.DeployedBy, targetDigests)
		if onTarget && deployedFromTarget {
			p.done = append(p.done, d)
			continue
		}
		if d.IsSelf(selfName) {
			p.needSelf = true
			continue
		}
		if onTarget {
			p.needDeployer = append(p.needDeployer, d)
			continue
		}
		p.needUpgrade = append(p.needUpgrade, d)
	}
	// Ordering rule: the deployer set only makes progress once the self
	// upgrade has happened (other daemons' deployed_by records only
	// start carrying the target digest afterward). If there is no self
	// upgrade pending, fold the deployer set into the ordinary queue.
	if !p.needSelf {
		p.needUpgrade = append(p.needUpgrade, p.needDeployer...)
		p.needDeployer = nil
	}
	return p
}

// tickOutcome reports what one Tick call accomplished, for logging and
// tests; it carries no information the caller must act on beyond the
// boolean "did work" return value of Tick itself.
type tickOutcome struct {
	upgraded  bool
	completed bool
}

// Tick is the heart of the controller (spec §4.6/§4.8 "tick"). It is
// invoked periodically by the owning reconciler. It returns whether any
// work was attempted and never lets an error escape uncaught: a failure
// to load the persisted state is logged and reported as no work, and any
// later failure is routed through FailUpgrade(EXCEPTION, ...); nil is
// returned in every case, matching spec §7's "errors are always
// converted into paused-with-alert state".
func (c *Controller) Tick(ctx context.Context) (bool, error) {
	logger := log.FromContext(ctx)

	state, err := c.cfg.Store.Load(ctx)
	if err != nil {
		logger.Error(err, "loading upgrade state")
		return false, nil
	}
	if state == nil || state.Paused {
		return false, nil
	}

	outcome, err := c.runTick(ctx, state)
	if err != nil {
		if errors.Is(err, errHandledFailure) {
			return true, nil
		}
		if failErr := FailUpgrade(ctx, c.cfg.Store, c.cfg.Health, c.cfg.Metrics, state, AlertException, err.Error()); failErr != nil {
			logger.Error(failErr, "failed to record exception alert")
		}
		return true, nil
	}
	return outcome.upgraded || outcome.completed, nil
}

func (c *Controller) runTick(ctx context.Context, state *State) (tickOutcome, error) {
	logger := log.FromContext(ctx)

	// First-tick pull.
	if !state.HasTarget() {
		host, err := c.pickHost(ctx)
		if err != nil {
			return tickOutcome{}, err
		}
		id, versionString, digests, err := Resolve(ctx, c.cfg.Agent, host, state.TargetName)
		if err != nil {
			return tickOutcome{}, c.fail(ctx, state, AlertFailedPull, err.Error())
		}
		version, err := ParseVersionField(versionString)
		if err != nil {
			return tickOutcome{}, c.fail(ctx, state, AlertFailedPull, err.Error())
		}
		state.SetTarget(id, version, digests)
		if err := c.cfg.Store.Save(ctx, state); err != nil {
			return tickOutcome{}, fmt.Errorf("persisting resolved target: %w", err)
		}
	}

	// Re-validate.
	current, err := c.cfg.RPC.CurrentVersion(ctx)
	if err != nil {
		return tickOutcome{}, fmt.Errorf("reading current cluster version: %w", err)
	}
	if reason := CheckTargetVersion(state.TargetVersion, current); reason != "" {
		return tickOutcome{}, c.fail(ctx, state, AlertBadTargetVersion, reason)
	}

	selfName, err := c.cfg.Inventory.SelfName(ctx)
	if err != nil {
		return tickOutcome{}, fmt.Errorf("looking up self daemon name: %w", err)
	}

	for i, class := range ClassOrder {
		daemons, err := c.cfg.Inventory.Daemons(ctx, class)
		if err != nil {
			return tickOutcome{}, fmt.Errorf("listing %s daemons: %w", class, err)
		}
		part := partitionClass(daemons, class, state.TargetDigests, selfName)

		if len(part.needUpgrade) == 0 {
			// Class completion actions (step 7): nothing left to do for
			// this class, possibly modulo the self daemon, which
			// completeClass resolves via fail-over.
			done, err := c.completeClass(ctx, state, class, daemons, current, part.needSelf)
			if err != nil {
				return tickOutcome{}, err
			}
			if !done {
				// Self-upgrade/failover was triggered; the new manager
				// instance picks up on its next tick.
				return tickOutcome{completed: false}, nil
			}
			if i == len(ClassOrder)-1 {
				return c.finishUpgrade(ctx, state)
			}
			continue
		}

		if class == ClassMDS && len(part.needUpgrade) > 0 {
			targetMajor, err := parsedTargetMajor(state.TargetVersion)
			if err != nil {
				return tickOutcome{}, err
			}
			status, err := MDSPrestage(ctx, c.cfg.RPC, c.cfg.Store, state, targetMajor)
			if err != nil {
				return tickOutcome{}, err
			}
			if status != PrestageReady {
				logger.Info("MDS pre-stage not ready, deferring to next tick", "status", status)
				return tickOutcome{}, nil
			}
		}

		toUpgrade, deployerOnly, err := c.buildBatch(ctx, part, daemons, state.TargetName)
		if err != nil {
			return tickOutcome{}, err
		}
		if len(toUpgrade) == 0 {
			// Safety gates rejected everything available this tick;
			// retry next tick.
			return tickOutcome{}, nil
		}

		if err := c.upgradeBatch(ctx, state, class, toUpgrade, deployerOnly, len(part.done), part.total); err != nil {
			return tickOutcome{}, err
		}
		// One batch of restarts per tick (spec §4.6 step 6).
		return tickOutcome{upgraded: true}, nil
	}

	return c.finishUpgrade(ctx, state)
}

func (c *Controller) fail(ctx context.Context, state *State, code AlertCode, summary string) error {
	if err := FailUpgrade(ctx, c.cfg.Store, c.cfg.Health, c.cfg.Metrics, state, code, summary); err != nil {
		return err
	}
	return errHandledFailure
}

// errHandledFailure signals runTick to stop without propagating a second
// error up to Tick (FailUpgrade has already recorded the alert).
var errHandledFailure = errors.New("upgrade failure already recorded")

func parsedTargetMajor(version string) (int, error) {
	pv, err := ParseShortVersion(version)
	if err != nil {
		return 0, err
	}
	return pv.Major, nil
}

// pickHost returns a representative host to resolve the target image
// against: any manager host, since managers are always present.
func (c *Controller) pickHost(ctx context.Context) (string, error) {
	mgrs, err := c.cfg.Inventory.Daemons(ctx, ClassMgr)
	if err != nil {
		return "", fmt.Errorf("listing manager daemons: %w", err)
	}
	if len(mgrs) == 0 {
		return "", fmt.Errorf("no manager daemons available to resolve target image")
	}
	return mgrs[0].Host, nil
}

// buildBatch implements spec §4.6 step 4: builds the to_upgrade list
// under safety gates, accumulating a known-ok-to-stop peer list across
// daemons. Per the safer reimplementation recorded in DESIGN.md, the
// peer list is reset at the start of every class rather than carried
// across classes within a tick.
func (c *Controller) buildBatch(ctx context.Context, part classPartition, daemons []Daemon, targetName string) (toUpgrade []Daemon, deployerOnly map[string]bool, err error) {
	deployerOnly = map[string]bool{}
	fs, err := c.cfg.RPC.Filesystems(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing filesystems: %w", err)
	}

	knownOK := map[string]bool{}
	// stopped lets the ok-to-stop wait end early once the persisted
	// upgrade has been paused or cleared.
	stopped := func() bool {
		s, err := c.cfg.Store.Load(ctx)
		return err == nil && (s == nil || s.Paused)
	}
	queue := part.needUpgrade
	for _, d := range part.needDeployer {
		deployerOnly[d.Name()] = true
	}
	queue = append(queue, part.needDeployer...)

	for _, d := range queue {
		if len(d.CurrentDigests) == 0 && d.CurrentImage == targetName {
			// Image id not yet known, but the image name already
			// matches the target: wait for the inventory cache to catch
			// up rather than acting now.
			continue
		}
		if knownOK[d.Name()] {
			toUpgrade = append(toUpgrade, d)
			continue
		}
		should, err := ShouldProbeOkToStop(ctx, c.cfg.RPC, d, fs, daemonCountForClass(daemons, d.Class))
		if err != nil {
			return nil, nil, err
		}
		if should {
			res, err := WaitOkToStop(ctx, c.cfg.RPC, d, stopped)
			if err != nil {
				return nil, nil, err
			}
			if !res.OK {
				// Abort this tick's batch construction; retry next tick.
				break
			}
			toUpgrade = append(toUpgrade, d)
			if len(res.Peers) == 0 {
				break
			}
			for _, peer := range res.Peers {
				knownOK[peer] = true
			}
			continue
		}
		toUpgrade = append(toUpgrade, d)
		// No peers list was produced for a class that never probes
		// ok-to-stop: stop building, one daemon per tick.
		break
	}
	return toUpgrade, deployerOnly, nil
}

func daemonCountForClass(daemons []Daemon, class DaemonClass) int {
	n := 0
	for _, d := range daemons {
		if d.Class == class {
			n++
		}
	}
	return n
}

// upgradeBatch implements spec §4.6 step 5: pull+redeploy each daemon in
// toUpgrade, updating progress as it goes.
func (c *Controller) upgradeBatch(ctx context.Context, state *State, class DaemonClass, toUpgrade []Daemon, deployerOnly map[string]bool, doneSoFar, total int) error {
	target := state.CanonicalTarget(c.cfg.PreferDigestAddressing)

	for i, d := range toUpgrade {
		fraction := float64(doneSoFar+i) / float64(maxInt(total, 1))
		if err := UpdateProgress(ctx, c.cfg.Progress, c.cfg.Store, state, fmt.Sprintf("Upgrading %s to version %s", d.Name(), state.TargetVersion), fraction); err != nil {
			return err
		}

		existing, err := c.cfg.Agent.InspectImage(ctx, d.Host, state.TargetName)
		if err != nil {
			return c.fail(ctx, state, AlertFailedPull, err.Error())
		}
		if !digestsIntersect(existing, state.TargetDigests) {
			_, _, pulled, err := c.cfg.Agent.Pull(ctx, d.Host, state.TargetName)
			if err != nil {
				return c.fail(ctx, state, AlertFailedPull, err.Error())
			}
			if !digestsIntersect(pulled, state.TargetDigests) {
				// Digest drift restart (scenario 3): adopt the pulled
				// set and return without deploying.
				state.TargetDigests = pulled
				return c.persistOnly(ctx, state)
			}
		}

		image := target
		if deployerOnly[d.Name()] {
			image = ""
		}
		if err := c.cfg.Agent.Redeploy(ctx, d, image); err != nil {
			return c.fail(ctx, state, AlertRedeployDaemon, err.Error())
		}
	}
	return nil
}

func (c *Controller) persistOnly(ctx context.Context, state *State) error {
	if err := c.cfg.Store.Save(ctx, state); err != nil {
		return fmt.Errorf("persisting digest drift: %w", err)
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// completeClass implements spec §4.6 step 7. It returns done=true once
// the class's finalizers have fully run; done=false means a manager
// fail-over was triggered and the tick must return immediately, leaving
// the new manager instance to continue on its next tick.
func (c *Controller) completeClass(ctx context.Context, state *State, class DaemonClass, daemons []Daemon, current ClusterVersion, needSelf bool) (bool, error) {
	logger := log.FromContext(ctx)

	if class == ClassMon {
		hasLocal, err := c.cfg.RPC.HasLocalConfigMap(ctx)
		if err != nil {
			return false, fmt.Errorf("checking local config-map signal: %w", err)
		}
		if !hasLocal {
			needSelf = true
		}
	}

	if needSelf {
		if err := c.cfg.RPC.FailoverManager(ctx); err != nil {
			if errors.Is(err, ErrNoStandbyManager) {
				return false, c.fail(ctx, state, AlertNoStandbyMgr, err.Error())
			}
			return false, fmt.Errorf("triggering manager fail-over: %w", err)
		}
		return false, nil
	}

	if class == ClassMgr {
		c.cfg.Health.ClearHealthCheck(ctx, AlertNoStandbyMgr)
	}

	versions, err := c.cfg.RPC.DaemonVersions(ctx)
	if err != nil {
		return false, fmt.Errorf("reading ceph versions: %w", err)
	}
	discrepant := false
	if byVersion, ok := versions[class]; ok && len(byVersion) > 1 {
		discrepant = true
		logger.Info("ceph versions discrepancy at class completion", "class", class, "versions", byVersion)
	}
	if r, ok := c.cfg.Metrics.(interface{ RecordVersionDiscrepancy(string, bool) }); ok {
		r.RecordVersionDiscrepancy(string(class), discrepant)
	}

	section := string(class)
	if err := c.cfg.RPC.SetConfigImage(ctx, section, state.CanonicalTarget(c.cfg.PreferDigestAddressing)); err != nil {
		return false, fmt.Errorf("pushing container_image for %s: %w", section, err)
	}
	for _, d := range daemons {
		if err := c.cfg.RPC.RemoveConfigOverride(ctx, section, d.Name()); err != nil {
			return false, fmt.Errorf("removing per-daemon override for %s: %w", d.Name(), err)
		}
	}

	if class == ClassOSD {
		targetMajor, err := parsedTargetMajor(state.TargetVersion)
		if err != nil {
			return false, err
		}
		if current.RequireOSDReleaseMaj < targetMajor {
			if err := c.cfg.RPC.SetRequireOSDRelease(ctx, fmt.Sprintf("%d", targetMajor)); err != nil {
				return false, fmt.Errorf("advancing require_osd_release: %w", err)
			}
		}
	}

	if class == ClassMDS && state.InPrestage() {
		if err := RestorePrestage(ctx, c.cfg.RPC, c.cfg.Store, state); err != nil {
			return false, err
		}
	}

	return true, nil
}

// finishUpgrade implements spec §4.6 "Termination": set the global
// container_image, remove per-class overrides, publish progress-complete,
// and clear UpgradeState.
func (c *Controller) finishUpgrade(ctx context.Context, state *State) (tickOutcome, error) {
	target := state.CanonicalTarget(c.cfg.PreferDigestAddressing)
	if err := c.cfg.RPC.SetConfigImage(ctx, "global", target); err != nil {
		return tickOutcome{}, fmt.Errorf("pushing global container_image: %w", err)
	}
	for _, class := range ClassOrder {
		if err := c.cfg.RPC.RemoveConfigOverride(ctx, string(class), ""); err != nil {
			return tickOutcome{}, fmt.Errorf("removing per-class override for %s: %w", class, err)
		}
	}
	c.cfg.Progress.Complete(ctx, state.ProgressID)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordUpgrade(ctx, true)
	}
	if err := c.cfg.Store.Save(ctx, nil); err != nil {
		return tickOutcome{}, fmt.Errorf("clearing upgrade state: %w", err)
	}
	return tickOutcome{completed: true}, nil
}
