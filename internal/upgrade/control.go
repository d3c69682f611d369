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
	"errors"
	"fmt"
)

// minRunningManagers is the B1 precondition for Start: at least two
// running managers must exist so a self-upgrade fail-over has somewhere
// to land.
const minRunningManagers = 2

// defaultCephImage is the image repository used to build a target
// reference when Start is given only a version, not an image.
const defaultCephImage = "quay.io/ceph/ceph"

// ErrNotInProgress is returned by Pause/Resume when no upgrade is
// currently tracked by the state store.
var ErrNotInProgress = errors.New("no upgrade in progress")

// ErrDifferentTargetInProgress is returned by Start when an upgrade to a
// different target is already running.
var ErrDifferentTargetInProgress = errors.New("an upgrade to a different target is already in progress")

// ErrPreconditionFailed wraps any Start precondition violation (too few
// managers, no image/version given, bad target version).
type ErrPreconditionFailed struct{ Reason string }

func (e *ErrPreconditionFailed) Error() string { return e.Reason }

// Config wires a Controller to its external collaborators (spec §6).
type Config struct {
	RPC                    ClusterRPC
	Agent                  HostAgent
	Inventory              DaemonInventory
	Progress               ProgressSink
	Health                 HealthSink
	Store                  StateStore
	Metrics                MetricsRecorder
	PreferDigestAddressing bool
}

// Controller is the single entry point for both the declarative
// (CephUpgrade CR) and imperative (cephadmctl) control surfaces (C8). It
// holds no mutable state of its own beyond its collaborators; all
// upgrade state lives in Config.Store.
type Controller struct {
	cfg Config
}

// NewController builds a Controller from cfg. All fields of cfg must be
// non-nil except Metrics, which is optional.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Status is the read-only projection returned by Status() and mirrored
// onto the CephUpgrade CR's .status for kubectl ergonomics.
type Status struct {
	TargetImage     string
	InProgress      bool
	ProgressString  string
	ServicesComplete []string
	Message         string
}

// Start implements spec §4.8 start. image and version may not both be
// empty. If version is given it is validated against the current
// cluster version before any state is persisted.
func (c *Controller) Start(ctx context.Context, image, version string) error {
	if image == "" && version == "" {
		return &ErrPreconditionFailed{Reason: "at least one of image or version must be given"}
	}

	mgrs, err := c.cfg.Inventory.Daemons(ctx, ClassMgr)
	if err != nil {
		return fmt.Errorf("listing manager daemons: %w", err)
	}
	if len(mgrs) < minRunningManagers {
		return &ErrPreconditionFailed{Reason: fmt.Sprintf("need at least %d running managers, have %d", minRunningManagers, len(mgrs))}
	}

	target := image
	if target == "" {
		target = fmt.Sprintf("%s:v%s", defaultCephImage, version)
	}
	target = Normalize(target)

	if version != "" {
		current, err := c.cfg.RPC.CurrentVersion(ctx)
		if err != nil {
			return fmt.Errorf("reading current cluster version: %w", err)
		}
		if reason := CheckTargetVersion(version, current); reason != "" {
			return &ErrPreconditionFailed{Reason: reason}
		}
	}

	existing, err := c.cfg.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading upgrade state: %w", err)
	}
	if existing != nil {
		if !existing.SameTarget(target) {
			return ErrDifferentTargetInProgress
		}
		if existing.Paused {
			existing.Paused = false
			existing.Error = ""
			return c.cfg.Store.Save(ctx, existing)
		}
		// Already in progress with the same target: idempotent no-op
		// (R3).
		return nil
	}

	state := &State{TargetName: target}
	if err := c.cfg.Store.Save(ctx, state); err != nil {
		return fmt.Errorf("persisting new upgrade state: %w", err)
	}
	ClearUpgradeHealthChecks(ctx, c.cfg.Health)
	return nil
}

// Pause implements spec §4.8 pause.
func (c *Controller) Pause(ctx context.Context) error {
	state, err := c.cfg.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading upgrade state: %w", err)
	}
	if state == nil {
		return ErrNotInProgress
	}
	state.Paused = true
	return c.cfg.Store.Save(ctx, state)
}

// Resume implements spec §4.8 resume.
func (c *Controller) Resume(ctx context.Context) error {
	state, err := c.cfg.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading upgrade state: %w", err)
	}
	if state == nil {
		return ErrNotInProgress
	}
	state.Paused = false
	return c.cfg.Store.Save(ctx, state)
}

// Stop implements spec §4.8 stop: unconditionally safe to call, even
// when no upgrade is in progress.
func (c *Controller) Stop(ctx context.Context) error {
	state, err := c.cfg.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading upgrade state: %w", err)
	}
	if state != nil && state.ProgressID != "" {
		c.cfg.Progress.Complete(ctx, state.ProgressID)
	}
	if err := c.cfg.Store.Save(ctx, nil); err != nil {
		return fmt.Errorf("clearing upgrade state: %w", err)
	}
	ClearUpgradeHealthChecks(ctx, c.cfg.Health)
	return nil
}

// Status implements spec §4.8 status.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	state, err := c.cfg.Store.Load(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("loading upgrade state: %w", err)
	}
	if state == nil {
		return Status{InProgress: false, Message: "no upgrade in progress"}, nil
	}
	message := ""
	switch {
	case state.Error != "":
		message = state.Error
	case state.Paused:
		message = "paused"
	}
	return Status{
		TargetImage:    state.CanonicalTarget(c.cfg.PreferDigestAddressing),
		InProgress:     true,
		ProgressString: state.ProgressID,
		Message:        message,
	}, nil
}
