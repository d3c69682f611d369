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

// Package upgrade implements the rolling-upgrade state machine for a Ceph
// cluster: deciding which daemon to touch next, whether it is safe to touch
// it, and how to persist and resume across controller restarts. Everything
// the state machine needs from the outside world — cluster RPC, per-host
// container commands, the daemon inventory, progress/health reporting, and
// the state store — is consumed only through the contracts in this file.
package upgrade

import (
	"context"
	"time"
)

// DaemonClass identifies a class of Ceph daemon.
type DaemonClass string

const (
	ClassMon        DaemonClass = "mon"
	ClassMgr        DaemonClass = "mgr"
	ClassOSD        DaemonClass = "osd"
	ClassMDS        DaemonClass = "mds"
	ClassGateway    DaemonClass = "rgw"
	ClassMonitoring DaemonClass = "monitoring"
)

// ClassOrder is the fixed, compile-time traversal order for daemon classes.
// Besides the class-specific gates in safety.go, the upgrade loop branches
// on class identity for the monitor, manager, storage and metadata
// completion steps and the metadata pre-stage in loop.go.
var ClassOrder = []DaemonClass{
	ClassMon,
	ClassMgr,
	ClassOSD,
	ClassMDS,
	ClassGateway,
	ClassMonitoring,
}

// MonitoringStackClasses are exempt from digest-equality gating: they are
// always treated as "correct image" for the done-counter, because the
// monitoring stack (prometheus, grafana, alertmanager, node-exporter) is
// versioned independently of the Ceph release.
var MonitoringStackClasses = map[DaemonClass]bool{
	ClassMonitoring: true,
}

// Daemon is a read-only view of one daemon in the external inventory cache.
type Daemon struct {
	Class          DaemonClass
	ID             string
	Host           string
	CurrentImage   string
	CurrentDigests []string
	// DeployedBy is the digest set the daemon's container was actually
	// deployed from, which may lag CurrentDigests immediately after a
	// registry re-tag.
	DeployedBy []string
	Status     string
}

// Name is the daemon's display name as used by ok-to-stop and deploy calls,
// e.g. "mon.a" or "osd.3".
func (d Daemon) Name() string {
	return string(d.Class) + "." + d.ID
}

// IsSelf reports whether this daemon is the manager instance hosting the
// controller itself.
func (d Daemon) IsSelf(selfName string) bool {
	return selfName != "" && d.Name() == selfName
}

// Filesystem is a read-only view of one CephFS filesystem relevant to MDS
// pre-staging and class completion.
type Filesystem struct {
	ID                 int
	Name               string
	MaxMDS             int
	ActiveMDSCount     int
	ActiveMDSAreActive bool // all active ranks report up:active
}

// OkToStopResult is the explicit return value of a wait-for-ok-to-stop probe:
// whether the daemon may be stopped, and the list of peers the probe
// reported as also safe to stop in the same batch. Modeling this as a
// return value (rather than an output argument mutated in place) keeps the
// probe side-effect-free and easy to fake in tests.
type OkToStopResult struct {
	OK    bool
	Peers []string
}

// ClusterRPC is the cluster command contract (spec: mon_command). All calls
// are synchronous and return a Go error on any non-zero/parse failure.
type ClusterRPC interface {
	// CurrentVersion returns the current cluster version and the
	// tunables the version policy gates against.
	CurrentVersion(ctx context.Context) (ClusterVersion, error)
	// QuorumMonitorCount returns the number of monitors currently in quorum.
	QuorumMonitorCount(ctx context.Context) (int, error)
	// OkToStop asks whether a given daemon may be stopped without violating
	// data or availability guarantees, for daemon classes that implement it.
	OkToStop(ctx context.Context, d Daemon) (OkToStopResult, error)
	// Filesystems lists all CephFS filesystems and their MDS fan-out.
	Filesystems(ctx context.Context) ([]Filesystem, error)
	// SetMaxMDS sets max_mds for the named filesystem.
	SetMaxMDS(ctx context.Context, fsID int, maxMDS int) error
	// MDSShortVersions returns, for each MDS daemon name, its reported short
	// version string (spec: read from mds_metadata).
	MDSShortVersions(ctx context.Context) (map[string]string, error)
	// DaemonVersions returns the "ceph versions"-style breakdown: for each
	// class, a map of version string to daemon count.
	DaemonVersions(ctx context.Context) (map[DaemonClass]map[string]int, error)
	// SetConfigImage pushes container_image for the given config section.
	SetConfigImage(ctx context.Context, section string, image string) error
	// RemoveConfigOverride removes a per-daemon container_image override.
	RemoveConfigOverride(ctx context.Context, section string, name string) error
	// RequireOSDRelease returns and advances the require_osd_release tunable.
	RequireOSDRelease(ctx context.Context) (string, error)
	SetRequireOSDRelease(ctx context.Context, release string) error
	// HasLocalConfigMap reports the one-shot, environment-defined signal
	// consulted after monitor-class completion (spec §9 open question):
	// its absence forces a manager self-upgrade.
	HasLocalConfigMap(ctx context.Context) (bool, error)
	// FailoverManager triggers a manager fail-over. ErrNoStandbyManager is
	// returned when no standby exists.
	FailoverManager(ctx context.Context) error
}

// HostAgent is the per-host container command contract.
type HostAgent interface {
	// InspectImage returns the locally-cached digests for an image
	// reference on the given host, or (nil, nil) if the host has nothing
	// cached under that reference.
	InspectImage(ctx context.Context, host, image string) (digests []string, err error)
	// Pull pulls image on host and returns its resolved id, version string,
	// and digests.
	Pull(ctx context.Context, host, image string) (id, version string, digests []string, err error)
	// Redeploy redeploys a daemon. When image is empty, the daemon is
	// redeployed without changing its image (only to re-record deployed_by).
	Redeploy(ctx context.Context, d Daemon, image string) error
}

// DaemonInventory is the read-only daemon cache maintained by the
// orchestrator host environment.
type DaemonInventory interface {
	Daemons(ctx context.Context, class DaemonClass) ([]Daemon, error)
	// SelfName is the name of the manager daemon hosting the controller,
	// e.g. "mgr.a".
	SelfName(ctx context.Context) (string, error)
}

// ProgressSink publishes progress events (spec: update/complete).
type ProgressSink interface {
	Update(ctx context.Context, progressID, message string, fraction float64)
	Complete(ctx context.Context, progressID string)
}

// AlertCode is one of the five stable, externally-observed alert
// identifiers. These must never be renamed silently; they appear in
// operator dashboards.
type AlertCode string

const (
	AlertNoStandbyMgr       AlertCode = "UPGRADE_NO_STANDBY_MGR"
	AlertFailedPull         AlertCode = "UPGRADE_FAILED_PULL"
	AlertRedeployDaemon     AlertCode = "UPGRADE_REDEPLOY_DAEMON"
	AlertBadTargetVersion   AlertCode = "UPGRADE_BAD_TARGET_VERSION"
	AlertException          AlertCode = "UPGRADE_EXCEPTION"
)

// AllAlertCodes is the complete, closed set of alert codes the controller
// owns on the health sink. No other code may ever be registered under this
// controller's name.
var AllAlertCodes = []AlertCode{
	AlertNoStandbyMgr,
	AlertFailedPull,
	AlertRedeployDaemon,
	AlertBadTargetVersion,
	AlertException,
}

// HealthSink is the alert-registration contract (spec: set_health_checks).
type HealthSink interface {
	SetHealthCheck(ctx context.Context, code AlertCode, summary string)
	ClearHealthCheck(ctx context.Context, code AlertCode)
}

// MetricsRecorder is the narrow slice of internal/metrics.UpgradeMetrics
// this package depends on, kept as an interface so the state machine
// never imports the metrics package directly. A nil MetricsRecorder is
// valid and simply skips instrumentation, which callers that don't care
// about metrics (most unit tests) rely on.
type MetricsRecorder interface {
	RecordAlert(code AlertCode)
	RecordUpgrade(ctx context.Context, success bool)
	RecordPhase(ctx context.Context, phase string)
}

// StateStore persists and restores UpgradeState through the orchestrator's
// key-value store (spec: get_store/set_store).
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
}

// Clock abstracts time. The bounded ok-to-stop retry loop in safety.go
// does not use it; it waits through wait.PollUntilContextCancel.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time      { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// ErrNoStandbyManager is returned by ClusterRPC.FailoverManager when no
// standby manager exists to take over.
var ErrNoStandbyManager = newSentinel("no standby manager available")

type sentinelError string

func newSentinel(msg string) error { return sentinelError(msg) }

func (e sentinelError) Error() string { return string(e) }
