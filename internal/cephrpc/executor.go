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

// Package cephrpc implements upgrade.ClusterRPC by shelling out to the
// "ceph" CLI with "--format json", the same way rook's ceph client
// package wraps mon_command.
package cephrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

// Executor runs a ceph CLI subcommand and returns its stdout. Swappable in
// tests for a fake that records args instead of shelling out.
type Executor interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// CLIExecutor invokes the real "ceph" binary against the cluster whose
// config is <ConfigDir>/<ClusterName>.conf, matching how cephadm shells expose a single admin
// keyring per cluster.
type CLIExecutor struct {
	Binary     string
	ConfigDir  string
	ClusterName string
}

// NewCLIExecutor builds a CLIExecutor for the cluster's default config
// location, "ceph" on PATH.
func NewCLIExecutor(configDir, clusterName string) *CLIExecutor {
	return &CLIExecutor{Binary: "ceph", ConfigDir: configDir, ClusterName: clusterName}
}

func (e *CLIExecutor) Run(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"--conf", e.confPath(), "--format", "json"}, args...)
	cmd := exec.CommandContext(ctx, e.binary(), full...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("ceph %s: %w: %s", strings.Join(args, " "), err, string(ee.Stderr))
		}
		return nil, fmt.Errorf("ceph %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

func (e *CLIExecutor) binary() string {
	if e.Binary == "" {
		return "ceph"
	}
	return e.Binary
}

func (e *CLIExecutor) confPath() string {
	return fmt.Sprintf("%s/%s.conf", e.ConfigDir, e.ClusterName)
}

// Client is the production upgrade.ClusterRPC implementation.
type Client struct {
	Exec Executor
}

// NewClient builds a Client around exec.
func NewClient(exec Executor) *Client {
	return &Client{Exec: exec}
}

// versionString parses "ceph version X.Y.Z (sha) name (stable)".
func versionString(raw string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) < 3 {
		return "", fmt.Errorf("unexpected `ceph version` output %q", raw)
	}
	return fields[2], nil
}

// CurrentVersion implements upgrade.ClusterRPC.
func (c *Client) CurrentVersion(ctx context.Context) (upgrade.ClusterVersion, error) {
	out, err := c.Exec.Run(ctx, "version")
	if err != nil {
		return upgrade.ClusterVersion{}, fmt.Errorf("running ceph version: %w", err)
	}
	short, err := versionString(string(out))
	if err != nil {
		return upgrade.ClusterVersion{}, err
	}
	v, err := upgrade.ParseShortVersion(short)
	if err != nil {
		return upgrade.ClusterVersion{}, err
	}

	releaseOut, err := c.Exec.Run(ctx, "mon", "dump")
	if err != nil {
		return upgrade.ClusterVersion{}, fmt.Errorf("running ceph mon dump: %w", err)
	}
	var monDump struct {
		MinMonRelease int `json:"min_mon_release"`
	}
	if err := json.Unmarshal(releaseOut, &monDump); err != nil {
		return upgrade.ClusterVersion{}, fmt.Errorf("decoding ceph mon dump: %w", err)
	}

	requireOSD, err := c.RequireOSDRelease(ctx)
	if err != nil {
		return upgrade.ClusterVersion{}, err
	}
	requireMajor, err := releaseNameToMajor(requireOSD)
	if err != nil {
		return upgrade.ClusterVersion{}, err
	}

	return upgrade.ClusterVersion{
		Major:                v.Major,
		Minor:                v.Minor,
		Patch:                v.Patch,
		MinMonRelease:        monDump.MinMonRelease,
		RequireOSDReleaseMaj: requireMajor,
	}, nil
}

// releaseCodeNames maps Ceph release code names to their major release
// number, the inverse of the table cephadm/upgrade.py ships.
var releaseCodeNames = map[string]int{
	"octopus":  15,
	"pacific":  16,
	"quincy":   17,
	"reef":     18,
	"squid":    19,
	"tentacle": 20,
}

func releaseNameToMajor(name string) (int, error) {
	if major, ok := releaseCodeNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return major, nil
	}
	if major, err := strconv.Atoi(strings.TrimSpace(name)); err == nil {
		return major, nil
	}
	return 0, fmt.Errorf("unrecognized ceph release name %q", name)
}

// QuorumMonitorCount implements upgrade.ClusterRPC.
func (c *Client) QuorumMonitorCount(ctx context.Context) (int, error) {
	out, err := c.Exec.Run(ctx, "quorum_status")
	if err != nil {
		return 0, fmt.Errorf("running ceph quorum_status: %w", err)
	}
	var status struct {
		QuorumNames []string `json:"quorum_names"`
	}
	if err := json.Unmarshal(out, &status); err != nil {
		return 0, fmt.Errorf("decoding ceph quorum_status: %w", err)
	}
	return len(status.QuorumNames), nil
}

// OkToStop implements upgrade.ClusterRPC.
func (c *Client) OkToStop(ctx context.Context, d upgrade.Daemon) (upgrade.OkToStopResult, error) {
	out, err := c.Exec.Run(ctx, string(d.Class), "ok-to-stop", d.ID)
	if err != nil {
		return upgrade.OkToStopResult{}, fmt.Errorf("running ceph %s ok-to-stop %s: %w", d.Class, d.ID, err)
	}
	var resp struct {
		OkToStop bool     `json:"ok_to_stop"`
		Message  string   `json:"message"`
		Ids      []string `json:"ids"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		// ok-to-stop is most often asked for a single daemon that isn't
		// JSON-capable on older releases; an empty-but-successful exit
		// counts as ok.
		return upgrade.OkToStopResult{OK: true}, nil
	}
	return upgrade.OkToStopResult{OK: resp.OkToStop, Peers: resp.Ids}, nil
}

type fsMapEntry struct {
	ID  int `json:"id"`
	MDS struct {
		FSName string `json:"fs_name"`
		MaxMDS int     `json:"max_mds"`
		Info   map[string]struct {
			State string `json:"state"`
		} `json:"info"`
	} `json:"mdsmap"`
}

// Filesystems implements upgrade.ClusterRPC.
func (c *Client) Filesystems(ctx context.Context) ([]upgrade.Filesystem, error) {
	out, err := c.Exec.Run(ctx, "fs", "dump")
	if err != nil {
		return nil, fmt.Errorf("running ceph fs dump: %w", err)
	}
	var dump struct {
		Filesystems []fsMapEntry `json:"filesystems"`
	}
	if err := json.Unmarshal(out, &dump); err != nil {
		return nil, fmt.Errorf("decoding ceph fs dump: %w", err)
	}

	result := make([]upgrade.Filesystem, 0, len(dump.Filesystems))
	for _, fs := range dump.Filesystems {
		active, allActive := 0, true
		for _, rank := range fs.MDS.Info {
			if rank.State == "up:active" {
				active++
			} else {
				allActive = false
			}
		}
		result = append(result, upgrade.Filesystem{
			ID:                 fs.ID,
			Name:               fs.MDS.FSName,
			MaxMDS:             fs.MDS.MaxMDS,
			ActiveMDSCount:     active,
			ActiveMDSAreActive: allActive,
		})
	}
	return result, nil
}

// SetMaxMDS implements upgrade.ClusterRPC.
func (c *Client) SetMaxMDS(ctx context.Context, fsID int, maxMDS int) error {
	_, err := c.Exec.Run(ctx, "fs", "set", strconv.Itoa(fsID), "max_mds", strconv.Itoa(maxMDS))
	if err != nil {
		return fmt.Errorf("setting max_mds=%d for filesystem %d: %w", maxMDS, fsID, err)
	}
	return nil
}

// MDSShortVersions implements upgrade.ClusterRPC.
func (c *Client) MDSShortVersions(ctx context.Context) (map[string]string, error) {
	out, err := c.Exec.Run(ctx, "fs", "status")
	if err != nil {
		return nil, fmt.Errorf("running ceph fs status: %w", err)
	}
	var status struct {
		MDSVersion []struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"mdsmap"`
	}
	if err := json.Unmarshal(out, &status); err != nil {
		return nil, fmt.Errorf("decoding ceph fs status: %w", err)
	}
	versions := make(map[string]string, len(status.MDSVersion))
	for _, m := range status.MDSVersion {
		short, err := versionString(m.Version)
		if err != nil {
			continue
		}
		versions[m.Name] = short
	}
	return versions, nil
}

// DaemonVersions implements upgrade.ClusterRPC.
func (c *Client) DaemonVersions(ctx context.Context) (map[upgrade.DaemonClass]map[string]int, error) {
	out, err := c.Exec.Run(ctx, "versions")
	if err != nil {
		return nil, fmt.Errorf("running ceph versions: %w", err)
	}
	var raw map[string]map[string]int
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decoding ceph versions: %w", err)
	}

	classByKey := map[string]upgrade.DaemonClass{
		"mon": upgrade.ClassMon,
		"mgr": upgrade.ClassMgr,
		"osd": upgrade.ClassOSD,
		"mds": upgrade.ClassMDS,
		"rgw": upgrade.ClassGateway,
	}
	result := map[upgrade.DaemonClass]map[string]int{}
	for key, versions := range raw {
		class, ok := classByKey[key]
		if !ok {
			continue
		}
		result[class] = versions
	}
	return result, nil
}

// SetConfigImage implements upgrade.ClusterRPC.
func (c *Client) SetConfigImage(ctx context.Context, section string, image string) error {
	_, err := c.Exec.Run(ctx, "config", "set", section, "container_image", image)
	if err != nil {
		return fmt.Errorf("setting container_image for %s: %w", section, err)
	}
	return nil
}

// RemoveConfigOverride implements upgrade.ClusterRPC.
func (c *Client) RemoveConfigOverride(ctx context.Context, section string, name string) error {
	_, err := c.Exec.Run(ctx, "config", "rm", name, "container_image")
	if err != nil {
		return fmt.Errorf("removing container_image override for %s: %w", name, err)
	}
	return nil
}

// RequireOSDRelease implements upgrade.ClusterRPC.
func (c *Client) RequireOSDRelease(ctx context.Context) (string, error) {
	out, err := c.Exec.Run(ctx, "osd", "dump")
	if err != nil {
		return "", fmt.Errorf("running ceph osd dump: %w", err)
	}
	var dump struct {
		RequireOSDRelease string `json:"require_osd_release"`
	}
	if err := json.Unmarshal(out, &dump); err != nil {
		return "", fmt.Errorf("decoding ceph osd dump: %w", err)
	}
	return dump.RequireOSDRelease, nil
}

// SetRequireOSDRelease implements upgrade.ClusterRPC.
func (c *Client) SetRequireOSDRelease(ctx context.Context, release string) error {
	_, err := c.Exec.Run(ctx, "osd", "require-osd-release", release, "--yes-i-really-mean-it")
	if err != nil {
		return fmt.Errorf("setting require_osd_release=%s: %w", release, err)
	}
	return nil
}

// HasLocalConfigMap implements upgrade.ClusterRPC. It shells into "ceph
// config-key exists" against the manager's own section, the narrowest
// signal that the manager module has already adopted this host's config.
func (c *Client) HasLocalConfigMap(ctx context.Context) (bool, error) {
	_, err := c.Exec.Run(ctx, "config-key", "exists", "mgr/cephadm/upgrade_state")
	if err != nil {
		return false, nil
	}
	return true, nil
}

// FailoverManager implements upgrade.ClusterRPC.
func (c *Client) FailoverManager(ctx context.Context) error {
	_, err := c.Exec.Run(ctx, "mgr", "fail")
	if err != nil {
		if strings.Contains(err.Error(), "no standby") {
			return upgrade.ErrNoStandbyManager
		}
		return fmt.Errorf("failing over manager: %w", err)
	}
	return nil
}

var _ upgrade.ClusterRPC = (*Client)(nil)
