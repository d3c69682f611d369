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
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// minQuorumMonitors is the monitor count at or below which ok-to-stop
	// probing for the monitor class is skipped and treated as
	// best-effort (B4).
	minQuorumMonitors = 2

	okToStopAttempts = 4
	okToStopInterval = 15 * time.Second
)

// QuorumSufficient reports whether the cluster currently has more
// monitors in quorum than minQuorumMonitors, per spec §4.4.
func QuorumSufficient(ctx context.Context, rpc ClusterRPC) (bool, error) {
	n, err := rpc.QuorumMonitorCount(ctx)
	if err != nil {
		return false, fmt.Errorf("checking monitor quorum: %w", err)
	}
	return n > minQuorumMonitors, nil
}

// MDSRedundant reports whether an MDS daemon's filesystem has spare
// fan-out to tolerate stopping it: ok iff max_mds < the number of MDS
// daemons serving that filesystem's service name, or the daemon belongs
// to no filesystem at all (B5, vacuous pass).
func MDSRedundant(fs []Filesystem, fsName string, daemonCountForService int) bool {
	for _, f := range fs {
		if f.Name == fsName {
			return f.MaxMDS < daemonCountForService
		}
	}
	return true
}

// ShouldProbeOkToStop decides, per daemon class, whether the wait-for-
// ok-to-stop probe should run at all this tick (spec §4.4 step 4):
// storage daemons always probe; monitors probe only when quorum is
// sufficient; metadata daemons probe only when their filesystem has
// redundancy; all other classes have no ok-to-stop notion and always
// pass without probing.
func ShouldProbeOkToStop(ctx context.Context, rpc ClusterRPC, d Daemon, fs []Filesystem, daemonCountForService int) (bool, error) {
	switch d.Class {
	case ClassOSD:
		return true, nil
	case ClassMon:
		return QuorumSufficient(ctx, rpc)
	case ClassMDS:
		return MDSRedundant(fs, mdsFilesystemName(d), daemonCountForService), nil
	default:
		return false, nil
	}
}

// mdsFilesystemName derives the filesystem name an MDS daemon serves from
// its daemon id, matching the service-name suffix the orchestrator uses
// to key filesystems (e.g. daemon id "fs0.host0.abcde" serves filesystem
// "fs0").
func mdsFilesystemName(d Daemon) string {
	for i := 0; i < len(d.ID); i++ {
		if d.ID[i] == '.' {
			return d.ID[:i]
		}
	}
	return d.ID
}

// WaitOkToStop probes d's ok-to-stop status up to okToStopAttempts times,
// okToStopInterval apart, stopping early if ctx is canceled or cancel
// reports the upgrade was paused/stopped between attempts (spec §5
// cooperative cancellation). It returns the last probe result; callers
// treat a final !OK as "abort this tick".
func WaitOkToStop(ctx context.Context, rpc ClusterRPC, d Daemon, cancel func() bool) (OkToStopResult, error) {
	var last OkToStopResult
	var lastErr error

	attempt := 0
	err := wait.PollUntilContextCancel(ctx, okToStopInterval, true, func(pollCtx context.Context) (bool, error) {
		if cancel != nil && cancel() {
			return true, nil
		}
		attempt++
		res, err := rpc.OkToStop(pollCtx, d)
		last, lastErr = res, err
		if err != nil {
			// A probe error is not fatal to the poll loop; it may be
			// transient. Keep retrying until attempts are exhausted.
			if attempt >= okToStopAttempts {
				return false, fmt.Errorf("checking ok-to-stop for %s: %w", d.Name(), err)
			}
			return false, nil
		}
		if res.OK {
			return true, nil
		}
		return attempt >= okToStopAttempts, nil
	})
	if err != nil {
		return OkToStopResult{}, err
	}
	if cancel != nil && cancel() {
		return OkToStopResult{OK: false}, nil
	}
	if lastErr != nil {
		return OkToStopResult{}, lastErr
	}
	return last, nil
}
