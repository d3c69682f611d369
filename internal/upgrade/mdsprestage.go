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
	"strconv"
)

// PrestageStatus is the outcome of one MDSPrestage call.
type PrestageStatus int

const (
	// PrestageReady means every filesystem already satisfies the
	// single-active-MDS condition the metadata-server class requires
	// before a major-version crossing.
	PrestageReady PrestageStatus = iota
	// PrestageNotReady means at least one filesystem still needs to
	// drain down to a single active, up:active MDS; the caller should
	// return from the tick and retry on the next one.
	PrestageNotReady
	// PrestageUnknown means MDS versions could not yet be determined
	// (metadata not populated); the caller should retry next tick
	// without taking any action.
	PrestageUnknown
)

// MDSPrestage implements spec §4.5: before crossing a major on metadata
// servers, scale every filesystem down to a single active MDS and
// remember the original fan-out on state so it can be restored at class
// completion. It mutates state.FSOriginalMaxMDS and persists via store
// before issuing any `fs set max_mds` RPC (persist-before-act, spec §5).
func MDSPrestage(ctx context.Context, rpc ClusterRPC, store StateStore, state *State, targetMajor int) (PrestageStatus, error) {
	versions, err := rpc.MDSShortVersions(ctx)
	if err != nil {
		return PrestageUnknown, fmt.Errorf("reading MDS versions: %w", err)
	}

	allOnTarget := true
	for _, v := range versions {
		major, err := mdsMajor(v)
		if err != nil {
			// Version not yet known for some daemon: caller retries
			// next tick without error.
			return PrestageUnknown, nil
		}
		if major < targetMajor {
			allOnTarget = false
		}
	}
	if allOnTarget {
		return PrestageReady, nil
	}

	filesystems, err := rpc.Filesystems(ctx)
	if err != nil {
		return PrestageNotReady, fmt.Errorf("listing filesystems: %w", err)
	}

	ready := true
	for _, fs := range filesystems {
		switch {
		case fs.MaxMDS > 1:
			if state.FSOriginalMaxMDS == nil {
				state.FSOriginalMaxMDS = map[string]int{}
			}
			key := strconv.Itoa(fs.ID)
			if _, saved := state.FSOriginalMaxMDS[key]; !saved {
				state.FSOriginalMaxMDS[key] = fs.MaxMDS
				if err := store.Save(ctx, state); err != nil {
					return PrestageNotReady, fmt.Errorf("persisting pre-stage fan-out for filesystem %d: %w", fs.ID, err)
				}
			}
			if err := rpc.SetMaxMDS(ctx, fs.ID, 1); err != nil {
				return PrestageNotReady, fmt.Errorf("setting max_mds=1 for filesystem %d: %w", fs.ID, err)
			}
			ready = false
		case fs.ActiveMDSCount > 1:
			ready = false
		case !fs.ActiveMDSAreActive:
			ready = false
		}
	}

	if ready {
		return PrestageReady, nil
	}
	return PrestageNotReady, nil
}

// RestorePrestage restores every filesystem's max_mds to the value
// recorded before pre-stage began, and clears the recorded map,
// completing invariant P3's pre-stage window.
func RestorePrestage(ctx context.Context, rpc ClusterRPC, store StateStore, state *State) error {
	if !state.InPrestage() {
		return nil
	}
	for key, maxMDS := range state.FSOriginalMaxMDS {
		fsID, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid filesystem id %q in pre-stage record: %w", key, err)
		}
		if err := rpc.SetMaxMDS(ctx, fsID, maxMDS); err != nil {
			return fmt.Errorf("restoring max_mds for filesystem %d: %w", fsID, err)
		}
	}
	state.ClearPrestage()
	return store.Save(ctx, state)
}

// mdsMajor extracts the major version number from a short MDS version
// string such as "16.2.5".
func mdsMajor(v string) (int, error) {
	pv, err := ParseShortVersion(v)
	if err != nil {
		return 0, err
	}
	return pv.Major, nil
}
