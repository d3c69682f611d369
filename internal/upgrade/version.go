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
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// minMajor and minMinorAtFloor are the hard floor below which no target
// version is ever accepted, regardless of the current cluster version.
const (
	minMajor        = 15
	minMinorAtFloor = 2
	// maxMajorJump is the largest forward major-version jump a single
	// upgrade may make. The prerequisite checks below (min_mon_release,
	// require_osd_release) use a separate, wider two-major window per
	// the original orchestrator's policy; the jump limit itself is
	// narrower, matching the boundary behavior required of this policy.
	maxMajorJump = 1
	// prerequisiteWindow is how far behind target's major the cluster's
	// min_mon_release/require_osd_release tunables may lag before the
	// upgrade is refused for skipping a required intermediate release.
	prerequisiteWindow = 2
)

// patchSuffix matches Ceph's "N-g<sha>" git-describe patch extension,
// e.g. "5-g1a2b3c4". No off-the-shelf semver library models this shape,
// so it is stripped before handing the X.Y.Z core to semver/v3.
var patchSuffix = regexp.MustCompile(`^(\d+)(?:-g[0-9a-f]+)?$`)

// ClusterVersion is the subset of current-cluster facts the version
// policy gates against.
type ClusterVersion struct {
	Major                int
	Minor                int
	Patch                int
	MinMonRelease        int
	RequireOSDReleaseMaj int
}

// parsedVersion is a loosened semver: Patch is the numeric part of the
// patch field with any "-g<sha>" suffix discarded, since that suffix
// never participates in ordering.
type parsedVersion struct {
	Major, Minor, Patch int
}

// ParseShortVersion parses a Ceph short version string "X.Y.Z" or
// "X.Y.Z-g<sha>" into its numeric components.
func ParseShortVersion(v string) (parsedVersion, error) {
	// semver/v3 expects a canonical "major.minor.patch" core; split the
	// trailing patch segment off manually so the "-g<sha>" extension (not
	// a semver prerelease) never reaches the library.
	major, minor, rawPatch, err := splitThree(v)
	if err != nil {
		return parsedVersion{}, err
	}
	m := patchSuffix.FindStringSubmatch(rawPatch)
	if m == nil {
		return parsedVersion{}, fmt.Errorf("invalid version %q: patch segment %q is not N or N-g<sha>", v, rawPatch)
	}
	core := fmt.Sprintf("%d.%d.%s", major, minor, m[1])
	sv, err := semver.NewVersion(core)
	if err != nil {
		return parsedVersion{}, fmt.Errorf("invalid version %q: %w", v, err)
	}
	return parsedVersion{Major: int(sv.Major()), Minor: int(sv.Minor()), Patch: int(sv.Patch())}, nil
}

var versionShape = regexp.MustCompile(`^(\d+)\.(\d+)\.(.+)$`)

func splitThree(v string) (major, minor int, patch string, err error) {
	m := versionShape.FindStringSubmatch(v)
	if m == nil {
		return 0, 0, "", fmt.Errorf("invalid version %q: expected X.Y.Z", v)
	}
	if _, err := fmt.Sscanf(m[1]+" "+m[2], "%d %d", &major, &minor); err != nil {
		return 0, 0, "", fmt.Errorf("invalid version %q: %w", v, err)
	}
	return major, minor, m[3], nil
}

// CheckTargetVersion validates that target is a legal next version from
// current, per spec §4.2: forward-only, at most one major forward, a
// hard minimum-release floor, and satisfied mon/osd-release
// prerequisites. It returns a human-readable rejection reason, or ""
// when the target is accepted.
func CheckTargetVersion(target string, current ClusterVersion) string {
	v, err := ParseShortVersion(target)
	if err != nil {
		return err.Error()
	}

	if v.Major < minMajor || (v.Major == minMajor && v.Minor < minMinorAtFloor) {
		return fmt.Sprintf("target version %d.%d.%d is below the minimum supported release %d.%d", v.Major, v.Minor, v.Patch, minMajor, minMinorAtFloor)
	}

	if v.Major > current.Major+maxMajorJump {
		return fmt.Sprintf("target major %d is more than %d majors ahead of current major %d", v.Major, maxMajorJump, current.Major)
	}

	if v.Major < current.Major {
		return fmt.Sprintf("target major %d is a downgrade from current major %d", v.Major, current.Major)
	}
	if v.Major == current.Major {
		if v.Minor < current.Minor {
			return fmt.Sprintf("target minor %d.%d is a downgrade from current %d.%d", v.Major, v.Minor, current.Major, current.Minor)
		}
		if v.Minor == current.Minor && v.Patch < current.Patch {
			return fmt.Sprintf("target %d.%d.%d is a downgrade from current %d.%d.%d", v.Major, v.Minor, v.Patch, current.Major, current.Minor, current.Patch)
		}
	}

	if current.MinMonRelease < v.Major-prerequisiteWindow {
		return fmt.Sprintf("min_mon_release %d has not completed a prerequisite upgrade for target major %d", current.MinMonRelease, v.Major)
	}
	if current.RequireOSDReleaseMaj < v.Major-prerequisiteWindow {
		return fmt.Sprintf("require_osd_release %d has not completed a prerequisite upgrade for target major %d", current.RequireOSDReleaseMaj, v.Major)
	}

	return ""
}
