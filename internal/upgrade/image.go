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
	"strings"
)

// defaultRegistry is prefixed onto image references that look unqualified.
const defaultRegistry = "docker.io"

// Normalize turns a user-supplied image reference into a canonical
// registry-qualified reference. Registry hostnames contain a dot or a
// colon (port); a reference lacking one in its first path segment, or
// with fewer than three '/'-separated segments, is treated as unqualified
// and prefixed with defaultRegistry.
func Normalize(image string) string {
	if image == "" {
		return image
	}
	segments := strings.Split(image, "/")
	first := segments[0]
	qualified := strings.ContainsAny(first, ".:") && len(segments) >= 3
	if qualified {
		return image
	}
	return defaultRegistry + "/" + image
}

// Resolve invokes the host agent's pull operation against a
// representative host to learn the target image's id, version string,
// and digest set. It returns a wrapped error if the pull fails or the
// agent returns an empty version string or no digests; the version
// string is returned unparsed (see ParseVersionField).
func Resolve(ctx context.Context, agent HostAgent, host, image string) (id, version string, digests []string, err error) {
	id, version, digests, err = agent.Pull(ctx, host, image)
	if err != nil {
		return "", "", nil, fmt.Errorf("pulling %s on %s: %w", image, host, err)
	}
	if version == "" {
		return "", "", nil, fmt.Errorf("pulling %s on %s: agent returned no version string", image, host)
	}
	if len(digests) == 0 {
		return "", "", nil, fmt.Errorf("pulling %s on %s: agent returned no digests", image, host)
	}
	return id, version, digests, nil
}

// ParseVersionField extracts the version token from the host agent's
// version string, e.g. "ceph version 16.2.5 (abcdef) pacific (stable)"
// yields "16.2.5". The version is the third whitespace-separated field.
func ParseVersionField(versionString string) (string, error) {
	fields := strings.Fields(versionString)
	if len(fields) < 3 {
		return "", fmt.Errorf("malformed version string %q: expected at least 3 fields", versionString)
	}
	return fields[2], nil
}

// CanonicalTarget returns the authoritative image reference for
// redeployment: state.TargetDigests[0] when digest addressing is
// preferred and available, else state.TargetName.
func CanonicalTarget(state *State, preferDigest bool) string {
	return state.CanonicalTarget(preferDigest)
}
