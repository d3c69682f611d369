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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		image string
		want  string
	}{
		{"bare name", "ceph/ceph", "docker.io/ceph/ceph"},
		{"single segment", "ceph", "docker.io/ceph"},
		{"already qualified", "quay.io/ceph/ceph:v16", "quay.io/ceph/ceph:v16"},
		{"qualified with port", "registry.example.com:5000/ceph/ceph", "registry.example.com:5000/ceph/ceph"},
		{"two segments with a dot still needs a repository path", "docker.io/ubuntu", "docker.io/docker.io/ubuntu"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.image))
		})
	}
}

type fakeHostAgent struct {
	id, version string
	digests     []string
	err         error
	redeployErr error
	inspect     []string
}

func (f *fakeHostAgent) InspectImage(ctx context.Context, host, image string) ([]string, error) {
	return f.inspect, nil
}

func (f *fakeHostAgent) Pull(ctx context.Context, host, image string) (string, string, []string, error) {
	if f.err != nil {
		return "", "", nil, f.err
	}
	return f.id, f.version, f.digests, nil
}

func (f *fakeHostAgent) Redeploy(ctx context.Context, d Daemon, image string) error {
	return f.redeployErr
}

func TestResolve_Success(t *testing.T) {
	agent := &fakeHostAgent{
		id:      "sha256:abc",
		version: "ceph version 16.2.5 (deadbeef) pacific (stable)",
		digests: []string{"quay.io/ceph/ceph@sha256:def"},
	}
	id, version, digests, err := Resolve(context.Background(), agent, "host0", "quay.io/ceph/ceph:v16.2.5")
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", id)
	assert.Equal(t, "ceph version 16.2.5 (deadbeef) pacific (stable)", version)
	assert.Equal(t, []string{"quay.io/ceph/ceph@sha256:def"}, digests)
}

func TestResolve_PullFails(t *testing.T) {
	agent := &fakeHostAgent{err: assert.AnError}
	_, _, _, err := Resolve(context.Background(), agent, "host0", "bad-image")
	assert.Error(t, err)
}

func TestResolve_NoDigests(t *testing.T) {
	agent := &fakeHostAgent{id: "sha256:abc", version: "ceph version 16.2.5 (x) pacific (stable)"}
	_, _, _, err := Resolve(context.Background(), agent, "host0", "image")
	assert.Error(t, err)
}

func TestParseVersionField(t *testing.T) {
	v, err := ParseVersionField("ceph version 16.2.5 (deadbeef) pacific (stable)")
	require.NoError(t, err)
	assert.Equal(t, "16.2.5", v)

	_, err = ParseVersionField("garbage")
	assert.Error(t, err)
}

func TestCanonicalTarget(t *testing.T) {
	s := &State{TargetName: "quay.io/ceph/ceph:v16.2.5", TargetDigests: []string{"quay.io/ceph/ceph@sha256:abc"}}
	assert.Equal(t, "quay.io/ceph/ceph@sha256:abc", CanonicalTarget(s, true))
	assert.Equal(t, "quay.io/ceph/ceph:v16.2.5", CanonicalTarget(s, false))

	empty := &State{TargetName: "quay.io/ceph/ceph:v16.2.5"}
	assert.Equal(t, "quay.io/ceph/ceph:v16.2.5", CanonicalTarget(empty, true))
}
