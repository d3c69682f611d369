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

// Package inventory implements upgrade.DaemonInventory by listing the
// Kubernetes pods a Rook-Ceph operator labels per daemon class, rather
// than asking the Ceph cluster itself for its own daemon placement.
package inventory

import (
	"context"
	"fmt"
	"os"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

// appNameByClass mirrors the rook-ceph operator's own pod labels
// (e.g. "rook-ceph-mgr", confirmed against the mgr module's appName).
var appNameByClass = map[upgrade.DaemonClass]string{
	upgrade.ClassMon:        "rook-ceph-mon",
	upgrade.ClassMgr:        "rook-ceph-mgr",
	upgrade.ClassOSD:        "rook-ceph-osd",
	upgrade.ClassMDS:        "rook-ceph-mds",
	upgrade.ClassGateway:    "rook-ceph-rgw",
	upgrade.ClassMonitoring: "rook-ceph-exporter",
}

// PodInventory lists daemon pods in a single Rook-Ceph cluster namespace.
type PodInventory struct {
	Client    client.Client
	Namespace string
}

// NewPodInventory builds a PodInventory scoped to namespace.
func NewPodInventory(c client.Client, namespace string) *PodInventory {
	return &PodInventory{Client: c, Namespace: namespace}
}

var _ upgrade.DaemonInventory = (*PodInventory)(nil)

// Daemons lists every daemon of the given class by its rook-ceph pod label.
func (p *PodInventory) Daemons(ctx context.Context, class upgrade.DaemonClass) ([]upgrade.Daemon, error) {
	appName, ok := appNameByClass[class]
	if !ok {
		return nil, fmt.Errorf("no pod label mapping for daemon class %q", class)
	}

	pods := &corev1.PodList{}
	listOpts := []client.ListOption{
		client.InNamespace(p.Namespace),
		client.MatchingLabels(map[string]string{"app": appName}),
	}
	if err := p.Client.List(ctx, pods, listOpts...); err != nil {
		return nil, fmt.Errorf("listing %s pods: %w", appName, err)
	}

	daemons := make([]upgrade.Daemon, 0, len(pods.Items))
	for _, pod := range pods.Items {
		id := pod.Labels["ceph_daemon_id"]
		if id == "" {
			id = pod.Name
		}
		daemons = append(daemons, podToDaemon(pod, class, id))
	}
	return daemons, nil
}

func podToDaemon(pod corev1.Pod, class upgrade.DaemonClass, id string) upgrade.Daemon {
	d := upgrade.Daemon{
		Class:  class,
		ID:     id,
		Host:   pod.Spec.NodeName,
		Status: string(pod.Status.Phase),
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name != "ceph-daemon" && cs.Name != "osd" && !strings.Contains(cs.Name, string(class)) {
			continue
		}
		d.CurrentImage = cs.Image
		if digest := digestFromImageID(cs.ImageID); digest != "" {
			d.CurrentDigests = []string{digest}
			d.DeployedBy = []string{digest}
		}
		break
	}
	if d.CurrentImage == "" && len(pod.Status.ContainerStatuses) > 0 {
		cs := pod.Status.ContainerStatuses[0]
		d.CurrentImage = cs.Image
		if digest := digestFromImageID(cs.ImageID); digest != "" {
			d.CurrentDigests = []string{digest}
			d.DeployedBy = []string{digest}
		}
	}
	return d
}

// digestFromImageID extracts the "sha256:..." portion of a container
// status's ImageID, which kubelet reports as "<repo>@sha256:<hex>" or
// "docker-pullable://<repo>@sha256:<hex>".
func digestFromImageID(imageID string) string {
	idx := strings.Index(imageID, "sha256:")
	if idx == -1 {
		return ""
	}
	return imageID[idx:]
}

// SelfName identifies the manager daemon hosting the controller by
// reading its own pod's ceph_daemon_id label, looked up via the
// POD_NAME/POD_NAMESPACE downward-API env vars set on the manager
// deployment.
func (p *PodInventory) SelfName(ctx context.Context) (string, error) {
	podName := os.Getenv("POD_NAME")
	if podName == "" {
		return "", fmt.Errorf("POD_NAME is not set; cannot identify the manager hosting this controller")
	}
	namespace := os.Getenv("POD_NAMESPACE")
	if namespace == "" {
		namespace = p.Namespace
	}

	pod := &corev1.Pod{}
	if err := p.Client.Get(ctx, client.ObjectKey{Name: podName, Namespace: namespace}, pod); err != nil {
		return "", fmt.Errorf("getting self pod %s/%s: %w", namespace, podName, err)
	}

	id := pod.Labels["ceph_daemon_id"]
	if id == "" {
		return "", fmt.Errorf("pod %s/%s has no ceph_daemon_id label", namespace, podName)
	}
	return upgrade.Daemon{Class: upgrade.ClassMgr, ID: id}.Name(), nil
}
