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

package util

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"sigs.k8s.io/controller-runtime/pkg/client"

	cephv1alpha1 "github.com/ceph/ceph-upgrade-controller/api/v1alpha1"
)

// GetNamespace returns the namespace from config flags, defaulting to the
// conventional Rook-Ceph cluster namespace.
func GetNamespace(configFlags *genericclioptions.ConfigFlags) string {
	if configFlags.Namespace != nil && *configFlags.Namespace != "" {
		return *configFlags.Namespace
	}
	return "rook-ceph"
}

// PrintStatus renders a CephUpgrade's status as a tab-separated table.
func PrintStatus(name string, status *cephv1alpha1.CephUpgradeStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tPHASE\tTARGET\tPROGRESS\tMESSAGE")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, status.Phase, status.TargetImage, status.ProgressID, status.Message)
	w.Flush()
}

// WaitForPhase polls the CephUpgrade resource until it reaches one of the
// wanted phases or timeout elapses.
func WaitForPhase(ctx context.Context, c client.Client, name, namespace string, timeout time.Duration, wanted ...string) error {
	return wait.PollUntilContextTimeout(ctx, 5*time.Second, timeout, true, func(ctx context.Context) (bool, error) {
		var cr cephv1alpha1.CephUpgrade
		if err := c.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, &cr); err != nil {
			if errors.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		for _, phase := range wanted {
			if cr.Status.Phase == phase {
				return true, nil
			}
		}
		if cr.Status.Phase == "Failed" {
			return false, fmt.Errorf("upgrade failed: %s", cr.Status.Message)
		}
		return false, nil
	})
}
