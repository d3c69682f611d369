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

// Package cmd implements the cephadmctl subcommands, one Cobra command per
// upgrade.Controller operation (start/pause/resume/stop/status), each
// patching the CephUpgrade CR and letting the reconciler drive the actual
// state machine.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"sigs.k8s.io/controller-runtime/pkg/client"

	cephv1alpha1 "github.com/ceph/ceph-upgrade-controller/api/v1alpha1"
	"github.com/ceph/ceph-upgrade-controller/cmd/cephadmctl/pkg/util"
)

// NewUpgradeCommand creates the upgrade command with its subcommands.
func NewUpgradeCommand(configFlags *genericclioptions.ConfigFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Drive a rolling upgrade of a Ceph cluster",
		Long:  "Start, pause, resume, stop, or inspect a CephUpgrade resource, mirroring the original cephadm `ceph orch upgrade` commands.",
	}

	cmd.AddCommand(newUpgradeStartCommand(configFlags))
	cmd.AddCommand(newUpgradePauseCommand(configFlags))
	cmd.AddCommand(newUpgradeResumeCommand(configFlags))
	cmd.AddCommand(newUpgradeStopCommand(configFlags))
	cmd.AddCommand(newUpgradeStatusCommand(configFlags))

	return cmd
}

func getCRClient(cmd *cobra.Command) (client.Client, error) {
	crClient, ok := cmd.Context().Value(ctxKeyCRClient).(client.Client)
	if !ok {
		return nil, fmt.Errorf("controller-runtime client not found in context")
	}
	return crClient, nil
}

func newUpgradeStartCommand(configFlags *genericclioptions.ConfigFlags) *cobra.Command {
	var image string
	var version string
	var preferDigest bool
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "start <name>",
		Short: "Start (or retarget) a rolling upgrade",
		Args:  cobra.ExactArgs(1),
		Example: `  # Start an upgrade to a specific image
  cephadmctl upgrade start default --image=quay.io/ceph/ceph:v18.2.0

  # Start an upgrade by version only
  cephadmctl upgrade start default --ceph-version=18.2.0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			crClient, err := getCRClient(cmd)
			if err != nil {
				return err
			}
			name := args[0]
			namespace := util.GetNamespace(configFlags)

			if image == "" && version == "" {
				return fmt.Errorf("one of --image or --ceph-version must be given")
			}

			var cr cephv1alpha1.CephUpgrade
			err = crClient.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, &cr)
			switch {
			case apierrors.IsNotFound(err):
				cr = cephv1alpha1.CephUpgrade{
					ObjectMeta: metaObject(name, namespace),
					Spec: cephv1alpha1.CephUpgradeSpec{
						TargetImage:            image,
						TargetVersion:          version,
						PreferDigestAddressing: preferDigest,
					},
				}
				if err := crClient.Create(ctx, &cr); err != nil {
					return fmt.Errorf("creating CephUpgrade %s: %w", name, err)
				}
			case err != nil:
				return fmt.Errorf("getting CephUpgrade %s: %w", name, err)
			default:
				cr.Spec.TargetImage = image
				cr.Spec.TargetVersion = version
				cr.Spec.Stop = false
				cr.Spec.Paused = false
				cr.Spec.PreferDigestAddressing = preferDigest
				if err := crClient.Update(ctx, &cr); err != nil {
					return fmt.Errorf("updating CephUpgrade %s: %w", name, err)
				}
			}

			fmt.Printf("upgrade %s started\n", name)

			if wait {
				return util.WaitForPhase(ctx, crClient, name, namespace, timeout, "Completed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "full target container image reference")
	cmd.Flags().StringVar(&version, "ceph-version", "", "target ceph version, e.g. 18.2.0")
	cmd.Flags().BoolVar(&preferDigest, "prefer-digest", false, "set spec.preferDigestAddressing (not read by the controller, whose --prefer-digest-addressing flag decides)")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the upgrade completes")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Hour, "timeout for --wait")

	return cmd
}

func newUpgradePauseCommand(configFlags *genericclioptions.ConfigFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <name>",
		Short: "Pause an in-progress upgrade",
		Args:  cobra.ExactArgs(1),
		RunE:  patchSpec(configFlags, func(spec *cephv1alpha1.CephUpgradeSpec) { spec.Paused = true }),
	}
}

func newUpgradeResumeCommand(configFlags *genericclioptions.ConfigFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <name>",
		Short: "Resume a paused upgrade",
		Args:  cobra.ExactArgs(1),
		RunE:  patchSpec(configFlags, func(spec *cephv1alpha1.CephUpgradeSpec) { spec.Paused = false }),
	}
}

func newUpgradeStopCommand(configFlags *genericclioptions.ConfigFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop tracking an upgrade",
		Args:  cobra.ExactArgs(1),
		RunE:  patchSpec(configFlags, func(spec *cephv1alpha1.CephUpgradeSpec) { spec.Stop = true }),
	}
}

func patchSpec(configFlags *genericclioptions.ConfigFlags, mutate func(*cephv1alpha1.CephUpgradeSpec)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		crClient, err := getCRClient(cmd)
		if err != nil {
			return err
		}
		name := args[0]
		namespace := util.GetNamespace(configFlags)

		var cr cephv1alpha1.CephUpgrade
		if err := crClient.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, &cr); err != nil {
			return fmt.Errorf("getting CephUpgrade %s: %w", name, err)
		}
		mutate(&cr.Spec)
		if err := crClient.Update(ctx, &cr); err != nil {
			return fmt.Errorf("updating CephUpgrade %s: %w", name, err)
		}
		fmt.Printf("%s updated\n", name)
		return nil
	}
}

func newUpgradeStatusCommand(configFlags *genericclioptions.ConfigFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show the current status of an upgrade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			crClient, err := getCRClient(cmd)
			if err != nil {
				return err
			}
			name := args[0]
			namespace := util.GetNamespace(configFlags)

			var cr cephv1alpha1.CephUpgrade
			if err := crClient.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, &cr); err != nil {
				return fmt.Errorf("getting CephUpgrade %s: %w", name, err)
			}
			util.PrintStatus(name, &cr.Status)
			return nil
		},
	}
}
