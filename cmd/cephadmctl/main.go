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

// Command cephadmctl is the imperative half of the public control surface
// (C8): a kubectl-plugin-style CLI for operators who want `ceph orch
// upgrade start` ergonomics instead of hand-editing a CephUpgrade CR.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"sigs.k8s.io/controller-runtime/pkg/client"

	cephv1alpha1 "github.com/ceph/ceph-upgrade-controller/api/v1alpha1"
	"github.com/ceph/ceph-upgrade-controller/cmd/cephadmctl/pkg/cmd"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx := context.Background()
	configFlags := genericclioptions.NewConfigFlags(true)

	scheme := runtime.NewScheme()
	if err := cephv1alpha1.AddToScheme(scheme); err != nil {
		fmt.Fprintf(os.Stderr, "failed to add CephUpgrade CRD to scheme: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:     "cephadmctl",
		Short:   "Drive a rolling Ceph upgrade through the CephUpgrade CRD",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			restConfig, err := configFlags.ToRESTConfig()
			if err != nil {
				return fmt.Errorf("building rest config: %w", err)
			}
			crClient, err := client.New(restConfig, client.Options{Scheme: scheme})
			if err != nil {
				return fmt.Errorf("building controller-runtime client: %w", err)
			}
			c.SetContext(context.WithValue(c.Context(), cmd.CtxKeyCRClient, crClient))
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.SetContext(ctx)
	configFlags.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(cmd.NewUpgradeCommand(configFlags))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
