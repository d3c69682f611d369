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

// Package main is the entry point for the Ceph upgrade controller.
// It sets up and starts the controller manager with the CephUpgrade
// controller and admission webhook.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"time"

	certv1 "github.com/cert-manager/cert-manager/pkg/apis/certmanager/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
	"sigs.k8s.io/controller-runtime/pkg/webhook"

	cephv1alpha1 "github.com/ceph/ceph-upgrade-controller/api/v1alpha1"
	"github.com/ceph/ceph-upgrade-controller/internal/cephrpc"
	"github.com/ceph/ceph-upgrade-controller/internal/controller"
	"github.com/ceph/ceph-upgrade-controller/internal/hostagent"
	"github.com/ceph/ceph-upgrade-controller/internal/inventory"
	"github.com/ceph/ceph-upgrade-controller/internal/metrics"
	"github.com/ceph/ceph-upgrade-controller/internal/progress"
	"github.com/ceph/ceph-upgrade-controller/internal/resources"
	"github.com/ceph/ceph-upgrade-controller/internal/store"
	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
	"github.com/ceph/ceph-upgrade-controller/internal/validation"
	"github.com/ceph/ceph-upgrade-controller/internal/webhooks"
	// +kubebuilder:scaffold:imports
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(cephv1alpha1.AddToScheme(scheme))
	utilruntime.Must(certv1.AddToScheme(scheme))
	// +kubebuilder:scaffold:scheme
}

// ensureWebhookCertificate creates the cert-manager Certificate backing the
// admission webhook's serving secret, if it does not already exist. The
// manager's cached client isn't started yet at this point in main, so a
// direct (uncached) client talks to the API server just for this one call.
func ensureWebhookCertificate(cfg *rest.Config, namespace, issuerName string) error {
	c, err := client.New(cfg, client.Options{Scheme: scheme})
	if err != nil {
		return err
	}
	cert := resources.BuildWebhookCertificate(resources.WebhookCertificateOptions{
		Name:        "ceph-upgrade-controller-webhook",
		Namespace:   namespace,
		SecretName:  "ceph-upgrade-controller-webhook-tls",
		ServiceName: "ceph-upgrade-controller-webhook",
		IssuerName:  issuerName,
	})
	if err := c.Create(context.Background(), cert); err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	return nil
}

func main() {
	var (
		metricsAddr          = flag.String("metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
		probeAddr            = flag.String("health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
		enableLeaderElection = flag.Bool("leader-elect", false, "Enable leader election for controller manager.")
		secureMetrics        = flag.Bool("metrics-secure", false, "If set the metrics endpoint is served securely")
		enableHTTP2          = flag.Bool("enable-http2", false, "If set, HTTP/2 will be enabled for the metrics and webhook servers")
		clusterName          = flag.String("cluster-name", "default", "Name of the CephUpgrade resource this controller drives.")
		namespace            = flag.String("namespace", "rook-ceph", "Namespace the Ceph cluster and its CephUpgrade resource live in.")
		cephConfigDir        = flag.String("ceph-config-dir", "/etc/ceph", "Directory containing ceph.conf and client keyring.")
		agentCertFile        = flag.String("agent-cert-file", "/etc/ceph-upgrade-controller/agent-tls/tls.crt", "Client certificate for mTLS to the per-host control-plane agent.")
		agentKeyFile         = flag.String("agent-key-file", "/etc/ceph-upgrade-controller/agent-tls/tls.key", "Client key for mTLS to the per-host control-plane agent.")
		preferDigest         = flag.Bool("prefer-digest-addressing", false, "Redeploy daemons addressed by digest rather than tag.")
		webhookIssuer        = flag.String("webhook-cert-issuer", "ceph-upgrade-controller-selfsigned", "cert-manager Issuer/ClusterIssuer name for the webhook serving certificate.")
	)

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	disableHTTP2 := func(c *tls.Config) {
		setupLog.Info("disabling http/2")
		c.NextProtos = []string{"http/1.1"}
	}

	tlsOpts := []func(*tls.Config){}
	if !*enableHTTP2 {
		tlsOpts = append(tlsOpts, disableHTTP2)
	}

	webhookServer := webhook.NewServer(webhook.Options{
		TLSOpts: tlsOpts,
	})

	if err := ensureWebhookCertificate(ctrl.GetConfigOrDie(), *namespace, *webhookIssuer); err != nil {
		setupLog.Error(err, "unable to ensure webhook serving certificate")
		os.Exit(1)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress:   *metricsAddr,
			SecureServing: *secureMetrics,
			TLSOpts:       tlsOpts,
		},
		WebhookServer:          webhookServer,
		HealthProbeBindAddress: *probeAddr,
		LeaderElection:         *enableLeaderElection,
		LeaderElectionID:       "ceph-upgrade-controller-leader-election",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	agentCert, err := tls.LoadX509KeyPair(*agentCertFile, *agentKeyFile)
	if err != nil {
		setupLog.Error(err, "unable to load host-agent client certificate")
		os.Exit(1)
	}

	rpcClient := cephrpc.NewClient(cephrpc.NewCLIExecutor(*cephConfigDir, *clusterName))
	agentClient := hostagent.NewClient(agentCert)
	podInventory := inventory.NewPodInventory(mgr.GetClient(), *namespace)
	stateStore := store.NewConfigMapStore(mgr.GetClient(), *clusterName+"-upgrade-state", *namespace)
	eventRecorder := mgr.GetEventRecorderFor("ceph-upgrade-controller")
	progressSink := progress.NewEventSink(eventRecorder)
	healthSink := controller.NewHealthConditionSink(mgr.GetClient(), eventRecorder)
	upgradeMetrics := metrics.NewUpgradeMetrics(*clusterName, *namespace)

	upgradeController := upgrade.NewController(upgrade.Config{
		RPC:                    rpcClient,
		Agent:                  agentClient,
		Inventory:              podInventory,
		Progress:               progressSink,
		Health:                 healthSink,
		Store:                  stateStore,
		Metrics:                upgradeMetrics,
		PreferDigestAddressing: *preferDigest,
	})

	if err = (&controller.CephUpgradeReconciler{
		Client:       mgr.GetClient(),
		Scheme:       mgr.GetScheme(),
		Recorder:     eventRecorder,
		Upgrade:      upgradeController,
		ProgressSink: progressSink,
		HealthSink:   healthSink,
		RequeueAfter: 15 * time.Second,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "CephUpgrade")
		os.Exit(1)
	}

	if err = (&webhooks.CephUpgradeWebhook{
		Client:    mgr.GetClient(),
		RPC:       rpcClient,
		Validator: validation.NewUpgradeValidator(),
	}).SetupWebhookWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create webhook", "webhook", "CephUpgrade")
		os.Exit(1)
	}
	// +kubebuilder:scaffold:builder

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
