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

// Package metrics provides Prometheus metrics and OpenTelemetry spans for
// the Ceph upgrade controller.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

const (
	// Metric subsystem
	subsystem = "ceph_upgrade"

	// MetricResultSuccess represents a successful operation
	MetricResultSuccess = "success"
	// MetricResultFailure represents a failed operation
	MetricResultFailure = "failure"

	// LabelClusterName is the label key for the CephUpgrade resource name
	LabelClusterName = "cephupgrade"
	// LabelNamespace is the label key for namespace
	LabelNamespace = "namespace"
	// LabelOperation is the label key for operation type
	LabelOperation = "operation"
	// LabelResult is the label key for operation result
	LabelResult = "result"
	// LabelPhase is the label key for the daemon class / loop phase
	LabelPhase = "phase"
	// LabelAlertCode is the label key for a stable alert code
	LabelAlertCode = "alert_code"
)

var (
	// tracer is the OTel tracer behind StartReconcileSpan and
	// StartUpgradeSpan; the reconciler and the upgrade loop call
	// neither, so no tick or batch spans are started.
	tracer = otel.Tracer("ceph-upgrade-controller")

	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "reconcile_total",
			Help:      "Total number of reconciliation attempts",
		},
		[]string{LabelClusterName, LabelNamespace, LabelOperation, LabelResult},
	)

	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent on reconciliation operations",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{LabelClusterName, LabelNamespace, LabelOperation},
	)

	upgradeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "upgrade_total",
			Help:      "Total number of upgrade attempts, by final result",
		},
		[]string{LabelClusterName, LabelNamespace, LabelResult},
	)

	upgradePhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "upgrade_phase_duration_seconds",
			Help:      "Time spent upgrading each daemon class",
			Buckets:   []float64{30.0, 60.0, 300.0, 600.0, 1200.0, 1800.0, 3600.0},
		},
		[]string{LabelClusterName, LabelNamespace, LabelPhase},
	)

	alertTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "alert_total",
			Help:      "Total number of times each stable alert code has fired",
		},
		[]string{LabelClusterName, LabelNamespace, LabelAlertCode},
	)

	versionDiscrepancy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "version_discrepancy",
			Help:      "Whether ceph versions reports more than one version for a daemon class after it completed (1 = discrepancy present)",
		},
		[]string{LabelClusterName, LabelNamespace, LabelPhase},
	)
)

func init() {
	metrics.Registry.MustRegister(
		reconcileTotal,
		reconcileDuration,
		upgradeTotal,
		upgradePhaseDuration,
		alertTotal,
		versionDiscrepancy,
	)
}

// ReconcileMetrics provides methods for recording reconciliation metrics
// for a single CephUpgrade resource.
type ReconcileMetrics struct {
	clusterName string
	namespace   string
}

// NewReconcileMetrics creates a new ReconcileMetrics for the given resource.
func NewReconcileMetrics(clusterName, namespace string) *ReconcileMetrics {
	return &ReconcileMetrics{clusterName: clusterName, namespace: namespace}
}

// RecordReconcile records the outcome and duration of a single reconcile.
func (m *ReconcileMetrics) RecordReconcile(_ context.Context, operation string, duration time.Duration, success bool) {
	result := MetricResultSuccess
	if !success {
		result = MetricResultFailure
	}
	reconcileTotal.WithLabelValues(m.clusterName, m.namespace, operation, result).Inc()
	reconcileDuration.WithLabelValues(m.clusterName, m.namespace, operation).Observe(duration.Seconds())
}

// StartReconcileSpan starts an OTel span around a reconcile operation.
func (m *ReconcileMetrics) StartReconcileSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "reconcile."+operation,
		trace.WithAttributes(
			attribute.String(LabelClusterName, m.clusterName),
			attribute.String(LabelNamespace, m.namespace),
		),
	)
}

// UpgradeMetrics records rolling-upgrade progress for a single CephUpgrade
// resource and implements upgrade.MetricsRecorder so the state machine in
// internal/upgrade never imports this package directly.
type UpgradeMetrics struct {
	clusterName string
	namespace   string
}

// NewUpgradeMetrics creates a new UpgradeMetrics for the given resource.
func NewUpgradeMetrics(clusterName, namespace string) *UpgradeMetrics {
	return &UpgradeMetrics{clusterName: clusterName, namespace: namespace}
}

var _ upgrade.MetricsRecorder = (*UpgradeMetrics)(nil)

// RecordAlert increments the counter for a stable alert code firing.
func (m *UpgradeMetrics) RecordAlert(code upgrade.AlertCode) {
	alertTotal.WithLabelValues(m.clusterName, m.namespace, string(code)).Inc()
}

// RecordUpgrade records the terminal result of an upgrade attempt.
func (m *UpgradeMetrics) RecordUpgrade(_ context.Context, success bool) {
	result := MetricResultSuccess
	if !success {
		result = MetricResultFailure
	}
	upgradeTotal.WithLabelValues(m.clusterName, m.namespace, result).Inc()
}

// RecordPhase records that a daemon class (or loop phase) was entered,
// as a zero-length sample in the phase-duration histogram.
func (m *UpgradeMetrics) RecordPhase(_ context.Context, phase string) {
	upgradePhaseDuration.WithLabelValues(m.clusterName, m.namespace, phase).Observe(0)
}

// RecordPhaseDuration records how long a daemon class took to complete.
func (m *UpgradeMetrics) RecordPhaseDuration(phase string, duration time.Duration) {
	upgradePhaseDuration.WithLabelValues(m.clusterName, m.namespace, phase).Observe(duration.Seconds())
}

// RecordVersionDiscrepancy sets the informational version-discrepancy
// gauge for a daemon class that just completed (spec: not fatal).
func (m *UpgradeMetrics) RecordVersionDiscrepancy(phase string, discrepant bool) {
	v := 0.0
	if discrepant {
		v = 1.0
	}
	versionDiscrepancy.WithLabelValues(m.clusterName, m.namespace, phase).Set(v)
}

// StartUpgradeSpan starts an OTel span around a single upgrade-loop tick
// or daemon-class batch.
func (m *UpgradeMetrics) StartUpgradeSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "upgrade."+phase,
		trace.WithAttributes(
			attribute.String(LabelClusterName, m.clusterName),
			attribute.String(LabelNamespace, m.namespace),
			attribute.String(LabelPhase, phase),
		),
	)
}
