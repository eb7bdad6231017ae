// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// workflow engine.
//
// # Description
//
// This package implements Prometheus metrics for monitoring workflow
// execution. Metrics include:
//   - Session counters (created, by final drive status)
//   - Step execution counters (by function and outcome)
//   - Drive-loop iteration histograms
//   - Suspended-session gauges
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for workflow engine metrics
const flowSubsystem = "flow"

// EngineMetrics holds all Prometheus metrics for workflow execution.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring engine
// throughput and step outcomes. Initialize once at startup via
// InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type EngineMetrics struct {
	// SessionsCreatedTotal counts created workflow sessions.
	// Labels: workflow_id
	SessionsCreatedTotal *prometheus.CounterVec

	// DrivesTotal counts process/submit-input drives by final status.
	// Labels: operation (process, submit_input), status (completed,
	// awaiting_input, active, error)
	DrivesTotal *prometheus.CounterVec

	// StepsExecutedTotal counts step executions by outcome.
	// Labels: function, outcome (complete, pending, error, awaiting_input)
	StepsExecutedTotal *prometheus.CounterVec

	// DriveIterations measures loop iterations consumed per drive.
	DriveIterations prometheus.Histogram

	// SuspendedSessions tracks sessions currently awaiting user input.
	SuspendedSessions prometheus.Gauge
}

// DefaultMetrics is the singleton instance of EngineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *EngineMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// application startup; a second call panics on duplicate registration.
func InitMetrics() *EngineMetrics {
	DefaultMetrics = &EngineMetrics{
		SessionsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: flowSubsystem,
				Name:      "sessions_created_total",
				Help:      "Total workflow sessions created by workflow id",
			},
			[]string{"workflow_id"},
		),

		DrivesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: flowSubsystem,
				Name:      "drives_total",
				Help:      "Total engine drives by operation and final status",
			},
			[]string{"operation", "status"},
		),

		StepsExecutedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: flowSubsystem,
				Name:      "steps_executed_total",
				Help:      "Total step executions by function and outcome",
			},
			[]string{"function", "outcome"},
		),

		DriveIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: flowSubsystem,
				Name:      "drive_iterations",
				Help:      "Loop iterations consumed per engine drive",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
			},
		),

		SuspendedSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: flowSubsystem,
				Name:      "suspended_sessions",
				Help:      "Sessions currently awaiting user input",
			},
		),
	}

	return DefaultMetrics
}

// RecordSessionCreated records a new session for a workflow.
func (m *EngineMetrics) RecordSessionCreated(workflowID string) {
	if m == nil {
		return
	}
	m.SessionsCreatedTotal.WithLabelValues(workflowID).Inc()
}

// RecordDrive records a completed engine drive.
func (m *EngineMetrics) RecordDrive(operation, status string, iterations int) {
	if m == nil {
		return
	}
	m.DrivesTotal.WithLabelValues(operation, status).Inc()
	m.DriveIterations.Observe(float64(iterations))
}

// RecordStep records one step execution outcome.
func (m *EngineMetrics) RecordStep(function, outcome string) {
	if m == nil {
		return
	}
	m.StepsExecutedTotal.WithLabelValues(function, outcome).Inc()
}

// SessionSuspended adjusts the suspended-session gauge.
func (m *EngineMetrics) SessionSuspended(delta float64) {
	if m == nil {
		return
	}
	m.SuspendedSessions.Add(delta)
}
