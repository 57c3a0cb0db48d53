// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

// Package metrics provides Prometheus instrumentation for the engine:
// event intake, rule evaluation, action execution, incident lifecycle, and
// collaborator health (geo resolver, webhook dispatch).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event intake
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelgate_events_recorded_total",
			Help: "Total number of security events recorded",
		},
		[]string{"category"},
	)

	EventRiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinelgate_event_risk_score",
			Help:    "Distribution of computed event risk scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	EventPersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinelgate_event_persist_errors_total",
			Help: "Total number of durable-store write failures for events",
		},
	)

	// Rule evaluation
	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelgate_rule_evaluations_total",
			Help: "Total number of rule evaluations by outcome (triggered, no_match, cooldown, error)",
		},
		[]string{"rule", "outcome"},
	)

	ConditionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinelgate_condition_duration_seconds",
			Help:    "Duration of condition evaluations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"condition"},
	)

	// Action execution
	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelgate_actions_executed_total",
			Help: "Total number of response actions executed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	WebhookDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinelgate_webhook_duration_seconds",
			Help:    "Duration of outbound webhook calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Incident lifecycle
	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelgate_incidents_created_total",
			Help: "Total number of incidents created by severity",
		},
		[]string{"severity"},
	)

	ActiveIncidents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinelgate_active_incidents",
			Help: "Current number of unresolved incidents",
		},
	)

	// Enforcement state
	BlockedIPs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinelgate_blocked_ips",
			Help: "Current number of blocked source addresses",
		},
	)

	SuspendedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinelgate_suspended_users",
			Help: "Current number of suspended subjects",
		},
	)

	// Collaborators
	GeoResolutionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinelgate_geo_resolution_errors_total",
			Help: "Total number of failed geolocation lookups",
		},
	)

	SweeperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinelgate_sweeper_runs_total",
			Help: "Total number of background sweeper task runs",
		},
		[]string{"task"},
	)
)
