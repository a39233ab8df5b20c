/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for inter-resource calls.
//
// All metrics are registered with the Prometheus default registry so that
// courierd serves them through promhttp.
//
// Metric naming follows Prometheus conventions:
//   - courier_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for endpoint calls.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	// EndpointCallsTotal counts endpoint calls by transport, action and outcome.
	EndpointCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_endpoint_calls_total",
			Help: "Total endpoint calls by transport, action and outcome.",
		},
		[]string{"transport", "action", "outcome"},
	)

	// EndpointCallDurationSeconds is a histogram of endpoint call latency.
	EndpointCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_endpoint_call_duration_seconds",
			Help:    "Duration of endpoint calls in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"transport", "action"},
	)

	// DiscoveryLookupsTotal counts discovery lookups by outcome kind and cache use.
	DiscoveryLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_discovery_lookups_total",
			Help: "Total discovery lookups by result kind and cache hit or miss.",
		},
		[]string{"kind", "cache"},
	)

	// QueueInFlight is the number of queue requests awaiting a reply.
	QueueInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_queue_inflight",
			Help: "Number of queue requests waiting for a correlated reply.",
		},
	)

	// ServedCallsTotal counts calls served to remote callers by action and
	// outcome.
	ServedCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_served_calls_total",
			Help: "Total inbound calls served by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	// ServedCallDurationSeconds is a histogram of time spent in resource
	// implementations for inbound calls.
	ServedCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_served_call_duration_seconds",
			Help:    "Duration of inbound calls in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"action"},
	)

	// SessionsMintedTotal counts scoped sessions minted for downstream calls.
	SessionsMintedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_sessions_minted_total",
			Help: "Total scoped sessions minted for inter-resource calls.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EndpointCallsTotal,
		EndpointCallDurationSeconds,
		DiscoveryLookupsTotal,
		QueueInFlight,
		ServedCallsTotal,
		ServedCallDurationSeconds,
		SessionsMintedTotal,
	)
}

// RecordCall records a completed endpoint call.
func RecordCall(transport, action string, failed bool, duration time.Duration) {
	outcome := OutcomeOK
	if failed {
		outcome = OutcomeError
	}
	EndpointCallsTotal.WithLabelValues(transport, action, outcome).Inc()
	EndpointCallDurationSeconds.WithLabelValues(transport, action).Observe(duration.Seconds())
}

// RecordServed records one inbound call handled by this process.
func RecordServed(action string, failed bool, duration time.Duration) {
	outcome := OutcomeOK
	if failed {
		outcome = OutcomeError
	}
	ServedCallsTotal.WithLabelValues(action, outcome).Inc()
	ServedCallDurationSeconds.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordDiscovery records one discovery lookup.
func RecordDiscovery(kind string, cached bool) {
	cache := "miss"
	if cached {
		cache = "hit"
	}
	DiscoveryLookupsTotal.WithLabelValues(kind, cache).Inc()
}

// SetQueueInFlight publishes the current number of pending queue requests.
func SetQueueInFlight(n int) {
	QueueInFlight.Set(float64(n))
}

// RecordSessionMinted records one scoped session.
func RecordSessionMinted() {
	SessionsMintedTotal.Inc()
}
