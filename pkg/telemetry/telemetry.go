// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package telemetry holds the process-wide Prometheus collectors the
// status API reports through, separate from the logging concern in
// pkg/logging.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OperationsTotal counts status API requests by route and outcome.
var OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "orchestrator_operations_total",
	Help: "Total operations served by the status API, by route and outcome.",
}, []string{"route", "outcome"})

// OperationDuration observes status API request latency by route.
var OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "orchestrator_operation_duration_seconds",
	Help:    "Latency of status API requests.",
	Buckets: prometheus.DefBuckets,
}, []string{"route"})

func init() {
	prometheus.MustRegister(OperationsTotal, OperationDuration)
}

// Handler is the http.Handler /metrics is served from.
func Handler() http.Handler {
	return promhttp.Handler()
}
