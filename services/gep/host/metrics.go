// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Host Facade
// =============================================================================

var (
	// solvesTotal counts Solve calls by outcome.
	// Labels: status (ok, not_converged, worker_error, host_error)
	solvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gep",
		Subsystem: "host",
		Name:      "solves_total",
		Help:      "Total generalized eigenproblem solves by outcome",
	}, []string{"status"})

	// solveDuration measures the wall time of Solve, including encode,
	// worker run and decode.
	solveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gep",
		Subsystem: "host",
		Name:      "solve_duration_seconds",
		Help:      "Wall time of one host solve in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	})

	// workerExits counts worker exits by code.
	// Labels: code (the numeric exit code, -1 for signaled)
	workerExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gep",
		Subsystem: "host",
		Name:      "worker_exit_total",
		Help:      "Worker process exits by exit code",
	}, []string{"code"})
)

// Outcome labels for solvesTotal.
const (
	outcomeOK           = "ok"
	outcomeNotConverged = "not_converged"
	outcomeWorkerError  = "worker_error"
	outcomeHostError    = "host_error"
)

func recordSolve(outcome string, elapsed time.Duration) {
	solvesTotal.WithLabelValues(outcome).Inc()
	solveDuration.Observe(elapsed.Seconds())
}

func recordWorkerExit(code int) {
	workerExits.WithLabelValues(strconv.Itoa(code)).Inc()
}
