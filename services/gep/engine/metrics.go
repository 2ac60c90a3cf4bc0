// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.gep.engine")
	meter  = otel.Meter("aleutian.gep.engine")
)

var (
	solveLatency    metric.Float64Histogram
	solveIterations metric.Int64Histogram
	solveTotal      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		solveLatency, err = meter.Float64Histogram(
			"gep_engine_solve_duration_seconds",
			metric.WithDescription("Duration of factorization plus Krylov-Schur iteration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		solveIterations, err = meter.Int64Histogram(
			"gep_engine_iterations",
			metric.WithDescription("Krylov-Schur restarts per solve"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		solveTotal, err = meter.Int64Counter(
			"gep_engine_solves_total",
			metric.WithDescription("Total number of engine solves"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startSolveSpan(ctx context.Context, dim int, shift float64, pc string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "EPS.Solve",
		trace.WithAttributes(
			attribute.Int("gep.dim", dim),
			attribute.Float64("gep.shift", shift),
			attribute.String("gep.pc", pc),
		),
	)
}

func setSolveSpanResult(span trace.Span, nconv, iterations int, factor string) {
	span.SetAttributes(
		attribute.Int("gep.nconv", nconv),
		attribute.Int("gep.iterations", iterations),
		attribute.String("gep.factor", factor),
	)
}

func recordSolveMetrics(ctx context.Context, duration time.Duration, converged bool, iterations int, factor string) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("converged", converged),
		attribute.String("factor", factor),
	)
	solveLatency.Record(ctx, duration.Seconds(), attrs)
	solveIterations.Record(ctx, int64(iterations), attrs)
	solveTotal.Add(ctx, 1, attrs)
}
