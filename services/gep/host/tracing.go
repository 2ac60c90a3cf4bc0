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
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "aleutian.gep.host"

func (s *Solver) startSolveSpan(ctx context.Context, target float64, dim, nnzA, nnzB int) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "host.Solve",
		trace.WithAttributes(
			attribute.Float64("gep.target", target),
			attribute.Int("gep.dim", dim),
			attribute.Int("gep.nnz_a", nnzA),
			attribute.Int("gep.nnz_b", nnzB),
		),
	)
}

func setSolveSpanResult(span trace.Span, sol *Solution, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Int("gep.status", int(sol.Status)),
		attribute.Bool("gep.converged", sol.Converged),
		attribute.Int("gep.iterations", sol.Iterations),
		attribute.String("gep.session", sol.Session),
	)
	if sol.Status != 0 {
		span.SetStatus(codes.Error, sol.Status.String())
		return
	}
	span.SetStatus(codes.Ok, "")
}
