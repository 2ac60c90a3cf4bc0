// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianEigen/services/gep/channel"
	"github.com/AleutianAI/AleutianEigen/services/gep/engine"
	"github.com/AleutianAI/AleutianEigen/services/gep/sparse"
	"github.com/AleutianAI/AleutianEigen/services/gep/transport"
)

// configure runs the three setup phases. The returned code identifies the
// phase that failed.
func configure(ctx context.Context, eps engine.Solver, a, b *sparse.CSR, opts Options) (transport.Code, error) {
	_, span := tracer.Start(ctx, "worker.configure")
	defer span.End()

	fail := func(code transport.Code, err error) (transport.Code, error) {
		span.RecordError(err)
		return code, fmt.Errorf("%s: %w", code.Phase(), err)
	}

	if err := eps.SetOperators(a, b); err != nil {
		return fail(transport.CodeSetupOperators, err)
	}
	if err := eps.SetProblemType(engine.GHEP); err != nil {
		return fail(transport.CodeSetupOperators, err)
	}

	if err := eps.SetTolerances(opts.Tolerance, opts.MaxIterations); err != nil {
		return fail(transport.CodeSetupSolver, err)
	}
	if err := eps.SetType(engine.TypeKrylovSchur); err != nil {
		return fail(transport.CodeSetupSolver, err)
	}
	if err := eps.SetWhichEigenpairs(engine.TargetMagnitude); err != nil {
		return fail(transport.CodeSetupSolver, err)
	}

	if err := eps.SetTarget(opts.Target); err != nil {
		return fail(transport.CodeSetupTransform, err)
	}
	st := engine.ST{
		Type:  engine.STShiftInvert,
		Shift: opts.Target,
		KSP:   engine.KSPPreOnly,
		PC:    engine.PCCholesky,
	}
	if err := eps.SetSpectralTransform(st); err != nil {
		return fail(transport.CodeSetupTransform, err)
	}
	return transport.CodeOK, nil
}

func solve(ctx context.Context, eps engine.Solver) error {
	ctx, span := tracer.Start(ctx, "worker.solve")
	defer span.End()
	if err := eps.Solve(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func deposit(ctx context.Context, store channel.Store, names channel.ResultNames, eigenvalue float64, eigenvector []float64) error {
	_, span := tracer.Start(ctx, "worker.deposit")
	defer span.End()
	if err := transport.WriteResult(store, names, eigenvalue, eigenvector); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
