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
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/AleutianAI/AleutianEigen/services/gep/sparse"
)

// GEP is a generalized eigenproblem A·x = λ·B·x.
type GEP struct {
	A *sparse.CSR
	B *sparse.CSR
}

// Dim returns the dimension of A.
func (g GEP) Dim() int {
	if g.A == nil {
		return 0
	}
	return g.A.Dim
}

// EigenPair is one eigenvalue and its eigenvector.
type EigenPair struct {
	Value  float64
	Vector []float64
}

// NormalizedVector returns a copy of Vector scaled to unit L2 norm. A zero
// vector is returned unchanged.
func (p EigenPair) NormalizedVector() []float64 {
	out := make([]float64, len(p.Vector))
	copy(out, p.Vector)
	if norm := floats.Norm(out, 2); norm > 0 {
		floats.Scale(1/norm, out)
	}
	return out
}

// GEPSolver is the call SolveGEP needs; *Solver implements it.
type GEPSolver interface {
	Solve(ctx context.Context, target float64, a, b *sparse.CSR) (*Solution, error)
}

// SolveGEP returns the eigenpair of g nearest target. Unlike Solver.Solve,
// any nonzero status is an error, including StatusNotConverged.
//
// Inputs:
//
//	ctx - Context for cancellation
//	s - The solver
//	g - The problem
//	target - Shift and selection target
//
// Outputs:
//
//	EigenPair - The pair, owned by the caller
//	error - Host errors from Solve, or *WorkerError
func SolveGEP(ctx context.Context, s GEPSolver, g GEP, target float64) (EigenPair, error) {
	sol, err := s.Solve(ctx, target, g.A, g.B)
	if err != nil {
		return EigenPair{}, err
	}
	if err := sol.Err(); err != nil {
		return EigenPair{}, fmt.Errorf("solve near %g: %w", target, err)
	}
	return EigenPair{Value: sol.Eigenvalue, Vector: sol.Eigenvector}, nil
}
