// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine is the Eigensolver Engine capability used by the worker:
// a generalized symmetric eigensolver configured one step at a time, in
// the order the worker's setup phases run.
//
// New returns the built-in backend, a Krylov-Schur iteration on the
// shift-and-invert operator (A - σB)⁻¹B with B-inner products, built on
// gonum.
//
// B is checked for positive definiteness in band storage, but A - σB is
// factored as a dense matrix: memory grows as Dim² and factorization time
// as Dim³, which bounds practical problems to a few thousand unknowns.
package engine

import (
	"context"

	"github.com/AleutianAI/AleutianEigen/services/gep/sparse"
)

// ProblemType classifies the eigenproblem.
type ProblemType int

const (
	// HEP is the standard Hermitian problem A·x = λ·x.
	HEP ProblemType = iota + 1

	// GHEP is the generalized Hermitian problem A·x = λ·B·x with B
	// positive definite.
	GHEP

	// GNHEP is the generalized non-Hermitian problem.
	GNHEP
)

// Which selects the eigenpairs of interest.
type Which int

const (
	// LargestMagnitude selects |λ| largest.
	LargestMagnitude Which = iota + 1

	// SmallestMagnitude selects |λ| smallest.
	SmallestMagnitude

	// TargetMagnitude selects λ closest to the target.
	TargetMagnitude
)

// Method and transform names.
const (
	TypeKrylovSchur = "krylovschur"

	STShiftInvert = "sinvert"
	KSPPreOnly    = "preonly"
	PCCholesky    = "cholesky"
	PCLU          = "lu"
)

// ST configures the spectral transform. With KSP "preonly" the shifted
// operator is factored once by the PC and every inner solve is a single
// application of that factorization.
type ST struct {
	Type  string
	Shift float64
	KSP   string
	PC    string
}

// Solver is a configurable generalized eigensolver. Each setter validates
// its own argument so a failure can be attributed to the step that caused
// it. Solve reports zero converged pairs as success; callers check
// Converged.
type Solver interface {
	SetOperators(a, b *sparse.CSR) error
	SetProblemType(p ProblemType) error
	SetTolerances(tol float64, maxIt int) error
	SetType(name string) error
	SetWhichEigenpairs(w Which) error
	SetTarget(target float64) error
	SetSpectralTransform(st ST) error

	Solve(ctx context.Context) error

	// Converged returns the number of converged pairs, nearest first.
	Converged() int

	// Eigenpair copies eigenvector i into xr (length Dim, 2-normalized)
	// and returns its eigenvalue.
	Eigenpair(i int, xr []float64) (float64, error)

	// ErrorEstimate returns the relative residual estimate of pair i.
	ErrorEstimate(i int) (float64, error)

	// Iterations returns the restarts performed by the last Solve.
	Iterations() int
}
