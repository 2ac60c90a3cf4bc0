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
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/AleutianEigen/services/gep/sparse"
)

// EPS is the gonum-backed Solver. It supports the generalized Hermitian
// problem with Krylov-Schur, target-magnitude selection and a shift-invert
// transform factored by Cholesky or LU.
//
// An EPS is not safe for concurrent use.
type EPS struct {
	a, b *sparse.CSR

	problem ProblemType
	method  string
	which   Which
	tol     float64
	maxIt   int

	target    float64
	targetSet bool
	st        ST
	stSet     bool

	nev    int
	ncv    int
	seed   uint64
	logger *slog.Logger

	pairs      []ritzPair
	sigma      float64
	iterations int
}

// Option configures an EPS.
type Option func(*EPS)

// WithNCV sets the Krylov basis size. Zero picks max(2·nev, nev+15),
// capped at the dimension.
func WithNCV(ncv int) Option {
	return func(e *EPS) {
		e.ncv = ncv
	}
}

// WithSeed sets the start vector seed.
func WithSeed(seed uint64) Option {
	return func(e *EPS) {
		e.seed = seed
	}
}

// WithLogger sets the logger for per-iteration debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(e *EPS) {
		e.logger = logger
	}
}

var _ Solver = (*EPS)(nil)

// New returns an unconfigured EPS with tolerance 1e-8, 100 iterations,
// Krylov-Schur and largest-magnitude selection.
func New(opts ...Option) *EPS {
	e := &EPS{
		method: TypeKrylovSchur,
		which:  LargestMagnitude,
		tol:    1e-8,
		maxIt:  100,
		nev:    1,
		seed:   1,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// SetOperators sets A and B. Both are validated and must be square of the
// same dimension.
func (e *EPS) SetOperators(a, b *sparse.CSR) error {
	if a == nil || b == nil {
		return fmt.Errorf("set operators: %w", ErrNotConfigured)
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("operator A: %w", err)
	}
	if err := b.Validate(); err != nil {
		return fmt.Errorf("operator B: %w", err)
	}
	if a.Dim != b.Dim {
		return fmt.Errorf("A is %d×%d, B is %d×%d: %w", a.Dim, a.Dim, b.Dim, b.Dim, ErrShape)
	}
	e.a, e.b = a, b
	e.reset()
	return nil
}

// SetProblemType accepts GHEP only.
func (e *EPS) SetProblemType(p ProblemType) error {
	if p != GHEP {
		return fmt.Errorf("problem type %d: %w", p, ErrUnsupported)
	}
	e.problem = p
	return nil
}

// SetTolerances sets the relative residual tolerance and the maximum
// number of restarts.
func (e *EPS) SetTolerances(tol float64, maxIt int) error {
	if !(tol > 0) || math.IsInf(tol, 1) {
		return fmt.Errorf("tolerance %g: %w", tol, ErrInvalidParameter)
	}
	if maxIt < 1 {
		return fmt.Errorf("max iterations %d: %w", maxIt, ErrInvalidParameter)
	}
	e.tol, e.maxIt = tol, maxIt
	return nil
}

// SetType accepts "krylovschur" only.
func (e *EPS) SetType(name string) error {
	if name != TypeKrylovSchur {
		return fmt.Errorf("method %q: %w", name, ErrUnsupported)
	}
	e.method = name
	return nil
}

// SetWhichEigenpairs accepts TargetMagnitude only.
func (e *EPS) SetWhichEigenpairs(w Which) error {
	if w != TargetMagnitude {
		return fmt.Errorf("selection %d: %w", w, ErrUnsupported)
	}
	e.which = w
	return nil
}

// SetTarget sets the value eigenvalues are selected around.
func (e *EPS) SetTarget(target float64) error {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return fmt.Errorf("target %g: %w", target, ErrInvalidParameter)
	}
	e.target, e.targetSet = target, true
	return nil
}

// SetSpectralTransform accepts shift-invert with KSP "preonly" and PC
// "cholesky" or "lu".
func (e *EPS) SetSpectralTransform(st ST) error {
	if st.Type != STShiftInvert {
		return fmt.Errorf("spectral transform %q: %w", st.Type, ErrUnsupported)
	}
	if st.KSP != KSPPreOnly {
		return fmt.Errorf("linear solver %q: %w", st.KSP, ErrUnsupported)
	}
	if st.PC != PCCholesky && st.PC != PCLU {
		return fmt.Errorf("preconditioner %q: %w", st.PC, ErrUnsupported)
	}
	if math.IsNaN(st.Shift) || math.IsInf(st.Shift, 0) {
		return fmt.Errorf("shift %g: %w", st.Shift, ErrInvalidParameter)
	}
	e.st, e.stSet = st, true
	return nil
}

// Solve factors A - σB and iterates. Running out of iterations is not an
// error; Converged reports what was found.
func (e *EPS) Solve(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.reset()

	ctx, span := startSolveSpan(ctx, e.a.Dim, e.st.Shift, e.st.PC)
	defer span.End()
	start := time.Now()

	op, err := newShiftInvert(e.a, e.b, e.st.Shift, e.st.PC)
	if err != nil {
		span.RecordError(err)
		return err
	}

	ncv := e.ncv
	if ncv <= 0 {
		ncv = max(2*e.nev, e.nev+15)
	}
	ncv = max(min(ncv, e.a.Dim), e.nev)

	e.logger.Debug("starting krylov-schur",
		"dim", e.a.Dim, "ncv", ncv, "shift", e.st.Shift, "factor", op.factor)

	res, err := krylovSchur(ctx, op, ksParams{
		nev:   e.nev,
		ncv:   ncv,
		tol:   e.tol,
		maxIt: e.maxIt,
		seed:  e.seed,
	}, e.logger)
	e.iterations = res.iterations
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("krylov-schur: %w", err)
	}
	e.pairs = res.pairs
	e.sigma = e.st.Shift

	setSolveSpanResult(span, len(e.pairs), e.iterations, op.factor)
	recordSolveMetrics(ctx, time.Since(start), len(e.pairs) > 0, e.iterations, op.factor)
	return nil
}

// Converged returns the number of converged pairs from the last Solve.
func (e *EPS) Converged() int {
	return len(e.pairs)
}

// Eigenpair returns λ = σ + 1/θ for pair i and copies its eigenvector.
func (e *EPS) Eigenpair(i int, xr []float64) (float64, error) {
	if i < 0 || i >= len(e.pairs) {
		return 0, fmt.Errorf("pair %d of %d: %w", i, len(e.pairs), ErrIndexOutOfRange)
	}
	p := e.pairs[i]
	if xr != nil {
		if len(xr) != len(p.vector) {
			return 0, fmt.Errorf("vector length %d, want %d: %w", len(xr), len(p.vector), ErrShape)
		}
		copy(xr, p.vector)
	}
	return e.sigma + 1/p.theta, nil
}

// ErrorEstimate returns the relative residual estimate of pair i.
func (e *EPS) ErrorEstimate(i int) (float64, error) {
	if i < 0 || i >= len(e.pairs) {
		return 0, fmt.Errorf("pair %d of %d: %w", i, len(e.pairs), ErrIndexOutOfRange)
	}
	return e.pairs[i].errest, nil
}

// Iterations returns the restarts used by the last Solve.
func (e *EPS) Iterations() int {
	return e.iterations
}

func (e *EPS) ready() error {
	switch {
	case e.a == nil:
		return fmt.Errorf("operators: %w", ErrNotConfigured)
	case e.problem == 0:
		return fmt.Errorf("problem type: %w", ErrNotConfigured)
	case !e.stSet:
		return fmt.Errorf("spectral transform: %w", ErrNotConfigured)
	case e.which == TargetMagnitude && !e.targetSet:
		return fmt.Errorf("target: %w", ErrNotConfigured)
	}
	return nil
}

func (e *EPS) reset() {
	e.pairs = nil
	e.iterations = 0
}
