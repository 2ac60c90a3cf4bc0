// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package worker is the solve_gep side of the eigensolver protocol. It reads
// A and B from shared channels, drives an engine.Solver through its setup
// phases, and deposits the eigenpair and a status record before exiting.
//
// Every failure maps to a distinct transport.Code which becomes the
// process exit status. A solve that finishes without a converged pair is
// not a failure: the worker deposits eigenvalue 0.0 and a zero vector,
// logs a notice, and marks the status record not converged.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianEigen/services/gep/channel"
	"github.com/AleutianAI/AleutianEigen/services/gep/engine"
	"github.com/AleutianAI/AleutianEigen/services/gep/sparse"
	"github.com/AleutianAI/AleutianEigen/services/gep/transport"
)

// NotConvergedMessage is logged and recorded when no pair converged.
const NotConvergedMessage = "eigensolver failed to converge"

// RankEnvVars are consulted, in order, for the number of cooperating
// ranks the worker was launched with.
var RankEnvVars = []string{"EIGSOLVER_NUM_RANKS", "OMPI_COMM_WORLD_SIZE", "PMI_SIZE"}

// Options describe one solve.
type Options struct {
	// Target is the shift and the selection target.
	Target float64

	// Dim is the matrix dimension. Zero reads sizes from the metadata
	// channels instead of using Dim, NNZ and NNZB.
	Dim int

	// NNZ is the nonzero count of A.
	NNZ int

	// NNZB is the nonzero count of B; negative means NNZ.
	NNZB int

	// Session selects the channel namespace; empty means legacy names.
	Session string

	// Tolerance is the relative residual tolerance. Default: 1e-15
	Tolerance float64

	// MaxIterations bounds the Krylov-Schur restarts. Default: 100
	MaxIterations int

	// NCV is the Krylov basis size; 0 lets the engine choose.
	NCV int
}

// Solver defaults applied when Options leaves them zero.
const (
	DefaultTolerance     = 1e-15
	DefaultMaxIterations = 100
)

// EngineFactory creates a fresh solver for each Run.
type EngineFactory func(opts Options, logger *slog.Logger) engine.Solver

// NewEngine is the default EngineFactory.
func NewEngine(opts Options, logger *slog.Logger) engine.Solver {
	return engine.New(engine.WithNCV(opts.NCV), engine.WithLogger(logger))
}

// Orchestrator runs solves against a channel store.
type Orchestrator struct {
	store     channel.Store
	newEngine EngineFactory
	logger    *slog.Logger
	getenv    func(string) string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEngine overrides the engine factory.
func WithEngine(f EngineFactory) Option {
	return func(o *Orchestrator) {
		o.newEngine = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithGetenv overrides environment lookup for the rank check.
func WithGetenv(getenv func(string) string) Option {
	return func(o *Orchestrator) {
		o.getenv = getenv
	}
}

// New creates an Orchestrator using NewEngine unless overridden.
func New(store channel.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		newEngine: NewEngine,
		logger:    slog.Default(),
		getenv:    os.Getenv,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Run performs one solve and returns the exit code. A status record is
// written on every path that gets as far as the channel store.
func (o *Orchestrator) Run(ctx context.Context, opts Options) transport.Code {
	if opts.Tolerance == 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	ns := channel.Namespace{Session: opts.Session}
	logger := o.logger
	if opts.Session != "" {
		logger = logger.With("session", opts.Session)
	}
	run := &run{o: o, ns: ns, logger: logger}

	if ranks := o.ranks(); ranks > 1 {
		return run.fail(transport.CodeRuntime,
			fmt.Errorf("launched with %d ranks, the direct factorization requires exactly 1", ranks))
	}

	// Read
	start := time.Now()
	logger.Info("reading data", "dim", opts.Dim, "nnz", opts.NNZ)
	a, b, err := o.readMatrices(ctx, ns, opts)
	if err != nil {
		return run.fail(transport.CodeTransportRead, err)
	}
	logger.Info("data read", "dim_a", a.Dim, "dim_b", b.Dim, "nnz_a", a.NNZ(), "nnz_b", b.NNZ(),
		"elapsed", time.Since(start))

	if a.Dim != b.Dim {
		return run.fail(transport.CodeDimensionMismatch,
			fmt.Errorf("A is %d×%d but B is %d×%d", a.Dim, a.Dim, b.Dim, b.Dim))
	}

	// Build
	logger.Info("building matrices")
	if err := a.Validate(); err != nil {
		return run.fail(transport.CodeMatrixBuild, fmt.Errorf("matrix A: %w", err))
	}
	if err := b.Validate(); err != nil {
		return run.fail(transport.CodeMatrixBuild, fmt.Errorf("matrix B: %w", err))
	}

	// Configure
	eps := o.newEngine(opts, logger)
	if code, err := configure(ctx, eps, a, b, opts); err != nil {
		return run.fail(code, err)
	}

	// Solve
	start = time.Now()
	logger.Info("solving", "target", opts.Target)
	if err := solve(ctx, eps); err != nil {
		return run.fail(transport.CodeSolve, err)
	}
	run.iterations = eps.Iterations()
	logger.Info("solve finished", "iterations", run.iterations, "converged", eps.Converged(),
		"elapsed", time.Since(start))

	// Extract
	eigenvector := make([]float64, a.Dim)
	var eigenvalue float64
	run.nconv = eps.Converged()
	if run.nconv > 0 {
		if eigenvalue, err = eps.Eigenpair(0, eigenvector); err != nil {
			return run.fail(transport.CodeExtract, err)
		}
		if run.residual, err = eps.ErrorEstimate(0); err != nil {
			return run.fail(transport.CodeExtract, err)
		}
		logger.Info("eigenpair extracted", "eigenvalue", eigenvalue, "error_estimate", run.residual)
	} else {
		logger.Warn(NotConvergedMessage, "iterations", run.iterations, "target", opts.Target)
	}

	// Deposit
	if err := deposit(ctx, o.store, ns.Result(), eigenvalue, eigenvector); err != nil {
		return run.fail(transport.CodeDeposit, err)
	}

	if run.nconv == 0 {
		if err := run.record(transport.CodeNotConverged, NotConvergedMessage); err != nil {
			return transport.CodeDeposit
		}
		return transport.CodeOK
	}
	if err := run.record(transport.CodeOK, ""); err != nil {
		return transport.CodeDeposit
	}
	return transport.CodeOK
}

// readMatrices decodes A and B using metadata or the supplied sizes.
func (o *Orchestrator) readMatrices(ctx context.Context, ns channel.Namespace, opts Options) (*sparse.CSR, *sparse.CSR, error) {
	_, span := tracer.Start(ctx, "worker.read")
	defer span.End()

	read := func(role string, nnz int) (*sparse.CSR, error) {
		names := ns.Matrix(role)
		if opts.Dim == 0 {
			return transport.ReadMatrixAuto(o.store, names)
		}
		return transport.ReadMatrix(o.store, names, opts.Dim, nnz)
	}

	nnzB := opts.NNZB
	if nnzB < 0 {
		nnzB = opts.NNZ
	}
	a, err := read(channel.RoleA, opts.NNZ)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("matrix A: %w", err)
	}
	b, err := read(channel.RoleB, nnzB)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("matrix B: %w", err)
	}
	return a, b, nil
}

// ranks returns the largest rank count found in RankEnvVars, or 1.
func (o *Orchestrator) ranks() int {
	ranks := 1
	for _, key := range RankEnvVars {
		if n, err := strconv.Atoi(o.getenv(key)); err == nil && n > ranks {
			ranks = n
		}
	}
	return ranks
}

// run carries per-solve state for status reporting.
type run struct {
	o          *Orchestrator
	ns         channel.Namespace
	logger     *slog.Logger
	nconv      int
	iterations int
	residual   float64
}

func (r *run) fail(code transport.Code, err error) transport.Code {
	r.logger.Error("worker failed", "code", int(code), "phase", code.Phase(), "error", err)
	_ = r.record(code, err.Error())
	return code
}

func (r *run) record(code transport.Code, msg string) error {
	rec := transport.StatusRecord{
		Code:       code,
		Phase:      code.Phase(),
		Converged:  code == transport.CodeOK && r.nconv > 0,
		NConv:      r.nconv,
		Iterations: r.iterations,
		Residual:   r.residual,
		Message:    msg,
	}
	if err := transport.WriteStatus(r.o.store, r.ns.Status(), rec); err != nil {
		r.logger.Error("status record not written", "error", err)
		return err
	}
	return nil
}
