// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package host is the caller-facing side of the eigensolver. Solver.Solve
// writes A and B into shared channels, runs the solve_gep worker once, and
// decodes the eigenpair and status record the worker leaves behind.
//
// One Solver admits a single in-flight solve at a time. Concurrent callers
// queue on a context-aware semaphore. With session-scoped channels each
// solve also gets its own channel names, so separate Solvers (or separate
// processes) sharing a channel directory do not collide.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianEigen/services/gep/channel"
	"github.com/AleutianAI/AleutianEigen/services/gep/config"
	"github.com/AleutianAI/AleutianEigen/services/gep/launcher"
	"github.com/AleutianAI/AleutianEigen/services/gep/sparse"
	"github.com/AleutianAI/AleutianEigen/services/gep/transport"
)

// Store is a channel store that can tell the worker where it lives.
type Store interface {
	channel.Store
	Dir() string
}

// Launcher runs the worker once. *launcher.Launcher implements it.
type Launcher interface {
	Launch(ctx context.Context, req launcher.Request) (*launcher.Result, error)
}

// Solver is the host facade.
//
// # Thread Safety
//
// Safe for concurrent use. Solves are serialized.
type Solver struct {
	cfg      *config.Config
	store    Store
	launcher Launcher
	logger   *slog.Logger
	tracer   trace.Tracer
	session  func() string
	sem      *semaphore.Weighted
}

// Option configures a Solver.
type Option func(*Solver)

// WithStore replaces the channel registry built from the config.
func WithStore(store Store) Option {
	return func(s *Solver) {
		s.store = store
	}
}

// WithLauncher replaces the worker launcher built from the config.
func WithLauncher(l Launcher) Option {
	return func(s *Solver) {
		s.launcher = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Solver) {
		s.logger = logger
	}
}

// WithSessionFunc overrides session id generation. Returning "" selects
// the legacy fixed channel names.
func WithSessionFunc(fn func() string) Option {
	return func(s *Solver) {
		s.session = fn
	}
}

// WithTracerProvider sets the tracer provider. Default: the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Solver) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// New creates a Solver from cfg.
//
// # Description
//
// Validates cfg, then fills in anything the options did not supply: a
// channel.Registry on cfg.Channels.Dir, a launcher.Launcher on cfg.Worker,
// and uuid session ids when cfg.Channels.SessionScoped is set.
//
// # Inputs
//
//   - cfg: Configuration; nil means config.Default()
//   - opts: Optional overrides
//
// # Outputs
//
//   - *Solver: Ready solver
//   - error: Invalid configuration or an unusable channel directory
func New(cfg *config.Config, opts ...Option) (*Solver, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Solver{
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		sem:    semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if s.store == nil {
		reg, err := channel.NewRegistry(cfg.Channels.Dir, channel.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.store = reg
	}
	if s.launcher == nil {
		s.launcher = launcher.New(cfg.Worker, launcher.WithLogger(s.logger))
	}
	if s.session == nil {
		if cfg.Channels.SessionScoped {
			s.session = func() string { return channel.NewSession().Session }
		} else {
			s.session = func() string { return "" }
		}
	}
	return s, nil
}

// Solve finds the eigenpair of A·x = λ·B·x nearest target.
//
// # Description
//
// Host-side failures (bad input, channel errors, launch errors, timeout,
// cancellation) return a nil Solution and an error. Anything the worker
// reports comes back as a Solution with a nonzero Status and a nil error;
// use Solution.Err to turn it into an error. A clean run that converged
// nothing yields Status StatusNotConverged and Eigenvalue 0.0.
//
// The result channels are decoded even after a worker failure, so
// Eigenvector may be populated alongside a nonzero Status.
//
// # Inputs
//
//   - ctx: Cancels the wait for the solve slot and the worker
//   - target: Shift and selection target
//   - a, b: Symmetric matrices of equal dimension; B positive definite
//
// # Outputs
//
//   - *Solution: Worker outcome, owned by the caller
//   - error: *DimensionMismatchError, ErrInvalidInput, or a wrapped
//     channel/launcher error
func (s *Solver) Solve(ctx context.Context, target float64, a, b *sparse.CSR) (*Solution, error) {
	start := time.Now()
	if a == nil || b == nil {
		recordSolve(outcomeHostError, time.Since(start))
		return nil, fmt.Errorf("%w: nil matrix", ErrInvalidInput)
	}

	ctx, span := s.startSolveSpan(ctx, target, a.Dim, a.NNZ(), b.NNZ())
	defer span.End()

	sol, err := s.solve(ctx, target, a, b)
	if sol != nil {
		sol.Duration = time.Since(start)
	}
	setSolveSpanResult(span, sol, err)

	switch {
	case err != nil:
		recordSolve(outcomeHostError, time.Since(start))
	case sol.Status == transport.CodeOK:
		recordSolve(outcomeOK, sol.Duration)
	case sol.Status == StatusNotConverged:
		recordSolve(outcomeNotConverged, sol.Duration)
	default:
		recordSolve(outcomeWorkerError, sol.Duration)
	}
	return sol, err
}

func (s *Solver) solve(ctx context.Context, target float64, a, b *sparse.CSR) (*Solution, error) {
	if a.Dim != b.Dim {
		return nil, &DimensionMismatchError{DimA: a.Dim, DimB: b.Dim}
	}
	if a.Dim < 1 {
		return nil, fmt.Errorf("%w: empty matrix", ErrInvalidInput)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for in-flight solve: %w", err)
	}
	defer s.sem.Release(1)

	ns := channel.Namespace{Session: s.session()}
	if err := ns.Validate(); err != nil {
		return nil, fmt.Errorf("session %q: %w", ns.Session, err)
	}
	logger := s.logger
	if ns.Session != "" {
		logger = logger.With("session", ns.Session)
	} else {
		gate := legacyGate(s.store.Dir())
		if err := gate.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("wait for legacy channels: %w", err)
		}
		defer gate.Release(1)
	}

	if err := s.store.Purge(ns.All()...); err != nil {
		return nil, fmt.Errorf("purge stale channels: %w", err)
	}
	if ns.Session != "" {
		defer func() {
			if err := s.store.Purge(ns.All()...); err != nil {
				logger.Warn("session channels not removed", "error", err)
			}
		}()
	}

	withMeta := s.cfg.Protocol.SizeNegotiation == config.NegotiateMetadata
	if err := s.encode(ns, a, b, withMeta); err != nil {
		return nil, err
	}
	logger.Debug("matrices encoded", "dim", a.Dim, "nnz_a", a.NNZ(), "nnz_b", b.NNZ())

	req := launcher.Request{
		Target:        target,
		Session:       ns.Session,
		ChannelDir:    s.store.Dir(),
		Tolerance:     s.cfg.Solver.Tolerance,
		MaxIterations: s.cfg.Solver.MaxIterations,
		NCV:           s.cfg.Solver.NCV,
		LogLevel:      s.cfg.Log.Level,
	}
	if !withMeta {
		req.Dim = a.Dim
		req.NNZ = a.NNZ()
		req.NNZB = b.NNZ()
	}

	res, err := s.launcher.Launch(ctx, req)
	if res != nil {
		recordWorkerExit(int(res.Code))
	}
	if err != nil {
		return nil, fmt.Errorf("launch worker: %w", err)
	}

	sol := &Solution{
		Status:  res.Code,
		Output:  res.Output,
		Session: ns.Session,
	}
	if err := s.decode(ns, a.Dim, sol, logger); err != nil {
		return nil, err
	}
	return sol, nil
}

// encode writes A and B concurrently. Both are complete before it returns.
func (s *Solver) encode(ns channel.Namespace, a, b *sparse.CSR, withMeta bool) error {
	var g errgroup.Group
	g.Go(func() error {
		if err := transport.WriteMatrix(s.store, ns.Matrix(channel.RoleA), a, withMeta); err != nil {
			return fmt.Errorf("encode A: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := transport.WriteMatrix(s.store, ns.Matrix(channel.RoleB), b, withMeta); err != nil {
			return fmt.Errorf("encode B: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// decode fills sol from the status record and result channels. Decoding is
// attempted whatever the exit code; only a successful exit with an
// unreadable result is an error.
func (s *Solver) decode(ns channel.Namespace, dim int, sol *Solution, logger *slog.Logger) error {
	rec, recErr := transport.ReadStatus(s.store, ns.Status())
	if recErr == nil {
		sol.Converged = rec.Converged
		sol.Iterations = rec.Iterations
		sol.Residual = rec.Residual
		sol.Phase = rec.Phase
		sol.Message = rec.Message
	} else {
		logger.Debug("no status record", "error", recErr)
	}

	eval, evec, resErr := transport.ReadResult(s.store, ns.Result(), dim)

	if sol.Status != transport.CodeOK {
		if resErr == nil {
			sol.Eigenvalue, sol.Eigenvector = eval, evec
		}
		if recErr != nil || rec.Code != sol.Status {
			sol.Phase = sol.Status.Phase()
		}
		sol.Converged = false
		logger.Warn("worker failed",
			"status", int(sol.Status), "phase", sol.Phase, "message", sol.Message)
		return nil
	}

	if resErr != nil {
		if errors.Is(resErr, channel.ErrChannelNotFound) {
			return fmt.Errorf("worker exited 0 without a result: %w", resErr)
		}
		return fmt.Errorf("decode result: %w", resErr)
	}
	sol.Eigenvalue, sol.Eigenvector = eval, evec

	switch {
	case recErr != nil:
		// A worker without status records reports success only by exit code.
		sol.Converged = true
		sol.Phase = transport.CodeOK.Phase()
	case rec.Code == transport.CodeNotConverged || !rec.Converged:
		sol.Status = StatusNotConverged
		sol.Converged = false
		sol.Eigenvalue = 0
		logger.Warn("eigensolver failed to converge", "iterations", sol.Iterations)
		return nil
	}

	logger.Info("solve finished",
		"eigenvalue", sol.Eigenvalue, "iterations", sol.Iterations, "residual", sol.Residual)
	return nil
}
