// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package launcher starts the solve_gep worker for one solve and waits for
// it to exit.
//
// The worker directory comes from an environment variable (EIGSOLVER_PATH
// by default). When it is unset nothing is spawned. The worker always runs
// as a single rank: EIGSOLVER_NUM_RANKS=1 is set in its environment and
// any configured runner prefix (such as mpiexec -n 1) is expected to
// launch exactly one process.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianEigen/services/gep/config"
	"github.com/AleutianAI/AleutianEigen/services/gep/transport"
)

// Request is one worker invocation.
type Request struct {
	// Target is passed as -a.
	Target float64

	// Dim, NNZ and NNZB are passed as -d, -v and --nnz-b when Dim > 0.
	// Dim == 0 selects metadata negotiation.
	Dim  int
	NNZ  int
	NNZB int

	// Session is passed as -s when set.
	Session string

	// ChannelDir is passed as --channel-dir when set.
	ChannelDir string

	Tolerance     float64
	MaxIterations int
	NCV           int
	LogLevel      string
}

// Result is the outcome of a worker run that started.
type Result struct {
	// Code is the worker exit status; CodeSignaled when killed.
	Code transport.Code

	// Output is the worker's captured stdout/stderr.
	Output string

	// Truncated is set when Output was capped.
	Truncated bool

	// Duration is the worker wall time.
	Duration time.Duration

	// Argv is the full command line, for diagnostics.
	Argv []string
}

// Launcher runs the worker as configured.
type Launcher struct {
	cfg     config.WorkerConfig
	pm      ProcessManager
	limiter *rate.Limiter
	getenv  func(string) string
	environ func() []string
	logger  *slog.Logger
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithProcessManager replaces the os/exec process manager.
func WithProcessManager(pm ProcessManager) Option {
	return func(l *Launcher) {
		l.pm = pm
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// WithGetenv overrides the lookup of the worker directory variable.
func WithGetenv(getenv func(string) string) Option {
	return func(l *Launcher) {
		l.getenv = getenv
	}
}

// New creates a Launcher. A positive MinLaunchInterval spaces launches
// with a token bucket of burst 1.
//
// Inputs:
//
//	cfg - Worker configuration
//	opts - Optional overrides
//
// Outputs:
//
//	*Launcher - Ready launcher
func New(cfg config.WorkerConfig, opts ...Option) *Launcher {
	l := &Launcher{
		cfg:     cfg,
		pm:      NewDefaultProcessManager(),
		getenv:  os.Getenv,
		environ: os.Environ,
		logger:  slog.Default(),
	}
	if cfg.MinLaunchInterval > 0 {
		l.limiter = rate.NewLimiter(rate.Every(cfg.MinLaunchInterval), 1)
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// WorkerDir returns the configured worker directory.
//
// Outputs:
//
//	string - Directory holding the worker executable
//	error - ErrWorkerNotConfigured when the variable is unset or empty
func (l *Launcher) WorkerDir() (string, error) {
	dir := l.getenv(l.cfg.PathEnv)
	if dir == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrWorkerNotConfigured, l.cfg.PathEnv)
	}
	return dir, nil
}

// Launch runs the worker and waits for it.
//
// # Description
//
// Resolves the worker directory, waits for the launch limiter, then runs
// the worker under the configured timeout. A nonzero exit is not an error:
// it is returned in Result.Code for the caller to interpret.
//
// # Outputs
//
//   - *Result: Non-nil whenever the worker started, including on timeout
//   - error: ErrWorkerNotConfigured, ErrLaunchFailed, ErrWorkerTimeout, or
//     the context error when the caller cancelled
func (l *Launcher) Launch(ctx context.Context, req Request) (*Result, error) {
	dir, err := l.WorkerDir()
	if err != nil {
		return nil, err
	}

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for launch slot: %w", err)
		}
	}

	argv := l.Argv(dir, req)
	cmd := Command{
		Name:      argv[0],
		Args:      argv[1:],
		Env:       append(l.environ(), "EIGSOLVER_NUM_RANKS=1"),
		MaxOutput: l.cfg.MaxOutputBytes,
	}

	runCtx := ctx
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	l.logger.Debug("launching worker", "argv", argv)
	pr, err := l.pm.Run(runCtx, cmd)
	if pr == nil {
		if err == nil {
			err = errors.New("process manager returned no result")
		}
		if !errors.Is(err, ErrLaunchFailed) {
			err = fmt.Errorf("%w: %w", ErrLaunchFailed, err)
		}
		return nil, err
	}

	result := &Result{
		Code:      transport.Code(pr.ExitCode),
		Output:    pr.Output,
		Truncated: pr.Truncated,
		Duration:  pr.Duration,
		Argv:      argv,
	}
	if pr.ExitCode < 0 {
		result.Code = transport.CodeSignaled
	}

	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		result.Code = transport.CodeSignaled
		l.logger.Warn("worker timed out", "timeout", l.cfg.Timeout)
		return result, fmt.Errorf("%w after %s", ErrWorkerTimeout, l.cfg.Timeout)
	default:
		result.Code = transport.CodeSignaled
		return result, err
	}

	l.logger.Info("worker exited",
		"code", int(result.Code), "phase", result.Code.Phase(), "duration", result.Duration)
	return result, nil
}

// Argv builds the worker command line for dir and req.
func (l *Launcher) Argv(dir string, req Request) []string {
	argv := append([]string{}, l.cfg.Runner...)
	argv = append(argv, filepath.Join(dir, l.cfg.Executable),
		"-a", strconv.FormatFloat(req.Target, 'g', -1, 64))

	if req.Dim > 0 {
		nnzB := req.NNZB
		if nnzB < 0 {
			nnzB = req.NNZ
		}
		argv = append(argv,
			"-d", strconv.Itoa(req.Dim),
			"-v", strconv.Itoa(req.NNZ),
			"--nnz-b", strconv.Itoa(nnzB))
	}
	if req.Session != "" {
		argv = append(argv, "-s", req.Session)
	}
	if req.ChannelDir != "" {
		argv = append(argv, "--channel-dir", req.ChannelDir)
	}
	if req.Tolerance > 0 {
		argv = append(argv, "--tol", strconv.FormatFloat(req.Tolerance, 'g', -1, 64))
	}
	if req.MaxIterations > 0 {
		argv = append(argv, "--max-it", strconv.Itoa(req.MaxIterations))
	}
	if req.NCV > 0 {
		argv = append(argv, "--ncv", strconv.Itoa(req.NCV))
	}
	if req.LogLevel != "" {
		argv = append(argv, "--log-level", req.LogLevel)
	}
	return argv
}
