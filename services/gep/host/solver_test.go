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
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/AleutianEigen/services/gep/channel"
	"github.com/AleutianAI/AleutianEigen/services/gep/config"
	"github.com/AleutianAI/AleutianEigen/services/gep/launcher"
	"github.com/AleutianAI/AleutianEigen/services/gep/sparse"
	"github.com/AleutianAI/AleutianEigen/services/gep/transport"
	"github.com/AleutianAI/AleutianEigen/services/gep/worker"
)

const helperEnv = "GEP_HELPER_WORKER"

// TestMain lets the test binary stand in for solve_gep when re-executed by
// the launcher with GEP_HELPER_WORKER=1.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(worker.Main(os.Args[1:]))
	}
	os.Exit(m.Run())
}

// =============================================================================
// Helpers
// =============================================================================

func newStore(t *testing.T) *channel.Registry {
	t.Helper()
	r, err := channel.NewRegistry(t.TempDir())
	require.NoError(t, err)
	return r
}

func legacyNames() string { return "" }

// inProcessLauncher runs the worker orchestrator in the calling goroutine
// against the same store the host writes to.
type inProcessLauncher struct {
	store    channel.Store
	delay    time.Duration
	onLaunch func(req launcher.Request)

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (l *inProcessLauncher) Launch(ctx context.Context, req launcher.Request) (*launcher.Result, error) {
	n := l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	for {
		m := l.maxInFlight.Load()
		if n <= m || l.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	l.calls.Add(1)
	if l.onLaunch != nil {
		l.onLaunch(req)
	}
	time.Sleep(l.delay)

	opts := worker.Options{
		Target:        req.Target,
		Dim:           req.Dim,
		NNZ:           req.NNZ,
		NNZB:          req.NNZB,
		Session:       req.Session,
		Tolerance:     req.Tolerance,
		MaxIterations: req.MaxIterations,
		NCV:           req.NCV,
	}
	orch := worker.New(l.store, worker.WithGetenv(func(string) string { return "" }))
	return &launcher.Result{Code: orch.Run(ctx, opts)}, nil
}

// launcherFunc adapts a function to the Launcher interface.
type launcherFunc func(ctx context.Context, req launcher.Request) (*launcher.Result, error)

func (f launcherFunc) Launch(ctx context.Context, req launcher.Request) (*launcher.Result, error) {
	return f(ctx, req)
}

func newInProcessSolver(t *testing.T, cfg *config.Config, opts ...Option) (*Solver, *inProcessLauncher, *channel.Registry) {
	t.Helper()
	store := newStore(t)
	l := &inProcessLauncher{store: store}
	s, err := New(cfg, append([]Option{WithStore(store), WithLauncher(l)}, opts...)...)
	require.NoError(t, err)
	return s, l, store
}

func laplacian(n int) *sparse.CSR {
	b := sparse.NewSymmetricBuilder(n)
	for i := 0; i < n; i++ {
		_ = b.Insert(i, i, 2)
		if i+1 < n {
			_ = b.Insert(i, i+1, -1)
		}
	}
	return b.CSR()
}

func channelFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func assertParallel(t *testing.T, want, got []float64, tol float64) {
	t.Helper()
	require.Len(t, got, len(want))
	v := EigenPair{Vector: got}.NormalizedVector()
	var dot float64
	for i := range want {
		dot += want[i] * v[i]
	}
	assert.InDelta(t, 1.0, math.Abs(dot), tol)
}

// =============================================================================
// Solve Tests
// =============================================================================

func TestSolve_KnownAnswer(t *testing.T) {
	s, l, store := newInProcessSolver(t, nil)

	sol, err := s.Solve(context.Background(), 3.9, sparse.Diagonal(2, 4), sparse.Identity(2))
	require.NoError(t, err)

	assert.Equal(t, transport.CodeOK, sol.Status)
	assert.True(t, sol.OK())
	assert.NoError(t, sol.Err())
	assert.InDelta(t, 4.0, sol.Eigenvalue, 1e-12)
	assertParallel(t, []float64{0, 1}, sol.Eigenvector, 1e-9)
	assert.NotEmpty(t, sol.Session)
	assert.Equal(t, int32(1), l.calls.Load())
	assert.Empty(t, channelFiles(t, store.Dir()), "session channels are removed after the solve")
}

func TestSolve_DimensionMismatch(t *testing.T) {
	s, l, store := newInProcessSolver(t, nil)

	sol, err := s.Solve(context.Background(), 1, sparse.Identity(3), sparse.Identity(2))

	assert.Nil(t, sol)
	var dme *DimensionMismatchError
	require.ErrorAs(t, err, &dme)
	assert.Equal(t, 3, dme.DimA)
	assert.Equal(t, 2, dme.DimB)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Zero(t, l.calls.Load(), "no worker may be launched")
	assert.Empty(t, channelFiles(t, store.Dir()), "no channel may be touched")
}

func TestSolve_InvalidInput(t *testing.T) {
	s, l, _ := newInProcessSolver(t, nil)

	_, err := s.Solve(context.Background(), 1, nil, sparse.Identity(2))
	assert.ErrorIs(t, err, ErrInvalidInput)

	empty := &sparse.CSR{RowPtr: []int32{0}}
	_, err = s.Solve(context.Background(), 1, empty, empty)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, l.calls.Load())
}

func TestSolve_SizeNegotiation(t *testing.T) {
	tests := []struct {
		mode     string
		wantDim  int
		wantMeta bool
	}{
		{config.NegotiateMetadata, 0, true},
		{config.NegotiateCLI, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := config.Default()
			cfg.Protocol.SizeNegotiation = tt.mode
			s, l, store := newInProcessSolver(t, cfg)

			var gotReq launcher.Request
			var metaPresent bool
			l.onLaunch = func(req launcher.Request) {
				gotReq = req
				metaPresent = store.Exists(channel.Namespace{Session: req.Session}.Matrix(channel.RoleA).Meta)
			}

			sol, err := s.Solve(context.Background(), 3.9, sparse.Diagonal(2, 4), sparse.Identity(2))
			require.NoError(t, err)
			assert.InDelta(t, 4.0, sol.Eigenvalue, 1e-12)

			assert.Equal(t, tt.wantDim, gotReq.Dim)
			assert.Equal(t, tt.wantMeta, metaPresent)
			assert.Equal(t, store.Dir(), gotReq.ChannelDir)
			assert.Equal(t, 1e-15, gotReq.Tolerance)
			assert.Equal(t, 100, gotReq.MaxIterations)
		})
	}
}

func TestSolve_LegacyNamesPurgedByNextCall(t *testing.T) {
	s, _, store := newInProcessSolver(t, nil, WithSessionFunc(legacyNames))

	sol, err := s.Solve(context.Background(), 3.9, sparse.Diagonal(2, 4), sparse.Identity(2))
	require.NoError(t, err)
	assert.Empty(t, sol.Session)
	assert.True(t, store.Exists(channel.EigenvalueName), "legacy channels stay until the next solve")

	sol, err = s.Solve(context.Background(), 1.9, sparse.Diagonal(2, 4), sparse.Identity(2))
	require.NoError(t, err, "stale legacy channels must not cause a create conflict")
	assert.InDelta(t, 2.0, sol.Eigenvalue, 1e-12)
}

func TestSolve_NotConverged(t *testing.T) {
	cfg := config.Default()
	cfg.Solver.MaxIterations = 1
	cfg.Solver.NCV = 2
	s, _, _ := newInProcessSolver(t, cfg)

	sol, err := s.Solve(context.Background(), 1.3, laplacian(200), sparse.Identity(200))
	require.NoError(t, err, "non-convergence is reported in the status, not as an error")

	assert.Equal(t, StatusNotConverged, sol.Status)
	assert.False(t, sol.Converged)
	assert.Equal(t, 0.0, sol.Eigenvalue)
	assert.Len(t, sol.Eigenvector, 200)
	assert.Equal(t, worker.NotConvergedMessage, sol.Message)
	assert.ErrorIs(t, sol.Err(), ErrNotConverged)
	assert.NotErrorIs(t, sol.Err(), ErrSolveFailed)
}

func TestSolve_WorkerFailureStillDecodes(t *testing.T) {
	store := newStore(t)
	l := launcherFunc(func(ctx context.Context, req launcher.Request) (*launcher.Result, error) {
		ns := channel.Namespace{Session: req.Session}
		require.NoError(t, transport.WriteStatus(store, ns.Status(), transport.StatusRecord{
			Code:    transport.CodeSolve,
			Phase:   transport.CodeSolve.Phase(),
			Message: "factorization failed",
		}))
		return &launcher.Result{Code: transport.CodeSolve, Output: "solve_gep: factorization failed"}, nil
	})
	s, err := New(nil, WithStore(store), WithLauncher(l))
	require.NoError(t, err)

	sol, err := s.Solve(context.Background(), 1, sparse.Identity(2), sparse.Identity(2))
	require.NoError(t, err)

	assert.Equal(t, transport.CodeSolve, sol.Status)
	assert.Equal(t, "solve", sol.Phase)
	assert.Equal(t, "factorization failed", sol.Message)
	assert.Contains(t, sol.Output, "factorization failed")
	assert.Nil(t, sol.Eigenvector)

	werr := sol.Err()
	assert.ErrorIs(t, werr, ErrSolveFailed)
	assert.Contains(t, werr.Error(), "worker status 10 (solve): factorization failed")
}

func TestSolve_WorkerExitWithoutStatusRecord(t *testing.T) {
	store := newStore(t)
	l := launcherFunc(func(ctx context.Context, req launcher.Request) (*launcher.Result, error) {
		return &launcher.Result{Code: transport.CodeSignaled}, nil
	})
	s, err := New(nil, WithStore(store), WithLauncher(l))
	require.NoError(t, err)

	sol, err := s.Solve(context.Background(), 1, sparse.Identity(2), sparse.Identity(2))
	require.NoError(t, err)
	assert.Equal(t, transport.CodeSignaled, sol.Status)
	assert.Equal(t, "terminated", sol.Phase)
	assert.ErrorIs(t, sol.Err(), ErrWorkerTerminated)
	assert.ErrorIs(t, sol.Err(), ErrSolveFailed)
}

func TestSolve_ExitZeroWithoutResult(t *testing.T) {
	store := newStore(t)
	l := launcherFunc(func(ctx context.Context, req launcher.Request) (*launcher.Result, error) {
		return &launcher.Result{Code: transport.CodeOK}, nil
	})
	s, err := New(nil, WithStore(store), WithLauncher(l))
	require.NoError(t, err)

	sol, err := s.Solve(context.Background(), 1, sparse.Identity(2), sparse.Identity(2))
	assert.Nil(t, sol)
	assert.ErrorIs(t, err, channel.ErrChannelNotFound)
}

func TestSolve_LaunchErrorIsHostError(t *testing.T) {
	store := newStore(t)
	l := launcherFunc(func(ctx context.Context, req launcher.Request) (*launcher.Result, error) {
		return nil, launcher.ErrWorkerNotConfigured
	})
	s, err := New(nil, WithStore(store), WithLauncher(l))
	require.NoError(t, err)

	sol, err := s.Solve(context.Background(), 1, sparse.Identity(2), sparse.Identity(2))
	assert.Nil(t, sol)
	assert.ErrorIs(t, err, launcher.ErrWorkerNotConfigured)
	assert.Empty(t, channelFiles(t, store.Dir()), "session channels are removed on failure too")
}

func TestSolve_SerializesConcurrentCallers(t *testing.T) {
	s, l, _ := newInProcessSolver(t, nil, WithSessionFunc(legacyNames))
	l.delay = 10 * time.Millisecond

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	values := make([]float64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sol, err := s.Solve(context.Background(), 3.9, sparse.Diagonal(2, 4), sparse.Identity(2))
			errs[i] = err
			if err == nil {
				values[i] = sol.Eigenvalue
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.InDelta(t, 4.0, values[i], 1e-12)
	}
	assert.Equal(t, int32(callers), l.calls.Load())
	assert.Equal(t, int32(1), l.maxInFlight.Load())
}

func TestSolve_LegacyNamesSerializedAcrossSolvers(t *testing.T) {
	store := newStore(t)
	l := &inProcessLauncher{store: store, delay: 5 * time.Millisecond}
	cfg := config.Default()
	cfg.Channels.SessionScoped = false

	small, err := New(cfg, WithStore(store), WithLauncher(l))
	require.NoError(t, err)
	large, err := New(cfg, WithStore(store), WithLauncher(l))
	require.NoError(t, err)

	const rounds = 10
	for r := 0; r < rounds; r++ {
		var wg sync.WaitGroup
		var smallSol, largeSol *Solution
		var smallErr, largeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			smallSol, smallErr = small.Solve(context.Background(), 3.9, sparse.Diagonal(2, 4), sparse.Identity(2))
		}()
		go func() {
			defer wg.Done()
			largeSol, largeErr = large.Solve(context.Background(), 3.9, sparse.Diagonal(2, 4, 6), sparse.Identity(3))
		}()
		wg.Wait()

		require.NoError(t, smallErr, "round %d", r)
		require.NoError(t, largeErr, "round %d", r)
		assert.True(t, smallSol.OK(), "round %d: status %d", r, smallSol.Status)
		assert.True(t, largeSol.OK(), "round %d: status %d", r, largeSol.Status)
		assert.InDelta(t, 4.0, smallSol.Eigenvalue, 1e-12)
		assert.InDelta(t, 4.0, largeSol.Eigenvalue, 1e-12)
		assert.Len(t, smallSol.Eigenvector, 2)
		assert.Len(t, largeSol.Eigenvector, 3)
	}
	assert.Equal(t, int32(1), l.maxInFlight.Load())
}

func TestLegacyGate_SharedPerDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.Same(t, legacyGate(dir), legacyGate(dir+string(filepath.Separator)))
	assert.NotSame(t, legacyGate(dir), legacyGate(t.TempDir()))
}

func TestSolve_CancelledWhileQueued(t *testing.T) {
	store := newStore(t)
	release := make(chan struct{})
	started := make(chan struct{})
	l := launcherFunc(func(ctx context.Context, req launcher.Request) (*launcher.Result, error) {
		close(started)
		<-release
		return &launcher.Result{Code: transport.CodeRuntime}, nil
	})
	s, err := New(nil, WithStore(store), WithLauncher(l))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Solve(context.Background(), 1, sparse.Identity(2), sparse.Identity(2))
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sol, err := s.Solve(ctx, 1, sparse.Identity(2), sparse.Identity(2))
	assert.Nil(t, sol)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Protocol.SizeNegotiation = "pipe"
	_, err := New(cfg, WithStore(newStore(t)))
	assert.Error(t, err)
}

// =============================================================================
// Observability Tests
// =============================================================================

func TestSolve_Metrics(t *testing.T) {
	s, _, _ := newInProcessSolver(t, nil)
	okBefore := testutil.ToFloat64(solvesTotal.WithLabelValues(outcomeOK))
	hostBefore := testutil.ToFloat64(solvesTotal.WithLabelValues(outcomeHostError))
	exitBefore := testutil.ToFloat64(workerExits.WithLabelValues("0"))

	_, err := s.Solve(context.Background(), 3.9, sparse.Diagonal(2, 4), sparse.Identity(2))
	require.NoError(t, err)
	_, err = s.Solve(context.Background(), 3.9, sparse.Identity(3), sparse.Identity(2))
	require.Error(t, err)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(solvesTotal.WithLabelValues(outcomeOK)))
	assert.Equal(t, hostBefore+1, testutil.ToFloat64(solvesTotal.WithLabelValues(outcomeHostError)))
	assert.Equal(t, exitBefore+1, testutil.ToFloat64(workerExits.WithLabelValues("0")))
}

func TestSolve_Span(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	s, _, _ := newInProcessSolver(t, nil, WithTracerProvider(tp))
	_, err := s.Solve(context.Background(), 3.9, sparse.Diagonal(2, 4), sparse.Identity(2))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	var found bool
	for _, span := range spans {
		if span.Name() != "host.Solve" {
			continue
		}
		found = true
		attrs := map[attribute.Key]attribute.Value{}
		for _, kv := range span.Attributes() {
			attrs[kv.Key] = kv.Value
		}
		assert.Equal(t, int64(2), attrs["gep.dim"].AsInt64())
		assert.Equal(t, 3.9, attrs["gep.target"].AsFloat64())
		assert.Equal(t, int64(0), attrs["gep.status"].AsInt64())
		assert.True(t, attrs["gep.converged"].AsBool())
	}
	assert.True(t, found, "host.Solve span not recorded")
}

// =============================================================================
// End-to-End Tests (worker process)
// =============================================================================

// helperConfig points the launcher at this test binary, which runs
// worker.Main when GEP_HELPER_WORKER=1.
func helperConfig(t *testing.T) *config.Config {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	t.Setenv("EIGSOLVER_PATH", filepath.Dir(exe))
	t.Setenv(helperEnv, "1")

	cfg := config.Default()
	cfg.Worker.Executable = filepath.Base(exe)
	cfg.Worker.Timeout = time.Minute
	cfg.Channels.Dir = t.TempDir()
	return cfg
}

func TestSolve_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns the worker process")
	}
	for _, mode := range []string{config.NegotiateMetadata, config.NegotiateCLI} {
		t.Run(mode, func(t *testing.T) {
			cfg := helperConfig(t)
			cfg.Protocol.SizeNegotiation = mode
			s, err := New(cfg)
			require.NoError(t, err)

			pair, err := SolveGEP(context.Background(), s,
				GEP{A: sparse.Diagonal(2, 4), B: sparse.Identity(2)}, 3.9)
			require.NoError(t, err)
			assert.InDelta(t, 4.0, pair.Value, 1e-12)
			assertParallel(t, []float64{0, 1}, pair.Vector, 1e-9)
			assert.Empty(t, channelFiles(t, cfg.Channels.Dir))
		})
	}
}

func TestSolve_EndToEndGeneralized(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns the worker process")
	}
	cfg := helperConfig(t)
	s, err := New(cfg)
	require.NoError(t, err)

	// A = diag(2, 6, 12), B = diag(1, 2, 3): eigenvalues 2, 3, 4.
	sol, err := s.Solve(context.Background(), 3.1, sparse.Diagonal(2, 6, 12), sparse.Diagonal(1, 2, 3))
	require.NoError(t, err)
	require.NoError(t, sol.Err())
	assert.InDelta(t, 3.0, sol.Eigenvalue, 1e-10)
	assertParallel(t, []float64{0, 1, 0}, sol.Eigenvector, 1e-9)
	assert.Positive(t, sol.Iterations)
	assert.Contains(t, sol.Output, "solving")
}

func TestSolve_EndToEndWorkerNotConfigured(t *testing.T) {
	cfg := helperConfig(t)
	t.Setenv("EIGSOLVER_PATH", "")
	s, err := New(cfg)
	require.NoError(t, err)

	sol, err := s.Solve(context.Background(), 3.9, sparse.Diagonal(2, 4), sparse.Identity(2))
	assert.Nil(t, sol)
	assert.True(t, errors.Is(err, launcher.ErrWorkerNotConfigured))
}
