// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package launcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEigen/services/gep/config"
	"github.com/AleutianAI/AleutianEigen/services/gep/transport"
)

func testWorkerConfig() config.WorkerConfig {
	return config.Default().Worker
}

func envWith(dir string) func(string) string {
	return func(key string) string {
		if key == "EIGSOLVER_PATH" {
			return dir
		}
		return ""
	}
}

func okManager() *MockProcessManager {
	return &MockProcessManager{
		RunFunc: func(ctx context.Context, cmd Command) (*ProcessResult, error) {
			return &ProcessResult{ExitCode: 0, Duration: time.Millisecond}, nil
		},
	}
}

// =============================================================================
// Launch Tests (mock process manager)
// =============================================================================

func TestLaunch_NotConfigured(t *testing.T) {
	pm := okManager()
	l := New(testWorkerConfig(), WithProcessManager(pm), WithGetenv(envWith("")))

	res, err := l.Launch(context.Background(), Request{Target: 3.9})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrWorkerNotConfigured)
	assert.Contains(t, err.Error(), "EIGSOLVER_PATH")
	assert.Empty(t, pm.GetCalls(), "nothing may be spawned without a worker directory")
}

func TestLaunch_CommandLine(t *testing.T) {
	pm := okManager()
	l := New(testWorkerConfig(), WithProcessManager(pm), WithGetenv(envWith("/opt/eigen")))

	res, err := l.Launch(context.Background(), Request{Target: 3.9, Session: "abc"})
	require.NoError(t, err)
	assert.Equal(t, transport.CodeOK, res.Code)

	calls := pm.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/opt/eigen/solve_gep", calls[0].Name)
	assert.Equal(t, []string{"-a", "3.9", "-s", "abc"}, calls[0].Args)
	assert.Contains(t, calls[0].Env, "EIGSOLVER_NUM_RANKS=1")
	assert.Equal(t, 64*1024, calls[0].MaxOutput)
}

func TestArgv(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.Runner = []string{"mpiexec", "-n", "1"}
	l := New(cfg)

	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{
			name: "target only",
			req:  Request{Target: -0.5},
			want: []string{"mpiexec", "-n", "1", "/w/solve_gep", "-a", "-0.5"},
		},
		{
			name: "cli sizes default nnz-b",
			req:  Request{Target: 1e-3, Dim: 4, NNZ: 7, NNZB: -1},
			want: []string{"mpiexec", "-n", "1", "/w/solve_gep", "-a", "0.001", "-d", "4", "-v", "7", "--nnz-b", "7"},
		},
		{
			name: "everything",
			req: Request{
				Target:        2,
				Dim:           3,
				NNZ:           5,
				NNZB:          3,
				Session:       "s1",
				ChannelDir:    "/tmp/ch",
				Tolerance:     1e-12,
				MaxIterations: 50,
				NCV:           20,
				LogLevel:      "debug",
			},
			want: []string{
				"mpiexec", "-n", "1", "/w/solve_gep", "-a", "2",
				"-d", "3", "-v", "5", "--nnz-b", "3",
				"-s", "s1",
				"--channel-dir", "/tmp/ch",
				"--tol", "1e-12",
				"--max-it", "50",
				"--ncv", "20",
				"--log-level", "debug",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.Argv("/w", tt.req))
		})
	}
}

func TestLaunch_ExitCodeMapping(t *testing.T) {
	tests := []struct {
		exit int
		want transport.Code
	}{
		{0, transport.CodeOK},
		{2, transport.CodeDimensionMismatch},
		{10, transport.CodeSolve},
		{-1, transport.CodeSignaled},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			pm := &MockProcessManager{
				RunFunc: func(ctx context.Context, cmd Command) (*ProcessResult, error) {
					return &ProcessResult{ExitCode: tt.exit, Output: "worker output"}, nil
				},
			}
			l := New(testWorkerConfig(), WithProcessManager(pm), WithGetenv(envWith("/w")))

			res, err := l.Launch(context.Background(), Request{Target: 1})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Code)
			assert.Equal(t, "worker output", res.Output)
		})
	}
}

func TestLaunch_Timeout(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.Timeout = 20 * time.Millisecond
	pm := &MockProcessManager{
		RunFunc: func(ctx context.Context, cmd Command) (*ProcessResult, error) {
			<-ctx.Done()
			return &ProcessResult{ExitCode: -1}, ctx.Err()
		},
	}
	l := New(cfg, WithProcessManager(pm), WithGetenv(envWith("/w")))

	res, err := l.Launch(context.Background(), Request{Target: 1})

	assert.ErrorIs(t, err, ErrWorkerTimeout)
	require.NotNil(t, res)
	assert.Equal(t, transport.CodeSignaled, res.Code)
}

func TestLaunch_CallerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pm := &MockProcessManager{
		RunFunc: func(ctx context.Context, cmd Command) (*ProcessResult, error) {
			cancel()
			return &ProcessResult{ExitCode: -1}, context.Canceled
		},
	}
	l := New(testWorkerConfig(), WithProcessManager(pm), WithGetenv(envWith("/w")))

	res, err := l.Launch(ctx, Request{Target: 1})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrWorkerTimeout)
	require.NotNil(t, res)
	assert.Equal(t, transport.CodeSignaled, res.Code)
}

func TestLaunch_StartFailure(t *testing.T) {
	pm := &MockProcessManager{
		RunFunc: func(ctx context.Context, cmd Command) (*ProcessResult, error) {
			return nil, errors.New("exec format error")
		},
	}
	l := New(testWorkerConfig(), WithProcessManager(pm), WithGetenv(envWith("/w")))

	res, err := l.Launch(context.Background(), Request{Target: 1})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrLaunchFailed)
}

func TestLaunch_RateLimited(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.MinLaunchInterval = 50 * time.Millisecond
	l := New(cfg, WithProcessManager(okManager()), WithGetenv(envWith("/w")))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := l.Launch(context.Background(), Request{Target: 1})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestLaunch_RateLimitCancelled(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.MinLaunchInterval = time.Hour
	var runs atomic.Int32
	pm := &MockProcessManager{
		RunFunc: func(ctx context.Context, cmd Command) (*ProcessResult, error) {
			runs.Add(1)
			return &ProcessResult{}, nil
		},
	}
	l := New(cfg, WithProcessManager(pm), WithGetenv(envWith("/w")))

	_, err := l.Launch(context.Background(), Request{Target: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Launch(ctx, Request{Target: 1})
	assert.Error(t, err)
	assert.Equal(t, int32(1), runs.Load())
}

// =============================================================================
// DefaultProcessManager Tests
// =============================================================================

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
}

func TestDefaultProcessManager_ExitStatus(t *testing.T) {
	pm := NewDefaultProcessManager()

	res, err := pm.Run(context.Background(), Command{
		Name:      "/bin/sh",
		Args:      []string{"-c", "echo deposit failed >&2; exit 12"},
		MaxOutput: 1024,
	})

	require.NoError(t, err)
	assert.Equal(t, 12, res.ExitCode)
	assert.Equal(t, "deposit failed\n", res.Output)
	assert.False(t, res.Truncated)
}

func TestDefaultProcessManager_StartFailure(t *testing.T) {
	pm := NewDefaultProcessManager()

	res, err := pm.Run(context.Background(), Command{Name: filepath.Join(t.TempDir(), "missing")})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrLaunchFailed)
}

func TestLaunch_RealWorkerScript(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "solve_gep", `echo "$@"; echo "ranks=$EIGSOLVER_NUM_RANKS"; exit 9`)

	l := New(testWorkerConfig(), WithGetenv(envWith(dir)))
	res, err := l.Launch(context.Background(), Request{Target: 0.25, Session: "s9"})

	require.NoError(t, err)
	assert.Equal(t, transport.Code(9), res.Code)
	assert.Contains(t, res.Output, "-a 0.25 -s s9")
	assert.Contains(t, res.Output, "ranks=1")
	assert.Equal(t, filepath.Join(dir, "solve_gep"), res.Argv[0])
}

func TestLaunch_RealWorkerTimeout(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "solve_gep", "exec sleep 5")

	cfg := testWorkerConfig()
	cfg.Timeout = 100 * time.Millisecond
	l := New(cfg, WithGetenv(envWith(dir)))

	start := time.Now()
	res, err := l.Launch(context.Background(), Request{Target: 1})

	assert.ErrorIs(t, err, ErrWorkerTimeout)
	require.NotNil(t, res)
	assert.Equal(t, transport.CodeSignaled, res.Code)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 8}

	n, err := lw.Write([]byte("solve "))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	n, err = lw.Write([]byte("failed hard"))
	require.NoError(t, err)
	assert.Equal(t, 11, n, "writes report full length so the child never sees a short write")
	n, err = lw.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, "solve fa", buf.String())
	assert.True(t, lw.truncated)
}

func TestLimitedWriter_ZeroLimit(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf}

	_, err := lw.Write([]byte(strings.Repeat("x", 100)))
	require.NoError(t, err)
	assert.Zero(t, buf.Len())
	assert.True(t, lw.truncated)
}

func TestMockProcessManager_Reset(t *testing.T) {
	pm := okManager()
	_, _ = pm.Run(context.Background(), Command{Name: "a"})
	require.Len(t, pm.GetCalls(), 1)
	pm.Reset()
	assert.Empty(t, pm.GetCalls())
}
