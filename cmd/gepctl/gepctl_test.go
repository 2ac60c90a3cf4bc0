// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEigen/services/gep/channel"
	"github.com/AleutianAI/AleutianEigen/services/gep/host"
	"github.com/AleutianAI/AleutianEigen/services/gep/transport"
	"github.com/AleutianAI/AleutianEigen/services/gep/worker"
)

func TestMain(m *testing.M) {
	if os.Getenv("GEP_HELPER_WORKER") == "1" {
		os.Exit(worker.Main(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eigen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

// =============================================================================
// Problem Tests
// =============================================================================

func TestStringProblem_Assemble(t *testing.T) {
	k, m, err := stringProblem{n: 3, length: 1}.assemble()
	require.NoError(t, err)

	h := 0.25
	kd := k.Dense()
	md := m.Dense()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 2/h, kd.At(i, i), 1e-12)
		assert.InDelta(t, 2*h/3, md.At(i, i), 1e-12)
	}
	assert.InDelta(t, -1/h, kd.At(0, 1), 1e-12)
	assert.InDelta(t, -1/h, kd.At(2, 1), 1e-12)
	assert.InDelta(t, h/6, md.At(1, 2), 1e-12)
	assert.Zero(t, kd.At(0, 2))
	assert.Equal(t, 7, k.NNZ())
	require.NoError(t, k.Validate())
	require.NoError(t, m.Validate())
}

func TestStringProblem_Lumped(t *testing.T) {
	_, m, err := stringProblem{n: 4, length: 2, lumped: true}.assemble()
	require.NoError(t, err)
	assert.Equal(t, 4, m.NNZ(), "lumped mass is diagonal")
	assert.InDelta(t, 0.4, m.Dense().At(3, 3), 1e-12)
}

func TestStringProblem_Invalid(t *testing.T) {
	_, _, err := stringProblem{n: 0, length: 1}.assemble()
	assert.Error(t, err)
	_, _, err = stringProblem{n: 3, length: 0}.assemble()
	assert.Error(t, err)
}

func TestStringProblem_NearestMode(t *testing.T) {
	p := stringProblem{n: 10, length: 1}
	mode, exact := p.nearestMode(10)
	assert.Equal(t, 1, mode)
	assert.InDelta(t, math.Pi*math.Pi, exact, 1e-12)

	mode, _ = p.nearestMode(38)
	assert.Equal(t, 2, mode)

	mode, _ = p.nearestMode(-5)
	assert.Equal(t, 1, mode)
}

// =============================================================================
// Command Tests
// =============================================================================

func TestConfigCommand(t *testing.T) {
	path := writeConfig(t, "protocol:\n  size_negotiation: cli\n")

	code, out, _ := runCLI(t, "config", "--config", path)

	require.Equal(t, 0, code)
	assert.Contains(t, out, "size_negotiation: cli")
	assert.Contains(t, out, "path_env: EIGSOLVER_PATH")
}

func TestConfigCommand_InvalidFile(t *testing.T) {
	path := writeConfig(t, "protocol:\n  size_negotiation: pipe\n")

	code, _, errOut := runCLI(t, "config", "--config", path)

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid config")
}

func TestPurgeCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "channels:\n  dir: "+dir+"\n")

	reg, err := channel.NewRegistry(dir)
	require.NoError(t, err)
	for _, name := range []string{"A_mat_vals", channel.EigenvalueName, "abc_" + channel.StatusName} {
		seg, err := reg.Create(name, 8)
		require.NoError(t, err)
		require.NoError(t, seg.Close())
	}
	keep, err := reg.Create("unrelated", 8)
	require.NoError(t, err)
	require.NoError(t, keep.Close())

	code, out, _ := runCLI(t, "purge", "-s", "abc", "-o", "machine", "--config", path)

	require.Equal(t, 0, code)
	assert.Contains(t, out, "OK: purged 22 channel names in "+dir)
	assert.False(t, reg.Exists("A_mat_vals"))
	assert.False(t, reg.Exists(channel.EigenvalueName))
	assert.False(t, reg.Exists("abc_"+channel.StatusName))
	assert.True(t, reg.Exists("unrelated"))
}

func TestSolveCommand_WorkerNotConfigured(t *testing.T) {
	t.Setenv("EIGSOLVER_PATH", "")
	path := writeConfig(t, "channels:\n  dir: "+t.TempDir()+"\n")

	code, _, errOut := runCLI(t, "solve", "-n", "5", "-o", "machine", "--config", path)

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "worker location not configured")
}

// helperWorkerConfig points the worker at this test binary.
func helperWorkerConfig(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	t.Setenv("EIGSOLVER_PATH", filepath.Dir(exe))
	t.Setenv("GEP_HELPER_WORKER", "1")
	return writeConfig(t, strings.Join([]string{
		"worker:",
		"  executable: " + filepath.Base(exe),
		"channels:",
		"  dir: " + t.TempDir(),
		"",
	}, "\n"))
}

func TestSolveCommand_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns the worker process")
	}
	path := helperWorkerConfig(t)

	code, out, errOut := runCLI(t, "solve", "-n", "50", "-a", "10", "-o", "machine", "--config", path)
	require.Equal(t, 0, code, errOut)

	fields := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			fields[k] = v
		}
	}
	assert.Equal(t, "1", fields["continuum_mode"])
	eigenvalue, err := strconv.ParseFloat(fields["eigenvalue"], 64)
	require.NoError(t, err)
	assert.InDelta(t, math.Pi*math.Pi, eigenvalue, 1e-2)
	assert.Contains(t, out, "OK: converged near 10")
	assert.Contains(t, errOut, "PROGRESS: solving 50×50 near 10")
}

func TestSolveCommand_Trace(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns the worker process")
	}
	path := helperWorkerConfig(t)

	code, _, errOut := runCLI(t, "solve", "-n", "10", "-a", "10", "-o", "machine", "--trace", "--config", path)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, `"Name": "host.Solve"`)
	assert.Contains(t, errOut, "gep.target")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(os.ErrNotExist))
	assert.Equal(t, 10, exitCode(&host.WorkerError{Status: transport.CodeSolve}))
	assert.Equal(t, 9, exitCode(&host.WorkerError{Status: transport.CodeNotConverged}))
	assert.Equal(t, 1, exitCode(&host.WorkerError{Status: transport.CodeSignaled}))
}
