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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEigen/services/gep/channel"
	"github.com/AleutianAI/AleutianEigen/services/gep/sparse"
	"github.com/AleutianAI/AleutianEigen/services/gep/transport"
)

func TestMain_SolvesFromFlags(t *testing.T) {
	for _, key := range RankEnvVars {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	store, err := channel.NewRegistry(dir)
	require.NoError(t, err)
	ns := channel.Namespace{Session: "cli"}
	publish(t, store, ns, sparse.Diagonal(2, 4), sparse.Identity(2), false)

	code := Main([]string{"-a", "3.9", "-d", "2", "-v", "2", "-s", "cli", "--channel-dir", dir, "--log-level", "warn"})
	require.Equal(t, int(transport.CodeOK), code)

	eval, _, err := transport.ReadResult(store, ns.Result(), 2)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, eval, 1e-12)
}

func TestMain_NegativeTarget(t *testing.T) {
	for _, key := range RankEnvVars {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	store, err := channel.NewRegistry(dir)
	require.NoError(t, err)
	publish(t, store, channel.Namespace{}, sparse.Diagonal(-3, 5), sparse.Identity(2), true)

	code := Main([]string{"-a", "-2.5", "--channel-dir", dir})
	require.Equal(t, int(transport.CodeOK), code)

	eval, _, err := transport.ReadResult(store, channel.Namespace{}.Result(), 2)
	require.NoError(t, err)
	assert.InDelta(t, -3.0, eval, 1e-12)
}

func TestMain_CommandLineErrors(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, int(transport.CodeRuntime), Main([]string{"--channel-dir", dir}), "target is required")
	assert.Equal(t, int(transport.CodeRuntime), Main([]string{"-a", "x"}))
	assert.Equal(t, int(transport.CodeRuntime), Main([]string{"-a", "1", "--log-level", "loud"}))
	assert.Equal(t, int(transport.CodeRuntime), Main([]string{"-a", "1", "extra"}))
	assert.Equal(t, 0, Main([]string{"--help"}))
}

func TestMain_MissingChannels(t *testing.T) {
	for _, key := range RankEnvVars {
		t.Setenv(key, "")
	}
	code := Main([]string{"-a", "1", "--channel-dir", t.TempDir()})
	assert.Equal(t, int(transport.CodeTransportRead), code)
}
