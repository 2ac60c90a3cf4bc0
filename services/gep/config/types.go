// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the YAML configuration shared by the eigensolver host
// and its operator CLI.
package config

import "time"

// Size negotiation modes for the worker protocol.
const (
	// NegotiateMetadata makes the host publish a <role>_meta_data channel
	// holding [M, nnz] and launch the worker with only the target.
	NegotiateMetadata = "metadata"

	// NegotiateCLI passes dimension and nonzero counts on the worker's
	// command line (-d, -v, --nnz-b) and publishes no metadata channel.
	NegotiateCLI = "cli"
)

// Config is the root of eigen.yaml.
type Config struct {
	Worker   WorkerConfig   `yaml:"worker"`
	Channels ChannelConfig  `yaml:"channels"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Solver   SolverConfig   `yaml:"solver"`
	Log      LogConfig      `yaml:"log"`
}

// WorkerConfig controls how the solve_gep worker is located and launched.
type WorkerConfig struct {
	// PathEnv names the environment variable holding the worker directory.
	// Default: EIGSOLVER_PATH
	PathEnv string `yaml:"path_env" validate:"required,envname"`

	// Executable is the worker binary name inside that directory.
	// Default: solve_gep
	Executable string `yaml:"executable" validate:"required,excludes=/"`

	// Runner is an optional argv prefix, e.g. [mpiexec, -n, "1"].
	Runner []string `yaml:"runner,omitempty" validate:"dive,required"`

	// Timeout bounds the wait for the worker to exit.
	// Default: 10m
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// MaxOutputBytes caps the captured worker stdout/stderr.
	// Default: 65536 (64KB)
	MaxOutputBytes int `yaml:"max_output_bytes" validate:"gte=1024"`

	// MinLaunchInterval spaces consecutive worker launches. Zero disables
	// the limiter.
	MinLaunchInterval time.Duration `yaml:"min_launch_interval" validate:"gte=0"`
}

// ChannelConfig controls where named channels live.
type ChannelConfig struct {
	// Dir is the channel directory. Empty selects /dev/shm, or the system
	// temp dir where /dev/shm is unavailable.
	Dir string `yaml:"dir,omitempty"`

	// SessionScoped prefixes every channel name with a per-solve session id.
	// When false the fixed legacy names are used.
	// Default: true
	SessionScoped bool `yaml:"session_scoped"`
}

// ProtocolConfig selects the host/worker size negotiation.
type ProtocolConfig struct {
	SizeNegotiation string `yaml:"size_negotiation" validate:"required,oneof=metadata cli"`
}

// SolverConfig holds the Krylov-Schur parameters passed to the worker.
type SolverConfig struct {
	// Default: 1e-15
	Tolerance float64 `yaml:"tolerance" validate:"gt=0,lt=1"`

	// Default: 100
	MaxIterations int `yaml:"max_iterations" validate:"gte=1"`

	// NCV is the Krylov basis size; 0 picks it from the problem size.
	NCV int `yaml:"ncv" validate:"gte=0"`
}

// LogConfig controls host-side logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			PathEnv:        "EIGSOLVER_PATH",
			Executable:     "solve_gep",
			Timeout:        10 * time.Minute,
			MaxOutputBytes: 64 * 1024, // 64KB
		},
		Channels: ChannelConfig{
			SessionScoped: true,
		},
		Protocol: ProtocolConfig{
			SizeNegotiation: NegotiateMetadata,
		},
		Solver: SolverConfig{
			Tolerance:     1e-15,
			MaxIterations: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
