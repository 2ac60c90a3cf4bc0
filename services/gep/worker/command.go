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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEigen/pkg/logging"
	"github.com/AleutianAI/AleutianEigen/services/gep/channel"
	"github.com/AleutianAI/AleutianEigen/services/gep/transport"
)

// NewCommand builds the solve_gep command. onExit receives the exit code of
// a solve that ran; command-line errors are returned by Execute instead.
//
// Flags:
//
//	-a, --target       shift and target eigenvalue (required)
//	-d, --dim          matrix dimension; 0 reads the metadata channels
//	-v, --nnz          nonzeros in A
//	    --nnz-b        nonzeros in B (default: --nnz)
//	-s, --session      channel session prefix
//	    --channel-dir  channel directory (default /dev/shm)
//	    --tol          relative tolerance (default 1e-15)
//	    --max-it       maximum restarts (default 100)
//	    --ncv          Krylov basis size (default automatic)
//	    --log-level    debug, info, warn or error
func NewCommand(onExit func(transport.Code)) *cobra.Command {
	var (
		opts     Options
		dir      string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "solve_gep",
		Short:         "Solve A·x = λ·B·x near a target from shared-memory channels",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			if opts.Dim < 0 || opts.NNZ < 0 {
				return fmt.Errorf("dimension and nonzero counts must be non-negative")
			}

			logger := logging.New(logging.Config{Level: level, Service: "solve_gep"})
			defer logger.Close()

			store, err := channel.NewRegistry(dir, channel.WithLogger(logger.Slog()))
			if err != nil {
				logger.Error("channel registry unavailable", "error", err)
				onExit(transport.CodeRuntime)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch := New(store, WithLogger(logger.Slog()))
			onExit(orch.Run(ctx, opts))
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64VarP(&opts.Target, "target", "a", 0, "target eigenvalue and spectral shift")
	f.IntVarP(&opts.Dim, "dim", "d", 0, "matrix dimension (0 reads metadata channels)")
	f.IntVarP(&opts.NNZ, "nnz", "v", 0, "nonzero count of A")
	f.IntVar(&opts.NNZB, "nnz-b", -1, "nonzero count of B (default: --nnz)")
	f.StringVarP(&opts.Session, "session", "s", "", "channel session prefix")
	f.StringVar(&dir, "channel-dir", "", "channel directory (default /dev/shm)")
	f.Float64Var(&opts.Tolerance, "tol", DefaultTolerance, "relative residual tolerance")
	f.IntVar(&opts.MaxIterations, "max-it", DefaultMaxIterations, "maximum Krylov-Schur restarts")
	f.IntVar(&opts.NCV, "ncv", 0, "Krylov basis size (0 = automatic)")
	f.StringVar(&logLevel, "log-level", "info", "log level")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

// Main runs the command with args and returns the process exit code.
// Invalid command lines exit with CodeRuntime; --help exits 0.
func Main(args []string) int {
	code := transport.CodeOK
	cmd := NewCommand(func(c transport.Code) { code = c })
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "solve_gep:", err)
		return int(transport.CodeRuntime)
	}
	return int(code)
}
