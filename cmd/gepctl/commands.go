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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEigen/pkg/ux"
	"github.com/AleutianAI/AleutianEigen/services/gep/channel"
	"github.com/AleutianAI/AleutianEigen/services/gep/host"
)

// --- solve ---

func newSolveCmd(a *app) *cobra.Command {
	var (
		size    int
		length  float64
		target  float64
		lumped  bool
		timeout time.Duration
		show    int
	)
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve a finite-element string eigenproblem near a target",
		Long: `Assembles the stiffness and mass matrices of -u'' = λu on (0, length)
with fixed ends and asks the solve_gep worker for the eigenpair nearest
--target. The continuum eigenvalue (kπ/L)² nearest the result is printed
for comparison.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if timeout > 0 {
				a.cfg.Worker.Timeout = timeout
			}
			p := stringProblem{n: size, length: length, lumped: lumped}
			k, m, err := p.assemble()
			if err != nil {
				return err
			}

			solver, err := host.New(a.cfg, a.solverOptions()...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var sol *host.Solution
			err = ux.WithSpinner(a.printer, fmt.Sprintf("solving %d×%d near %g", size, size, target), func() error {
				var solveErr error
				sol, solveErr = solver.Solve(ctx, target, k, m)
				return solveErr
			})
			if err != nil {
				return err
			}
			return report(a.printer, p, target, sol, show)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&size, "size", "n", 100, "interior nodes")
	f.Float64VarP(&length, "length", "l", 1, "domain length")
	f.Float64VarP(&target, "target", "a", 10, "target eigenvalue")
	f.BoolVar(&lumped, "lumped", false, "use a lumped (diagonal) mass matrix")
	f.DurationVar(&timeout, "timeout", 0, "worker timeout (default: from config)")
	f.IntVar(&show, "show", 8, "eigenvector entries to print")
	return cmd
}

func report(pr *ux.Printer, p stringProblem, target float64, sol *host.Solution, show int) error {
	pr.Title("Eigenpair")
	pr.Field("status", sol.Status.String())
	if err := sol.Err(); err != nil {
		pr.Error(err.Error())
		if sol.Output != "" {
			pr.Box("worker output", sol.Output)
		}
		return err
	}

	mode, exact := p.nearestMode(sol.Eigenvalue)
	pr.Field("eigenvalue", sol.Eigenvalue)
	pr.Field("continuum_mode", mode)
	pr.Field("continuum_eigenvalue", exact)
	pr.Field("relative_error", (sol.Eigenvalue-exact)/exact)
	pr.Field("iterations", sol.Iterations)
	pr.Field("residual", sol.Residual)
	pr.Field("duration", sol.Duration.Round(time.Millisecond))
	pr.Vector("eigenvector", host.EigenPair{Value: sol.Eigenvalue, Vector: sol.Eigenvector}.NormalizedVector(), show)
	pr.Success(fmt.Sprintf("converged near %g", target))
	return nil
}

// --- purge ---

func newPurgeCmd(a *app) *cobra.Command {
	var sessions []string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove stale channels left by a crashed solve",
		Long: `Removes the fixed legacy channel names, and those of any --session given,
from the configured channel directory. Missing channels are ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := channel.NewRegistry(a.cfg.Channels.Dir, channel.WithLogger(a.logger.Slog()))
			if err != nil {
				return err
			}
			namespaces := []channel.Namespace{{}}
			for _, s := range sessions {
				ns := channel.Namespace{Session: s}
				if err := ns.Validate(); err != nil {
					return fmt.Errorf("session %q: %w", s, err)
				}
				namespaces = append(namespaces, ns)
			}

			var names []string
			for _, ns := range namespaces {
				names = append(names, ns.All()...)
			}
			if err := reg.Purge(names...); err != nil {
				return err
			}
			a.printer.Success(fmt.Sprintf("purged %d channel names in %s", len(names), reg.Dir()))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&sessions, "session", "s", nil, "also purge this session's channels (repeatable)")
	return cmd
}

// --- config ---

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
