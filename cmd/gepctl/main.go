// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gepctl drives the eigensolver from the host side.
//
// Usage:
//
//	gepctl solve --size 200 --target 40
//	gepctl solve --size 200 --target 40 --config ~/.aleutian/eigen.yaml
//	gepctl purge
//	gepctl config
//
// EIGSOLVER_PATH must name the directory holding solve_gep.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/AleutianEigen/pkg/logging"
	"github.com/AleutianAI/AleutianEigen/pkg/ux"
	"github.com/AleutianAI/AleutianEigen/services/gep/config"
	"github.com/AleutianAI/AleutianEigen/services/gep/host"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// app holds what every subcommand needs once flags are parsed.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	printer *ux.Printer

	// tracing is nil unless --trace was given.
	tracing *sdktrace.TracerProvider
}

// solverOptions returns the host options shared by every subcommand.
func (a *app) solverOptions() []host.Option {
	opts := []host.Option{host.WithLogger(a.logger.Slog())}
	if a.tracing != nil {
		opts = append(opts, host.WithTracerProvider(a.tracing))
	}
	return opts
}

// run executes gepctl and returns the process exit code.
func run(args []string, out, errOut io.Writer) int {
	root := newRootCmd(out, errOut)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(errOut, "gepctl:", err)
	return exitCode(err)
}

// exitCode reports a worker failure by its status and anything else as 1.
func exitCode(err error) int {
	var we *host.WorkerError
	if errors.As(err, &we) && we.Status > 0 {
		return int(we.Status)
	}
	return 1
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	var (
		configPath string
		output     string
		logLevel   string
		trace      bool
	)
	a := &app{}

	root := &cobra.Command{
		Use:           "gepctl",
		Short:         "Solve generalized eigenproblems through the solve_gep worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			level, err := logging.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}

			a.cfg = cfg
			a.logger = logging.New(logging.Config{
				Level:   level,
				LogDir:  cfg.Log.Dir,
				Service: "gepctl",
				JSON:    cfg.Log.JSON || !ux.IsTerminal(os.Stderr),
			})

			personality := ux.DetectPersonality(os.Getenv, os.Stdout)
			if output != "" {
				personality = ux.ParsePersonalityLevel(output)
			}
			a.printer = ux.NewPrinter(out, errOut, personality)

			if trace {
				exporter, err := stdouttrace.New(stdouttrace.WithWriter(errOut), stdouttrace.WithPrettyPrint())
				if err != nil {
					return fmt.Errorf("trace exporter: %w", err)
				}
				a.tracing = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			if a.tracing != nil {
				errs = append(errs, a.tracing.Shutdown(cmd.Context()))
			}
			if a.logger != nil {
				errs = append(errs, a.logger.Close())
			}
			return errors.Join(errs...)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	f := root.PersistentFlags()
	f.StringVar(&configPath, "config", "", "path to eigen.yaml (default: built-in defaults)")
	f.StringVarP(&output, "output", "o", "", "output style: standard, minimal or machine")
	f.StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn or error")
	f.BoolVar(&trace, "trace", false, "write solve spans to stderr")

	root.AddCommand(newSolveCmd(a), newPurgeCmd(a), newConfigCmd(a))
	return root
}
