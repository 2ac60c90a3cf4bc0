// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import "strconv"

// Code is a worker exit status. Process exit codes and status-record codes
// share one numbering so the host can read either.
type Code int

const (
	// CodeOK means the worker deposited an eigenpair.
	CodeOK Code = 0

	// CodeRuntime covers runtime start-up failure and multi-rank launches.
	CodeRuntime Code = 1

	// CodeDimensionMismatch means A and B differ in dimension.
	CodeDimensionMismatch Code = 2

	// CodeMatrixBuild means a decoded matrix failed to build.
	CodeMatrixBuild Code = 3

	// CodeTransportRead means a matrix or metadata channel could not be read.
	CodeTransportRead Code = 4

	// CodeSetupOperators covers operator and problem-type configuration.
	CodeSetupOperators Code = 6

	// CodeSetupSolver covers tolerances, method and selection criterion.
	CodeSetupSolver Code = 7

	// CodeSetupTransform covers the target and the spectral transform.
	CodeSetupTransform Code = 8

	// CodeNotConverged marks a clean exit with no converged eigenpair. It
	// only appears in status records and host results, never as an exit.
	CodeNotConverged Code = 9

	// CodeSolve means the eigensolver iteration itself failed.
	CodeSolve Code = 10

	// CodeExtract means converged pairs existed but extraction failed.
	CodeExtract Code = 11

	// CodeDeposit means the result channels could not be written.
	CodeDeposit Code = 12

	// CodeSignaled is the host's code for a worker killed by a signal or
	// by the wait timeout.
	CodeSignaled Code = -1
)

var codePhases = map[Code]string{
	CodeOK:                "done",
	CodeRuntime:           "runtime",
	CodeDimensionMismatch: "dimension check",
	CodeMatrixBuild:       "matrix build",
	CodeTransportRead:     "matrix read",
	CodeSetupOperators:    "operator setup",
	CodeSetupSolver:       "solver setup",
	CodeSetupTransform:    "spectral transform setup",
	CodeNotConverged:      "convergence",
	CodeSolve:             "solve",
	CodeExtract:           "eigenpair extraction",
	CodeDeposit:           "result deposit",
	CodeSignaled:          "terminated",
}

// Phase names the worker phase a code belongs to.
func (c Code) Phase() string {
	if p, ok := codePhases[c]; ok {
		return p
	}
	return "unknown"
}

// String renders the code with its phase, e.g. "8 (spectral transform setup)".
func (c Code) String() string {
	return strconv.Itoa(int(c)) + " (" + c.Phase() + ")"
}

// Known reports whether c is one of the defined codes.
func (c Code) Known() bool {
	_, ok := codePhases[c]
	return ok
}
