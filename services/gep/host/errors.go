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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianEigen/services/gep/transport"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidInput indicates a nil or empty matrix was passed to Solve.
	ErrInvalidInput = errors.New("invalid solve input")

	// ErrDimensionMismatch indicates A and B differ in dimension, either
	// caught by the host before launch or reported by the worker.
	ErrDimensionMismatch = errors.New("matrix dimension mismatch")

	// ErrSolveFailed indicates the worker exited with a failure status.
	ErrSolveFailed = errors.New("solve failed")

	// ErrNotConverged indicates the worker finished cleanly without a
	// converged eigenpair.
	ErrNotConverged = errors.New("eigensolver did not converge")

	// ErrWorkerTerminated indicates the worker was killed by a signal.
	ErrWorkerTerminated = errors.New("worker terminated")
)

// =============================================================================
// TYPED ERRORS
// =============================================================================

// DimensionMismatchError reports the two dimensions. It is returned before
// any channel is touched.
type DimensionMismatchError struct {
	DimA int
	DimB int
}

// Error implements the error interface.
func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("A is %d×%d but B is %d×%d", e.DimA, e.DimA, e.DimB, e.DimB)
}

// Unwrap returns ErrDimensionMismatch.
func (e *DimensionMismatchError) Unwrap() error {
	return ErrDimensionMismatch
}

// WorkerError describes a nonzero Solution status.
type WorkerError struct {
	// Status is the Solution status code.
	Status transport.Code

	// Phase names the worker phase that failed.
	Phase string

	// Message is the worker's status-record message, when one was written.
	Message string
}

// Error implements the error interface.
func (e *WorkerError) Error() string {
	msg := fmt.Sprintf("worker status %d (%s)", int(e.Status), e.Phase)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap maps the status to sentinels so callers can use errors.Is. Every
// status except CodeNotConverged also matches ErrSolveFailed.
func (e *WorkerError) Unwrap() []error {
	switch e.Status {
	case transport.CodeNotConverged:
		return []error{ErrNotConverged}
	case transport.CodeDimensionMismatch:
		return []error{ErrDimensionMismatch, ErrSolveFailed}
	case transport.CodeSignaled:
		return []error{ErrWorkerTerminated, ErrSolveFailed}
	default:
		return []error{ErrSolveFailed}
	}
}
