// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sparse

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrMalformed indicates CSR buffers that violate the storage invariants.
	ErrMalformed = errors.New("malformed CSR matrix")

	// ErrOutOfRange indicates a row or column index outside the matrix.
	ErrOutOfRange = errors.New("index out of range")

	// ErrDimensionMismatch indicates two builders of different dimension.
	ErrDimensionMismatch = errors.New("matrix dimensions differ")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// MalformedError reports the first CSR invariant that failed.
type MalformedError struct {
	// Field is the offending buffer: "dim", "row_ptr", "col_idx" or "values".
	Field string

	// Index is the position in Field, or -1 when the whole buffer is wrong.
	Index int

	// Reason describes the violation.
	Reason string
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed CSR matrix: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed CSR matrix: %s[%d]: %s", e.Field, e.Index, e.Reason)
}

// Unwrap returns ErrMalformed.
func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}
