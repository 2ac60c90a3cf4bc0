// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import "errors"

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrUnsupported indicates a problem type, method, selection criterion
	// or spectral transform this backend does not implement.
	ErrUnsupported = errors.New("unsupported eigensolver option")

	// ErrNotConfigured indicates Solve or extraction before the operators,
	// target and spectral transform were all set.
	ErrNotConfigured = errors.New("eigensolver not configured")

	// ErrInvalidParameter indicates a tolerance, iteration limit or target
	// outside its domain.
	ErrInvalidParameter = errors.New("invalid eigensolver parameter")

	// ErrShape indicates operators of different or invalid dimensions.
	ErrShape = errors.New("operator shape mismatch")

	// ErrSingularShift indicates A - σB is singular at the requested shift.
	ErrSingularShift = errors.New("shifted operator is singular")

	// ErrIndefiniteB indicates B is not symmetric positive definite.
	ErrIndefiniteB = errors.New("B is not positive definite")

	// ErrIndexOutOfRange indicates an eigenpair index >= Converged().
	ErrIndexOutOfRange = errors.New("eigenpair index out of range")
)
