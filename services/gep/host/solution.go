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
	"time"

	"github.com/AleutianAI/AleutianEigen/services/gep/transport"
)

// StatusNotConverged is the Solution status for a clean worker exit with no
// converged eigenpair.
const StatusNotConverged = transport.CodeNotConverged

// Solution is the host-side result of one solve. It is fully owned by the
// caller; nothing in it aliases shared memory.
type Solution struct {
	// Status is 0 on success, the worker's exit code on failure,
	// StatusNotConverged when no pair converged, or -1 when the worker
	// was killed.
	Status transport.Code

	// Eigenvalue is the eigenvalue nearest the target, or 0.0 when none
	// converged.
	Eigenvalue float64

	// Eigenvector has the matrix dimension when the result channels were
	// readable, and is nil otherwise.
	Eigenvector []float64

	// Converged is set when the worker reported a converged pair.
	Converged bool

	// Iterations and Residual come from the worker's status record.
	Iterations int
	Residual   float64

	// Phase and Message describe the failing phase, if any.
	Phase   string
	Message string

	// Output is the worker's captured stdout/stderr.
	Output string

	// Session is the channel namespace used; empty for legacy names.
	Session string

	// Duration is the wall time of the whole solve.
	Duration time.Duration
}

// OK reports whether a converged eigenpair was returned.
func (s *Solution) OK() bool {
	return s.Status == transport.CodeOK && s.Converged
}

// Err returns a *WorkerError for a nonzero status, or nil.
func (s *Solution) Err() error {
	if s.Status == transport.CodeOK {
		return nil
	}
	phase := s.Phase
	if phase == "" {
		phase = s.Status.Phase()
	}
	return &WorkerError{Status: s.Status, Phase: phase, Message: s.Message}
}
