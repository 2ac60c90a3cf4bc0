// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package launcher

import "errors"

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrWorkerNotConfigured indicates the worker directory environment
	// variable is unset or empty. Nothing is launched.
	ErrWorkerNotConfigured = errors.New("worker location not configured")

	// ErrWorkerTimeout indicates the worker did not exit within the
	// configured timeout and was killed.
	ErrWorkerTimeout = errors.New("worker timed out")

	// ErrLaunchFailed indicates the worker process could not be started.
	ErrLaunchFailed = errors.New("worker launch failed")
)
