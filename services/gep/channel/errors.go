// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package channel

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrChannelExists indicates a create against a name that is already
	// present. Purge the name first.
	ErrChannelExists = errors.New("channel already exists")

	// ErrChannelNotFound indicates an open of a name that is not present.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrSizeMismatch indicates an existing channel whose byte size differs
	// from the size the reader expected.
	ErrSizeMismatch = errors.New("channel size mismatch")

	// ErrInvalidName indicates an empty name or one containing a path
	// separator.
	ErrInvalidName = errors.New("invalid channel name")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CreateError reports a failed exclusive create.
//
// errors.Is(err, ErrChannelExists) is true when the name was taken; other
// causes (permissions, ENOSPC, mmap) are carried in Cause.
type CreateError struct {
	// Name is the channel name.
	Name string

	// Size is the requested byte size.
	Size int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *CreateError) Error() string {
	return fmt.Sprintf("create channel %q (%d bytes): %v", e.Name, e.Size, e.Cause)
}

// Unwrap returns the underlying error.
func (e *CreateError) Unwrap() error {
	return e.Cause
}

// SizeError reports an existing channel of the wrong size.
type SizeError struct {
	Name string
	Want int
	Got  int
}

// Error implements the error interface.
func (e *SizeError) Error() string {
	return fmt.Sprintf("channel %q is %d bytes, expected %d", e.Name, e.Got, e.Want)
}

// Unwrap returns ErrSizeMismatch.
func (e *SizeError) Unwrap() error {
	return ErrSizeMismatch
}
