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

import (
	"errors"
	"fmt"
)

// ErrSizeMismatch indicates a channel whose byte length does not match the
// element layout or the expected element count.
var ErrSizeMismatch = errors.New("transport size mismatch")

// SizeMismatchError reports a channel of unexpected byte length.
type SizeMismatchError struct {
	// Channel is the channel name.
	Channel string

	// Bytes is the channel's actual byte length.
	Bytes int

	// ElemSize is the element width in bytes (8 or 4).
	ElemSize int

	// WantElems is the expected element count, or -1 when any whole
	// multiple of ElemSize is acceptable.
	WantElems int
}

// Error implements the error interface.
func (e *SizeMismatchError) Error() string {
	if e.Bytes%e.ElemSize != 0 {
		return fmt.Sprintf("channel %q: %d bytes is not a multiple of %d", e.Channel, e.Bytes, e.ElemSize)
	}
	return fmt.Sprintf("channel %q: %d elements, expected %d", e.Channel, e.Bytes/e.ElemSize, e.WantElems)
}

// Unwrap returns ErrSizeMismatch.
func (e *SizeMismatchError) Unwrap() error {
	return ErrSizeMismatch
}
