// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package channel implements the Shared-Channel Registry: named,
// fixed-size shared memory segments that carry matrices and results
// between the eigensolver host and its worker process.
//
// A channel is created exactly once by its writer, truncated to its final
// size, and opened read-only by the other process. Names are OS-global
// within the channel directory, so a name must be purged before it can be
// created again; Create never overwrites.
//
// # Thread Safety
//
// Registry methods are safe for concurrent use, but nothing stops two
// callers from racing purge-then-create on the same name. Callers serialize
// or use distinct Namespace sessions.
package channel

// SizeAny tells OpenRead to map whatever size the channel has.
const SizeAny = -1

// Store is the channel lifecycle used by the transport codecs.
type Store interface {
	// Purge removes every named channel. Absent names are not an error.
	Purge(names ...string) error

	// Create exclusively creates a writable channel of exactly size bytes.
	// An existing name yields a *CreateError matching ErrChannelExists.
	Create(name string, size int) (*Segment, error)

	// OpenRead maps an existing channel read-only. size must equal the
	// channel's byte size unless it is SizeAny.
	OpenRead(name string, size int) (*Segment, error)

	// Exists reports whether a channel of this name is present.
	Exists(name string) bool
}
