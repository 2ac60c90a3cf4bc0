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

import "sync"

// Segment is one mapped channel. The byte slice returned by Bytes is only
// valid until Close.
type Segment struct {
	name     string
	data     []byte
	writable bool
	mapped   bool

	mu     sync.Mutex
	closed bool
}

// Name returns the channel name.
func (s *Segment) Name() string { return s.name }

// Size returns the channel size in bytes.
func (s *Segment) Size() int { return len(s.data) }

// Writable reports whether the segment was created by this process.
func (s *Segment) Writable() bool { return s.writable }

// Bytes returns the mapped region. Zero-byte channels and closed segments
// return an empty, non-nil slice.
func (s *Segment) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Close unmaps the segment. The channel itself stays until purged.
// Calling Close more than once is a no-op.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	data := s.data
	s.data = []byte{}
	if !s.mapped {
		return nil
	}
	return unmap(data)
}
