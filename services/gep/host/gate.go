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
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// legacyGates serializes solves that share the fixed channel names of one
// directory, across every Solver in the process.
var legacyGates = struct {
	sync.Mutex
	byDir map[string]*semaphore.Weighted
}{byDir: make(map[string]*semaphore.Weighted)}

// legacyGate returns the process-wide gate for dir.
func legacyGate(dir string) *semaphore.Weighted {
	key := filepath.Clean(dir)
	legacyGates.Lock()
	defer legacyGates.Unlock()
	g, ok := legacyGates.byDir[key]
	if !ok {
		g = semaphore.NewWeighted(1)
		legacyGates.byDir[key] = g
	}
	return g
}
