// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command solve_gep is the eigensolver worker. The host launches it once per
// solve with the target on the command line; matrices and results travel
// through named shared-memory channels.
//
// Usage:
//
//	solve_gep -a 3.9
//	solve_gep -a 3.9 -d 1000 -v 2998 -s 6f1c...
//
// The exit status names the phase that failed; see transport.Code.
package main

import (
	"os"

	"github.com/AleutianAI/AleutianEigen/services/gep/worker"
)

func main() {
	os.Exit(worker.Main(os.Args[1:]))
}
