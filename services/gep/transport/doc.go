// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport encodes matrices, results and status records into
// shared channels and decodes them on the other side.
//
// # Wire Layout
//
// All values are native-endian with no framing or checksum:
//
//	<role>_mat_vals   nnz     float64
//	<role>_mat_rows   M+1     int32
//	<role>_mat_cols   nnz     int32
//	<role>_meta_data  2       int32   [M, nnz] (metadata negotiation only)
//	best_eval_result  1       float64
//	best_evec_result  M       float64
//	solve_status      fixed   see StatusRecord
//
// The transport checks byte lengths only. CSR well-formedness is the
// worker's concern and surfaces as a matrix build failure.
package transport
