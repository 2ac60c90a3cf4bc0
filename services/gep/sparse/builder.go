// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sparse

import (
	"cmp"
	"fmt"
	"slices"
)

type entryKey struct {
	row, col int
}

// SymmetricBuilder assembles a symmetric matrix by storing only its upper
// triangle. Insert accumulates, so element contributions can arrive in any
// order and from either triangle.
//
// Not safe for concurrent use.
type SymmetricBuilder struct {
	dim     int
	entries map[entryKey]float64
}

// NewSymmetricBuilder creates an empty dim×dim builder.
func NewSymmetricBuilder(dim int) *SymmetricBuilder {
	return &SymmetricBuilder{dim: dim, entries: make(map[entryKey]float64)}
}

// Dim returns the matrix dimension.
func (b *SymmetricBuilder) Dim() int {
	return b.dim
}

// Insert adds value at (row, col) and, implicitly, at (col, row).
func (b *SymmetricBuilder) Insert(row, col int, value float64) error {
	if row < 0 || col < 0 || row >= b.dim || col >= b.dim {
		return fmt.Errorf("insert (%d,%d) into %d×%d: %w", row, col, b.dim, b.dim, ErrOutOfRange)
	}
	if row > col {
		row, col = col, row
	}
	b.entries[entryKey{row, col}] += value
	return nil
}

// At returns the accumulated value at (row, col), zero when unset.
func (b *SymmetricBuilder) At(row, col int) float64 {
	if row > col {
		row, col = col, row
	}
	return b.entries[entryKey{row, col}]
}

// NumEntries counts the nonzeros of the full symmetric matrix: each
// off-diagonal upper entry counts twice.
func (b *SymmetricBuilder) NumEntries() int {
	diag := 0
	for k := range b.entries {
		if k.row == k.col {
			diag++
		}
	}
	return 2*len(b.entries) - diag
}

// Consume adds every entry of other into b and leaves other empty.
func (b *SymmetricBuilder) Consume(other *SymmetricBuilder) error {
	if other.dim != b.dim {
		return fmt.Errorf("consume %d×%d into %d×%d: %w", other.dim, other.dim, b.dim, b.dim, ErrDimensionMismatch)
	}
	for k, v := range other.entries {
		b.entries[k] += v
	}
	clear(other.entries)
	return nil
}

// CSR expands both triangles into a row-major CSR matrix with columns
// ascending within each row.
func (b *SymmetricBuilder) CSR() *CSR {
	type triplet struct {
		row, col int
		value    float64
	}
	full := make([]triplet, 0, b.NumEntries())
	for k, v := range b.entries {
		full = append(full, triplet{k.row, k.col, v})
		if k.row != k.col {
			full = append(full, triplet{k.col, k.row, v})
		}
	}
	slices.SortFunc(full, func(x, y triplet) int {
		if c := cmp.Compare(x.row, y.row); c != 0 {
			return c
		}
		return cmp.Compare(x.col, y.col)
	})

	m := &CSR{
		Dim:    b.dim,
		Values: make([]float64, len(full)),
		RowPtr: make([]int32, b.dim+1),
		ColIdx: make([]int32, len(full)),
	}
	for k, t := range full {
		m.Values[k] = t.value
		m.ColIdx[k] = int32(t.col)
		m.RowPtr[t.row+1]++
	}
	for i := 0; i < b.dim; i++ {
		m.RowPtr[i+1] += m.RowPtr[i]
	}
	return m
}
