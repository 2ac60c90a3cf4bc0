// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sparse provides the compressed-row-storage matrix exchanged between
// the eigensolver host and worker, and a builder for symmetric matrices.
package sparse

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// CSR is a square sparse matrix in compressed-row storage.
//
// Row i holds the entries Values[RowPtr[i]:RowPtr[i+1]] at columns
// ColIdx[RowPtr[i]:RowPtr[i+1]]. Index buffers are int32 to match the
// 4-byte layout of the shared channels.
type CSR struct {
	Dim    int
	Values []float64
	RowPtr []int32
	ColIdx []int32
}

// NewCSR wraps the three buffers without copying and validates them.
//
// Inputs:
//
//	dim - Matrix dimension M
//	values - nnz entry values
//	rowPtr - M+1 row offsets
//	colIdx - nnz column indices
//
// Outputs:
//
//	*CSR - The matrix
//	error - *MalformedError when an invariant fails
func NewCSR(dim int, values []float64, rowPtr, colIdx []int32) (*CSR, error) {
	m := &CSR{Dim: dim, Values: values, RowPtr: rowPtr, ColIdx: colIdx}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Identity returns the n×n identity.
func Identity(n int) *CSR {
	d := make([]float64, n)
	for i := range d {
		d[i] = 1
	}
	return Diagonal(d...)
}

// Diagonal returns the diagonal matrix with the given entries.
func Diagonal(d ...float64) *CSR {
	n := len(d)
	m := &CSR{
		Dim:    n,
		Values: make([]float64, n),
		RowPtr: make([]int32, n+1),
		ColIdx: make([]int32, n),
	}
	copy(m.Values, d)
	for i := 0; i < n; i++ {
		m.RowPtr[i+1] = int32(i + 1)
		m.ColIdx[i] = int32(i)
	}
	return m
}

// NNZ returns the number of stored entries.
func (m *CSR) NNZ() int {
	return len(m.Values)
}

// Validate checks the CSR storage invariants.
//
// Outputs:
//
//	error - *MalformedError describing the first violation, nil otherwise
func (m *CSR) Validate() error {
	if m.Dim < 1 {
		return &MalformedError{Field: "dim", Index: -1, Reason: fmt.Sprintf("dimension %d < 1", m.Dim)}
	}
	if len(m.RowPtr) != m.Dim+1 {
		return &MalformedError{Field: "row_ptr", Index: -1,
			Reason: fmt.Sprintf("length %d, want %d", len(m.RowPtr), m.Dim+1)}
	}
	if len(m.ColIdx) != len(m.Values) {
		return &MalformedError{Field: "col_idx", Index: -1,
			Reason: fmt.Sprintf("length %d differs from %d values", len(m.ColIdx), len(m.Values))}
	}
	if m.RowPtr[0] != 0 {
		return &MalformedError{Field: "row_ptr", Index: 0, Reason: "first offset must be 0"}
	}
	for i := 1; i <= m.Dim; i++ {
		if m.RowPtr[i] < m.RowPtr[i-1] {
			return &MalformedError{Field: "row_ptr", Index: i, Reason: "offsets decrease"}
		}
	}
	if int(m.RowPtr[m.Dim]) != len(m.Values) {
		return &MalformedError{Field: "row_ptr", Index: m.Dim,
			Reason: fmt.Sprintf("last offset %d, want nnz %d", m.RowPtr[m.Dim], len(m.Values))}
	}
	for k, c := range m.ColIdx {
		if c < 0 || int(c) >= m.Dim {
			return &MalformedError{Field: "col_idx", Index: k,
				Reason: fmt.Sprintf("column %d outside [0,%d)", c, m.Dim)}
		}
	}
	return nil
}

// MulVec computes dst = m·x. dst and x must have length Dim and must not
// alias.
func (m *CSR) MulVec(dst, x []float64) {
	for i := 0; i < m.Dim; i++ {
		var sum float64
		for k := m.RowPtr[i]; k < m.RowPtr[i+1]; k++ {
			sum += m.Values[k] * x[m.ColIdx[k]]
		}
		dst[i] = sum
	}
}

// AddToDense adds alpha·m into dst, which must be Dim×Dim. Duplicate
// entries accumulate.
func (m *CSR) AddToDense(dst *mat.Dense, alpha float64) {
	for i := 0; i < m.Dim; i++ {
		for k := m.RowPtr[i]; k < m.RowPtr[i+1]; k++ {
			j := int(m.ColIdx[k])
			dst.Set(i, j, dst.At(i, j)+alpha*m.Values[k])
		}
	}
}

// Dense returns m as a dense matrix.
func (m *CSR) Dense() *mat.Dense {
	d := mat.NewDense(m.Dim, m.Dim, nil)
	m.AddToDense(d, 1)
	return d
}

// Bandwidth returns the largest |i-j| over the stored entries.
func (m *CSR) Bandwidth() int {
	k := 0
	for i := 0; i < m.Dim; i++ {
		for p := m.RowPtr[i]; p < m.RowPtr[i+1]; p++ {
			k = max(k, abs(i-int(m.ColIdx[p])))
		}
	}
	return k
}

// SymBand returns (M + Mᵀ)/2 in symmetric band storage of width
// Bandwidth(). Memory is O(Dim·Bandwidth()).
func (m *CSR) SymBand() *mat.SymBandDense {
	s := mat.NewSymBandDense(m.Dim, m.Bandwidth(), nil)
	for i := 0; i < m.Dim; i++ {
		for p := m.RowPtr[i]; p < m.RowPtr[i+1]; p++ {
			j := int(m.ColIdx[p])
			v := m.Values[p]
			if i != j {
				v *= 0.5
			}
			r, c := min(i, j), max(i, j)
			s.SetSymBand(r, c, s.At(r, c)+v)
		}
	}
	return s
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Clone returns a deep copy.
func (m *CSR) Clone() *CSR {
	return &CSR{
		Dim:    m.Dim,
		Values: append([]float64(nil), m.Values...),
		RowPtr: append([]int32(nil), m.RowPtr...),
		ColIdx: append([]int32(nil), m.ColIdx...),
	}
}
