// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/AleutianEigen/services/gep/sparse"
)

// operator is what the Krylov-Schur iteration needs from a spectral
// transform: the transformed operator and the B-product defining the inner
// product it is self-adjoint in.
type operator interface {
	Dim() int
	Apply(dst, x []float64) error
	BMul(dst, x []float64)
}

// shiftInvert applies (A - σB)⁻¹B using one direct factorization of the
// shifted matrix.
type shiftInvert struct {
	n      int
	b      *sparse.CSR
	factor string

	chol *mat.Cholesky
	lu   *mat.LU

	bx []float64
}

// newShiftInvert factors A - σB. With pc "cholesky" an indefinite shifted
// matrix, the normal case for an interior shift, falls back to LU with
// partial pivoting.
func newShiftInvert(a, b *sparse.CSR, sigma float64, pc string) (*shiftInvert, error) {
	n := a.Dim

	var bChol mat.BandCholesky
	if !bChol.Factorize(b.SymBand()) {
		return nil, ErrIndefiniteB
	}

	k := a.Dense()
	b.AddToDense(k, -sigma)

	s := &shiftInvert{n: n, b: b, bx: make([]float64, n)}
	if pc == PCCholesky {
		var chol mat.Cholesky
		if chol.Factorize(symmetrize(k)) {
			s.chol, s.factor = &chol, PCCholesky
			return s, nil
		}
	}

	var lu mat.LU
	lu.Factorize(k)
	if logDet, _ := lu.LogDet(); math.IsInf(logDet, -1) || math.IsInf(lu.Cond(), 1) {
		return nil, fmt.Errorf("factor A - %gB: %w", sigma, ErrSingularShift)
	}
	s.lu, s.factor = &lu, PCLU
	return s, nil
}

func (s *shiftInvert) Dim() int { return s.n }

func (s *shiftInvert) BMul(dst, x []float64) { s.b.MulVec(dst, x) }

// Apply computes dst = (A - σB)⁻¹ B x. Ill-conditioning is tolerated;
// only structural solve failures are returned.
func (s *shiftInvert) Apply(dst, x []float64) error {
	s.b.MulVec(s.bx, x)
	rhs := mat.NewVecDense(s.n, s.bx)
	out := mat.NewVecDense(s.n, dst)

	var err error
	if s.chol != nil {
		err = s.chol.SolveVecTo(out, rhs)
	} else {
		err = s.lu.SolveVecTo(out, false, rhs)
	}
	var cond mat.Condition
	if err != nil && !errors.As(err, &cond) {
		return fmt.Errorf("apply shift-invert: %w", err)
	}
	return nil
}

// symmetrize returns (M + Mᵀ)/2 as a SymDense.
func symmetrize(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}
