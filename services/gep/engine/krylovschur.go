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
	"cmp"
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// breakdownRatio is the fraction of a vector's norm that must survive
// orthogonalization before the Krylov space counts as invariant.
const breakdownRatio = 4 * 2.220446049250313e-16

type ksParams struct {
	nev   int
	ncv   int
	tol   float64
	maxIt int
	seed  uint64
}

// ritzPair is one converged pair of the transformed operator.
type ritzPair struct {
	theta  float64
	vector []float64
	errest float64
}

type ksResult struct {
	pairs      []ritzPair
	iterations int
}

// krylovSchur runs a thick-restart Krylov-Schur iteration for the nev
// eigenvalues of op largest in magnitude, using B-orthonormal bases.
//
// After each expansion OP·V_m = V_m·T + β·v_{m+1}·e_mᵀ with T symmetric.
// A restart keeps the converged Ritz vectors plus half of the rest, which
// turns T into diag(θ) bordered by the coupling column.
func krylovSchur(ctx context.Context, op operator, p ksParams, logger *slog.Logger) (ksResult, error) {
	n := op.Dim()
	m := p.ncv

	v := make([][]float64, m+1)
	bv := make([][]float64, m+1)
	v[0], bv[0] = startVector(op, p.seed)

	t := mat.NewDense(m, m, nil)
	k := 0

	for its := 1; ; its++ {
		if err := ctx.Err(); err != nil {
			return ksResult{iterations: its - 1}, err
		}

		size, beta, err := expand(op, v, bv, t, k, m)
		if err != nil {
			return ksResult{iterations: its}, err
		}

		theta, y, err := projectedEigen(t, size)
		if err != nil {
			return ksResult{iterations: its}, err
		}

		order := make([]int, size)
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(a, b int) int {
			return cmp.Compare(math.Abs(theta[b]), math.Abs(theta[a]))
		})

		nconv := 0
		for _, idx := range order {
			if math.Abs(beta*y.At(size-1, idx)) > p.tol*math.Abs(theta[idx]) {
				break
			}
			nconv++
		}

		logger.Debug("krylov-schur iteration",
			"iteration", its, "basis", size, "converged", nconv, "beta", beta)

		if nconv >= p.nev || beta == 0 || its >= p.maxIt {
			res := ksResult{iterations: its}
			for _, idx := range order[:nconv] {
				x := combine(v[:size], y, idx, n)
				if nrm := floats.Norm(x, 2); nrm > 0 {
					floats.Scale(1/nrm, x)
				}
				res.pairs = append(res.pairs, ritzPair{
					theta:  theta[idx],
					vector: x,
					errest: math.Abs(beta*y.At(size-1, idx)) / math.Abs(theta[idx]),
				})
			}
			return res, nil
		}

		keep := nconv + (size-nconv)/2
		keep = max(keep, p.nev, 1)
		keep = min(keep, size-1)

		nv := make([][]float64, keep)
		nbv := make([][]float64, keep)
		for i := 0; i < keep; i++ {
			nv[i] = combine(v[:size], y, order[i], n)
			nbv[i] = combine(bv[:size], y, order[i], n)
		}
		copy(v, nv)
		copy(bv, nbv)
		v[keep], bv[keep] = v[size], bv[size]

		t.Zero()
		for i := 0; i < keep; i++ {
			t.Set(i, i, theta[order[i]])
		}
		k = keep
	}
}

// expand extends the B-orthonormal basis from column k to m with two passes
// of classical Gram-Schmidt, writing the projections into T. It returns
// the basis size reached and the residual norm β; β is 0 when the space
// became invariant.
func expand(op operator, v, bv [][]float64, t *mat.Dense, k, m int) (int, float64, error) {
	n := op.Dim()
	h := make([]float64, m)
	c := make([]float64, m)

	var beta float64
	for j := k; j < m; j++ {
		w := make([]float64, n)
		if err := op.Apply(w, v[j]); err != nil {
			return j, 0, err
		}
		bw := make([]float64, n)
		op.BMul(bw, w)
		norm0 := math.Sqrt(math.Abs(floats.Dot(w, bw)))

		for i := 0; i <= j; i++ {
			h[i] = 0
		}
		for pass := 0; pass < 2; pass++ {
			for i := 0; i <= j; i++ {
				c[i] = floats.Dot(bv[i], w)
			}
			for i := 0; i <= j; i++ {
				floats.AddScaled(w, -c[i], v[i])
				h[i] += c[i]
			}
		}

		op.BMul(bw, w)
		beta = math.Sqrt(math.Abs(floats.Dot(w, bw)))

		for i := 0; i <= j; i++ {
			t.Set(i, j, h[i])
			t.Set(j, i, h[i])
		}

		if j+1 == n || beta <= breakdownRatio*norm0 {
			return j + 1, 0, nil
		}

		floats.Scale(1/beta, w)
		floats.Scale(1/beta, bw)
		v[j+1], bv[j+1] = w, bw
	}
	return m, beta, nil
}

// projectedEigen solves the leading size×size block of T.
func projectedEigen(t *mat.Dense, size int) ([]float64, *mat.Dense, error) {
	s := mat.NewSymDense(size, nil)
	for i := 0; i < size; i++ {
		for j := i; j < size; j++ {
			s.SetSym(i, j, 0.5*(t.At(i, j)+t.At(j, i)))
		}
	}
	var es mat.EigenSym
	if !es.Factorize(s, true) {
		return nil, nil, errors.New("projected eigenproblem did not converge")
	}
	var y mat.Dense
	es.VectorsTo(&y)
	return es.Values(nil), &y, nil
}

// combine returns Σ_l basis[l]·y[l][col].
func combine(basis [][]float64, y *mat.Dense, col, n int) []float64 {
	x := make([]float64, n)
	for l, b := range basis {
		floats.AddScaled(x, y.At(l, col), b)
	}
	return x
}

// startVector returns a deterministic B-normalized vector and its B-image.
func startVector(op operator, seed uint64) ([]float64, []float64) {
	n := op.Dim()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	x := make([]float64, n)
	for i := range x {
		x[i] = 2*rng.Float64() - 1
	}
	bx := make([]float64, n)
	op.BMul(bx, x)
	if nrm := math.Sqrt(math.Abs(floats.Dot(x, bx))); nrm > 0 {
		floats.Scale(1/nrm, x)
		floats.Scale(1/nrm, bx)
	}
	return x, bx
}
