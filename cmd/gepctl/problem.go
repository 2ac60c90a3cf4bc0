// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianEigen/services/gep/sparse"
)

// stringProblem is -u'' = λu on (0, length) with u = 0 at both ends,
// discretized with linear finite elements on n interior nodes.
type stringProblem struct {
	n      int
	length float64
	lumped bool
}

// assemble returns the stiffness matrix K and mass matrix M. Each of the
// n+1 elements is built separately and consumed into the global matrices.
func (p stringProblem) assemble() (k, m *sparse.CSR, err error) {
	if p.n < 1 {
		return nil, nil, fmt.Errorf("size must be at least 1, got %d", p.n)
	}
	if p.length <= 0 {
		return nil, nil, fmt.Errorf("length must be positive, got %g", p.length)
	}
	h := p.length / float64(p.n+1)

	stiff := [2][2]float64{{1 / h, -1 / h}, {-1 / h, 1 / h}}
	mass := [2][2]float64{{h / 3, h / 6}, {h / 6, h / 3}}
	if p.lumped {
		mass = [2][2]float64{{h / 2, 0}, {0, h / 2}}
	}

	kb := sparse.NewSymmetricBuilder(p.n)
	mb := sparse.NewSymmetricBuilder(p.n)
	for e := 0; e <= p.n; e++ {
		// Element e joins global nodes e-1 and e; nodes -1 and n are fixed.
		nodes := [2]int{e - 1, e}
		ke := sparse.NewSymmetricBuilder(p.n)
		me := sparse.NewSymmetricBuilder(p.n)
		for i := 0; i < 2; i++ {
			for j := i; j < 2; j++ {
				r, c := nodes[i], nodes[j]
				if r < 0 || c < 0 || r >= p.n || c >= p.n {
					continue
				}
				if err := ke.Insert(r, c, stiff[i][j]); err != nil {
					return nil, nil, err
				}
				if mass[i][j] != 0 {
					if err := me.Insert(r, c, mass[i][j]); err != nil {
						return nil, nil, err
					}
				}
			}
		}
		if err := kb.Consume(ke); err != nil {
			return nil, nil, err
		}
		if err := mb.Consume(me); err != nil {
			return nil, nil, err
		}
	}
	return kb.CSR(), mb.CSR(), nil
}

// nearestMode returns the continuum mode number and eigenvalue (kπ/L)²
// closest to target.
func (p stringProblem) nearestMode(target float64) (int, float64) {
	mode := 1
	if target > 0 {
		mode = max(1, int(math.Round(math.Sqrt(target)*p.length/math.Pi)))
	}
	w := float64(mode) * math.Pi / p.length
	return mode, w * w
}
