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

import (
	"strings"

	"github.com/google/uuid"
)

// Fixed channel suffixes and result names.
const (
	SuffixValues = "_mat_vals"
	SuffixRows   = "_mat_rows"
	SuffixCols   = "_mat_cols"
	SuffixMeta   = "_meta_data"

	EigenvalueName  = "best_eval_result"
	EigenvectorName = "best_evec_result"
	StatusName      = "solve_status"
)

// Matrix roles.
const (
	RoleA = "A"
	RoleB = "B"
)

// MatrixNames are the channels carrying one CSR matrix.
type MatrixNames struct {
	Values string
	Rows   string
	Cols   string
	Meta   string
}

// All returns the four names.
func (m MatrixNames) All() []string {
	return []string{m.Values, m.Rows, m.Cols, m.Meta}
}

// ResultNames are the channels carrying the eigenpair.
type ResultNames struct {
	Eigenvalue  string
	Eigenvector string
}

// Namespace derives every channel name of one solve. An empty Session
// gives the fixed legacy names, otherwise each name is "<session>_"
// prefixed so concurrent solves never share a channel.
type Namespace struct {
	Session string
}

// NewSession returns a namespace with a fresh random session id.
func NewSession() Namespace {
	return Namespace{Session: strings.ReplaceAll(uuid.New().String(), "-", "")}
}

func (n Namespace) name(base string) string {
	if n.Session == "" {
		return base
	}
	return n.Session + "_" + base
}

// Matrix returns the names for the given role ("A" or "B").
func (n Namespace) Matrix(role string) MatrixNames {
	return MatrixNames{
		Values: n.name(role + SuffixValues),
		Rows:   n.name(role + SuffixRows),
		Cols:   n.name(role + SuffixCols),
		Meta:   n.name(role + SuffixMeta),
	}
}

// Result returns the eigenpair channel names.
func (n Namespace) Result() ResultNames {
	return ResultNames{
		Eigenvalue:  n.name(EigenvalueName),
		Eigenvector: n.name(EigenvectorName),
	}
}

// Status returns the status record channel name.
func (n Namespace) Status() string {
	return n.name(StatusName)
}

// All returns every channel name a solve can touch, for purging.
func (n Namespace) All() []string {
	names := append(n.Matrix(RoleA).All(), n.Matrix(RoleB).All()...)
	r := n.Result()
	return append(names, r.Eigenvalue, r.Eigenvector, n.Status())
}

// Validate checks that the session yields valid channel names.
func (n Namespace) Validate() error {
	return validateName(n.name(StatusName))
}
