// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"fmt"

	"github.com/AleutianAI/AleutianEigen/services/gep/channel"
	"github.com/AleutianAI/AleutianEigen/services/gep/sparse"
)

// WriteMatrix purges and re-creates the matrix channels for names, then
// copies m's buffers in. withMeta also publishes [M, nnz] on names.Meta.
//
// Inputs:
//
//	store - Channel store
//	names - Channel names for one role
//	m - Matrix to publish
//	withMeta - Write the metadata channel
//
// Outputs:
//
//	error - *channel.CreateError or purge failure
func WriteMatrix(store channel.Store, names channel.MatrixNames, m *sparse.CSR, withMeta bool) error {
	if err := store.Purge(names.All()...); err != nil {
		return fmt.Errorf("purge matrix channels: %w", err)
	}
	if err := writeChannel(store, names.Values, float64Bytes(m.Values)); err != nil {
		return err
	}
	if err := writeChannel(store, names.Rows, int32Bytes(m.RowPtr)); err != nil {
		return err
	}
	if err := writeChannel(store, names.Cols, int32Bytes(m.ColIdx)); err != nil {
		return err
	}
	if withMeta {
		meta := []int32{int32(m.Dim), int32(m.NNZ())}
		if err := writeChannel(store, names.Meta, int32Bytes(meta)); err != nil {
			return err
		}
	}
	return nil
}

// ReadMeta reads [M, nnz] from the metadata channel.
func ReadMeta(store channel.Store, names channel.MatrixNames) (dim, nnz int, err error) {
	meta, err := readInt32s(store, names.Meta, 2)
	if err != nil {
		return 0, 0, err
	}
	return int(meta[0]), int(meta[1]), nil
}

// ReadMatrix decodes a matrix of the given dimension and nonzero count.
// The buffers are copied out of the channels and owned by the caller. The
// result is not validated.
func ReadMatrix(store channel.Store, names channel.MatrixNames, dim, nnz int) (*sparse.CSR, error) {
	if dim < 0 || nnz < 0 {
		return nil, fmt.Errorf("read matrix: negative size dim=%d nnz=%d", dim, nnz)
	}
	values, err := readFloat64s(store, names.Values, nnz)
	if err != nil {
		return nil, err
	}
	rows, err := readInt32s(store, names.Rows, dim+1)
	if err != nil {
		return nil, err
	}
	cols, err := readInt32s(store, names.Cols, nnz)
	if err != nil {
		return nil, err
	}
	return &sparse.CSR{Dim: dim, Values: values, RowPtr: rows, ColIdx: cols}, nil
}

// ReadMatrixAuto reads the metadata channel and then the matrix.
func ReadMatrixAuto(store channel.Store, names channel.MatrixNames) (*sparse.CSR, error) {
	dim, nnz, err := ReadMeta(store, names)
	if err != nil {
		return nil, err
	}
	return ReadMatrix(store, names, dim, nnz)
}
