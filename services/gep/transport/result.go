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
)

// WriteResult deposits the eigenvalue and then the eigenvector. The
// eigenvalue channel is complete before the eigenvector channel exists.
func WriteResult(store channel.Store, names channel.ResultNames, eigenvalue float64, eigenvector []float64) error {
	if err := store.Purge(names.Eigenvalue, names.Eigenvector); err != nil {
		return fmt.Errorf("purge result channels: %w", err)
	}
	if err := writeChannel(store, names.Eigenvalue, float64Bytes([]float64{eigenvalue})); err != nil {
		return fmt.Errorf("deposit eigenvalue: %w", err)
	}
	if err := writeChannel(store, names.Eigenvector, float64Bytes(eigenvector)); err != nil {
		return fmt.Errorf("deposit eigenvector: %w", err)
	}
	return nil
}

// ReadResult decodes the eigenpair. A negative dim accepts any whole number
// of doubles in the eigenvector channel. The vector is a fresh copy.
func ReadResult(store channel.Store, names channel.ResultNames, dim int) (float64, []float64, error) {
	if dim < 0 {
		dim = -1
	}
	eval, err := readFloat64s(store, names.Eigenvalue, 1)
	if err != nil {
		return 0, nil, err
	}
	evec, err := readFloat64s(store, names.Eigenvector, dim)
	if err != nil {
		return eval[0], nil, err
	}
	return eval[0], evec, nil
}
