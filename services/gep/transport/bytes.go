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
	"unsafe"

	"github.com/AleutianAI/AleutianEigen/services/gep/channel"
)

const (
	float64Size = 8
	int32Size   = 4
)

func float64Bytes(s []float64) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*float64Size)
}

func int32Bytes(s []int32) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int32Size)
}

// writeChannel creates name at exactly len(data) bytes and copies data in.
func writeChannel(store channel.Store, name string, data []byte) error {
	seg, err := store.Create(name, len(data))
	if err != nil {
		return err
	}
	copy(seg.Bytes(), data)
	return seg.Close()
}

// readChannel maps name and checks its length against elemSize and, when
// wantElems >= 0, the element count. fn sees the mapped bytes.
func readChannel(store channel.Store, name string, elemSize, wantElems int, fn func([]byte)) error {
	seg, err := store.OpenRead(name, channel.SizeAny)
	if err != nil {
		return err
	}
	defer seg.Close()

	n := seg.Size()
	if n%elemSize != 0 || (wantElems >= 0 && n/elemSize != wantElems) {
		return &SizeMismatchError{Channel: name, Bytes: n, ElemSize: elemSize, WantElems: wantElems}
	}
	fn(seg.Bytes())
	return nil
}

func readFloat64s(store channel.Store, name string, want int) ([]float64, error) {
	var out []float64
	err := readChannel(store, name, float64Size, want, func(b []byte) {
		out = make([]float64, len(b)/float64Size)
		copy(float64Bytes(out), b)
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return out, nil
}

func readInt32s(store channel.Store, name string, want int) ([]int32, error) {
	var out []int32
	err := readChannel(store, name, int32Size, want, func(b []byte) {
		out = make([]int32, len(b)/int32Size)
		copy(int32Bytes(out), b)
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return out, nil
}
