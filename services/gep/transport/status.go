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
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianEigen/services/gep/channel"
)

const (
	// MaxPhaseBytes caps StatusRecord.Phase.
	MaxPhaseBytes = 32

	// MaxMessageBytes caps StatusRecord.Message.
	MaxMessageBytes = 512

	// StatusRecordSize is the fixed byte size of the status channel.
	StatusRecordSize = statusHeaderSize + MaxPhaseBytes + MaxMessageBytes

	statusHeaderSize = 32
	flagConverged    = 1
)

// StatusRecord is the structured outcome the worker leaves behind on every
// exit path it controls. The host reads it regardless of exit code.
//
// Layout (native-endian):
//
//	[0:4)    int32   code
//	[4:8)    uint32  flags (bit 0 converged)
//	[8:12)   int32   converged pair count
//	[12:16)  int32   iterations
//	[16:24)  float64 residual of the returned pair
//	[24:26)  uint16  phase length
//	[26:28)  uint16  message length
//	[28:32)  reserved
//	[32:64)  phase bytes
//	[64:576) message bytes
type StatusRecord struct {
	Code       Code
	Phase      string
	Converged  bool
	NConv      int
	Iterations int
	Residual   float64
	Message    string
}

// MarshalBinary encodes the record into StatusRecordSize bytes. Phase and
// Message are truncated to their caps.
func (r StatusRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, StatusRecordSize)
	ne := binary.NativeEndian

	var flags uint32
	if r.Converged {
		flags |= flagConverged
	}
	phase := truncate(r.Phase, MaxPhaseBytes)
	msg := truncate(r.Message, MaxMessageBytes)

	ne.PutUint32(buf[0:], uint32(int32(r.Code)))
	ne.PutUint32(buf[4:], flags)
	ne.PutUint32(buf[8:], uint32(int32(r.NConv)))
	ne.PutUint32(buf[12:], uint32(int32(r.Iterations)))
	ne.PutUint64(buf[16:], math.Float64bits(r.Residual))
	ne.PutUint16(buf[24:], uint16(len(phase)))
	ne.PutUint16(buf[26:], uint16(len(msg)))
	copy(buf[statusHeaderSize:], phase)
	copy(buf[statusHeaderSize+MaxPhaseBytes:], msg)
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (r *StatusRecord) UnmarshalBinary(buf []byte) error {
	if len(buf) != StatusRecordSize {
		return &SizeMismatchError{Channel: channel.StatusName, Bytes: len(buf), ElemSize: 1, WantElems: StatusRecordSize}
	}
	ne := binary.NativeEndian
	phaseLen := min(int(ne.Uint16(buf[24:])), MaxPhaseBytes)
	msgLen := min(int(ne.Uint16(buf[26:])), MaxMessageBytes)

	r.Code = Code(int32(ne.Uint32(buf[0:])))
	r.Converged = ne.Uint32(buf[4:])&flagConverged != 0
	r.NConv = int(int32(ne.Uint32(buf[8:])))
	r.Iterations = int(int32(ne.Uint32(buf[12:])))
	r.Residual = math.Float64frombits(ne.Uint64(buf[16:]))
	r.Phase = string(buf[statusHeaderSize : statusHeaderSize+phaseLen])
	r.Message = string(buf[statusHeaderSize+MaxPhaseBytes : statusHeaderSize+MaxPhaseBytes+msgLen])
	return nil
}

// WriteStatus purges and writes the status record channel.
func WriteStatus(store channel.Store, name string, rec StatusRecord) error {
	buf, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	if err := store.Purge(name); err != nil {
		return fmt.Errorf("purge status channel: %w", err)
	}
	return writeChannel(store, name, buf)
}

// ReadStatus decodes the status record channel.
func ReadStatus(store channel.Store, name string) (StatusRecord, error) {
	var rec StatusRecord
	var decodeErr error
	err := readChannel(store, name, 1, StatusRecordSize, func(b []byte) {
		decodeErr = rec.UnmarshalBinary(b)
	})
	if err != nil {
		return rec, fmt.Errorf("read %s: %w", name, err)
	}
	return rec, decodeErr
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
