// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package imuframe

import (
	"errors"
	"fmt"
)

// Decode error kinds. All of them are recoverable.
var (
	ErrMarkerMismatch = errors.New("sync marker mismatch")
	ErrCRCMismatch    = errors.New("CRC mismatch")
	ErrBufferOverflow = errors.New("buffer overflow")
	ErrShortFrame     = errors.New("short frame")
)

// DecodeError describes a frame the decoder had to reject
type DecodeError struct {
	Kind      error // one of the Err* sentinels
	Discarded int   // bytes dropped while resynchronizing
	Expected  uint16
	Received  uint16
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case ErrCRCMismatch:
		return fmt.Sprintf("CRC mismatch: expected 0x%04X, got 0x%04X", e.Expected, e.Received)
	case ErrMarkerMismatch:
		return fmt.Sprintf("sync marker mismatch: discarded %d bytes", e.Discarded)
	case ErrBufferOverflow:
		return fmt.Sprintf("buffer overflow: dropped %d bytes", e.Discarded)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes the error kind to errors.Is
func (e *DecodeError) Unwrap() error {
	return e.Kind
}
