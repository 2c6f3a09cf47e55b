// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1dev

import (
	"errors"
	"fmt"
)

// busError implements error and onewire.BusError.
//
// It is used for failures reported by the device itself; the channel is
// still usable afterwards.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

const (
	// ErrChecksum is returned when a frame's trailing CRC byte doesn't match
	// the CRC computed over the bytes before it.
	ErrChecksum busError = "w1: checksum mismatch"
	// ErrTimeout is returned when the device stayed busy past the deadline.
	ErrTimeout busError = "w1: timed out waiting for device"
)

var (
	// ErrInvalidArgument is returned for out of range values, like a
	// resolution outside 9..12 bits.
	ErrInvalidArgument = errors.New("w1: invalid argument")
	// ErrWriteVerification is returned when the data read back after a write
	// never matched what was written.
	ErrWriteVerification = errors.New("w1: data read back does not match data written")
)

// IOError is a failure of the channel itself, after the reopen and retry
// budget was exhausted.
type IOError struct {
	Op       string // "open", "write" or "read"
	Path     string
	Attempts int
	Err      error
}

func (e *IOError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("w1: %s %s failed after %d attempts: %v", e.Op, e.Path, e.Attempts, e.Err)
	}
	return fmt.Sprintf("w1: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
