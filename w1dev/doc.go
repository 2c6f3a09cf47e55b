// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package w1dev talks to a single device on a Linux w1 bus through the raw
// "rw" file of the kernel slave driver.
//
// The kernel addresses the device (match ROM) on every write, so a Channel
// only deals with function commands: it writes a command and its payload,
// then either reads a fixed size response or polls until the device stops
// reporting busy.
//
// Errors reported by the device, ErrChecksum and ErrTimeout, implement
// onewire.BusError. Failures of the file itself are returned as *IOError.
//
// # Kernel documentation
//
// https://www.kernel.org/doc/html/latest/w1/w1-generic.html
package w1dev
