// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds18b20 controls a DS18B20 temperature sensor through the Linux w1
// kernel driver.
//
// The device is reached through a w1dev.Channel; the kernel selects it (match
// ROM) on each command. Every scratchpad read is CRC checked, corrupted reads
// are retried, and writes are verified by reading them back.
//
// The resolution can be set between 9 bits (0.5°C, 94ms conversion) and 12
// bits (0.0625°C, 750ms conversion). While converting, the device is polled
// with a backoff that starts at half the expected conversion time.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS18B20.pdf
package ds18b20
