// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"fmt"
	"strconv"
	"time"

	"github.com/GermanBionicSystems/w1/w1dev"
	"periph.io/x/conn/v3/physic"
)

// Resolution is the number of bits of a temperature conversion, 9 to 12.
//
// The zero value means unknown.
type Resolution uint8

const (
	MinResolution Resolution = 9
	MaxResolution Resolution = 12
)

// NewResolution returns bits as a Resolution.
func NewResolution(bits int) (Resolution, error) {
	if bits < int(MinResolution) || bits > int(MaxResolution) {
		return 0, fmt.Errorf("%w: resolution should be within 9-12 bits, got %d", w1dev.ErrInvalidArgument, bits)
	}
	return Resolution(bits), nil
}

// ResolutionFromConfig decodes the configuration register of the
// scratchpad, datasheet p.9.
func ResolutionFromConfig(conf byte) (Resolution, error) {
	if conf > 127 {
		return 0, fmt.Errorf("%w: invalid configuration value 0x%02x", w1dev.ErrInvalidArgument, conf)
	}
	return NewResolution(9 + int(conf>>5))
}

// Valid returns true if r is within 9..12 bits.
func (r Resolution) Valid() bool {
	return r >= MinResolution && r <= MaxResolution
}

// Config returns the configuration register value selecting r. The five
// low bits are reserved and read as 1.
func (r Resolution) Config() byte {
	return byte(r-9)<<5 | 0x1f
}

// ConversionTime is the maximum time a conversion takes at r:
// 9bits:93.75ms, 10bits:187.5ms, 11bits:375ms, 12bits:750ms, datasheet p.3.
func (r Resolution) ConversionTime() time.Duration {
	return (750 * time.Millisecond) >> (MaxResolution - r)
}

// Precision is the temperature step of the least significant bit at r.
func (r Resolution) Precision() physic.Temperature {
	return (physic.Kelvin / 16) << (MaxResolution - r)
}

func (r Resolution) String() string {
	if !r.Valid() {
		return "unknown"
	}
	return strconv.Itoa(int(r)) + "bits"
}
