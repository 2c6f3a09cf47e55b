// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"encoding/binary"
	"fmt"

	"github.com/GermanBionicSystems/w1/common"
	"github.com/GermanBionicSystems/w1/w1dev"
	"periph.io/x/conn/v3/physic"
)

// ScratchpadSize is the length of the scratchpad including its CRC.
const ScratchpadSize = 9

// Scratchpad is the decoded content of the device's volatile memory.
type Scratchpad struct {
	// Temperature of the last conversion in 1/16°C.
	Temperature int16
	// HighAlarm and LowAlarm are the alarm trigger registers TH and TL, in
	// °C.
	HighAlarm  int8
	LowAlarm   int8
	Resolution Resolution
}

// ParseScratchpad decodes and validates the 9 bytes read from the device:
// temperature LSB, MSB, TH, TL, configuration, 3 reserved bytes and CRC.
func ParseScratchpad(b []byte) (Scratchpad, error) {
	if len(b) != ScratchpadSize {
		return Scratchpad{}, fmt.Errorf("%w: scratchpad is %d bytes, want %d", w1dev.ErrChecksum, len(b), ScratchpadSize)
	}
	if c := common.CRC8(b[:8]); c != b[8] {
		for _, s := range b {
			if s != 0xff {
				return Scratchpad{}, fmt.Errorf("%w: scratchpad crc 0x%02x, computed 0x%02x", w1dev.ErrChecksum, b[8], c)
			}
		}
		return Scratchpad{}, fmt.Errorf("%w: device did not respond", w1dev.ErrChecksum)
	}
	r, err := ResolutionFromConfig(b[4])
	if err != nil {
		return Scratchpad{}, err
	}
	return Scratchpad{
		Temperature: int16(binary.LittleEndian.Uint16(b[0:2])),
		HighAlarm:   int8(b[2]),
		LowAlarm:    int8(b[3]),
		Resolution:  r,
	}, nil
}

// Celsius returns the temperature in °C.
func (s Scratchpad) Celsius() float64 {
	return float64(s.Temperature) / 16
}

// Temp returns the temperature as a physic.Temperature.
func (s Scratchpad) Temp() physic.Temperature {
	// Temperature has 4 fractional bits, datasheet p.4.
	return physic.Temperature(s.Temperature)*physic.Kelvin/16 + physic.ZeroCelsius
}

// Bytes encodes the scratchpad as the device would send it, reserved bytes
// included as documented in the datasheet.
func (s Scratchpad) Bytes() []byte {
	b := make([]byte, ScratchpadSize)
	binary.LittleEndian.PutUint16(b[0:2], uint16(s.Temperature))
	b[2] = byte(s.HighAlarm)
	b[3] = byte(s.LowAlarm)
	b[4] = s.Resolution.Config()
	b[5] = 0xff
	b[7] = 0x10
	b[8] = common.CRC8(b[:8])
	return b
}
