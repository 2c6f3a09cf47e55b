// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1dev

import (
	"encoding/binary"
	"fmt"

	"github.com/GermanBionicSystems/w1/common"
	"periph.io/x/conn/v3/onewire"
)

// IdentitySize is the length of the binary id record exposed by the kernel.
const IdentitySize = 8

// Family code of the specific device type.
type Family byte

func (f Family) String() string {
	switch f {
	case 0x10:
		return "DS18S20"
	case 0x22:
		return "DS1822"
	case 0x28:
		return "DS18B20"
	case 0x3b:
		return "DS1825"
	case 0x42:
		return "DS28EA00"
	default:
		return fmt.Sprintf("family(0x%02x)", byte(f))
	}
}

// Identity is the 64-bit ROM id of a device: family code, 48-bit serial
// number and CRC.
type Identity struct {
	Family Family
	Serial uint64
	CRC    byte
}

// ParseIdentity decodes and validates an id record.
//
// The record is little-endian: family:u8, serial low:u16, serial high:u32,
// crc:u8. It fails with ErrChecksum if the CRC doesn't match or if the record
// isn't IdentitySize bytes long.
func ParseIdentity(b []byte) (Identity, error) {
	if len(b) != IdentitySize {
		return Identity{}, fmt.Errorf("%w: id record is %d bytes, want %d", ErrChecksum, len(b), IdentitySize)
	}
	if !common.CheckCRC8(b) {
		return Identity{}, fmt.Errorf("%w: id record crc 0x%02x, computed 0x%02x", ErrChecksum, b[7], common.CRC8(b[:7]))
	}
	low := uint64(binary.LittleEndian.Uint16(b[1:3]))
	high := uint64(binary.LittleEndian.Uint32(b[3:7]))
	return Identity{
		Family: Family(b[0]),
		Serial: high<<16 + low,
		CRC:    b[7],
	}, nil
}

// Address returns the id as a periph onewire.Address, family code in the
// least significant byte.
func (id Identity) Address() onewire.Address {
	return onewire.Address(uint64(id.Family) | (id.Serial&0xffffffffffff)<<8 | uint64(id.CRC)<<56)
}

// Bytes returns the id record.
func (id Identity) Bytes() []byte {
	var b [IdentitySize]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id.Address()))
	return b[:]
}

// String returns the name the kernel gives the device, e.g. 28-0000070e41ac.
func (id Identity) String() string {
	return fmt.Sprintf("%02x-%012x", byte(id.Family), id.Serial&0xffffffffffff)
}
