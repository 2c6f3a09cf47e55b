// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1dev

import (
	"periph.io/x/conn/v3"
)

// Dev is a handle to a device on the w1 bus whose family has no dedicated
// driver.
//
// It only gives access to the raw Channel.
type Dev struct {
	id Identity
	ch *Channel
}

// New opens the channel of the device at path.
func New(id Identity, path string, o Opener, opts *Opts) (*Dev, error) {
	ch, err := NewChannel(path, o, opts)
	if err != nil {
		return nil, err
	}
	return &Dev{id: id, ch: ch}, nil
}

// Identity returns the ROM id of the device.
func (d *Dev) Identity() Identity {
	return d.id
}

// Channel returns the command channel of the device.
func (d *Dev) Channel() *Channel {
	return d.ch
}

func (d *Dev) String() string {
	return d.id.Family.String() + "{" + d.id.String() + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Close closes the channel.
func (d *Dev) Close() error {
	return d.ch.Close()
}

var _ conn.Resource = &Dev{}
