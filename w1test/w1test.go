// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package w1test is meant to be used to test drivers talking to a device
// through a w1dev.Channel.
package w1test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// IO registers one operation on the device stream.
//
// An IO with W set is a write, anything else is a read.
type IO struct {
	// W is the data expected to be written.
	W []byte
	// R is the data returned by a read. An empty R is a read with no data
	// available.
	R []byte
	// Err, when set, is returned by the operation instead.
	Err error
}

// Busy is a poll answer of a device still working.
var Busy = IO{R: []byte{0}}

// Ready is a poll answer of a device that is done.
var Ready = IO{R: []byte{1}}

// Playback implements io.ReadWriteCloser and w1dev.Opener and plays back a
// recorded I/O flow.
//
// While "replay" type of unit tests are of limited value, they still present
// an easy way to do basic code coverage.
type Playback struct {
	sync.Mutex
	Ops []IO
	// OpenErrs are returned by successive calls to Open; a nil entry or an
	// exhausted slice opens successfully.
	OpenErrs []error
	// DontPanic returns an error instead of panicking on unexpected
	// operations.
	DontPanic bool
	// CloseErr is returned by Close.
	CloseErr error

	Count  int // operations played back so far
	Opens  int // successful calls to Open
	Closes int
}

// Open implements w1dev.Opener.
func (p *Playback) Open(path string) (io.ReadWriteCloser, error) {
	p.Lock()
	defer p.Unlock()
	if len(p.OpenErrs) != 0 {
		err := p.OpenErrs[0]
		p.OpenErrs = p.OpenErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	p.Opens++
	return p, nil
}

// Write implements io.Writer.
func (p *Playback) Write(b []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if len(p.Ops) == 0 {
		return 0, p.errorf("unexpected write %#v", b)
	}
	op := p.Ops[0]
	if op.W == nil {
		return 0, p.errorf("unexpected write %#v, expected read", b)
	}
	if !bytes.Equal(op.W, b) {
		return 0, p.errorf("unexpected write %#v, expected %#v", b, op.W)
	}
	p.next()
	if op.Err != nil {
		return 0, op.Err
	}
	return len(b), nil
}

// Read implements io.Reader.
func (p *Playback) Read(b []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if len(p.Ops) == 0 {
		return 0, p.errorf("unexpected read of %d bytes", len(b))
	}
	op := p.Ops[0]
	if op.W != nil {
		return 0, p.errorf("unexpected read of %d bytes, expected write %#v", len(b), op.W)
	}
	if len(b) < len(op.R) {
		return 0, p.errorf("read of %d bytes, recorded %d", len(b), len(op.R))
	}
	p.next()
	if op.Err != nil {
		return 0, op.Err
	}
	if len(op.R) == 0 {
		return 0, io.EOF
	}
	return copy(b, op.R), nil
}

// Close implements io.Closer.
//
// The stream can be opened again, like a file.
func (p *Playback) Close() error {
	p.Lock()
	defer p.Unlock()
	p.Closes++
	return p.CloseErr
}

// Verify returns an error if not all recorded operations were played back.
func (p *Playback) Verify() error {
	p.Lock()
	defer p.Unlock()
	if len(p.Ops) != 0 {
		return fmt.Errorf("w1test: expected playback to be empty: I/O count: %d; remaining: %d", p.Count, len(p.Ops))
	}
	return nil
}

func (p *Playback) next() {
	p.Ops = p.Ops[1:]
	p.Count++
}

func (p *Playback) errorf(format string, a ...interface{}) error {
	err := fmt.Errorf("w1test: "+format+" (I/O count %d)", append(a, p.Count)...)
	if !p.DontPanic {
		panic(err)
	}
	return err
}

// ErrIO is a convenience error to record failed operations.
var ErrIO = errors.New("w1test: injected I/O error")

// Clock is a fake clock whose time only moves when Sleep is called.
type Clock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

// NewClock returns a Clock starting at the Unix epoch.
func NewClock() *Clock {
	return &Clock{t: time.Unix(0, 0)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Sleep advances the clock by d and records it.
func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
}

// Sleeps returns a copy of all durations slept so far.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// Elapsed returns the total time slept.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.Sub(time.Unix(0, 0))
}
