// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1dev

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"time"
)

// NoTimeout disables the deadline of AwaitReady.
const NoTimeout time.Duration = 0

// Opener opens the duplex byte stream of the device at path.
type Opener interface {
	Open(path string) (io.ReadWriteCloser, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string) (io.ReadWriteCloser, error)

// Open implements Opener.
func (f OpenerFunc) Open(path string) (io.ReadWriteCloser, error) {
	return f(path)
}

// Backoff returns how long to sleep before poll number iteration, starting at
// 1.
type Backoff func(iteration int) time.Duration

// ConstantBackoff returns a Backoff that always sleeps d.
func ConstantBackoff(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Opts holds the configuration options for a Channel.
type Opts struct {
	// Attempts is the number of times a command write is tried, reopening
	// the stream in between. Default is 10.
	Attempts int
	// Logger receives retry warnings. Default is slog.Default().
	Logger *slog.Logger
	// Sleep and Now replace the time package, mostly for tests.
	Sleep func(time.Duration)
	Now   func() time.Time
}

// DefaultOpts holds the default configuration options for a Channel.
var DefaultOpts = Opts{
	Attempts: 10,
}

// Channel is the byte level I/O path to one device.
//
// It is not safe for concurrent use; a device has a single owner.
type Channel struct {
	path   string
	open   Opener
	rw     io.ReadWriteCloser
	opts   Opts
	log    *slog.Logger
	start  time.Time // when the last command was sent
	closed bool
}

// NewChannel opens the stream of the device at path.
func NewChannel(path string, o Opener, opts *Opts) (*Channel, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	c := &Channel{path: path, open: o, opts: *opts}
	if c.opts.Attempts <= 0 {
		c.opts.Attempts = DefaultOpts.Attempts
	}
	if c.opts.Sleep == nil {
		c.opts.Sleep = time.Sleep
	}
	if c.opts.Now == nil {
		c.opts.Now = time.Now
	}
	c.log = c.opts.Logger
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("path", path)
	rw, err := o.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Attempts: 1, Err: err}
	}
	c.rw = rw
	return c, nil
}

func (c *Channel) String() string {
	return c.path
}

// Path returns the device path the channel was opened for.
func (c *Channel) Path() string {
	return c.path
}

// Close closes the underlying stream. Commands issued afterward fail with
// os.ErrClosed.
func (c *Channel) Close() error {
	c.closed = true
	if c.rw == nil {
		return nil
	}
	err := c.rw.Close()
	c.rw = nil
	return err
}

func (c *Channel) reopen() error {
	if c.rw != nil {
		_ = c.rw.Close()
		c.rw = nil
	}
	rw, err := c.open.Open(c.path)
	if err != nil {
		return err
	}
	c.rw = rw
	return nil
}

// Send writes the command byte followed by payload in a single write.
//
// On failure the stream is reopened and the write tried again, up to
// Opts.Attempts times in total. The deadline of a following AwaitReady starts
// when Send is called.
func (c *Channel) Send(cmd byte, payload []byte) error {
	if c.closed {
		return &IOError{Op: "write", Path: c.path, Attempts: 1, Err: os.ErrClosed}
	}
	c.start = c.opts.Now()
	w := make([]byte, 0, 1+len(payload))
	w = append(w, cmd)
	w = append(w, payload...)
	var err error
	for i := 1; i <= c.opts.Attempts; i++ {
		if c.rw == nil {
			if err = c.reopen(); err != nil {
				c.log.Warn("w1: reopen failed", "attempt", i, "err", err)
				continue
			}
		}
		var n int
		if n, err = c.rw.Write(w); err == nil && n != len(w) {
			err = io.ErrShortWrite
		}
		if err == nil {
			return nil
		}
		c.log.Warn("w1: write failed, reopening", "cmd", cmd, "attempt", i, "err", err)
		if rerr := c.reopen(); rerr != nil {
			c.log.Warn("w1: reopen failed", "attempt", i, "err", rerr)
		}
	}
	return &IOError{Op: "write", Path: c.path, Attempts: c.opts.Attempts, Err: err}
}

// readable fails once the channel is closed, or while its stream is lost and
// no Send reopened it.
func (c *Channel) readable() error {
	if c.closed {
		return &IOError{Op: "read", Path: c.path, Attempts: 1, Err: os.ErrClosed}
	}
	if c.rw == nil {
		return &IOError{Op: "read", Path: c.path, Attempts: 1, Err: errors.New("stream not open")}
	}
	return nil
}

// AwaitReady polls the device one byte at a time until it reads a nonzero
// byte.
//
// A zero byte, or no data at all, means the device is still busy: backoff(i)
// is slept before poll i+1. It fails with ErrTimeout once more than timeout
// elapsed since the last Send. NoTimeout waits forever and a nil backoff polls
// without sleeping.
func (c *Channel) AwaitReady(timeout time.Duration, backoff Backoff) error {
	if err := c.readable(); err != nil {
		return err
	}
	var b [1]byte
	for i := 1; ; i++ {
		n, err := c.rw.Read(b[:])
		if err != nil && err != io.EOF {
			return &IOError{Op: "read", Path: c.path, Attempts: 1, Err: err}
		}
		if n == 1 && b[0] != 0 {
			return nil
		}
		if elapsed := c.opts.Now().Sub(c.start); timeout != NoTimeout && elapsed > timeout {
			return ErrTimeout
		}
		if backoff != nil {
			c.opts.Sleep(backoff(i))
		}
	}
}

// ReadResponse reads the n bytes response of the last command.
//
// It returns fewer bytes if the stream ends early; the frame check of the
// caller rejects them.
func (c *Channel) ReadResponse(n int) ([]byte, error) {
	if err := c.readable(); err != nil {
		return nil, err
	}
	r := make([]byte, n)
	got, err := io.ReadFull(c.rw, r)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, &IOError{Op: "read", Path: c.path, Attempts: 1, Err: err}
	}
	return r[:got], nil
}

// Query sends a command and reads its n bytes response.
func (c *Channel) Query(cmd byte, n int) ([]byte, error) {
	if err := c.Send(cmd, nil); err != nil {
		return nil, err
	}
	return c.ReadResponse(n)
}

// Exec sends a command with its payload and waits for the device to signal
// completion.
func (c *Channel) Exec(cmd byte, payload []byte, timeout time.Duration, backoff Backoff) error {
	if err := c.Send(cmd, payload); err != nil {
		return err
	}
	return c.AwaitReady(timeout, backoff)
}
