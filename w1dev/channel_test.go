// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1dev

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/GermanBionicSystems/w1/w1test"
	"github.com/google/go-cmp/cmp"
)

const testPath = "/sys/bus/w1/drivers/w1_slave_driver/28-0056789a1234"

func newChannel(t *testing.T, p *w1test.Playback, clk *w1test.Clock) *Channel {
	t.Helper()
	c, err := NewChannel(testPath, p, &Opts{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep:  clk.Sleep,
		Now:    clk.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewChannel_fail_open(t *testing.T) {
	p := &w1test.Playback{OpenErrs: []error{w1test.ErrIO}}
	c, err := NewChannel(testPath, p, nil)
	if c != nil || err == nil {
		t.Fatal("expected open failure")
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "open" {
		t.Fatalf("expected *IOError on open, got %v", err)
	}
	if !errors.Is(err, w1test.ErrIO) {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestSend(t *testing.T) {
	p := &w1test.Playback{Ops: []w1test.IO{{W: []byte{0x4e, 0x4b, 0x46, 0x7f}}}}
	c := newChannel(t, p, w1test.NewClock())
	if err := c.Send(0x4e, []byte{0x4b, 0x46, 0x7f}); err != nil {
		t.Fatal(err)
	}
	if err := p.Verify(); err != nil {
		t.Fatal(err)
	}
	if p.Opens != 1 {
		t.Fatalf("opened %d times", p.Opens)
	}
}

func TestSend_reopen(t *testing.T) {
	p := &w1test.Playback{Ops: []w1test.IO{
		{W: []byte{0x44}, Err: w1test.ErrIO},
		{W: []byte{0x44}, Err: w1test.ErrIO},
		{W: []byte{0x44}},
	}}
	c := newChannel(t, p, w1test.NewClock())
	if err := c.Send(0x44, nil); err != nil {
		t.Fatal(err)
	}
	if p.Opens != 3 || p.Closes != 2 {
		t.Fatalf("opens=%d closes=%d, want 3 and 2", p.Opens, p.Closes)
	}
}

func TestSend_reopen_fail(t *testing.T) {
	p := &w1test.Playback{
		Ops: []w1test.IO{
			{W: []byte{0x44}, Err: w1test.ErrIO},
			{W: []byte{0x44}},
		},
		OpenErrs: []error{nil, w1test.ErrIO},
	}
	c := newChannel(t, p, w1test.NewClock())
	if err := c.Send(0x44, nil); err != nil {
		t.Fatal(err)
	}
	if p.Opens != 2 {
		t.Fatalf("opens=%d, want 2", p.Opens)
	}
}

func TestSend_exhausted(t *testing.T) {
	p := &w1test.Playback{}
	for i := 0; i < 10; i++ {
		p.Ops = append(p.Ops, w1test.IO{W: []byte{0xbe}, Err: w1test.ErrIO})
	}
	c := newChannel(t, p, w1test.NewClock())
	err := c.Send(0xbe, nil)
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IOError, got %v", err)
	}
	if ioErr.Op != "write" || ioErr.Attempts != 10 || ioErr.Path != testPath {
		t.Fatalf("unexpected %#v", ioErr)
	}
	if !errors.Is(err, w1test.ErrIO) {
		t.Fatalf("cause lost: %v", err)
	}
	if err := p.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestAwaitReady(t *testing.T) {
	p := &w1test.Playback{Ops: []w1test.IO{
		{W: []byte{0x44}},
		w1test.Busy, w1test.Busy, {}, w1test.Busy,
		w1test.Ready,
	}}
	clk := w1test.NewClock()
	c := newChannel(t, p, clk)
	backoff := func(i int) time.Duration { return time.Duration(i) * time.Millisecond }
	if err := c.Exec(0x44, nil, 3*time.Second, backoff); err != nil {
		t.Fatal(err)
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 4 * time.Millisecond}
	if diff := cmp.Diff(want, clk.Sleeps()); diff != "" {
		t.Fatalf("sleeps (-want +got):\n%s", diff)
	}
	if err := p.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestAwaitReady_noBackoff(t *testing.T) {
	p := &w1test.Playback{Ops: []w1test.IO{{W: []byte{0x48}}, w1test.Busy, {R: []byte{0xff}}}}
	clk := w1test.NewClock()
	c := newChannel(t, p, clk)
	if err := c.Exec(0x48, nil, time.Second, nil); err != nil {
		t.Fatal(err)
	}
	if len(clk.Sleeps()) != 0 {
		t.Fatalf("slept %v", clk.Sleeps())
	}
}

func TestAwaitReady_timeout(t *testing.T) {
	// Polls happen at 0, 100ms, ... 3.1s; the one at 3.1s is past the
	// deadline.
	p := &w1test.Playback{Ops: []w1test.IO{{W: []byte{0x44}}}}
	for i := 0; i < 32; i++ {
		p.Ops = append(p.Ops, w1test.Busy)
	}
	clk := w1test.NewClock()
	c := newChannel(t, p, clk)
	err := c.Exec(0x44, nil, 3*time.Second, ConstantBackoff(100*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if e := clk.Elapsed(); e != 3100*time.Millisecond {
		t.Fatalf("gave up after %s", e)
	}
	if err := p.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestAwaitReady_noTimeout(t *testing.T) {
	p := &w1test.Playback{Ops: []w1test.IO{{W: []byte{0x44}}}}
	for i := 0; i < 10; i++ {
		p.Ops = append(p.Ops, w1test.Busy)
	}
	p.Ops = append(p.Ops, w1test.Ready)
	clk := w1test.NewClock()
	c := newChannel(t, p, clk)
	if err := c.Exec(0x44, nil, NoTimeout, ConstantBackoff(time.Second)); err != nil {
		t.Fatal(err)
	}
	if e := clk.Elapsed(); e != 10*time.Second {
		t.Fatalf("elapsed %s", e)
	}
}

func TestAwaitReady_readError(t *testing.T) {
	p := &w1test.Playback{Ops: []w1test.IO{{W: []byte{0x44}}, {Err: w1test.ErrIO}}}
	c := newChannel(t, p, w1test.NewClock())
	err := c.Exec(0x44, nil, time.Second, nil)
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "read" {
		t.Fatalf("expected read *IOError, got %v", err)
	}
}

func TestQuery(t *testing.T) {
	frame := []byte{0xe0, 0x01, 0x00, 0x00, 0x3f, 0xff, 0x10, 0x10, 0x3f}
	p := &w1test.Playback{Ops: []w1test.IO{{W: []byte{0xbe}}, {R: frame}}}
	c := newChannel(t, p, w1test.NewClock())
	r, err := c.Query(0xbe, 9)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r, frame) {
		t.Fatalf("read %#v", r)
	}
}

func TestReadResponse_short(t *testing.T) {
	p := &w1test.Playback{Ops: []w1test.IO{{R: []byte{1, 2, 3, 4, 5}}, {}}}
	c := newChannel(t, p, w1test.NewClock())
	r, err := c.ReadResponse(9)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("read %#v", r)
	}
}

func TestReadResponse_error(t *testing.T) {
	p := &w1test.Playback{Ops: []w1test.IO{{Err: w1test.ErrIO}}}
	c := newChannel(t, p, w1test.NewClock())
	if _, err := c.ReadResponse(9); !errors.Is(err, w1test.ErrIO) {
		t.Fatalf("expected wrapped ErrIO, got %v", err)
	}
}

func TestClose(t *testing.T) {
	p := &w1test.Playback{}
	c := newChannel(t, p, w1test.NewClock())
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ReadResponse(1); err == nil {
		t.Fatal("read on closed channel should fail")
	}
	if p.Closes != 1 {
		t.Fatalf("closes=%d", p.Closes)
	}
}

func TestClose_no_reopen(t *testing.T) {
	p := &w1test.Playback{}
	c := newChannel(t, p, w1test.NewClock())
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Send(0xb8, nil); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected os.ErrClosed, got %v", err)
	}
	var ioErr *IOError
	if err := c.AwaitReady(NoTimeout, nil); !errors.As(err, &ioErr) || !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected *IOError wrapping os.ErrClosed, got %v", err)
	}
	if _, err := c.Query(0xbe, 9); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected os.ErrClosed, got %v", err)
	}
	if p.Opens != 1 || p.Closes != 1 {
		t.Fatalf("opens=%d closes=%d", p.Opens, p.Closes)
	}
}

func TestDev(t *testing.T) {
	id, err := ParseIdentity(rawID)
	if err != nil {
		t.Fatal(err)
	}
	p := &w1test.Playback{}
	d, err := New(id, testPath, p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s := d.String(); s != "DS18B20{28-0056789a1234}" {
		t.Fatal(s)
	}
	if d.Identity() != id {
		t.Fatal("identity")
	}
	if d.Channel().Path() != testPath {
		t.Fatal(d.Channel().Path())
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
}
