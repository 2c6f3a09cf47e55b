// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package w1test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

func TestPlayback(t *testing.T) {
	p := &Playback{Ops: []IO{{W: []byte{0xbe}}, {R: []byte{1, 2}}, Busy, {}, {W: []byte{0x44}, Err: ErrIO}}}
	rw, err := p.Open("dev")
	if err != nil {
		t.Fatal(err)
	}
	if n, err := rw.Write([]byte{0xbe}); n != 1 || err != nil {
		t.Fatal(n, err)
	}
	b := make([]byte, 9)
	if n, err := rw.Read(b); n != 2 || err != nil || !bytes.Equal(b[:2], []byte{1, 2}) {
		t.Fatal(n, err, b)
	}
	if n, err := rw.Read(b[:1]); n != 1 || err != nil || b[0] != 0 {
		t.Fatal(n, err, b[0])
	}
	if n, err := rw.Read(b); n != 0 || err != io.EOF {
		t.Fatal(n, err)
	}
	if err := p.Verify(); err == nil {
		t.Fatal("expected remaining op")
	}
	if _, err := rw.Write([]byte{0x44}); !errors.Is(err, ErrIO) {
		t.Fatal(err)
	}
	if err := p.Verify(); err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil || p.Closes != 1 || p.Count != 5 {
		t.Fatal(err, p.Closes, p.Count)
	}
}

func TestPlayback_unexpected(t *testing.T) {
	p := &Playback{Ops: []IO{{W: []byte{0x44}}}, DontPanic: true}
	if _, err := p.Read(make([]byte, 1)); err == nil {
		t.Fatal("read instead of write should fail")
	}
	if _, err := p.Write([]byte{0x48}); err == nil {
		t.Fatal("wrong write should fail")
	}
	p.Ops = nil
	if _, err := p.Write([]byte{0x44}); err == nil {
		t.Fatal("write past the end should fail")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	p.DontPanic = false
	_, _ = p.Read(make([]byte, 1))
}

func TestPlayback_OpenErrs(t *testing.T) {
	p := &Playback{OpenErrs: []error{ErrIO, nil}}
	if _, err := p.Open("dev"); err != ErrIO {
		t.Fatal(err)
	}
	if _, err := p.Open("dev"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Open("dev"); err != nil || p.Opens != 2 {
		t.Fatal(err, p.Opens)
	}
}

func TestPlayback_CloseErr(t *testing.T) {
	p := &Playback{CloseErr: ErrIO}
	if err := p.Close(); err != ErrIO || p.Closes != 1 {
		t.Fatal(err, p.Closes)
	}
}

func TestClock(t *testing.T) {
	c := NewClock()
	start := c.Now()
	c.Sleep(time.Second)
	c.Sleep(time.Millisecond)
	if d := c.Now().Sub(start); d != 1001*time.Millisecond {
		t.Fatal(d)
	}
	if e := c.Elapsed(); e != 1001*time.Millisecond {
		t.Fatal(e)
	}
	if s := c.Sleeps(); len(s) != 2 || s[0] != time.Second {
		t.Fatal(s)
	}
}
