// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tempstrip shows temperature readings on the terminal as a strip
// of ANSI colored blocks, one per sensor, from blue (cold) to red (hot).
package tempstrip

import (
	"bytes"
	"fmt"
	"image/color"
	"io"

	"github.com/GermanBionicSystems/w1/internal/poller"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
)

// Opts represents the options available for the strip.
type Opts struct {
	// Min and Max are the temperatures in °C shown as pure blue and pure
	// red. Defaults are 0 and 40.
	Min, Max float64
	// Palette defaults to ansi256.Default.
	Palette *ansi256.Palette
	// Labels prints the value of each sensor after the strip.
	Labels bool

	_ struct{}
}

// failed is the color of a sensor whose measurement failed.
var failed = color.NRGBA{0x40, 0x40, 0x40, 255}

// Dev is a strip of temperature blocks written to a terminal.
type Dev struct {
	w        io.Writer
	min, max float64
	labels   bool
	palette  ansi256.Palette

	buf bytes.Buffer
}

// New returns a Dev that writes to w, or to the console if w is nil.
func New(w io.Writer, opts *Opts) *Dev {
	if opts == nil {
		opts = &Opts{}
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	d := &Dev{w: w, min: opts.Min, max: opts.Max, labels: opts.Labels, palette: *p}
	if d.max <= d.min {
		d.min, d.max = 0, 40
	}
	return d
}

func (d *Dev) String() string {
	return "TempStrip"
}

// Halt implements conn.Resource.
//
// It resets the terminal attributes and ends the line.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Color returns the color of a temperature in °C.
func (d *Dev) Color(celsius float64) color.NRGBA {
	f := (celsius - d.min) / (d.max - d.min)
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return color.NRGBA{R: byte(255*f + 0.5), G: 0, B: byte(255*(1-f) + 0.5), A: 255}
}

// Show redraws the strip in place with one block per reading.
func (d *Dev) Show(readings []poller.Reading) error {
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for _, r := range readings {
		c := failed
		if r.Err == nil {
			c = d.Color(r.Celsius)
		}
		_, _ = io.WriteString(&d.buf, d.palette.Block(c))
	}
	_, _ = d.buf.WriteString("\033[0m ")
	if d.labels {
		for _, r := range readings {
			if r.Err != nil {
				fmt.Fprintf(&d.buf, " %s: --", r.ID)
			} else {
				fmt.Fprintf(&d.buf, " %s: %.2f°C", r.ID, r.Celsius)
			}
		}
		// Erase what a longer previous line left.
		_, _ = d.buf.WriteString("\033[K")
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

var _ fmt.Stringer = &Dev{}
