// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package poller measures a set of sensors periodically, one goroutine per
// sensor.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/GermanBionicSystems/w1/w1dev"
	"golang.org/x/sync/errgroup"
)

// Measurer is a sensor that can be polled. *ds18b20.Dev implements it.
type Measurer interface {
	Identity() w1dev.Identity
	Measure(tries int) (float64, error)
}

// Reading is the outcome of one measurement.
type Reading struct {
	ID      string
	Family  w1dev.Family
	Celsius float64
	Time    time.Time
	// Err is set when the measurement failed; Celsius is then 0.
	Err error
}

// Sink receives readings. It is called concurrently from the goroutines of
// different sensors.
type Sink func(ctx context.Context, r Reading) error

// Opts holds the configuration options of a Poller.
type Opts struct {
	// Interval between two measurements of a sensor.
	Interval time.Duration
	// Tries is passed to Measure; 0 uses the driver's default.
	Tries  int
	Logger *slog.Logger
	Now    func() time.Time
}

// Poller measures sensors.
type Poller struct {
	devs []Measurer
	opts Opts
	log  *slog.Logger
}

// New returns a Poller for devs.
func New(devs []Measurer, opts *Opts) (*Poller, error) {
	if opts == nil || opts.Interval <= 0 {
		return nil, errors.New("poller: interval must be positive")
	}
	p := &Poller{devs: devs, opts: *opts}
	if p.opts.Now == nil {
		p.opts.Now = time.Now
	}
	p.log = p.opts.Logger
	if p.log == nil {
		p.log = slog.Default()
	}
	return p, nil
}

// Once measures all the sensors concurrently and returns their readings in
// the order of the sensors.
func (p *Poller) Once(ctx context.Context) []Reading {
	out := make([]Reading, len(p.devs))
	var g errgroup.Group
	for i, d := range p.devs {
		i, d := i, d
		g.Go(func() error {
			if ctx.Err() != nil {
				out[i] = p.reading(d, 0, ctx.Err())
				return nil
			}
			out[i] = p.measure(d)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Run measures every sensor right away then each Interval, until ctx is
// canceled or sink returns an error.
//
// Failed measurements are logged and still handed to sink. Run returns nil
// on cancellation and the first sink error otherwise.
func (p *Poller) Run(ctx context.Context, sink Sink) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range p.devs {
		d := d
		g.Go(func() error {
			return p.loop(ctx, d, sink)
		})
	}
	return g.Wait()
}

func (p *Poller) loop(ctx context.Context, d Measurer, sink Sink) error {
	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()
	for {
		r := p.measure(d)
		if r.Err != nil {
			p.log.Warn("poller: measurement failed", "device", r.ID, "err", r.Err)
		}
		if err := sink(ctx, r); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (p *Poller) measure(d Measurer) Reading {
	c, err := d.Measure(p.opts.Tries)
	return p.reading(d, c, err)
}

func (p *Poller) reading(d Measurer, c float64, err error) Reading {
	id := d.Identity()
	r := Reading{ID: id.String(), Family: id.Family, Time: p.opts.Now(), Err: err}
	if err == nil {
		r.Celsius = c
	}
	return r
}
