// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GermanBionicSystems/w1/w1dev"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
)

// DS18B20 is the family code of the device.
const DS18B20 w1dev.Family = 0x28

// Function commands, datasheet p.12.
const (
	cmdConvertT        byte = 0x44
	cmdWriteScratchpad byte = 0x4e
	cmdReadScratchpad  byte = 0xbe
	cmdCopyScratchpad  byte = 0x48
	cmdRecallE2        byte = 0xb8
)

const (
	// writeTries bounds both the reads around a write and the write+verify
	// cycles.
	writeTries = 16
	// pollInterval is the busy poll period of commands other than a
	// conversion.
	pollInterval = time.Millisecond
	minBackoff   = time.Millisecond
	// backoffSteps is the number of polls after which ConvertBackoff stays
	// at minBackoff.
	backoffSteps = 10
)

// Opts holds the configuration options for the device.
type Opts struct {
	// ReadTries is the number of scratchpad reads attempted by Measure,
	// LastTemp and Sense when the CRC doesn't match. Default is 1.
	ReadTries int
	// Timeout bounds the wait for a command to complete, conversion
	// included. Default is 3s.
	Timeout time.Duration
	// Logger receives retry warnings. Default is slog.Default().
	Logger *slog.Logger
}

// DefaultOpts holds the default configuration options for the device.
var DefaultOpts = Opts{
	ReadTries: 1,
	Timeout:   3 * time.Second,
}

// Settings selects the alarm registers and resolution to write. Fields left
// nil or zero keep the value currently on the device.
type Settings struct {
	HighAlarm  *int8
	LowAlarm   *int8
	Resolution Resolution
}

// ConvertBackoff returns the polling schedule used while a conversion
// expected to take convTime is running.
//
// Poll i sleeps convTime/2^i, never less than 1ms, and 1ms flat once i is
// past 10: polling starts coarse and sharpens as completion nears.
func ConvertBackoff(convTime time.Duration) w1dev.Backoff {
	return func(i int) time.Duration {
		if i > backoffSteps {
			return minBackoff
		}
		if d := convTime >> uint(i); d > minBackoff {
			return d
		}
		return minBackoff
	}
}

// New returns an object that communicates with the DS18B20 sensor behind w.
//
// It reads the scratchpad once to learn the configured resolution. A failed
// read only leaves the resolution unknown, in which case conversions are
// timed for 9 bits until the next successful read; an *w1dev.IOError is
// returned though since the channel is unusable.
func New(w *w1dev.Dev, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{w1: w, ch: w.Channel(), opts: *opts}
	if d.opts.ReadTries <= 0 {
		d.opts.ReadTries = DefaultOpts.ReadTries
	}
	if d.opts.Timeout <= 0 {
		d.opts.Timeout = DefaultOpts.Timeout
	}
	d.log = d.opts.Logger
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With("device", w.Identity().String())

	if _, err := d.readData(1); err != nil {
		var ioErr *w1dev.IOError
		if errors.As(err, &ioErr) {
			return nil, err
		}
		d.log.Debug("ds18b20: resolution unknown", "err", err)
	}
	return d, nil
}

// Dev is a handle to a Dallas Semi / Maxim DS18B20 temperature sensor on a
// w1 bus.
type Dev struct {
	mu         sync.Mutex
	w1         *w1dev.Dev
	ch         *w1dev.Channel
	opts       Opts
	log        *slog.Logger
	resolution Resolution // last resolution read from the device, 0 if never read
	stop       chan struct{}
	wg         sync.WaitGroup
}

// Identity returns the ROM id of the device.
func (d *Dev) Identity() w1dev.Identity {
	return d.w1.Identity()
}

func (d *Dev) String() string {
	return d.w1.String()
}

// Resolution returns the resolution seen on the last successful scratchpad
// read, 0 if there was none yet.
func (d *Dev) Resolution() Resolution {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolution
}

// Convert starts a temperature conversion and waits for it to complete.
//
// The device is polled following ConvertBackoff for the last known
// resolution. It fails with w1dev.ErrTimeout if the conversion takes longer
// than Opts.Timeout.
func (d *Dev) Convert() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.convert()
}

// ReadData reads the scratchpad, trying up to tries times while the CRC
// doesn't match.
func (d *Dev) ReadData(tries int) (Scratchpad, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readData(tries)
}

// WriteData writes the alarm registers and resolution to the scratchpad.
//
// Values not set in s are first read from the device. The write is verified
// by reading the scratchpad back and repeated, up to 16 times, until all
// three values match. The scratchpad is volatile, use Store to persist it.
func (d *Dev) WriteData(s Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeData(s)
}

// Store copies the scratchpad alarm registers and resolution to EEPROM.
func (d *Dev) Store() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch.Exec(cmdCopyScratchpad, nil, d.opts.Timeout, w1dev.ConstantBackoff(pollInterval))
}

// Restore recalls the alarm registers and resolution from EEPROM into the
// scratchpad.
func (d *Dev) Restore() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch.Exec(cmdRecallE2, nil, d.opts.Timeout, w1dev.ConstantBackoff(pollInterval))
}

// Measure performs a conversion and returns the temperature in °C.
//
// tries is passed to ReadData; 0 uses Opts.ReadTries.
func (d *Dev) Measure(tries int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.measure(tries)
	if err != nil {
		return 0, err
	}
	return s.Celsius(), nil
}

// LastTemp reads the temperature resulting from the last conversion from the
// device.
func (d *Dev) LastTemp() (physic.Temperature, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.readData(d.opts.ReadTries)
	if err != nil {
		return 0, err
	}
	return s.Temp(), nil
}

// Sense implements physic.SenseEnv.
func (d *Dev) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.measure(0)
	if err != nil {
		return err
	}
	e.Temperature = s.Temp()
	return nil
}

// SenseContinuous implements physic.SenseEnv.
//
// A conversion is started every interval; failed ones are logged and
// skipped. Call Halt to stop.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", w1dev.ErrInvalidArgument)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil, errors.New("ds18b20: already sensing continuously")
	}
	d.stop = make(chan struct{})
	sensing := make(chan physic.Env)
	d.wg.Add(1)
	go d.senseLoop(interval, d.stop, sensing)
	return sensing, nil
}

func (d *Dev) senseLoop(interval time.Duration, stop <-chan struct{}, sensing chan<- physic.Env) {
	defer d.wg.Done()
	defer close(sensing)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		var e physic.Env
		if err := d.Sense(&e); err != nil {
			d.log.Warn("ds18b20: continuous sense failed", "err", err)
		} else {
			select {
			case sensing <- e:
			case <-stop:
				return
			}
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.resolution
	if !r.Valid() {
		r = MinResolution
	}
	e.Temperature = r.Precision()
}

// Halt implements conn.Resource.
//
// It stops a SenseContinuous loop, if any.
func (d *Dev) Halt() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop != nil {
		close(stop)
		d.wg.Wait()
	}
	return nil
}

// Close halts the device and closes its channel. Later operations fail with
// an *w1dev.IOError wrapping os.ErrClosed.
func (d *Dev) Close() error {
	if err := d.Halt(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.w1.Close()
}

func (d *Dev) convert() error {
	r := d.resolution
	if !r.Valid() {
		r = MinResolution
	}
	return d.ch.Exec(cmdConvertT, nil, d.opts.Timeout, ConvertBackoff(r.ConversionTime()))
}

func (d *Dev) measure(tries int) (Scratchpad, error) {
	if tries <= 0 {
		tries = d.opts.ReadTries
	}
	if err := d.convert(); err != nil {
		return Scratchpad{}, err
	}
	return d.readData(tries)
}

// readData reads the scratchpad. Only w1dev.ErrChecksum is retried, any
// other error is returned right away.
func (d *Dev) readData(tries int) (Scratchpad, error) {
	if tries < 1 {
		tries = 1
	}
	var err error
	for i := 1; i <= tries; i++ {
		var b []byte
		if b, err = d.ch.Query(cmdReadScratchpad, ScratchpadSize); err != nil {
			return Scratchpad{}, err
		}
		var s Scratchpad
		if s, err = ParseScratchpad(b); err == nil {
			d.resolution = s.Resolution
			return s, nil
		}
		if !errors.Is(err, w1dev.ErrChecksum) {
			return Scratchpad{}, err
		}
		if i < tries {
			d.log.Warn("ds18b20: bad scratchpad, retrying", "attempt", i, "tries", tries, "err", err)
		}
	}
	return Scratchpad{}, err
}

func (d *Dev) writeData(s Settings) error {
	if s.HighAlarm == nil && s.LowAlarm == nil && s.Resolution == 0 {
		return fmt.Errorf("%w: none of the values is set", w1dev.ErrInvalidArgument)
	}
	if s.Resolution != 0 && !s.Resolution.Valid() {
		return fmt.Errorf("%w: resolution should be within 9-12 bits, got %d", w1dev.ErrInvalidArgument, s.Resolution)
	}
	var want Scratchpad
	if s.HighAlarm == nil || s.LowAlarm == nil || s.Resolution == 0 {
		prev, err := d.readData(writeTries)
		if err != nil {
			return err
		}
		want = prev
	}
	if s.HighAlarm != nil {
		want.HighAlarm = *s.HighAlarm
	}
	if s.LowAlarm != nil {
		want.LowAlarm = *s.LowAlarm
	}
	if s.Resolution != 0 {
		want.Resolution = s.Resolution
	}

	w := []byte{byte(want.HighAlarm), byte(want.LowAlarm), want.Resolution.Config()}
	for i := 1; i <= writeTries; i++ {
		if err := d.ch.Exec(cmdWriteScratchpad, w, d.opts.Timeout, w1dev.ConstantBackoff(pollInterval)); err != nil {
			return err
		}
		got, err := d.readData(writeTries)
		if err != nil {
			return err
		}
		if got.HighAlarm == want.HighAlarm && got.LowAlarm == want.LowAlarm && got.Resolution == want.Resolution {
			return nil
		}
		d.log.Warn("ds18b20: wrong data read back",
			"attempt", i,
			"high", got.HighAlarm, "low", got.LowAlarm, "resolution", got.Resolution,
			"want_high", want.HighAlarm, "want_low", want.LowAlarm, "want_resolution", want.Resolution)
	}
	return fmt.Errorf("%w: gave up after %d attempts", w1dev.ErrWriteVerification, writeTries)
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
