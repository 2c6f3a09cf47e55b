// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package w1reg discovers the devices the Linux w1 driver found on the bus
// and opens each with the driver registered for its family.
package w1reg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/GermanBionicSystems/w1/ds18b20"
	"github.com/GermanBionicSystems/w1/w1dev"
	"periph.io/x/conn/v3"
)

// DriverPath is where the kernel lists the devices bound to the w1 slave
// driver, one directory per device.
const DriverPath = "/sys/bus/w1/drivers/w1_slave_driver"

// Device is an opened device on the bus.
//
// *w1dev.Dev and *ds18b20.Dev implement it.
type Device interface {
	conn.Resource
	Identity() w1dev.Identity
	Close() error
}

// Constructor returns the driver of a family for the device behind d.
type Constructor func(d *w1dev.Dev, opts *Opts) (Device, error)

// Opts holds the configuration options of the devices opened.
type Opts struct {
	Channel w1dev.Opts
	Sensor  ds18b20.Opts
}

// DefaultOpts holds the default configuration options.
var DefaultOpts = Opts{
	Channel: w1dev.DefaultOpts,
	Sensor:  ds18b20.DefaultOpts,
}

// Entry is one device directory.
type Entry struct {
	Path string
	// HasIdentity is true when the directory holds an identity record.
	HasIdentity bool
}

// Lister lists device directories and reads their identity record.
type Lister interface {
	List() ([]Entry, error)
	ReadIdentity(path string) ([]byte, error)
}

// Dir is a Lister over a directory laid out like DriverPath.
//
// Each sub-directory is a device, its "id" file holds the 8 bytes identity
// record.
type Dir string

// List implements Lister. Entries are sorted by path.
func (d Dir) List() ([]Entry, error) {
	des, err := os.ReadDir(string(d))
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, de := range des {
		p := filepath.Join(string(d), de.Name())
		// Device directories are symlinks in sysfs.
		fi, err := os.Stat(p)
		if err != nil || !fi.IsDir() {
			continue
		}
		_, err = os.Stat(filepath.Join(p, "id"))
		out = append(out, Entry{Path: p, HasIdentity: err == nil})
	}
	return out, nil
}

// ReadIdentity implements Lister.
func (d Dir) ReadIdentity(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(path, "id"))
}

// Registry maps family codes to constructors.
//
// It is meant to be set up once, then only read.
type Registry struct {
	mu       sync.RWMutex
	byFamily map[w1dev.Family]Constructor
}

// New returns a Registry with the drivers of this module registered.
func New() *Registry {
	return &Registry{byFamily: map[w1dev.Family]Constructor{ds18b20.DS18B20: newDS18B20}}
}

// Register registers the constructor of a family.
//
// Registering the same family twice is an error.
func (r *Registry) Register(f w1dev.Family, c Constructor) error {
	if c == nil {
		return fmt.Errorf("w1reg: can't register %s with nil Constructor", f)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byFamily[f]; ok {
		return fmt.Errorf("w1reg: can't register %s twice", f)
	}
	r.byFamily[f] = c
	return nil
}

// Families returns the registered family codes, sorted.
func (r *Registry) Families() []w1dev.Family {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]w1dev.Family, 0, len(r.byFamily))
	for f := range r.byFamily {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Enumerate opens every device l lists that has an identity record.
//
// Devices of an unregistered family are returned as *w1dev.Dev. Any
// failure, an identity CRC mismatch included, fails the whole call and closes
// the devices already opened.
func (r *Registry) Enumerate(l Lister, o w1dev.Opener, opts *Opts) ([]Device, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	entries, err := l.List()
	if err != nil {
		return nil, fmt.Errorf("w1reg: %w", err)
	}
	var out []Device
	for _, e := range entries {
		if !e.HasIdentity {
			continue
		}
		d, err := r.open(l, o, e.Path, opts)
		if err != nil {
			errs := []error{fmt.Errorf("w1reg: %s: %w", e.Path, err)}
			for _, d := range out {
				if cerr := d.Close(); cerr != nil {
					errs = append(errs, cerr)
				}
			}
			return nil, errors.Join(errs...)
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *Registry) open(l Lister, o w1dev.Opener, path string, opts *Opts) (Device, error) {
	b, err := l.ReadIdentity(path)
	if err != nil {
		return nil, err
	}
	id, err := w1dev.ParseIdentity(b)
	if err != nil {
		return nil, err
	}
	w, err := w1dev.New(id, path, o, &opts.Channel)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	c := r.byFamily[id.Family]
	r.mu.RUnlock()
	if c == nil {
		return w, nil
	}
	d, err := c(w, opts)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return d, nil
}

// Register registers the constructor of a family in the default registry.
func Register(f w1dev.Family, c Constructor) error {
	return defaultRegistry.Register(f, c)
}

// Enumerate opens all the devices found in DriverPath.
func Enumerate(opts *Opts) ([]Device, error) {
	return defaultRegistry.Enumerate(Dir(DriverPath), w1dev.SysfsOpener, opts)
}

func newDS18B20(d *w1dev.Dev, opts *Opts) (Device, error) {
	s, err := ds18b20.New(d, &opts.Sensor)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var defaultRegistry = New()
