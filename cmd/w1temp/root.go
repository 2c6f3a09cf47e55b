// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/GermanBionicSystems/w1/ds18b20"
	"github.com/GermanBionicSystems/w1/internal/config"
	"github.com/GermanBionicSystems/w1/internal/logging"
	"github.com/GermanBionicSystems/w1/w1dev"
	"github.com/GermanBionicSystems/w1/w1reg"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

// app holds what the commands share.
type app struct {
	// Flags.
	configPath string
	busPath    string
	device     string
	logLevel   string

	opener w1dev.Opener
	cfg    *config.Config
	log    *slog.Logger
}

func newRootCmd(o w1dev.Opener) *cobra.Command {
	a := &app{opener: o}
	root := &cobra.Command{
		Use:   "w1temp",
		Short: "DS18B20 temperature sensors over the Linux w1 bus",
		Long: `w1temp discovers the devices the kernel w1 driver lists and talks to each
through its rw file: temperature conversions, scratchpad reads, alarm and
resolution settings, EEPROM store and recall.

Configuration is read from --config (YAML), then W1TEMP_* environment
variables, then flags.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&a.busPath, "bus", "", "directory listing the w1 devices (default "+w1reg.DriverPath+")")
	f.StringVarP(&a.device, "device", "d", "", "only use the device with this id, e.g. 28-0000070e41ac")
	f.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		a.listCmd(),
		a.measureCmd(),
		a.readCmd(),
		a.setCmd(),
		a.storeCmd(),
		a.restoreCmd(),
		a.watchCmd(),
		a.publishCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.busPath != "" {
		cfg.Bus.Path = a.busPath
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg
	a.log = logging.New(cfg.Logging, version)
	slog.SetDefault(a.log)
	return nil
}

// open opens the devices on the bus, restricted to --device if set.
func (a *app) open() ([]w1reg.Device, error) {
	devs, err := w1reg.New().Enumerate(w1reg.Dir(a.cfg.Bus.Path), a.opener, a.cfg.RegistryOpts(a.log))
	if err != nil {
		return nil, err
	}
	if a.device == "" {
		return devs, nil
	}
	var out []w1reg.Device
	for _, d := range devs {
		if d.Identity().String() == a.device {
			out = append(out, d)
		} else {
			a.close(d)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("w1temp: device %s not found", a.device)
	}
	return out, nil
}

// close closes d, logging failures.
func (a *app) close(d w1reg.Device) {
	if err := d.Close(); err != nil {
		a.log.Warn("w1temp: close failed", "device", d.Identity().String(), "err", err)
	}
}

// openSensors opens the DS18B20 sensors and closes everything else.
func (a *app) openSensors() ([]*ds18b20.Dev, func(), error) {
	devs, err := a.open()
	if err != nil {
		return nil, nil, err
	}
	var out []*ds18b20.Dev
	for _, d := range devs {
		if s, ok := d.(*ds18b20.Dev); ok {
			out = append(out, s)
			continue
		}
		a.close(d)
	}
	closeAll := func() {
		var errs []error
		for _, s := range out {
			errs = append(errs, s.Close())
		}
		if err := errors.Join(errs...); err != nil {
			a.log.Warn("w1temp: close failed", "err", err)
		}
	}
	if len(out) == 0 {
		return nil, nil, errors.New("w1temp: no DS18B20 found")
	}
	return out, closeAll, nil
}
