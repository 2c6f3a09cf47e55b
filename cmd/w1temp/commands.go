// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"

	"github.com/GermanBionicSystems/w1/ds18b20"
	"github.com/GermanBionicSystems/w1/internal/poller"
	"github.com/spf13/cobra"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the devices on the bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := a.open()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range devs {
				id := d.Identity()
				if s, ok := d.(*ds18b20.Dev); ok {
					fmt.Fprintf(out, "%s\t%s\t%s\n", id, id.Family, s.Resolution())
				} else {
					fmt.Fprintf(out, "%s\t%s\tno driver\n", id, id.Family)
				}
				a.close(d)
			}
			return nil
		},
	}
}

func (a *app) measureCmd() *cobra.Command {
	var tries int
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Convert and print the temperature of each sensor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sensors, closeAll, err := a.openSensors()
			if err != nil {
				return err
			}
			defer closeAll()
			p, err := poller.New(measurers(sensors), &poller.Opts{Interval: a.cfg.Poll.Interval, Tries: tries, Logger: a.log})
			if err != nil {
				return err
			}
			var errs []error
			for _, r := range p.Once(cmd.Context()) {
				if r.Err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\terror: %v\n", r.ID, r.Err)
					errs = append(errs, r.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.4f°C\n", r.ID, r.Celsius)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().IntVarP(&tries, "tries", "t", 0, "scratchpad reads tried on CRC errors (default sensor.read_tries)")
	return cmd
}

func (a *app) readCmd() *cobra.Command {
	var tries int
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print the scratchpad of each sensor without converting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.eachSensor(func(s *ds18b20.Dev) error {
				if tries <= 0 {
					tries = a.cfg.Sensor.ReadTries
				}
				sp, err := s.ReadData(tries)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\ttemperature=%.4f°C high=%d low=%d resolution=%s\n",
					s.Identity(), sp.Celsius(), sp.HighAlarm, sp.LowAlarm, sp.Resolution)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&tries, "tries", "t", 0, "reads tried on CRC errors (default sensor.read_tries)")
	return cmd
}

func (a *app) setCmd() *cobra.Command {
	var (
		high, low int8
		bits      int
		store     bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Write the alarm registers and resolution",
		Long: `Write the alarm registers and resolution to the scratchpad of each sensor.
Values not given keep their current setting. The write is verified by reading
it back. Use --store to also copy it to EEPROM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var s ds18b20.Settings
			f := cmd.Flags()
			if f.Changed("high") {
				s.HighAlarm = &high
			}
			if f.Changed("low") {
				s.LowAlarm = &low
			}
			if f.Changed("resolution") {
				r, err := ds18b20.NewResolution(bits)
				if err != nil {
					return err
				}
				s.Resolution = r
			}
			return a.eachSensor(func(d *ds18b20.Dev) error {
				if err := d.WriteData(s); err != nil {
					return err
				}
				if store {
					return d.Store()
				}
				return nil
			})
		},
	}
	cmd.Flags().Int8Var(&high, "high", 0, "high alarm threshold in °C")
	cmd.Flags().Int8Var(&low, "low", 0, "low alarm threshold in °C")
	cmd.Flags().IntVarP(&bits, "resolution", "r", 12, "resolution in bits, 9 to 12")
	cmd.Flags().BoolVar(&store, "store", false, "copy the scratchpad to EEPROM afterwards")
	return cmd
}

func (a *app) storeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "store",
		Short: "Copy the scratchpad settings to EEPROM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.eachSensor((*ds18b20.Dev).Store)
		},
	}
}

func (a *app) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Recall the settings from EEPROM into the scratchpad",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.eachSensor((*ds18b20.Dev).Restore)
		},
	}
}

// eachSensor runs f on every sensor, all of them even if some fail.
func (a *app) eachSensor(f func(s *ds18b20.Dev) error) error {
	sensors, closeAll, err := a.openSensors()
	if err != nil {
		return err
	}
	defer closeAll()
	var errs []error
	for _, s := range sensors {
		if err := f(s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Identity(), err))
		}
	}
	return errors.Join(errs...)
}

func measurers(sensors []*ds18b20.Dev) []poller.Measurer {
	out := make([]poller.Measurer, len(sensors))
	for i, s := range sensors {
		out[i] = s
	}
	return out
}
