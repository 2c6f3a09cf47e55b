// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/GermanBionicSystems/w1/internal/poller"
	"github.com/GermanBionicSystems/w1/internal/publish"
	"github.com/GermanBionicSystems/w1/internal/tempstrip"
	"github.com/spf13/cobra"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		interval time.Duration
		cold, hot float64
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the temperatures as a colored strip until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("interval") {
				a.cfg.Poll.Interval = interval
			}
			var w io.Writer
			if out := cmd.OutOrStdout(); out != os.Stdout {
				w = out
			}
			strip := tempstrip.New(w, &tempstrip.Opts{Min: cold, Max: hot, Labels: true})
			defer strip.Halt()
			var (
				mu     sync.Mutex
				ids    []string
				latest = map[string]poller.Reading{}
			)
			return a.poll(cmd.Context(), func(ctx context.Context, r poller.Reading) error {
				mu.Lock()
				defer mu.Unlock()
				if _, ok := latest[r.ID]; !ok {
					ids = append(ids, r.ID)
				}
				latest[r.ID] = r
				readings := make([]poller.Reading, len(ids))
				for i, id := range ids {
					readings[i] = latest[id]
				}
				return strip.Show(readings)
			})
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "time between measurements (default poll.interval)")
	cmd.Flags().Float64Var(&cold, "min", 0, "temperature shown in blue")
	cmd.Flags().Float64Var(&hot, "max", 40, "temperature shown in red")
	return cmd
}

func (a *app) publishCmd() *cobra.Command {
	var (
		interval time.Duration
		broker   string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the temperatures to an MQTT broker until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("interval") {
				a.cfg.Poll.Interval = interval
			}
			if broker != "" {
				a.cfg.MQTT.Broker = broker
			}
			pub, err := publish.Connect(a.cfg.MQTT, a.log)
			if err != nil {
				return err
			}
			defer pub.Close()
			return a.poll(cmd.Context(), pub.Publish)
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "time between measurements (default poll.interval)")
	cmd.Flags().StringVar(&broker, "broker", "", "broker URL, e.g. tcp://localhost:1883 (default mqtt.broker)")
	return cmd
}

// poll runs a poller over the sensors until SIGINT or SIGTERM.
func (a *app) poll(ctx context.Context, sink poller.Sink) error {
	sensors, closeAll, err := a.openSensors()
	if err != nil {
		return err
	}
	defer closeAll()
	p, err := poller.New(measurers(sensors), &poller.Opts{Interval: a.cfg.Poll.Interval, Logger: a.log})
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.log.Info("w1temp: polling", "sensors", len(sensors), "interval", a.cfg.Poll.Interval)
	return p.Run(ctx, sink)
}
