// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the configuration of the w1temp command.
//
// Values are layered: built-in defaults, then the YAML file, then W1TEMP_*
// environment variables. Command line flags are applied last by the caller.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/GermanBionicSystems/w1/ds18b20"
	"github.com/GermanBionicSystems/w1/w1dev"
	"github.com/GermanBionicSystems/w1/w1reg"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Bus     BusConfig     `yaml:"bus"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Poll    PollConfig    `yaml:"poll"`
	Logging LoggingConfig `yaml:"logging"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// BusConfig locates the devices.
type BusConfig struct {
	// Path is the directory listing one sub-directory per device.
	Path string `yaml:"path"`
	// WriteAttempts is the number of times a command write is tried.
	WriteAttempts int `yaml:"write_attempts"`
}

// SensorConfig tunes the DS18B20 driver.
type SensorConfig struct {
	ReadTries      int           `yaml:"read_tries"`
	ConvertTimeout time.Duration `yaml:"convert_timeout"`
}

// PollConfig drives the watch and publish commands.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stdout or stderr
}

// MQTTConfig is used by the publish command.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883.
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	// Topic is the prefix; readings go to <topic>/<device id>.
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
	Retained bool   `yaml:"retained"`
	// Encoding of the payload, json or cbor.
	Encoding string `yaml:"encoding"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Path:          w1reg.DriverPath,
			WriteAttempts: w1dev.DefaultOpts.Attempts,
		},
		Sensor: SensorConfig{
			ReadTries:      ds18b20.DefaultOpts.ReadTries,
			ConvertTimeout: ds18b20.DefaultOpts.Timeout,
		},
		Poll: PollConfig{
			Interval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			ClientID: "w1temp",
			Topic:    "w1/temperature",
			Encoding: "json",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies the
// environment overrides and validates the result.
//
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies W1TEMP_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"W1TEMP_BUS_PATH", &cfg.Bus.Path},
		{"W1TEMP_LOG_LEVEL", &cfg.Logging.Level},
		{"W1TEMP_LOG_FORMAT", &cfg.Logging.Format},
		{"W1TEMP_MQTT_BROKER", &cfg.MQTT.Broker},
		{"W1TEMP_MQTT_TOPIC", &cfg.MQTT.Topic},
		{"W1TEMP_MQTT_USERNAME", &cfg.MQTT.Username},
		{"W1TEMP_MQTT_PASSWORD", &cfg.MQTT.Password},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}
	if v, ok := lookup("W1TEMP_SENSOR_READ_TRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("W1TEMP_SENSOR_READ_TRIES: %w", err)
		}
		cfg.Sensor.ReadTries = n
	}
	if v, ok := lookup("W1TEMP_POLL_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("W1TEMP_POLL_INTERVAL: %w", err)
		}
		cfg.Poll.Interval = d
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string
	if c.Bus.Path == "" {
		errs = append(errs, "bus.path is required")
	}
	if c.Bus.WriteAttempts < 1 {
		errs = append(errs, "bus.write_attempts must be at least 1")
	}
	if c.Sensor.ReadTries < 1 {
		errs = append(errs, "sensor.read_tries must be at least 1")
	}
	if c.Sensor.ConvertTimeout <= 0 {
		errs = append(errs, "sensor.convert_timeout must be positive")
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, "poll.interval must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, "logging.format must be json or text")
	}
	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "stderr":
	default:
		errs = append(errs, "logging.output must be stdout or stderr")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	switch strings.ToLower(c.MQTT.Encoding) {
	case "json", "cbor":
	default:
		errs = append(errs, "mqtt.encoding must be json or cbor")
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		errs = append(errs, "mqtt.topic is required with a broker")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RegistryOpts returns the device options the configuration selects.
func (c *Config) RegistryOpts(log *slog.Logger) *w1reg.Opts {
	return &w1reg.Opts{
		Channel: w1dev.Opts{
			Attempts: c.Bus.WriteAttempts,
			Logger:   log,
		},
		Sensor: ds18b20.Opts{
			ReadTries: c.Sensor.ReadTries,
			Timeout:   c.Sensor.ConvertTimeout,
			Logger:    log,
		},
	}
}
