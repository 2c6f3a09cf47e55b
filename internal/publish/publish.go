// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package publish sends temperature readings to an MQTT broker.
//
// Each reading goes to <topic>/<device id>, encoded as JSON or CBOR. The
// status of the publisher is kept retained on <topic>/status: "online" is
// published on every (re)connection, with a last will of "offline".
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"

	"github.com/GermanBionicSystems/w1/internal/config"
	"github.com/GermanBionicSystems/w1/internal/poller"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	keepAlive         = 60 * time.Second
	disconnectQuiesce = 1000 // milliseconds
)

var (
	// ErrConnectionFailed is returned when the broker can't be reached.
	ErrConnectionFailed = errors.New("publish: connection failed")
	// ErrPublishFailed is returned when a reading couldn't be published.
	ErrPublishFailed = errors.New("publish: publish failed")
)

// Payload is the message published for a reading.
type Payload struct {
	ID     string `json:"id" cbor:"1,keyasint"`
	Family string `json:"family" cbor:"2,keyasint"`
	// Celsius is nil when the measurement failed.
	Celsius *float64  `json:"celsius,omitempty" cbor:"3,keyasint,omitempty"`
	Time    time.Time `json:"time" cbor:"4,keyasint"`
	Error   string    `json:"error,omitempty" cbor:"5,keyasint,omitempty"`
}

// NewPayload converts a reading.
func NewPayload(r poller.Reading) Payload {
	p := Payload{ID: r.ID, Family: r.Family.String(), Time: r.Time.UTC()}
	if r.Err != nil {
		p.Error = r.Err.Error()
	} else {
		c := r.Celsius
		p.Celsius = &c
	}
	return p
}

var encMode cbor.EncMode

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}
}

// Encode encodes p as "json" or "cbor".
func Encode(encoding string, p Payload) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "json":
		return json.Marshal(p)
	case "cbor":
		return encMode.Marshal(p)
	default:
		return nil, fmt.Errorf("publish: unknown encoding %q", encoding)
	}
}

// Publisher publishes readings.
type Publisher struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	log    *slog.Logger
}

// Connect connects to the broker of cfg.
func Connect(cfg config.MQTTConfig, log *slog.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("%w: no broker configured", ErrConnectionFailed)
	}
	p, err := newPublisher(nil, cfg, log)
	if err != nil {
		return nil, err
	}
	p.client = pahomqtt.NewClient(clientOptions(cfg, p.onConnect))
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return p, nil
}

func clientOptions(cfg config.MQTTConfig, onConnect pahomqtt.OnConnectHandler) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(statusTopic(cfg), "offline", byte(cfg.QoS), true)
	opts.SetOnConnectHandler(onConnect)
	return opts
}

func newPublisher(c pahomqtt.Client, cfg config.MQTTConfig, log *slog.Logger) (*Publisher, error) {
	if _, err := Encode(cfg.Encoding, Payload{}); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{client: c, cfg: cfg, log: log.With("broker", cfg.Broker)}, nil
}

// onConnect runs after each connection, including automatic reconnections.
func (p *Publisher) onConnect(c pahomqtt.Client) {
	p.log.Info("publish: connected")
	p.status(c, "online")
}

func (p *Publisher) status(c pahomqtt.Client, s string) {
	if err := p.send(context.Background(), c, statusTopic(p.cfg), true, []byte(s)); err != nil {
		p.log.Warn("publish: status not published", "status", s, "err", err)
	}
}

// Topic returns the topic of the readings of a device.
func (p *Publisher) Topic(id string) string {
	return strings.TrimSuffix(p.cfg.Topic, "/") + "/" + id
}

// Publish publishes a reading. It implements poller.Sink.
func (p *Publisher) Publish(ctx context.Context, r poller.Reading) error {
	b, err := Encode(p.cfg.Encoding, NewPayload(r))
	if err != nil {
		return err
	}
	if err := p.send(ctx, p.client, p.Topic(r.ID), p.cfg.Retained, b); err != nil {
		return err
	}
	p.log.Debug("publish: sent", "device", r.ID, "bytes", len(b))
	return nil
}

func (p *Publisher) send(ctx context.Context, c pahomqtt.Client, topic string, retained bool, b []byte) error {
	token := c.Publish(topic, byte(p.cfg.QoS), retained, b)
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close marks the publisher offline and disconnects.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.status(p.client, "offline")
	}
	p.client.Disconnect(disconnectQuiesce)
}

func statusTopic(cfg config.MQTTConfig) string {
	return strings.TrimSuffix(cfg.Topic, "/") + "/status"
}
