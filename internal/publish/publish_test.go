// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/GermanBionicSystems/w1/internal/config"
	"github.com/GermanBionicSystems/w1/internal/poller"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var when = time.Date(2025, 3, 1, 12, 30, 0, 125000000, time.UTC)

// fakeToken is a completed token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publications. Methods not overridden panic.
type fakeClient struct {
	pahomqtt.Client
	mu           sync.Mutex
	msgs         []message
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message{topic, qos, retained, payload.([]byte)})
	return newToken(c.err)
}

func (c *fakeClient) IsConnected() bool {
	return !c.disconnected
}

func (c *fakeClient) Disconnect(uint) {
	c.disconnected = true
}

func mqttConfig(encoding string) config.MQTTConfig {
	cfg := config.Default().MQTT
	cfg.Broker = "tcp://localhost:1883"
	cfg.Topic = "home/w1/"
	cfg.QoS = 1
	cfg.Encoding = encoding
	return cfg
}

func TestNewPayload(t *testing.T) {
	c := 21.5
	got := NewPayload(poller.Reading{ID: "28-0056789a1234", Family: 0x28, Celsius: c, Time: when})
	want := Payload{ID: "28-0056789a1234", Family: "DS18B20", Celsius: &c, Time: when}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("NewPayload() (-want +got):\n%s", diff)
	}
	got = NewPayload(poller.Reading{ID: "10-f6e5d4c3b2a1", Family: 0x10, Time: when, Err: errors.New("w1: timeout")})
	want = Payload{ID: "10-f6e5d4c3b2a1", Family: "DS18S20", Time: when, Error: "w1: timeout"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("NewPayload() (-want +got):\n%s", diff)
	}
}

func TestEncode(t *testing.T) {
	c := -10.125
	p := Payload{ID: "28-0056789a1234", Family: "DS18B20", Celsius: &c, Time: when}

	b, err := Encode("json", p)
	if err != nil {
		t.Fatal(err)
	}
	const wantJSON = `{"id":"28-0056789a1234","family":"DS18B20","celsius":-10.125,"time":"2025-03-01T12:30:00.125Z"}`
	if string(b) != wantJSON {
		t.Fatalf("json: got %s", b)
	}

	b, err = Encode("CBOR", p)
	if err != nil {
		t.Fatal(err)
	}
	var got Payload
	if err := cbor.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(p, got); diff != "" {
		t.Fatalf("cbor (-want +got):\n%s", diff)
	}

	if _, err := Encode("xml", p); err == nil {
		t.Fatal("expected error")
	}
}

func TestPublish(t *testing.T) {
	c := &fakeClient{}
	p, err := newPublisher(c, mqttConfig("json"), discard)
	if err != nil {
		t.Fatal(err)
	}
	p.onConnect(c)
	if err := p.Publish(context.Background(), poller.Reading{ID: "28-0056789a1234", Family: 0x28, Celsius: 25.0625, Time: when}); err != nil {
		t.Fatal(err)
	}
	p.Close()
	if !c.disconnected {
		t.Fatal("not disconnected")
	}
	if len(c.msgs) != 3 {
		t.Fatalf("got %d messages", len(c.msgs))
	}
	if m := c.msgs[0]; m.topic != "home/w1/status" || string(m.payload) != "online" || !m.retained {
		t.Errorf("status: %+v", m)
	}
	m := c.msgs[1]
	if m.topic != "home/w1/28-0056789a1234" || m.qos != 1 || m.retained {
		t.Errorf("reading: %+v", m)
	}
	var got map[string]any
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatal(err)
	}
	if got["celsius"] != 25.0625 || got["family"] != "DS18B20" {
		t.Errorf("payload %s", m.payload)
	}
	if m := c.msgs[2]; m.topic != "home/w1/status" || string(m.payload) != "offline" || !m.retained {
		t.Errorf("status: %+v", m)
	}
}

func TestOnConnect_reconnect(t *testing.T) {
	c := &fakeClient{}
	p, err := newPublisher(c, mqttConfig("json"), discard)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.msgs) != 0 {
		t.Fatalf("published before connecting: %+v", c.msgs)
	}
	// The handler runs again after each automatic reconnection.
	p.onConnect(c)
	p.onConnect(c)
	want := message{topic: "home/w1/status", qos: 1, retained: true, payload: []byte("online")}
	if diff := cmp.Diff([]message{want, want}, c.msgs, cmp.AllowUnexported(message{})); diff != "" {
		t.Fatalf("status (-want +got):\n%s", diff)
	}
}

func TestPublish_error(t *testing.T) {
	c := &fakeClient{}
	p, err := newPublisher(c, mqttConfig("cbor"), discard)
	if err != nil {
		t.Fatal(err)
	}
	c.err = errors.New("not authorized")
	err = p.Publish(context.Background(), poller.Reading{ID: "28-0056789a1234", Time: when})
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}
}

func TestNewPublisher_bad_encoding(t *testing.T) {
	if _, err := newPublisher(&fakeClient{}, mqttConfig("xml"), discard); err == nil {
		t.Fatal("expected error")
	}
}

func TestConnect_no_broker(t *testing.T) {
	if _, err := Connect(config.Default().MQTT, discard); !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := mqttConfig("json")
	cfg.Username = "sensor"
	cfg.Password = "secret"
	called := false
	o := clientOptions(cfg, func(pahomqtt.Client) { called = true })
	if o.ClientID != "w1temp" || o.Username != "sensor" || o.Password != "secret" {
		t.Errorf("%+v", o)
	}
	if o.WillTopic != "home/w1/status" || string(o.WillPayload) != "offline" || !o.WillRetained {
		t.Errorf("will %q %q", o.WillTopic, o.WillPayload)
	}
	if o.OnConnect == nil {
		t.Fatal("no connect handler")
	}
	o.OnConnect(nil)
	if !called {
		t.Error("connect handler not installed")
	}
	if len(o.Servers) != 1 || o.Servers[0].String() != "tcp://localhost:1883" {
		t.Errorf("servers %v", o.Servers)
	}
}
