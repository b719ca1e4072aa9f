// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqttsink mirrors engine events onto an MQTT broker. Each event is
// published as its JSON transport envelope on <prefix>/events/<kind>; state
// updates are retained so late subscribers see the last robot state.
package mqttsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/Thermoquad/furrow/pkg/events"
)

const (
	publishTimeout  = 2 * time.Second
	disconnectQuiet = 250 // ms
)

// Publisher is the subset of mqtt.Client the sink needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Sink publishes events to MQTT
type Sink struct {
	client Publisher
	prefix string
	logger *zap.Logger

	published uint64
	failed    uint64
}

// New wraps an already connected client
func New(client Publisher, prefix string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{client: client, prefix: prefix, logger: logger.Named("mqtt")}
}

// Connect dials the broker and returns a connected client. The caller
// disconnects it with Disconnect.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}

// Disconnect closes a client from Connect
func Disconnect(client mqtt.Client) {
	client.Disconnect(disconnectQuiet)
}

// Topic returns the topic for an event kind
func (s *Sink) Topic(kind events.Kind) string {
	return s.prefix + "/events/" + string(kind)
}

// Publish sends one event and waits for the broker to accept it
func (s *Sink) Publish(e events.Event) error {
	payload, err := json.Marshal(events.ToMessage(e))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.Kind(), err)
	}
	retained := e.Kind() == events.KindStateUpdate

	token := s.client.Publish(s.Topic(e.Kind()), 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", e.Kind())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Kind(), err)
	}
	return nil
}

// Run publishes every event from ch until it closes or ctx is done.
// Publish failures are logged and do not stop the sink.
func (s *Sink) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Publish(e); err != nil {
				s.failed++
				s.logger.Warn("MQTT publish failed", zap.Error(err))
				continue
			}
			s.published++
		}
	}
}

// Counts returns the number of published and failed events. Only valid
// after Run has returned.
func (s *Sink) Counts() (published, failed uint64) {
	return s.published, s.failed
}
