// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry publishes vehicle status frames to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Thermoquad/regolith/pkg/packet"
)

const publishTimeout = 2 * time.Second

// Config selects the broker and topic.
type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string
	Topic    string
	Interval time.Duration
}

// Client is the subset of mqtt.Client used for publishing.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect opens an auto-reconnecting client. The first connection attempt
// must succeed within ctx.
func Connect(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Infow("connected to MQTT broker", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnw("MQTT connection lost", "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to MQTT broker %s", cfg.Broker)
	}
	return client, nil
}

// Publisher sends status frames as JSON on a fixed interval.
type Publisher struct {
	client   Client
	topic    string
	interval time.Duration
	clock    clock.Clock
	logger   *zap.SugaredLogger
}

// NewPublisher creates a publisher. A nil clock uses the wall clock.
func NewPublisher(client Client, topic string, interval time.Duration, c clock.Clock, logger *zap.SugaredLogger) *Publisher {
	if c == nil {
		c = clock.New()
	}
	return &Publisher{client: client, topic: topic, interval: interval, clock: c, logger: logger}
}

// Publish sends one status frame.
func (p *Publisher) Publish(status packet.Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "failed to encode status")
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("publish to %s timed out", p.topic)
	}
	return errors.Wrapf(token.Error(), "publish to %s", p.topic)
}

// Run publishes source() every interval until ctx is done.
func (p *Publisher) Run(ctx context.Context, source func() packet.Status) error {
	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		err := p.Publish(source())
		if err != nil && !failing {
			p.logger.Warnw("telemetry publish failed", "error", err)
		}
		failing = err != nil
	}
}
