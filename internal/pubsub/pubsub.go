// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

// Package pubsub provides the internal notification bus. The engine publishes
// typed topics consumed by external collaborators (alerting UI, compliance
// reporting); an optional NATS JetStream mirror forwards them to the
// surrounding platform.
package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/sentinelgate/internal/logging"
)

// Topics published by the engine.
const (
	TopicSecurityEvent    = "security-event"
	TopicIncidentCreated  = "incident-created"
	TopicIncidentUpdated  = "incident-updated"
	TopicIPBlocked        = "ip-blocked"
	TopicSubjectSuspended = "subject-suspended"
	TopicStepUpRequired   = "step-up-required"
	TopicSecurityAlert    = "security-alert"
)

// AllTopics lists every topic, for consumers that mirror the full stream.
func AllTopics() []string {
	return []string{
		TopicSecurityEvent,
		TopicIncidentCreated,
		TopicIncidentUpdated,
		TopicIPBlocked,
		TopicSubjectSuspended,
		TopicStepUpRequired,
		TopicSecurityAlert,
	}
}

// Publisher is the engine-facing publish interface.
type Publisher interface {
	// Publish marshals payload as JSON and publishes it on topic.
	Publish(ctx context.Context, topic string, payload any) error
}

// Bus is an in-process Watermill pub/sub carrying the engine's notifications.
type Bus struct {
	channel *gochannel.GoChannel
}

// NewBus creates the in-process notification bus.
func NewBus() *Bus {
	return &Bus{
		channel: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			NewWatermillLogger(logging.WithComponent("pubsub")),
		),
	}
}

// Publish marshals payload as JSON and publishes it on topic.
// The correlation ID, when present in ctx, is carried in message metadata.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set("correlation_id", id)
	}

	if err := b.channel.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of messages for topic.
// Messages must be Acked or Nacked by the consumer.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.channel.Subscribe(ctx, topic)
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.channel.Close()
}

// watermillLogger adapts zerolog to watermill.LoggerAdapter.
type watermillLogger struct {
	logger zerolog.Logger
	fields watermill.LogFields
}

// NewWatermillLogger wraps a zerolog logger for Watermill internals.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: logger}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Info(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: l.logger, fields: l.fields.Add(fields)}
}

func (l *watermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		e = e.Interface(k, v)
	}
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
