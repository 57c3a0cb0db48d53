// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/sentinelgate/internal/logging"
)

// NATSConfig configures the JetStream mirror.
type NATSConfig struct {
	// URL is the NATS server address.
	URL string

	// SubjectPrefix is prepended to every topic (e.g. "sentinelgate").
	SubjectPrefix string

	// MaxReconnects bounds reconnection attempts. Default: 60.
	MaxReconnects int

	// ReconnectWait is the delay between reconnection attempts. Default: 2s.
	ReconnectWait time.Duration
}

// NATSMirror forwards every bus notification to NATS JetStream so platform
// consumers (alerting UI, compliance reporting) can subscribe outside this
// process. It runs as a supervised service.
type NATSMirror struct {
	bus       *Bus
	cfg       NATSConfig
	publisher message.Publisher

	mu     sync.Mutex
	closed bool
}

// NewNATSMirror creates the mirror. The NATS connection is established lazily
// in Serve so a missing broker at startup does not block engine wiring.
func NewNATSMirror(bus *Bus, cfg NATSConfig) *NATSMirror {
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 60
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	return &NATSMirror{bus: bus, cfg: cfg}
}

// connect builds the Watermill NATS publisher with reconnection handling.
func (m *NATSMirror) connect() error {
	logger := NewWatermillLogger(logging.WithComponent("nats-mirror"))

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(m.cfg.MaxReconnects),
		natsgo.ReconnectWait(m.cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         m.cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("create NATS publisher: %w", err)
	}

	m.mu.Lock()
	m.publisher = pub
	m.mu.Unlock()
	return nil
}

// Serve subscribes to every engine topic and forwards messages until the
// context is canceled. It implements suture.Service.
func (m *NATSMirror) Serve(ctx context.Context) error {
	if err := m.connect(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, topic := range AllTopics() {
		messages, err := m.bus.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}

		wg.Add(1)
		go func(topic string, messages <-chan *message.Message) {
			defer wg.Done()
			m.forward(topic, messages)
		}(topic, messages)
	}

	<-ctx.Done()
	wg.Wait()
	m.close()
	return ctx.Err()
}

// forward republishes bus messages on the prefixed NATS subject.
func (m *NATSMirror) forward(topic string, messages <-chan *message.Message) {
	subject := topic
	if m.cfg.SubjectPrefix != "" {
		subject = m.cfg.SubjectPrefix + "." + topic
	}

	for msg := range messages {
		m.mu.Lock()
		pub := m.publisher
		m.mu.Unlock()
		if pub == nil {
			msg.Nack()
			continue
		}

		if err := pub.Publish(subject, msg); err != nil {
			logging.Error().Err(err).Str("subject", subject).Msg("failed to mirror notification to NATS")
			// Ack anyway: the bus is a live notification stream, not a
			// durable queue, and redelivery would stall other topics.
		}
		msg.Ack()
	}
}

// close shuts down the NATS publisher once.
func (m *NATSMirror) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.publisher == nil {
		m.closed = true
		return
	}
	m.closed = true
	if err := m.publisher.Close(); err != nil {
		logging.Error().Err(err).Msg("error closing NATS publisher")
	}
}
