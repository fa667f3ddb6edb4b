// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

// Package notify publishes an event-recorded notification for every stream
// event the tracker durably records.
//
// Notifications go through watermill: an in-process gochannel by default,
// or core NATS when a URL is configured. Publishing is best effort. The
// audit log, not the notification, is the record of what happened, so a
// failed publish is counted and logged but never fails ingestion.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/encore/internal/breaker"
	"github.com/tomtom215/encore/internal/models"
)

// DefaultTopic is the topic (NATS subject) notifications are published on.
const DefaultTopic = "stream.recorded"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("notifier is closed")

// Notifier announces recorded events.
type Notifier interface {
	NotifyRecorded(ctx context.Context, rec *models.AuditRecord) error
	Close() error
}

// Config configures the publisher.
type Config struct {
	// Enabled turns notifications on. When false a no-op notifier is used.
	Enabled bool `koanf:"enabled"`

	// URL selects NATS. Empty publishes on an in-process channel.
	URL             string         `koanf:"url"`
	Topic           string         `koanf:"topic"`
	MaxReconnects   int            `koanf:"max_reconnects"`
	ReconnectWait   time.Duration  `koanf:"reconnect_wait"`
	ReconnectBuffer int            `koanf:"reconnect_buffer"`
	Breaker         breaker.Config `koanf:"breaker"`
}

// DefaultConfig returns in-process defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Topic:           DefaultTopic,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024,
		Breaker:         breaker.DefaultConfig(),
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if c.ReconnectWait <= 0 {
		return fmt.Errorf("reconnect_wait must be positive")
	}
	return c.Breaker.Validate()
}

// Recorded is the notification payload.
type Recorded struct {
	EventID     string            `json:"event_id"`
	ArtistID    string            `json:"artist_id"`
	TrackID     string            `json:"track_id"`
	ListenerID  string            `json:"listener_id"`
	Timestamp   time.Time         `json:"timestamp"`
	DurationMs  int64             `json:"duration_ms"`
	Verdict     models.Verdict    `json:"verdict"`
	Score       float64           `json:"score"`
	Flags       []models.FlagCode `json:"flags"`
	WindowStart time.Time         `json:"window_start"`
	RecordedAt  time.Time         `json:"recorded_at"`
}

func newRecorded(rec *models.AuditRecord) Recorded {
	return Recorded{
		EventID:     rec.Event.EventID,
		ArtistID:    rec.Event.ArtistID,
		TrackID:     rec.Event.TrackID,
		ListenerID:  rec.Event.ListenerID,
		Timestamp:   rec.Event.Timestamp,
		DurationMs:  rec.Event.DurationMs,
		Verdict:     rec.Analysis.Verdict,
		Score:       rec.Analysis.Score,
		Flags:       rec.Analysis.Flags,
		WindowStart: rec.WindowStart,
		RecordedAt:  rec.RecordedAt,
	}
}

// Publisher publishes notifications through a watermill publisher guarded
// by a circuit breaker.
type Publisher struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	cb         *gobreaker.CircuitBreaker[struct{}]
	topic      string

	mu     sync.RWMutex
	closed bool
}

// New builds the notifier described by cfg.
func New(cfg Config, logger watermill.LoggerAdapter) (Notifier, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if cfg.URL == "" {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, logger)
		p := NewPublisher(ch, cfg)
		p.subscriber = ch
		return p, nil
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL: cfg.URL,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(cfg.MaxReconnects),
			natsgo.ReconnectWait(cfg.ReconnectWait),
			natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				if err != nil {
					logger.Error("NATS disconnected", err, nil)
				}
			}),
			natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
				logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
			}),
		},
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}
	return NewPublisher(pub, cfg), nil
}

// NewPublisher wraps an existing watermill publisher.
func NewPublisher(pub message.Publisher, cfg Config) *Publisher {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		publisher: pub,
		cb:        breaker.New[struct{}]("notify", cfg.Breaker),
		topic:     topic,
	}
}

// NotifyRecorded publishes rec. The message UUID is the event ID so
// downstream consumers can deduplicate.
func (p *Publisher) NotifyRecorded(_ context.Context, rec *models.AuditRecord) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	data, err := json.Marshal(newRecorded(rec))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	msg := message.NewMessage(rec.Event.EventID, data)
	msg.Metadata.Set("verdict", string(rec.Analysis.Verdict))
	msg.Metadata.Set("artist_id", rec.Event.ArtistID)
	msg.Metadata.Set(natsgo.MsgIdHdr, rec.Event.EventID)

	_, err = p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(p.topic, msg)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", rec.Event.EventID, err)
	}
	return nil
}

// Subscribe returns the notification stream of an in-process publisher.
// It fails for a NATS-backed publisher; consumers subscribe to NATS directly.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	if p.subscriber == nil {
		return nil, fmt.Errorf("notifications are published to NATS; subscribe to %q there", p.topic)
	}
	return p.subscriber.Subscribe(ctx, p.topic)
}

// Close releases the underlying publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// Nop discards notifications.
type Nop struct{}

func (Nop) NotifyRecorded(context.Context, *models.AuditRecord) error { return nil }
func (Nop) Close() error                                              { return nil }

// DecodeRecorded parses a notification payload.
func DecodeRecorded(msg *message.Message) (Recorded, error) {
	var r Recorded
	if err := json.Unmarshal(msg.Payload, &r); err != nil {
		return Recorded{}, fmt.Errorf("decode notification %s: %w", msg.UUID, err)
	}
	return r, nil
}
