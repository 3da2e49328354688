// Package kafka streams workflow events to a Kafka topic and reads them back.
package kafka

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

var ErrPublisherClosed = errors.New(errors.CodeMessagingError, "publisher closed")

const (
	HeaderEventType = "event-type"
	HeaderEventID   = "event-id"
)

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig holds configuration for the EventPublisher.
type PublisherConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	MaxAttempts  int
	RequiredAcks int
	WriteTimeout time.Duration
}

func (c PublisherConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New(errors.CodeInvalidConfig, "kafka brokers required")
	}
	if c.Topic == "" {
		return errors.New(errors.CodeInvalidConfig, "kafka topic required")
	}
	return nil
}

// PublishObserver is told about every publish attempt.
type PublishObserver interface {
	RecordPublish(eventType string, err error)
}

// EventPublisher writes workflow events keyed by session id, so the events of
// one session stay ordered within a partition.
type EventPublisher struct {
	writer   WriterInterface
	topic    string
	logger   logging.Logger
	observer PublishObserver
	closed   atomic.Bool
	sent     atomic.Int64
}

// NewEventPublisher builds a publisher on a kafka.Writer.
func NewEventPublisher(cfg PublisherConfig, logger logging.Logger) (*EventPublisher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	var acks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case 0:
		acks = kafka.RequireOne
	case -1:
		acks = kafka.RequireAll
	default:
		acks = kafka.RequiredAcks(cfg.RequiredAcks)
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		MaxAttempts:            cfg.MaxAttempts,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           acks,
		AllowAutoTopicCreation: true,
	}
	return NewEventPublisherWithWriter(writer, cfg.Topic, logger), nil
}

// NewEventPublisherWithWriter wraps an existing writer.
func NewEventPublisherWithWriter(w WriterInterface, topic string, logger logging.Logger) *EventPublisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EventPublisher{writer: w, topic: topic, logger: logger.Named("events")}
}

// WithObserver sets the publish observer and returns p.
func (p *EventPublisher) WithObserver(o PublishObserver) *EventPublisher {
	p.observer = o
	return p
}

// Publish encodes ev as JSON and writes it synchronously.
func (p *EventPublisher) Publish(ctx context.Context, ev workflow.Event) error {
	err := p.publish(ctx, ev)
	if p.observer != nil {
		p.observer.RecordPublish(string(ev.Type), err)
	}
	return err
}

func (p *EventPublisher) publish(ctx context.Context, ev workflow.Event) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	if ev.Type == "" {
		return errors.InvalidParam("event type required")
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode event")
	}
	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: value,
		Time:  ts,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(ev.Type)},
			{Key: HeaderEventID, Value: []byte(ev.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, errors.CodeMessagingError, "publish event")
	}
	p.sent.Add(1)
	p.logger.Debug("event published",
		logging.String("type", string(ev.Type)), logging.SessionID(ev.SessionID), logging.String("topic", p.topic))
	return nil
}

// Sent reports how many events were written.
func (p *EventPublisher) Sent() int64 { return p.sent.Load() }

// Close flushes and closes the writer. Further publishes fail.
func (p *EventPublisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.Info("event publisher closed", logging.Int64("sent", p.sent.Load()))
	return err
}
