package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SubscriberConfig holds configuration for the EventSubscriber. An empty
// GroupID reads the topic from the end without committing offsets.
type SubscriberConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

// EventHandler receives decoded events. A returned error stops Run.
type EventHandler func(ctx context.Context, ev workflow.Event) error

// EventSubscriber decodes workflow events from a topic.
type EventSubscriber struct {
	reader ReaderInterface
	commit bool
	logger logging.Logger
}

func NewEventSubscriber(cfg SubscriberConfig, logger logging.Logger) (*EventSubscriber, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "kafka brokers and topic required")
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	rc := kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
		MaxWait: cfg.MaxWait,
	}
	if cfg.GroupID == "" {
		rc.StartOffset = kafka.LastOffset
	}
	return NewEventSubscriberWithReader(kafka.NewReader(rc), cfg.GroupID != "", logger), nil
}

// NewEventSubscriberWithReader wraps an existing reader. commit selects
// whether processed messages are committed.
func NewEventSubscriberWithReader(r ReaderInterface, commit bool, logger logging.Logger) *EventSubscriber {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EventSubscriber{reader: r, commit: commit, logger: logger.Named("subscriber")}
}

// Run delivers events to handle until ctx ends or handle fails. Messages
// that do not decode are logged and skipped. Cancellation is not an error.
func (s *EventSubscriber) Run(ctx context.Context, handle EventHandler) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
				return nil
			}
			return errors.Wrap(err, errors.CodeMessagingError, "fetch event")
		}

		var ev workflow.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			s.logger.Warn("skipping undecodable event",
				logging.Int64("offset", msg.Offset), logging.Int("partition", msg.Partition), logging.Err(err))
		} else if err := handle(ctx, ev); err != nil {
			return err
		}

		if s.commit {
			if err := s.reader.CommitMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.CodeMessagingError, "commit event offset")
			}
		}
	}
}

func (s *EventSubscriber) Close() error { return s.reader.Close() }
