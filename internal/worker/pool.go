// Package worker consumes the workflow event stream with a fixed pool of
// goroutines. Events of one session always go to the same goroutine, so
// handlers see each session's events in publish order.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
)

// Source delivers events until ctx ends, e.g. kafka.EventSubscriber.
type Source interface {
	Run(ctx context.Context, handle kafka.EventHandler) error
}

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, ev workflow.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev workflow.Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev workflow.Event) error { return f(ctx, ev) }

// Recorder receives one observation per handled event.
type Recorder interface {
	RecordEventConsumed(eventType, status string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordEventConsumed(string, string, time.Duration) {}

// Config tunes a Pool.
type Config struct {
	Workers        int
	HandlerTimeout time.Duration
	MaxRetries     int
	// RetryBackoff is the first retry delay; it doubles on each attempt.
	RetryBackoff time.Duration
}

// Stats counts handled events.
type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// Pool dispatches events to handlers registered per event type.
type Pool struct {
	cfg      Config
	handlers map[workflow.EventType][]Handler
	always   []Handler
	recorder Recorder
	logger   logging.Logger

	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithRecorder reports each handled event to r.
func WithRecorder(r Recorder) Option {
	return func(p *Pool) {
		if r != nil {
			p.recorder = r
		}
	}
}

func NewPool(cfg Config, logger logging.Logger, opts ...Option) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	p := &Pool{
		cfg:      cfg,
		handlers: make(map[workflow.EventType][]Handler),
		recorder: nopRecorder{},
		logger:   logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// On registers h for events of type t. Register before Run.
func (p *Pool) On(t workflow.EventType, h Handler) {
	p.handlers[t] = append(p.handlers[t], h)
}

// OnAll registers h for every event type. Register before Run.
func (p *Pool) OnAll(h Handler) {
	p.always = append(p.always, h)
}

// Stats returns the counters so far.
func (p *Pool) Stats() Stats {
	return Stats{Processed: p.processed.Load(), Failed: p.failed.Load(), Skipped: p.skipped.Load()}
}

// Run consumes src until ctx ends or src fails, then lets the workers drain
// what was already dispatched. A handler that keeps failing after its
// retries is logged and counted; it never stops the pool.
func (p *Pool) Run(ctx context.Context, src Source) error {
	queues := make([]chan workflow.Event, p.cfg.Workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan workflow.Event, 16)
		wg.Add(1)
		go func(id int, in <-chan workflow.Event) {
			defer wg.Done()
			p.workerLoop(ctx, id, in)
		}(i, queues[i])
	}
	p.logger.Info("worker pool started", logging.Int("workers", p.cfg.Workers))

	err := src.Run(ctx, func(ctx context.Context, ev workflow.Event) error {
		select {
		case queues[p.shard(ev)] <- ev:
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	for _, q := range queues {
		close(q)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped",
		logging.Int64("processed", p.processed.Load()),
		logging.Int64("failed", p.failed.Load()))
	return err
}

func (p *Pool) shard(ev workflow.Event) int {
	if len(ev.SessionID) == 0 || p.cfg.Workers == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(ev.SessionID))
	return int(h.Sum32() % uint32(p.cfg.Workers))
}

func (p *Pool) workerLoop(ctx context.Context, id int, in <-chan workflow.Event) {
	for ev := range in {
		handlers := append(append([]Handler(nil), p.always...), p.handlers[ev.Type]...)
		if len(handlers) == 0 {
			p.skipped.Add(1)
			p.logger.Debug("no handler for event", logging.String("type", string(ev.Type)), logging.Int("worker_id", id))
			continue
		}

		start := time.Now()
		var failed bool
		for _, h := range handlers {
			if err := p.processWithRetry(ctx, h, ev, id); err != nil {
				failed = true
				p.logger.Error("event processing failed after retries",
					logging.String("type", string(ev.Type)),
					logging.String("event_id", ev.ID),
					logging.SessionID(ev.SessionID),
					logging.Int("worker_id", id),
					logging.Err(err))
			}
		}
		status := "ok"
		if failed {
			status = "error"
			p.failed.Add(1)
		} else {
			p.processed.Add(1)
		}
		p.recorder.RecordEventConsumed(string(ev.Type), status, time.Since(start))
	}
}

func (p *Pool) processWithRetry(ctx context.Context, h Handler, ev workflow.Event, workerID int) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.cfg.RetryBackoff << uint(attempt-1)
			p.logger.Warn("retrying event",
				logging.String("type", string(ev.Type)),
				logging.Int("attempt", attempt),
				logging.Duration("backoff", backoff),
				logging.Int("worker_id", workerID))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("abandoned after %d attempts: %w", attempt, lastErr)
			}
		}

		// Dispatched events are drained even after ctx ends.
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.HandlerTimeout)
		lastErr = h.Handle(hctx, ev)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("exhausted %d retries: %w", p.cfg.MaxRetries, lastErr)
}
