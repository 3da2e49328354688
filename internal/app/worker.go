package app

import (
	"context"
	"fmt"

	"github.com/turtacn/discovery-engine/internal/config"
	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/database/redis"
	"github.com/turtacn/discovery-engine/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/internal/worker"
)

// WorkerOption customizes BuildWorker.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	logger logging.Logger
	source worker.Source
}

// WithWorkerLogger uses l instead of building one from config.Log.
func WithWorkerLogger(l logging.Logger) WorkerOption {
	return func(o *workerOptions) { o.logger = l }
}

// WithEventSource consumes src instead of the configured Kafka topic.
func WithEventSource(src worker.Source) WorkerOption {
	return func(o *workerOptions) { o.source = src }
}

// Worker is the event consumer process: the pool, its source and the
// infrastructure its handlers write to.
type Worker struct {
	*Container
	Source   worker.Source
	Pool     *worker.Pool
	Activity *redis.ActivityLog
}

// BuildWorker wires the event worker. It needs Kafka unless a source is
// injected; Redis is optional and enables the session activity projection.
func BuildWorker(ctx context.Context, cfg *config.Config, opts ...WorkerOption) (w *Worker, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	o := &workerOptions{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close()
			w = nil
		}
	}()
	if err = c.initLogger(&buildOptions{logger: o.logger}); err != nil {
		return nil, err
	}
	if err = c.initMetrics(); err != nil {
		return nil, err
	}
	if err = c.initRedis(); err != nil {
		return nil, err
	}

	w = &Worker{Container: c, Source: o.source}
	if w.Source == nil {
		if !cfg.Kafka.Enabled() {
			return nil, fmt.Errorf("app: the worker needs kafka.brokers")
		}
		sub, serr := kafka.NewEventSubscriber(kafka.SubscriberConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Worker.GroupID,
		}, c.Logger)
		if serr != nil {
			return nil, serr
		}
		c.onClose("kafka", sub.Close)
		w.Source = sub
	}

	wc := cfg.Worker
	w.Pool = worker.NewPool(worker.Config{
		Workers:        wc.Workers,
		HandlerTimeout: wc.HandlerTimeout,
		MaxRetries:     wc.MaxRetries,
		RetryBackoff:   wc.RetryBackoff,
	}, c.Logger, worker.WithRecorder(c.Metrics))
	w.Pool.OnAll(worker.LogEvent(c.Logger))
	w.Pool.On(workflow.EventDockingCompleted, worker.LogDockingOutcome(c.Logger))
	if c.Redis != nil {
		w.Activity = redis.NewActivityLog(c.Redis, wc.ActivityTTL, c.Logger)
		w.Pool.OnAll(worker.RecordActivity(w.Activity))
	}

	c.Logger.Info("event worker wired",
		logging.Int("workers", wc.Workers),
		logging.String("group", wc.GroupID),
		logging.Bool("activity", w.Activity != nil))
	return w, nil
}

// Run consumes events until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	return w.Pool.Run(ctx, w.Source)
}
