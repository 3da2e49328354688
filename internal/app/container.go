// Package app turns a Config into a running discovery engine. The REST
// server, the event worker and the CLI all build on Container so every front
// end wires the same stack.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/discovery-engine/internal/application/aggregation"
	"github.com/turtacn/discovery-engine/internal/application/discovery"
	dockingapp "github.com/turtacn/discovery-engine/internal/application/docking"
	"github.com/turtacn/discovery-engine/internal/application/session"
	domainDock "github.com/turtacn/discovery-engine/internal/domain/docking"
	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/config"
	"github.com/turtacn/discovery-engine/internal/infrastructure/database/memory"
	"github.com/turtacn/discovery-engine/internal/infrastructure/database/postgres"
	"github.com/turtacn/discovery-engine/internal/infrastructure/database/redis"
	"github.com/turtacn/discovery-engine/internal/infrastructure/database/sqlite"
	"github.com/turtacn/discovery-engine/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/discovery-engine/internal/infrastructure/storage/minio"
	"github.com/turtacn/discovery-engine/pkg/client"
)

// Check is a named readiness probe of one wired dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger   logging.Logger
	level    logging.LevelController
	repo     workflow.Repository
	services Services
}

// Services overrides the backend adapters built from config.Services. Nil
// fields keep the HTTP client's implementation.
type Services struct {
	Diseases   discovery.DiseaseLookup
	Proteins   discovery.ProteinLookup
	Candidates discovery.CandidateSource
	Docking    discovery.Docker
}

// WithLogger uses l instead of building one from config.Log.
func WithLogger(l logging.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithSessionRepository uses repo instead of the configured backend.
func WithSessionRepository(repo workflow.Repository) Option {
	return func(o *buildOptions) { o.repo = repo }
}

// WithServices replaces backend adapters, typically with test doubles.
func WithServices(s Services) Option {
	return func(o *buildOptions) { o.services = s }
}

// Container holds every long-lived component. Optional infrastructure is nil
// when its config section is disabled.
type Container struct {
	Config    *config.Config
	Logger    logging.Logger
	Level     logging.LevelController
	Collector prometheus.MetricsCollector
	Metrics   *prometheus.DiscoveryMetrics

	Client       *client.Client
	Sessions     *session.Store
	Orchestrator *dockingapp.Orchestrator
	Engine       *discovery.Engine

	Redis     *redis.Client
	Publisher *kafka.EventPublisher
	Artifacts *minio.ArtifactStore

	Checks []Check

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Build constructs the container. On error everything opened so far is
// closed.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (c *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}

	c = &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close()
			c = nil
		}
	}()

	if err = c.initLogger(o); err != nil {
		return c, err
	}
	if err = c.initMetrics(); err != nil {
		return c, err
	}
	repo, err := c.initSessionRepository(ctx, o.repo)
	if err != nil {
		return c, err
	}
	c.Sessions = session.NewStore(repo, c.Logger, session.WithMetrics(c.Metrics))

	if err = c.initClient(); err != nil {
		return c, err
	}
	if err = c.initRedis(); err != nil {
		return c, err
	}
	if err = c.initKafka(); err != nil {
		return c, err
	}
	if err = c.initMinIO(ctx); err != nil {
		return c, err
	}
	c.initEngine(o.services)

	c.Logger.Info("discovery engine wired",
		logging.String("session_backend", backendName(cfg, o.repo)),
		logging.Bool("redis", c.Redis != nil),
		logging.Bool("kafka", c.Publisher != nil),
		logging.Bool("minio", c.Artifacts != nil))
	return c, nil
}

func backendName(cfg *config.Config, override workflow.Repository) string {
	if override != nil {
		return "custom"
	}
	return cfg.Session.Backend
}

func (c *Container) onClose(name string, fn func() error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

func (c *Container) initLogger(o *buildOptions) error {
	if o.logger != nil {
		c.Logger = o.logger
		c.Level = o.level
		return nil
	}
	l, lvl, err := logging.NewLeveledLogger(logging.LogConfig{
		Level:       c.Config.Log.Level,
		Format:      c.Config.Log.Format,
		OutputPaths: c.Config.Log.OutputPaths,
	})
	if err != nil {
		return err
	}
	c.Logger, c.Level = l, lvl
	logging.SetDefault(l)
	c.onClose("logger", func() error {
		_ = l.Sync()
		return nil
	})
	return nil
}

func (c *Container) initMetrics() error {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            c.Config.Metrics.Namespace,
		Subsystem:            c.Config.Metrics.Subsystem,
		EnableProcessMetrics: c.Config.Metrics.Enabled,
		EnableGoMetrics:      c.Config.Metrics.Enabled,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Collector = collector
	c.Metrics = prometheus.NewDiscoveryMetrics(collector)
	return nil
}

func (c *Container) initSessionRepository(ctx context.Context, override workflow.Repository) (workflow.Repository, error) {
	if override != nil {
		return override, nil
	}
	sc := c.Config.Session
	switch sc.Backend {
	case config.BackendMemory:
		return memory.NewSessionRepository(), nil

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, sc.SQLitePath, c.Logger)
		if err != nil {
			return nil, err
		}
		c.onClose("sqlite", db.Close)
		c.Checks = append(c.Checks, Check{Name: "sessions", Fn: db.PingContext})
		return sqlite.NewSessionRepository(db), nil

	case config.BackendPostgres:
		pg := sc.Postgres
		conn, err := postgres.NewConnection(postgres.Config{
			Host:            pg.Host,
			Port:            pg.Port,
			Database:        pg.DBName,
			Username:        pg.User,
			Password:        pg.Password,
			SSLMode:         pg.SSLMode,
			MaxOpenConns:    pg.MaxConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.ConnMaxLifetime,
		}, c.Logger)
		if err != nil {
			return nil, err
		}
		c.onClose("postgres", conn.Close)
		if err := conn.RunMigrations(); err != nil {
			return nil, err
		}
		c.Checks = append(c.Checks, Check{Name: "sessions", Fn: conn.HealthCheck})
		return postgres.NewSessionRepository(conn), nil
	}
	return nil, fmt.Errorf("app: unknown session backend %q", sc.Backend)
}

func (c *Container) initClient() error {
	sc := c.Config.Services
	opts := []client.Option{
		client.WithLogger(c.Logger),
		client.WithTimeout(sc.Timeout),
		client.WithRetryMax(sc.MaxRetries),
		client.WithRetryWait(sc.RetryBackoff, 10*sc.RetryBackoff),
		client.WithStructureBaseURL(sc.StructureBase),
	}
	if sc.UserAgent != "" {
		opts = append(opts, client.WithUserAgent(sc.UserAgent))
	}
	cl, err := client.NewClient(sc.BaseURL, opts...)
	if err != nil {
		return err
	}
	c.Client = cl
	return nil
}

func (c *Container) initRedis() error {
	rc := c.Config.Redis
	if !rc.Enabled() {
		return nil
	}
	cl, err := redis.NewClient(redis.Config{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		KeyPrefix:    rc.KeyPrefix,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Redis = cl
	c.onClose("redis", cl.Close)
	c.Checks = append(c.Checks, Check{Name: "redis", Fn: cl.Ping})
	return nil
}

func (c *Container) initKafka() error {
	kc := c.Config.Kafka
	if !kc.Enabled() {
		return nil
	}
	pub, err := kafka.NewEventPublisher(kafka.PublisherConfig{
		Brokers:      kc.Brokers,
		Topic:        kc.Topic,
		BatchSize:    kc.BatchSize,
		BatchTimeout: kc.BatchTimeout,
		MaxAttempts:  kc.MaxAttempts,
		RequiredAcks: kc.RequiredAcks,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Publisher = pub.WithObserver(c.Metrics)
	c.onClose("kafka", pub.Close)
	return nil
}

func (c *Container) initMinIO(ctx context.Context) error {
	mc := c.Config.MinIO
	if !mc.Enabled() {
		return nil
	}
	store, err := minio.NewArtifactStore(ctx, minio.Config{
		Endpoint:      mc.Endpoint,
		AccessKey:     mc.AccessKey,
		SecretKey:     mc.SecretKey,
		Bucket:        mc.Bucket,
		Region:        mc.Region,
		UseSSL:        mc.UseSSL,
		PresignExpiry: mc.PresignExpiry,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Artifacts = store
	c.Checks = append(c.Checks, Check{Name: "minio", Fn: store.EnsureBucket})
	return nil
}

func (c *Container) initEngine(s Services) {
	cfg := c.Config
	if s.Diseases == nil {
		s.Diseases = c.Client.Diseases()
	}
	if s.Proteins == nil {
		s.Proteins = c.Client.Proteins()
	}
	if s.Candidates == nil {
		s.Candidates = c.Client.Candidates()
	}
	if s.Docking == nil {
		dockOpts := []dockingapp.Option{
			dockingapp.WithMetrics(c.Metrics),
			dockingapp.WithDefaultParams(domainDock.Params{NumPoses: cfg.Docking.NumPoses}),
		}
		if c.Redis != nil {
			dockOpts = append(dockOpts, dockingapp.WithLocker(redis.NewLockFactory(c.Redis, cfg.Docking.LockTTL, c.Logger)))
		}
		if c.Artifacts != nil {
			dockOpts = append(dockOpts, dockingapp.WithArtifactStore(c.Artifacts))
		}
		dc := c.Client.Docking()
		c.Orchestrator = dockingapp.NewOrchestrator(c.Client.Proteins(), dc, dc, dc, c.Logger, dockOpts...)
		s.Docking = c.Orchestrator
	}

	aggOpts := []aggregation.Option{
		aggregation.WithMetrics(c.Metrics),
		aggregation.WithFetchTimeout(cfg.Aggregation.FetchTimeout),
	}
	if c.Redis != nil {
		aggOpts = append(aggOpts, aggregation.WithSecondLevel(
			redis.NewCandidateCache(c.Redis, c.Logger, redis.WithTTL(cfg.Aggregation.L2TTL))))
	}

	engineOpts := []discovery.Option{
		discovery.WithMetrics(c.Metrics),
		discovery.WithAggregationOptions(aggOpts...),
		discovery.WithAutoSync(cfg.Session.AutoSync),
		discovery.WithGenerationDefaults(cfg.Generation.GenerationParams),
		discovery.WithGenerationParallelism(cfg.Generation.MaxParallel),
	}
	if c.Publisher != nil {
		engineOpts = append(engineOpts, discovery.WithEventPublisher(c.Publisher))
	}
	c.Engine = discovery.NewEngine(discovery.Dependencies{
		Diseases:   s.Diseases,
		Proteins:   s.Proteins,
		Candidates: s.Candidates,
		Sessions:   c.Sessions,
		Docking:    s.Docking,
	}, c.Logger, engineOpts...)
}

// WatchConfig applies log level changes from path until the process exits.
// Other settings need a restart.
func (c *Container) WatchConfig(path string) error {
	if path == "" || c.Level == nil {
		return nil
	}
	return config.Watch(path, func(next *config.Config) {
		if next.Log.Level == c.Config.Log.Level {
			return
		}
		c.Level.SetLevel(next.Log.Level)
		c.Logger.Info("log level changed",
			logging.String("from", c.Config.Log.Level), logging.String("to", next.Log.Level))
		c.Config.Log.Level = next.Log.Level
	}, func(err error) {
		c.Logger.Warn("config reload rejected", logging.Err(err))
	})
}

// Close releases resources in reverse order of acquisition and returns the
// first error.
func (c *Container) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.fn(); err != nil {
			if c.Logger != nil {
				c.Logger.Warn("close failed", logging.String("component", cl.name), logging.Err(err))
			}
			if first == nil {
				first = err
			}
		}
	}
	c.closers = nil
	return first
}

// Ping runs every readiness check with timeout and returns the failures by
// name.
func (c *Container) Ping(ctx context.Context, timeout time.Duration) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	failed := make(map[string]error)
	for _, ch := range c.Checks {
		if err := ch.Fn(ctx); err != nil {
			failed[ch.Name] = err
		}
	}
	return failed
}
