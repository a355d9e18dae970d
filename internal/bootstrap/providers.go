package bootstrap

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"bizagents/internal/adapters/ai"
	chclient "bizagents/internal/adapters/clickhouse"
	"bizagents/internal/adapters/config"
	errnoop "bizagents/internal/adapters/errors/noop"
	"bizagents/internal/adapters/errors/sentry"
	"bizagents/internal/adapters/kafka"
	pgclient "bizagents/internal/adapters/postgres"
	redisclient "bizagents/internal/adapters/redis"
	"bizagents/internal/agents"
	"bizagents/internal/api"
	"bizagents/internal/api/health"
	"bizagents/internal/audit"
	"bizagents/internal/consumers"
	"bizagents/internal/domain/workflow_run"
	"bizagents/internal/events"
	"bizagents/internal/metrics"
	"bizagents/internal/orchestration"
	chrepo "bizagents/internal/repository/clickhouse"
	pgrepo "bizagents/internal/repository/postgres"
	redisrepo "bizagents/internal/repository/redis"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
	"bizagents/pkg/templates"
)

const connectTimeout = 30 * time.Second

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)

	c.Lifecycle.WithTimeout(cfg.Engine.ShutdownTimeout)
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects the enabled data stores
func (c *Container) MustInitInfrastructure() {
	ctx, cancel := context.WithTimeout(c.Context, connectTimeout)
	defer cancel()

	var err error

	if c.Config.Postgres.Enabled {
		c.Log.Info("Connecting to PostgreSQL...")
		c.PG, err = pgclient.NewClient(ctx, c.Config.Postgres)
		if err != nil {
			c.Log.Fatalf("failed to connect postgres: %v", err)
		}
		c.Log.Info("✓ PostgreSQL connected")
	}

	if c.Config.ClickHouse.Enabled {
		c.Log.Info("Connecting to ClickHouse...")
		c.CH, err = chclient.NewClient(ctx, c.Config.ClickHouse)
		if err != nil {
			c.Log.Fatalf("failed to connect clickhouse: %v", err)
		}
		c.Log.Info("✓ ClickHouse connected")
	}

	if c.Config.Redis.Enabled {
		c.Log.Info("Connecting to Redis...")
		c.Redis, err = redisclient.NewClient(ctx, c.Config.Redis)
		if err != nil {
			c.Log.Fatalf("failed to connect redis: %v", err)
		}
		c.Log.Info("✓ Redis connected")
	}
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories creates repositories over the connected stores
func (c *Container) MustInitRepositories() {
	ctx, cancel := context.WithTimeout(c.Context, connectTimeout)
	defer cancel()

	if c.PG != nil {
		c.Repos.Runs = pgrepo.NewWorkflowRunRepository(c.PG.DB())
		if err := c.Repos.Runs.EnsureSchema(ctx); err != nil {
			c.Log.Fatalf("failed to prepare workflow_runs schema: %v", err)
		}
	}

	if c.Redis != nil {
		c.Repos.RunCache = redisrepo.NewRunCache(c.Redis.Client(), c.Config.Redis.RunTTL)
	}

	if c.CH != nil {
		c.Repos.Audit = chrepo.NewAuditRepository(c.CH.Conn(), chrepo.AuditRepositoryConfig{
			MaxBatchSize: c.Config.ClickHouse.BatchSize,
			MaxAge:       c.Config.ClickHouse.FlushMaxAge,
		})
		if err := c.Repos.Audit.EnsureTable(ctx); err != nil {
			c.Log.Fatalf("failed to prepare audit table: %v", err)
		}
	}

	c.Log.Infow("✓ Repositories initialized",
		"runs", c.Repos.Runs != nil,
		"run_cache", c.Repos.RunCache != nil,
		"audit_archive", c.Repos.Audit != nil,
	)
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters initializes Kafka and the LLM provider
func (c *Container) MustInitAdapters() {
	if c.Config.Kafka.Enabled {
		c.Adapters.KafkaProducer = provideKafkaProducer(c.Config, c.Log)
		c.Adapters.WorkflowsConsumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: c.Config.Kafka.Brokers,
			GroupID: c.Config.Kafka.GroupID,
			Topic:   kafka.TopicWorkflowsSubmitted,
		})
	}

	var rdb *redis.Client
	if c.Redis != nil {
		rdb = c.Redis.Client()
	}
	c.Adapters.LLM = provideLLM(c.Context, c.Config, rdb, c.Log)
}

// ========================================
// Phase 5: Business Logic
// ========================================

// MustInitBusiness builds the audit log and the engine, then registers and
// seals the agents
func (c *Container) MustInitBusiness() {
	kpis, err := agents.NewKPIRegistry(agents.DefaultCatalog, c.Config.KPI.Thresholds)
	if err != nil {
		c.Log.Fatalf("invalid KPI configuration: %v", err)
	}
	c.Business.KPIs = kpis
	c.Business.Source = agents.SampleSource()
	c.Business.Templates = templates.Get()

	auditLog := audit.NewLog(
		audit.WithSinks(c.provideAuditSinks()...),
		audit.WithBuffer(c.Config.Engine.AuditBuffer),
		audit.WithLogger(logger.Component("audit")),
	)

	c.Business.Engine = orchestration.NewEngine(orchestration.EngineConfig{
		MaxConcurrentWorkflows: c.Config.Engine.MaxConcurrentWorkflows,
		DefaultStepTimeout:     c.Config.Engine.StepTimeout,
	}, auditLog)

	if err := agents.Register(c.Business.Engine.Registry, agents.Deps{
		KPIs:      c.Business.KPIs,
		Source:    c.Business.Source,
		LLM:       c.Adapters.LLM,
		Templates: c.Business.Templates,
	}); err != nil {
		c.Log.Fatalf("failed to register agents: %v", err)
	}
	c.Business.Engine.Registry.Seal()

	var db *sqlx.DB
	if c.PG != nil {
		db = c.PG.DB()
	}
	if err := metrics.RegisterEngineCollector(metrics.NewEngineCollector(logger.Component("metrics"), c.Business.Engine, db)); err != nil {
		c.Log.Warnw("Engine metrics collector not registered", "error", err)
	}

	c.Log.Infow("✓ Engine initialized",
		"agents", c.Business.Engine.Registry.ListAgents(),
		"max_concurrent_workflows", c.Config.Engine.MaxConcurrentWorkflows,
		"step_timeout", c.Config.Engine.StepTimeout,
	)
}

// provideAuditSinks returns the sinks for the enabled backends
func (c *Container) provideAuditSinks() []audit.Sink {
	var sinks []audit.Sink
	if c.Repos.Audit != nil {
		sinks = append(sinks, c.Repos.Audit)
	}
	if c.Adapters.KafkaProducer != nil {
		sinks = append(sinks, events.NewAuditPublisher(c.Adapters.KafkaProducer, c.Config.App.Name))
	}
	if c.Config.ErrorTracking.Enabled {
		sinks = append(sinks, audit.NewTrackerSink(c.ErrorTracker))
	}
	return sinks
}

// ========================================
// Phase 6: Result Handlers
// ========================================

// MustInitServices wires the run store and the result stream into the engine
func (c *Container) MustInitServices() {
	var (
		repo  workflow_run.Repository
		cache workflow_run.Cache
	)
	if c.Repos.Runs != nil {
		repo = c.Repos.Runs
	}
	if c.Repos.RunCache != nil {
		cache = c.Repos.RunCache
	}

	c.Services.Runs = workflow_run.NewService(repo, cache)
	c.Business.Engine.AddResultHandler(c.Services.Runs)

	if c.Adapters.KafkaProducer != nil {
		c.Business.Engine.AddResultHandler(events.NewResultPublisher(c.Adapters.KafkaProducer))
	}
}

// ========================================
// Phase 7: Application Layer
// ========================================

// MustInitApplication builds the HTTP server
func (c *Container) MustInitApplication() {
	c.Application.HealthHandler = health.New(
		logger.Component("health"),
		c.Config.App.Name,
		c.Config.App.Version,
		c.healthChecks()...,
	)

	var archive api.AuditArchive
	if c.Repos.Audit != nil {
		archive = c.Repos.Audit
	}
	c.Application.Handlers = api.NewHandlers(
		c.Business.Engine,
		c.Services.Runs,
		c.Business.Engine.Registry,
		c.Business.Engine.Audit,
		archive,
	)

	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Port:         c.Config.App.HTTPPort,
		ServiceName:  c.Config.App.Name,
		Version:      c.Config.App.Version,
		WriteTimeout: 5 * c.Config.Engine.StepTimeout,
	}, c.Application.HealthHandler, c.Application.Handlers, logger.Component("http"))
}

func (c *Container) healthChecks() []health.Check {
	var checks []health.Check
	if c.PG != nil {
		checks = append(checks, health.Check{Name: "postgres", Ping: c.PG.Health})
	}
	if c.CH != nil {
		checks = append(checks, health.Check{Name: "clickhouse", Ping: c.CH.Health})
	}
	if c.Redis != nil {
		checks = append(checks, health.Check{Name: "redis", Ping: c.Redis.Health})
	}
	return checks
}

// ========================================
// Phase 8: Background Processing
// ========================================

// MustInitBackground creates the workflow consumer when Kafka is enabled
func (c *Container) MustInitBackground() {
	if c.Adapters.WorkflowsConsumer == nil {
		return
	}
	c.Background.WorkflowConsumer = consumers.NewWorkflowConsumer(
		c.Adapters.WorkflowsConsumer,
		c.Business.Engine,
		4*c.Config.Engine.MaxConcurrentWorkflows,
	)
}

// ========================================
// Providers
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	log.Info("Initializing Kafka producer...")
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
	})
	log.Infow("✓ Kafka producer initialized", "brokers", cfg.Kafka.Brokers)
	return producer
}

// provideLLM returns nil when no provider is configured; agents then skip
// narratives
func provideLLM(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *logger.Logger) ai.ChatProvider {
	provider, err := ai.NewChatProvider(ctx, cfg.AI, rdb)
	switch {
	case errors.Is(err, errors.ErrUnavailable):
		log.Warn("No AI provider key configured, agents run without narratives")
		return nil
	case err != nil:
		log.Fatalf("failed to initialize AI provider: %v", err)
	}

	log.Infow("✓ AI provider initialized", "provider", provider.Name().String())
	return provider
}
