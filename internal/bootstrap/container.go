package bootstrap

import (
	"context"
	"sync"

	"bizagents/internal/adapters/ai"
	chclient "bizagents/internal/adapters/clickhouse"
	"bizagents/internal/adapters/config"
	"bizagents/internal/adapters/kafka"
	pgclient "bizagents/internal/adapters/postgres"
	redisclient "bizagents/internal/adapters/redis"
	"bizagents/internal/agents"
	"bizagents/internal/api"
	"bizagents/internal/api/health"
	"bizagents/internal/consumers"
	"bizagents/internal/domain/workflow_run"
	"bizagents/internal/orchestration"
	chrepo "bizagents/internal/repository/clickhouse"
	pgrepo "bizagents/internal/repository/postgres"
	redisrepo "bizagents/internal/repository/redis"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
	"bizagents/pkg/templates"
)

// Container holds all application dependencies and their lifecycle.
// Components are organized in initialization order; every backend is
// optional and stays nil when disabled.
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (Data stores)
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	Repos       *Repositories
	Adapters    *Adapters
	Business    *Business
	Services    *Services
	Application *Application
	Background  *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups persistence for runs and audit entries
type Repositories struct {
	Runs     *pgrepo.WorkflowRunRepository
	RunCache *redisrepo.RunCache
	Audit    *chrepo.AuditRepository
}

// Adapters groups external adapters
type Adapters struct {
	KafkaProducer     *kafka.Producer
	WorkflowsConsumer *kafka.Consumer

	// LLM is nil when no provider key is configured
	LLM ai.ChatProvider
}

// Business groups the orchestration engine and the agent domain
type Business struct {
	Engine    *orchestration.Engine
	KPIs      *agents.KPIRegistry
	Source    agents.KPISource
	Templates *templates.Registry
}

// Services groups result handlers
type Services struct {
	Runs *workflow_run.Service
}

// Application groups the HTTP surface
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
	Handlers      *api.Handlers
}

// Background groups asynchronous workflow intake
type Background struct {
	WorkflowConsumer *consumers.WorkflowConsumer
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Business:    &Business{},
		Services:    &Services{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order.
// Panics on any initialization error (fail-fast at startup).
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitComponents()
}

// MustInitComponents runs every phase after configuration and logging
func (c *Container) MustInitComponents() {
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitBusiness()
	c.MustInitServices()
	c.MustInitApplication()
	c.MustInitBackground()
}

// Start starts the HTTP server and consumers
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if c.Repos.Audit != nil {
		c.Repos.Audit.Start(c.Context)
	}

	if err := c.startConsumers(); err != nil {
		return err
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	c.Log.Infow("✓ All systems operational",
		"agents", len(c.Business.Engine.Registry.ListAgents()),
		"llm", c.Adapters.LLM != nil,
	)
	return nil
}

// startConsumers starts Kafka consumers in background goroutines
func (c *Container) startConsumers() error {
	svc := c.Background.WorkflowConsumer
	if svc == nil {
		c.Log.Info("Kafka disabled, asynchronous submissions off")
		return nil
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := svc.Start(c.Context); err != nil && c.Context.Err() == nil {
			c.Log.Errorw("workflow consumer failed", "error", err)
		}
	}()

	c.Log.Infow("✓ Event consumers started", "consumers", []string{"workflows"})
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	if c.Business.Engine != nil {
		c.Log.Infow("Engine state before shutdown", "metrics", c.GetMetrics())
	}

	// Cancel application context to signal consumers to stop reading
	c.Cancel()

	c.Lifecycle.Shutdown(c.WG, shutdownTargets{
		httpServer:        c.Application.HTTPServer,
		workflowsConsumer: c.Adapters.WorkflowsConsumer,
		engine:            c.Business.Engine,
		auditRepo:         c.Repos.Audit,
		kafkaProducer:     c.Adapters.KafkaProducer,
		pgClient:          c.PG,
		chClient:          c.CH,
		redisClient:       c.Redis,
		errorTracker:      c.ErrorTracker,
	}, c.Log)
}

// GetMetrics returns a summary for observability
func (c *Container) GetMetrics() map[string]interface{} {
	stats := c.Business.Engine.Stats()
	return map[string]interface{}{
		"agents":        stats.AgentsByState,
		"audit_entries": stats.AuditEntries,
		"slot_capacity": stats.SlotCapacity,
	}
}
