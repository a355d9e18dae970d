package metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// EngineStats is a point-in-time view of the orchestration engine
type EngineStats struct {
	AgentsByState map[string]int
	AuditEntries  int
	SlotCapacity  int
}

// StatsSource is implemented by the orchestration engine
type StatsSource interface {
	Stats() EngineStats
}

// EngineCollector exports engine state (and persisted run counts when
// Postgres is configured) at scrape time.
type EngineCollector struct {
	log      *logger.Logger
	source   StatsSource
	postgres *sqlx.DB

	agents       *prometheus.Desc
	auditEntries *prometheus.Desc
	slotCapacity *prometheus.Desc
	storedRuns   *prometheus.Desc
}

// NewEngineCollector creates a collector. postgres may be nil.
func NewEngineCollector(log *logger.Logger, source StatsSource, postgres *sqlx.DB) *EngineCollector {
	return &EngineCollector{
		log:      log,
		source:   source,
		postgres: postgres,

		agents: prometheus.NewDesc(
			"bizagents_agents",
			"Registered agents by lifecycle state",
			[]string{"state"}, nil,
		),
		auditEntries: prometheus.NewDesc(
			"bizagents_audit_log_entries",
			"Entries held in the in-memory audit log",
			nil, nil,
		),
		slotCapacity: prometheus.NewDesc(
			"bizagents_workflow_slot_capacity",
			"Maximum number of concurrently executing workflows",
			nil, nil,
		),
		storedRuns: prometheus.NewDesc(
			"bizagents_stored_workflow_runs",
			"Persisted workflow runs by status (last 24h)",
			[]string{"status"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.agents
	ch <- c.auditEntries
	ch <- c.slotCapacity
	ch <- c.storedRuns
}

// Collect implements prometheus.Collector
func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	for state, count := range stats.AgentsByState {
		ch <- prometheus.MustNewConstMetric(c.agents, prometheus.GaugeValue, float64(count), state)
	}
	ch <- prometheus.MustNewConstMetric(c.auditEntries, prometheus.GaugeValue, float64(stats.AuditEntries))
	ch <- prometheus.MustNewConstMetric(c.slotCapacity, prometheus.GaugeValue, float64(stats.SlotCapacity))

	if c.postgres != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.collectStoredRuns(ctx, ch)
	}
}

func (c *EngineCollector) collectStoredRuns(ctx context.Context, ch chan<- prometheus.Metric) {
	type runStat struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}

	var stats []runStat
	err := c.postgres.SelectContext(ctx, &stats, `
		SELECT status, COUNT(*) AS count
		FROM workflow_runs
		WHERE started_at > NOW() - INTERVAL '24 hours'
		GROUP BY status
	`)
	if err != nil {
		c.log.Warnw("Failed to collect workflow run stats", "error", err)
		return
	}

	for _, stat := range stats {
		ch <- prometheus.MustNewConstMetric(c.storedRuns, prometheus.GaugeValue, float64(stat.Count), stat.Status)
	}
}

// RegisterEngineCollector registers the collector with the default registry.
// A second registration replaces the first.
func RegisterEngineCollector(collector *EngineCollector) error {
	err := prometheus.Register(collector)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		prometheus.Unregister(are.ExistingCollector)
		return prometheus.Register(collector)
	}
	return err
}
