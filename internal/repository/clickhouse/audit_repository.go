package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"bizagents/internal/audit"
	"bizagents/internal/metrics"
	"bizagents/pkg/clickhouse"
	"bizagents/pkg/errors"
)

// DefaultAuditTable is the append-only analytics copy of the audit log
const DefaultAuditTable = "audit_entries"

// auditRow is the column layout of the audit table
type auditRow struct {
	ID        uuid.UUID `ch:"id"`
	Timestamp time.Time `ch:"timestamp"`
	Kind      string    `ch:"kind"`
	Subject   string    `ch:"subject"`
	Workflow  string    `ch:"workflow"`
	RunID     uuid.UUID `ch:"run_id"`
	StepIndex int32     `ch:"step_index"`
	Details   string    `ch:"details"`
}

func toAuditRow(e audit.Entry) (auditRow, error) {
	details := "{}"
	if len(e.Details) > 0 {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return auditRow{}, errors.Wrapf(err, "marshal details of %s entry", e.Kind)
		}
		details = string(data)
	}
	return auditRow{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Kind:      string(e.Kind),
		Subject:   e.Subject,
		Workflow:  e.Workflow,
		RunID:     e.RunID,
		StepIndex: int32(e.StepIndex()),
		Details:   details,
	}, nil
}

func (r auditRow) entry() (audit.Entry, error) {
	e := audit.Entry{
		ID:        r.ID,
		Timestamp: r.Timestamp.UTC(),
		Kind:      audit.Kind(r.Kind),
		Subject:   r.Subject,
		Workflow:  r.Workflow,
		RunID:     r.RunID,
	}
	if r.Details != "" && r.Details != "{}" {
		if err := json.Unmarshal([]byte(r.Details), &e.Details); err != nil {
			return audit.Entry{}, errors.Wrapf(err, "unmarshal details of entry %s", r.ID)
		}
	}
	return e, nil
}

// AuditRepositoryConfig configures the ClickHouse audit sink
type AuditRepositoryConfig struct {
	Table        string        // Default: audit_entries
	MaxBatchSize int           // Default: 500
	MaxAge       time.Duration // Default: 5s
}

// AuditRepository is an audit.Sink that buffers entries and inserts them
// into ClickHouse in batches. It also serves historical queries that
// outlive the in-memory log.
type AuditRepository struct {
	conn        driver.Conn
	table       string
	batchWriter *clickhouse.BatchWriter[auditRow]
}

var _ audit.Sink = (*AuditRepository)(nil)

// NewAuditRepository creates the repository; call Start to enable periodic flushes
func NewAuditRepository(conn driver.Conn, cfg AuditRepositoryConfig) *AuditRepository {
	if cfg.Table == "" {
		cfg.Table = DefaultAuditTable
	}
	repo := &AuditRepository{conn: conn, table: cfg.Table}

	repo.batchWriter = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[auditRow]{
		FlushFunc:    repo.flushBatch,
		TableName:    cfg.Table,
		MaxBatchSize: cfg.MaxBatchSize,
		MaxAge:       cfg.MaxAge,
		OnFlushError: func(batch []auditRow, err error) {
			metrics.AuditSinkDropped.WithLabelValues("clickhouse", "error").Add(float64(len(batch)))
		},
	})

	return repo
}

// EnsureTable creates the audit table when it does not exist
func (r *AuditRepository) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID,
			timestamp DateTime64(3, 'UTC'),
			kind LowCardinality(String),
			subject String,
			workflow String,
			run_id UUID,
			step_index Int32,
			details String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (subject, timestamp, id)`, r.table)

	if err := r.conn.Exec(ctx, query); err != nil {
		return errors.Wrapf(err, "create table %s", r.table)
	}
	return nil
}

// Start begins the background flush loop
func (r *AuditRepository) Start(ctx context.Context) {
	r.batchWriter.Start(ctx)
}

// Stop flushes buffered entries and stops the flush loop
func (r *AuditRepository) Stop(ctx context.Context) error {
	return r.batchWriter.Stop(ctx)
}

// Name implements audit.Sink
func (r *AuditRepository) Name() string {
	return "clickhouse"
}

// Write implements audit.Sink. The entry is buffered, not inserted immediately.
func (r *AuditRepository) Write(ctx context.Context, entry audit.Entry) error {
	row, err := toAuditRow(entry)
	if err != nil {
		return err
	}
	// flush failures are already counted per row by OnFlushError
	_ = r.batchWriter.Add(ctx, row)
	return nil
}

// flushBatch sends one batch INSERT through the native protocol:
// PrepareBatch, Append per row (in memory), then a single Send.
func (r *AuditRepository) flushBatch(ctx context.Context, batch []auditRow) error {
	if len(batch) == 0 {
		return nil
	}

	stmt, err := r.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, timestamp, kind, subject, workflow, run_id, step_index, details)", r.table))
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	defer stmt.Close()

	for _, row := range batch {
		if err := stmt.Append(
			row.ID, row.Timestamp, row.Kind, row.Subject,
			row.Workflow, row.RunID, row.StepIndex, row.Details,
		); err != nil {
			return errors.Wrapf(err, "failed to append entry %s", row.ID)
		}
	}

	if err := stmt.Send(); err != nil {
		return errors.Wrap(err, "failed to send batch")
	}
	return nil
}

// Query returns stored entries matching the filter, oldest first.
// limit <= 0 means no limit.
func (r *AuditRepository) Query(ctx context.Context, f audit.Filter, limit int) ([]audit.Entry, error) {
	query, args := buildAuditQuery(r.table, f, limit)

	var rows []auditRow
	if err := r.conn.Select(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}

	entries := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := row.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func buildAuditQuery(table string, f audit.Filter, limit int) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, f.Subject)
	}
	if f.Workflow != "" {
		where = append(where, "workflow = ?")
		args = append(args, f.Workflow)
	}
	if f.RunID != uuid.Nil {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if len(f.Kinds) > 0 {
		placeholders := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, f.Until)
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, timestamp, kind, subject, workflow, run_id, step_index, details FROM ")
	sb.WriteString(table)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY timestamp, id")
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String(), args
}
