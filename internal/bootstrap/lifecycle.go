package bootstrap

import (
	"context"
	"sync"
	"time"

	chclient "bizagents/internal/adapters/clickhouse"
	"bizagents/internal/adapters/kafka"
	pgclient "bizagents/internal/adapters/postgres"
	redisclient "bizagents/internal/adapters/redis"
	"bizagents/internal/api"
	"bizagents/internal/orchestration"
	chrepo "bizagents/internal/repository/clickhouse"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
	}
}

// WithTimeout overrides the overall shutdown budget
func (l *Lifecycle) WithTimeout(d time.Duration) *Lifecycle {
	if d > 0 {
		l.shutdownTimeout = d
	}
	return l
}

// shutdownTargets lists everything Shutdown stops; nil fields are skipped
type shutdownTargets struct {
	httpServer        *api.Server
	workflowsConsumer *kafka.Consumer
	engine            *orchestration.Engine
	auditRepo         *chrepo.AuditRepository
	kafkaProducer     *kafka.Producer
	pgClient          *pgclient.Client
	chClient          *chclient.Client
	redisClient       *redisclient.Client
	errorTracker      errors.Tracker
}

// Shutdown performs coordinated cleanup in this order:
// 1. No new requests accepted, in-flight HTTP workflows finish
// 2. Kafka consumer unblocks, in-flight asynchronous runs finish
// 3. Agents disconnect in reverse dependency order, audit log drains
// 4. Audit batches flushed to ClickHouse
// 5. Producer closes after everything that publishes through it
// 6. Database connections
// 7. Errors and logs flushed
func (l *Lifecycle) Shutdown(wg *sync.WaitGroup, t shutdownTargets, log *logger.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	// ========================================
	// Step 1: Stop HTTP Server
	// ========================================
	log.Info("[1/8] Stopping HTTP server...")
	if t.httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, l.shutdownTimeout/2)
		if err := t.httpServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		} else {
			log.Info("✓ HTTP server stopped")
		}
		httpCancel()
	}

	// ========================================
	// Step 2: Close Kafka Consumer
	// Critical: close BEFORE waiting for goroutines, this unblocks ReadMessage()
	// ========================================
	log.Info("[2/8] Closing Kafka consumer...")
	if t.workflowsConsumer != nil {
		if err := t.workflowsConsumer.Close(); err != nil {
			log.Errorw("Kafka consumer close failed", "consumer", "workflows", "error", err)
		} else {
			log.Info("✓ Kafka consumer closed")
		}
	}

	// ========================================
	// Step 3: Wait for Goroutines
	// ========================================
	log.Info("[3/8] Waiting for background goroutines...")
	l.waitForGoroutines(wg, l.shutdownTimeout/4, log)

	// ========================================
	// Step 4: Disconnect agents and drain the audit log
	// ========================================
	log.Info("[4/8] Shutting down orchestration engine...")
	if t.engine != nil {
		if err := t.engine.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Engine shutdown completed with errors", "error", err)
		} else {
			log.Info("✓ Agents disconnected, audit log drained")
		}
	}

	// ========================================
	// Step 5: Flush audit batches
	// ========================================
	log.Info("[5/8] Flushing audit archive...")
	if t.auditRepo != nil {
		if err := t.auditRepo.Stop(shutdownCtx); err != nil {
			log.Errorw("Audit archive flush failed", "error", err)
		} else {
			log.Info("✓ Audit archive flushed")
		}
	}

	// ========================================
	// Step 6: Close Kafka Producer
	// ========================================
	log.Info("[6/8] Closing Kafka producer...")
	if t.kafkaProducer != nil {
		if err := t.kafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	// ========================================
	// Step 7: Close Database Connections
	// ========================================
	log.Info("[7/8] Closing database connections...")
	l.closeDatabases(t.pgClient, t.chClient, t.redisClient, log)

	// ========================================
	// Step 8: Flush Error Tracker and Logs
	// ========================================
	log.Info("[8/8] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, t.errorTracker, log)
	log.Info("✅ Graceful shutdown complete")
	_ = logger.Sync()
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	} else {
		log.Info("✓ Error tracker flushed")
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	log *logger.Logger,
) {
	var dbErrors []error

	if pgClient != nil {
		if err := pgClient.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "postgres"))
		}
	}

	if chClient != nil {
		if err := chClient.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "clickhouse"))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "redis"))
		}
	}

	if len(dbErrors) > 0 {
		log.Errorw("Database close errors", "errors", dbErrors)
	} else {
		log.Info("✓ Database connections closed")
	}
}
