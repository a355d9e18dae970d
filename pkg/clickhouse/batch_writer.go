package clickhouse

import (
	"context"
	"sync"
	"time"

	"bizagents/pkg/logger"
)

// FlushFunc performs the INSERT of one batch
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter buffers rows in memory and inserts them in batches, either when
// the buffer reaches MaxBatchSize or every MaxAge. Single-row inserts are
// expensive in ClickHouse.
type BatchWriter[T any] struct {
	flushFunc FlushFunc[T]
	onError   func(batch []T, err error)
	buffer    []T
	mu        sync.Mutex
	log       *logger.Logger

	maxBatchSize int
	maxAge       time.Duration
	tableName    string

	lastFlush time.Time
	flushed   int64
	failed    int64
	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
}

// BatchWriterConfig configures a BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	TableName    string
	MaxBatchSize int           // Default: 500
	MaxAge       time.Duration // Default: 5s

	// OnFlushError is called with the rows of a failed batch. The rows are not retried.
	OnFlushError func(batch []T, err error)
}

// NewBatchWriter creates a batch writer; call Start to enable periodic flushes
func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		onError:      cfg.OnFlushError,
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		maxBatchSize: cfg.MaxBatchSize,
		maxAge:       cfg.MaxAge,
		tableName:    cfg.TableName,
		lastFlush:    time.Now(),
		stopCh:       make(chan struct{}),
		log:          logger.Component("batch_writer").With("table", cfg.TableName),
	}
}

// Start begins the background flush ticker
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return
	}
	bw.running = true
	bw.ticker = time.NewTicker(bw.maxAge)
	bw.mu.Unlock()

	bw.wg.Add(1)
	go bw.flushLoop(ctx)

	bw.log.Infof("BatchWriter started (maxBatchSize=%d, maxAge=%v)", bw.maxBatchSize, bw.maxAge)
}

// Add buffers an item and flushes synchronously when the buffer is full
func (bw *BatchWriter[T]) Add(ctx context.Context, item T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, item)
	shouldFlush := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if shouldFlush {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered items
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxBatchSize)
	bw.lastFlush = time.Now()
	bw.mu.Unlock()

	// Flush outside of lock to avoid blocking Add() calls
	start := time.Now()
	err := bw.flushFunc(ctx, batch)
	duration := time.Since(start)

	bw.mu.Lock()
	if err != nil {
		bw.failed += int64(len(batch))
	} else {
		bw.flushed += int64(len(batch))
	}
	bw.mu.Unlock()

	if err != nil {
		bw.log.Errorf("Failed to flush %d items to %s: %v (took %v)",
			len(batch), bw.tableName, err, duration)
		if bw.onError != nil {
			bw.onError(batch, err)
		}
		return err
	}

	bw.log.Debugf("Flushed %d items to %s (took %v)", len(batch), bw.tableName, duration)
	return nil
}

func (bw *BatchWriter[T]) flushLoop(ctx context.Context) {
	defer bw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			bw.log.Info("BatchWriter stopping, performing final flush...")
			if err := bw.Flush(context.WithoutCancel(ctx)); err != nil {
				bw.log.Errorf("Final flush failed: %v", err)
			}
			return

		case <-bw.stopCh:
			bw.log.Info("BatchWriter received stop signal, performing final flush...")
			if err := bw.Flush(context.WithoutCancel(ctx)); err != nil {
				bw.log.Errorf("Final flush failed: %v", err)
			}
			return

		case <-bw.ticker.C:
			bw.mu.Lock()
			bufferSize := len(bw.buffer)
			age := time.Since(bw.lastFlush)
			bw.mu.Unlock()

			if bufferSize > 0 {
				bw.log.Debugf("Periodic flush triggered: %d items, age=%v", bufferSize, age)
				if err := bw.Flush(ctx); err != nil {
					bw.log.Errorf("Periodic flush failed: %v", err)
				}
			}
		}
	}
}

// Stop flushes remaining items and waits for the flush loop to exit
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return bw.Flush(ctx)
	}
	bw.running = false
	bw.mu.Unlock()

	if bw.ticker != nil {
		bw.ticker.Stop()
	}
	close(bw.stopCh)

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		bw.log.Info("BatchWriter stopped gracefully")
		// rows added after the loop exited on ctx cancellation
		return bw.Flush(ctx)
	case <-ctx.Done():
		bw.log.Warn("BatchWriter stop timed out")
		return ctx.Err()
	}
}

// BufferSize returns the number of rows waiting for a flush
func (bw *BatchWriter[T]) BufferSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// BatchWriterStats is a point-in-time view of a writer
type BatchWriterStats struct {
	BufferSize   int
	Flushed      int64
	Failed       int64
	LastFlushAge time.Duration
	MaxBatchSize int
	MaxAge       time.Duration
	Running      bool
}

// GetStats returns current statistics
func (bw *BatchWriter[T]) GetStats() BatchWriterStats {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	return BatchWriterStats{
		BufferSize:   len(bw.buffer),
		Flushed:      bw.flushed,
		Failed:       bw.failed,
		LastFlushAge: time.Since(bw.lastFlush),
		MaxBatchSize: bw.maxBatchSize,
		MaxAge:       bw.maxAge,
		Running:      bw.running,
	}
}
