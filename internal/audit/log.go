package audit

import (
	"context"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bizagents/internal/metrics"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

const (
	defaultBuffer      = 1024
	defaultSinkTimeout = 5 * time.Second
)

// Sink receives a copy of every recorded entry, asynchronously.
// The in-memory log stays authoritative; sinks are best effort.
type Sink interface {
	Name() string
	Write(ctx context.Context, entry Entry) error
}

type sinkFunc struct {
	name string
	fn   func(ctx context.Context, entry Entry) error
}

func (s sinkFunc) Name() string                                 { return s.name }
func (s sinkFunc) Write(ctx context.Context, entry Entry) error { return s.fn(ctx, entry) }

// SinkFunc adapts a function to the Sink interface
func SinkFunc(name string, fn func(ctx context.Context, entry Entry) error) Sink {
	return sinkFunc{name: name, fn: fn}
}

// Log is the append-only audit log. Safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool

	sinks       []Sink
	ch          chan Entry
	wg          sync.WaitGroup
	dropped     atomic.Int64
	sinkTimeout time.Duration

	clock func() time.Time
	log   *logger.Logger
}

// Option configures a Log
type Option func(*Log)

// WithSinks forwards every entry to the given sinks
func WithSinks(sinks ...Sink) Option {
	return func(l *Log) { l.sinks = append(l.sinks, sinks...) }
}

// WithBuffer sets how many entries may wait for sinks before new ones are dropped (for sinks only)
func WithBuffer(size int) Option {
	return func(l *Log) {
		if size > 0 {
			l.ch = make(chan Entry, size)
		}
	}
}

// WithSinkTimeout bounds a single sink write
func WithSinkTimeout(d time.Duration) Option {
	return func(l *Log) {
		if d > 0 {
			l.sinkTimeout = d
		}
	}
}

// WithClock overrides the timestamp source (tests)
func WithClock(clock func() time.Time) Option {
	return func(l *Log) { l.clock = clock }
}

// WithLogger sets the logger
func WithLogger(log *logger.Logger) Option {
	return func(l *Log) { l.log = log }
}

// NewLog creates an audit log and starts the sink drain when sinks are configured
func NewLog(opts ...Option) *Log {
	l := &Log{
		sinkTimeout: defaultSinkTimeout,
		clock:       time.Now,
		log:         logger.Component("audit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ch == nil {
		l.ch = make(chan Entry, defaultBuffer)
	}

	if len(l.sinks) > 0 {
		l.wg.Add(1)
		go l.drain()
	}
	return l
}

// Record appends an entry, filling ID and Timestamp when unset, and returns
// the stored copy. It never blocks on sinks.
func (l *Log) Record(e Entry) Entry {
	l.mu.Lock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock().UTC()
	}
	e = e.clone()
	l.entries = append(l.entries, e)

	// Sending under the lock keeps sink order equal to log order and
	// cannot race with Close closing the channel.
	if len(l.sinks) > 0 && !l.closed {
		select {
		case l.ch <- e.clone():
		default:
			l.dropped.Add(1)
			metrics.AuditSinkDropped.WithLabelValues("all", "buffer_full").Inc()
			l.log.Warnw("Audit sink buffer full, entry kept in memory only",
				"kind", e.Kind,
				"subject", e.Subject,
				"entry_id", e.ID,
			)
		}
	}
	l.mu.Unlock()

	metrics.AuditEntries.WithLabelValues(string(e.Kind)).Inc()
	return e
}

func (l *Log) drain() {
	defer l.wg.Done()
	for e := range l.ch {
		for _, sink := range l.sinks {
			l.deliver(sink, e)
		}
	}
}

func (l *Log) deliver(sink Sink, e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), l.sinkTimeout)
	defer cancel()

	if err := sink.Write(ctx, e); err != nil {
		metrics.AuditSinkDropped.WithLabelValues(sink.Name(), "error").Inc()
		l.log.Warnw("Audit sink write failed",
			"sink", sink.Name(),
			"kind", e.Kind,
			"entry_id", e.ID,
			"error", err,
		)
	}
}

// Query returns the entries matching f, oldest first. The sequence is
// evaluated lazily over a snapshot taken when iteration starts; entries
// recorded during iteration are not visited.
func (l *Log) Query(f Filter) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		l.mu.RLock()
		// entries is append-only, so the prefix is never modified
		snapshot := l.entries[:len(l.entries):len(l.entries)]
		l.mu.RUnlock()

		for _, e := range snapshot {
			if !f.Match(e) {
				continue
			}
			if !yield(e.clone()) {
				return
			}
		}
	}
}

// Entries collects Query(f) into a slice
func (l *Log) Entries(f Filter) []Entry {
	return slices.Collect(l.Query(f))
}

// Len returns the number of recorded entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Dropped returns how many entries never reached the sinks because the buffer was full
func (l *Log) Dropped() int64 {
	return l.dropped.Load()
}

// Close stops sink delivery after the buffered entries are written.
// Recording keeps working in memory after Close.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, "audit sinks did not drain before shutdown deadline")
	}
}
