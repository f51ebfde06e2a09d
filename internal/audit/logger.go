package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riskwise/console/internal/platform/database"
	"github.com/riskwise/console/internal/platform/telemetry"
)

// Console traffic is human paced, so the queue is small; bursts come from
// failed logins and denied pages.
const (
	DefaultBufferSize    = 1024
	DefaultBatchSize     = 50
	DefaultFlushInterval = 500 * time.Millisecond
	DefaultFlushTimeout  = 5 * time.Second

	dropWarnEvery = 100
)

// LoggerConfig configures the async audit logger. Zero fields take the
// package defaults.
type LoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
}

func (c LoggerConfig) withDefaults() LoggerConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	return c
}

// AsyncLogger queues events and writes them in batches from one goroutine.
// Log never blocks; an event that finds the queue full, or arrives after
// Close, is counted as dropped.
type AsyncLogger struct {
	queue  chan Event
	store  *Store
	db     database.Querier
	cfg    LoggerConfig
	logger *slog.Logger
	now    func() time.Time

	closing chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Uint64
	once    sync.Once
}

// NewAsyncLogger starts the writer goroutine.
func NewAsyncLogger(db database.Querier, store *Store, cfg LoggerConfig) *AsyncLogger {
	cfg = cfg.withDefaults()
	l := &AsyncLogger{
		queue:   make(chan Event, cfg.BufferSize),
		store:   store,
		db:      db,
		cfg:     cfg,
		logger:  slog.Default().With("component", "audit"),
		now:     time.Now,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Log stamps the event with its time and source and queues it.
func (l *AsyncLogger) Log(ctx context.Context, event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now()
	}
	if event.Source == "" {
		event.Source = SourceConsole
	}
	if !l.closed.Load() {
		select {
		case l.queue <- event:
			return
		default:
		}
	}
	if n := l.dropped.Add(1); n == 1 || n%dropWarnEvery == 0 {
		telemetry.FromContext(ctx).Warn("audit event dropped",
			"component", "audit",
			"action", event.Action,
			"dropped_total", n,
		)
	}
}

// Dropped is the number of events lost so far.
func (l *AsyncLogger) Dropped() uint64 { return l.dropped.Load() }

// Close writes everything still queued and stops the writer. Later calls
// are no-ops.
func (l *AsyncLogger) Close() error {
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.closing)
		<-l.done
		// Events that raced the closed flag.
		l.write(l.drain())
		if n := l.dropped.Load(); n > 0 {
			l.logger.Warn("audit logger closed with dropped events", "dropped_total", n)
		}
	})
	return nil
}

func (l *AsyncLogger) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, l.cfg.BatchSize)
	for {
		select {
		case e := <-l.queue:
			batch = append(batch, e)
			if len(batch) < l.cfg.BatchSize {
				continue
			}
		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
		case <-l.closing:
			l.write(append(batch, l.drain()...))
			return
		}
		l.write(batch)
		batch = batch[:0]
	}
}

// write inserts events in chunks of at most BatchSize rows, each chunk under
// its own timeout. A failed chunk is logged and skipped.
func (l *AsyncLogger) write(events []Event) {
	for len(events) > 0 {
		n := min(len(events), l.cfg.BatchSize)
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.FlushTimeout)
		err := l.store.InsertBatch(ctx, l.db, events[:n])
		cancel()
		if err != nil {
			l.logger.Error("writing audit events failed", "error", err, "count", n)
		}
		events = events[n:]
	}
}

func (l *AsyncLogger) drain() []Event {
	var events []Event
	for {
		select {
		case e := <-l.queue:
			events = append(events, e)
		default:
			return events
		}
	}
}
