// Package audit records security and moderation events.
//
// Writes from the route middleware are fire-and-forget: the response is sent
// first and the row is inserted later by a small worker pool. A failed insert
// is logged and dropped, never retried and never reported to the caller.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sakif/soundboard/internal/model"
)

// Store is the persistence the writer needs.
type Store interface {
	CreateAuditLog(ctx context.Context, entry *model.AuditLog) error
}

// WriterConfig sizes the queue and the worker pool.
type WriterConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Writer drains a bounded queue of audit entries into the Store.
//
// SHUTDOWN:
// Enqueue holds mu for reading while it checks stopped and sends; Stop takes
// it exclusively to set stopped and close done. So every entry that made it
// into the queue was sent before done closed, and the workers' final drain
// sees it. Every accepted entry is written once or counted in Dropped.
type Writer struct {
	store   Store
	config  WriterConfig
	logger  *slog.Logger
	queue   chan *model.AuditLog
	done    chan struct{}
	wg      sync.WaitGroup
	start   sync.Once
	mu      sync.RWMutex
	stopped bool
	dropped atomic.Int64
}

func NewWriter(store Store, cfg WriterConfig, logger *slog.Logger) *Writer {
	cfg = cfg.withDefaults()
	return &Writer{
		store:  store,
		config: cfg,
		logger: logger,
		queue:  make(chan *model.AuditLog, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the workers. Calling it again has no effect.
func (w *Writer) Start() {
	w.start.Do(func() {
		w.logger.Info("starting audit writer",
			slog.Int("workers", w.config.Workers),
			slog.Int("queueSize", w.config.QueueSize),
		)
		for i := 0; i < w.config.Workers; i++ {
			w.wg.Add(1)
			go w.worker()
		}
	})
}

// Stop signals the workers, waits for them to write what is already queued,
// and returns. Entries enqueued afterwards are dropped. If the writer was
// never started, whatever is queued is dropped here.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		w.logger.Info("stopping audit writer", slog.Int("pending", len(w.queue)))
		close(w.done)
	}
	w.mu.Unlock()
	w.wg.Wait()

	for {
		select {
		case entry := <-w.queue:
			w.drop(entry, "writer stopped")
		default:
			return
		}
	}
}

// Enqueue schedules entry for writing and never blocks. It reports false
// when the entry was dropped because the queue is full or the writer stopped.
func (w *Writer) Enqueue(entry *model.AuditLog) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		w.drop(entry, "writer stopped")
		return false
	}
	select {
	case w.queue <- entry:
		return true
	default:
		w.drop(entry, "queue full")
		return false
	}
}

// Dropped is the number of entries discarded since the writer was created.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Writer) drop(entry *model.AuditLog, reason string) {
	w.dropped.Add(1)
	w.logger.Warn("audit entry dropped",
		slog.String("action", entry.Action),
		slog.String("reason", reason),
	)
}

func (w *Writer) worker() {
	defer w.wg.Done()

	for {
		select {
		case entry := <-w.queue:
			w.write(entry)
		case <-w.done:
			// Drain what was queued before shutdown.
			for {
				select {
				case entry := <-w.queue:
					w.write(entry)
				default:
					return
				}
			}
		}
	}
}

// write makes exactly one attempt.
func (w *Writer) write(entry *model.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	if err := w.store.CreateAuditLog(ctx, entry); err != nil {
		w.logger.Error("failed to write audit log",
			slog.String("action", entry.Action),
			slog.String("error", err.Error()),
		)
	}
}
