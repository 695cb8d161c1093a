// Package task implements the async Task Backend (spec.md §4.9): a pluggable
// queueing abstraction that decouples submitting background work (observation
// refresh, bank maintenance) from how it actually runs.
//
// Backend shapes follow the teacher's pkg/mqtt0.Broker: an atomic running
// flag, a mutex-guarded map of live state, and a background worker goroutine
// draining a channel in batches, logged with log/slog.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of background work, kept as a loosely-typed envelope so new
// task types can be added without changing the backend (spec.md §4.9: "tasks
// are opaque to the backend").
type Task struct {
	Type   string
	BankID string
	Args   map[string]any
}

// Executor routes a Task to its handler. Set via Backend.SetExecutor before
// the first Submit.
type Executor func(ctx context.Context, t Task) error

// Backend is the pluggable task execution abstraction (spec.md §4.9).
type Backend interface {
	SetExecutor(Executor)
	Submit(ctx context.Context, t Task) error
	// WaitIdle blocks until every submitted task has completed, or ctx is
	// done. Intended for tests; Inline is always idle.
	WaitIdle(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Inline executes every task synchronously on the calling goroutine, for
// embedded/CLI usage that wants a clean, worker-free exit (spec.md §4.9:
// "a synchronous backend for single-shot invocations").
type Inline struct {
	mu       sync.Mutex
	executor Executor
}

// NewInline creates an Inline backend.
func NewInline() *Inline {
	return &Inline{}
}

func (b *Inline) SetExecutor(e Executor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executor = e
}

func (b *Inline) Submit(ctx context.Context, t Task) error {
	b.mu.Lock()
	e := b.executor
	b.mu.Unlock()
	if e == nil {
		slog.Warn("task: no executor registered, skipping", "type", t.Type, "bank_id", t.BankID)
		return nil
	}
	return e(ctx, t)
}

func (b *Inline) WaitIdle(ctx context.Context) error { return nil }
func (b *Inline) Shutdown(ctx context.Context) error { return nil }

// ConcurrentConfig tunes the Concurrent backend's batching (spec.md §4.9).
type ConcurrentConfig struct {
	BatchSize     int
	BatchInterval time.Duration
	QueueSize     int
}

func (c *ConcurrentConfig) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

// Concurrent runs a background worker that batches tasks off an in-process
// queue, grounded on the original AsyncIOQueueBackend (batch_size,
// batch_interval, in-flight accounting) translated to Go's goroutine +
// channel idiom in place of asyncio's event loop.
type Concurrent struct {
	cfg ConcurrentConfig

	mu       sync.Mutex
	executor Executor

	running  atomic.Bool
	queue    chan Task
	inFlight atomic.Int64
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewConcurrent creates a Concurrent backend. Call Start before Submit.
func NewConcurrent(cfg ConcurrentConfig) *Concurrent {
	cfg.defaults()
	return &Concurrent{cfg: cfg}
}

func (b *Concurrent) SetExecutor(e Executor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executor = e
}

// Start launches the worker goroutine. Submit auto-starts it if omitted.
func (b *Concurrent) Start() {
	if b.running.Swap(true) {
		return
	}
	b.queue = make(chan Task, b.cfg.QueueSize)
	b.done = make(chan struct{})
	b.wg.Add(1)
	go b.worker()
	slog.Info("task: concurrent backend started", "batch_size", b.cfg.BatchSize, "batch_interval", b.cfg.BatchInterval)
}

func (b *Concurrent) Submit(ctx context.Context, t Task) error {
	if !b.running.Load() {
		b.Start()
	}
	select {
	case b.queue <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitIdle polls until the queue is drained and no task is in flight, or ctx
// is done (spec.md §4.9 test hook, grounded on wait_for_pending_tasks).
func (b *Concurrent) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !b.running.Load() || (len(b.queue) == 0 && b.inFlight.Load() == 0) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Concurrent) Shutdown(ctx context.Context) error {
	if !b.running.Swap(false) {
		return nil
	}
	close(b.done)
	waitCh := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
		slog.Info("task: concurrent backend shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Concurrent) worker() {
	defer b.wg.Done()
	for {
		batch := b.collectBatch()
		if len(batch) > 0 {
			b.processBatch(batch)
		}
		// After Shutdown, keep going until every queued task has run.
		select {
		case <-b.done:
			if len(b.queue) == 0 {
				return
			}
		default:
		}
		if len(batch) == 0 {
			select {
			case <-b.done:
				if len(b.queue) == 0 {
					return
				}
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// collectBatch drains up to BatchSize tasks, waiting at most BatchInterval
// for the batch to fill.
func (b *Concurrent) collectBatch() []Task {
	deadline := time.NewTimer(b.cfg.BatchInterval)
	defer deadline.Stop()
	var batch []Task
	for len(batch) < b.cfg.BatchSize {
		select {
		case t := <-b.queue:
			b.inFlight.Add(1)
			batch = append(batch, t)
		case <-deadline.C:
			return batch
		case <-b.done:
			return batch
		}
	}
	return batch
}

func (b *Concurrent) processBatch(batch []Task) {
	b.mu.Lock()
	e := b.executor
	b.mu.Unlock()

	logBatch(batch, len(b.queue))

	var wg sync.WaitGroup
	for _, t := range batch {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			defer b.inFlight.Add(-1)
			if e == nil {
				slog.Warn("task: no executor registered, skipping", "type", t.Type, "bank_id", t.BankID)
				return
			}
			if err := e(context.Background(), t); err != nil {
				slog.Error("task: execution failed", "type", t.Type, "bank_id", t.BankID, "error", err)
			}
		}(t)
	}
	wg.Wait()
}

// logBatch summarizes a batch by task type and bank_id distribution, mirroring
// the original backend's per-batch queue-stats logging (SPEC_FULL.md's
// supplemented observability features).
func logBatch(batch []Task, pending int) {
	counts := map[string]map[string]int{}
	for _, t := range batch {
		bucket, ok := counts[t.Type]
		if !ok {
			bucket = map[string]int{}
			counts[t.Type] = bucket
		}
		bucket[t.BankID]++
	}
	types := make([]string, 0, len(counts))
	for ty := range counts {
		types = append(types, ty)
	}
	sort.Strings(types)

	var parts []string
	for _, ty := range types {
		banks := counts[ty]
		bankNames := make([]string, 0, len(banks))
		for bankID := range banks {
			bankNames = append(bankNames, bankID)
		}
		sort.Strings(bankNames)
		var bankParts []string
		for _, bankID := range bankNames {
			bankParts = append(bankParts, fmt.Sprintf("%s:%d", bankID, banks[bankID]))
		}
		parts = append(parts, fmt.Sprintf("%s[%s]", ty, joinComma(bankParts)))
	}
	slog.Info("task: processing batch", "count", len(batch), "summary", joinComma(parts), "pending", pending)
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
