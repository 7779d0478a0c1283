package match

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// PublishLog is an interface for publishing order book logs (trades, opens, cancels, rejects).
//
// IMPORTANT: Implementations must either:
//  1. Process logs synchronously before returning, OR
//  2. Clone the BookLog data before returning
//
// The caller recycles BookLog objects to a sync.Pool after Publish returns,
// so any asynchronous processing must work with cloned data.
type PublishLog interface {
	Publish(...*BookLog)
}

// MemoryPublishLog stores logs in memory, useful for testing.
type MemoryPublishLog struct {
	mu   sync.RWMutex
	logs []*BookLog
}

// NewMemoryPublishLog creates a new MemoryPublishLog.
func NewMemoryPublishLog() *MemoryPublishLog {
	return &MemoryPublishLog{
		logs: make([]*BookLog, 0),
	}
}

// Publish appends copies of the logs to the in-memory slice.
func (m *MemoryPublishLog) Publish(logs ...*BookLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, log := range logs {
		m.logs = append(m.logs, log.Clone())
	}
}

// Count returns the number of logs stored.
func (m *MemoryPublishLog) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}

// Get returns the log at the specified index.
func (m *MemoryPublishLog) Get(index int) *BookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logs[index]
}

// Logs returns a copy of all logs stored.
func (m *MemoryPublishLog) Logs() []*BookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logs := make([]*BookLog, len(m.logs))
	copy(logs, m.logs)
	return logs
}

// DiscardPublishLog discards all logs, useful for benchmarking.
type DiscardPublishLog struct {
}

// NewDiscardPublishLog creates a new DiscardPublishLog.
func NewDiscardPublishLog() *DiscardPublishLog {
	return &DiscardPublishLog{}
}

// Publish does nothing.
func (p *DiscardPublishLog) Publish(logs ...*BookLog) {

}

// MultiPublishLog forwards every batch to each sink in order.
type MultiPublishLog []PublishLog

func (m MultiPublishLog) Publish(logs ...*BookLog) {
	for _, sink := range m {
		sink.Publish(logs...)
	}
}

// logBatch is one Publish call carried through the ring buffer.
type logBatch []*BookLog

type batchHandler struct {
	sink PublishLog
}

func (h batchHandler) OnEvent(batch logBatch) {
	defer func() {
		if r := recover(); r != nil {
			logger.Sugar().Errorw("publish sink panicked", "panic", r)
		}
	}()
	h.sink.Publish(batch...)
}

// AsyncPublishLog decouples the matching actors from downstream sinks
// (broadcast, persistence, MQ). Publish clones the batch into an MPSC ring
// buffer; a single consumer goroutine hands it to the sink in publish order
// per market.
type AsyncPublishLog struct {
	name       string
	rb         *RingBuffer[logBatch]
	dropOnFull bool
	dropped    atomic.Uint64
}

type AsyncOption func(*AsyncPublishLog)

// WithDropWhenFull makes Publish discard a batch instead of waiting when the
// ring is full, so a stalled sink never holds up the book actors.
func WithDropWhenFull() AsyncOption {
	return func(a *AsyncPublishLog) {
		a.dropOnFull = true
	}
}

// WithPipelineName labels the pipeline in log output.
func WithPipelineName(name string) AsyncOption {
	return func(a *AsyncPublishLog) {
		a.name = name
	}
}

// NewAsyncPublishLog creates and starts the consumer. capacity must be a power of 2.
func NewAsyncPublishLog(capacity int64, sink PublishLog, opts ...AsyncOption) *AsyncPublishLog {
	a := &AsyncPublishLog{name: "events"}
	for _, opt := range opts {
		opt(a)
	}
	a.rb = NewRingBuffer[logBatch](capacity, batchHandler{sink: sink})
	a.rb.Start()
	return a
}

func (a *AsyncPublishLog) Publish(logs ...*BookLog) {
	if len(logs) == 0 {
		return
	}
	batch := make(logBatch, len(logs))
	for i, log := range logs {
		batch[i] = log.Clone()
	}
	if !a.dropOnFull {
		a.rb.Publish(batch)
		return
	}
	if !a.rb.TryPublish(batch) {
		if n := a.dropped.Add(1); n%1024 == 1 {
			logger.Warn("publish pipeline full, dropping batch",
				zap.String("pipeline", a.name),
				zap.String("market_id", logs[0].MarketID),
				zap.Uint64("dropped", n),
			)
		}
	}
}

// Dropped returns how many batches were discarded because the ring was full.
func (a *AsyncPublishLog) Dropped() uint64 {
	return a.dropped.Load()
}

// Pending returns the number of batches not yet handed to the sink.
func (a *AsyncPublishLog) Pending() int64 {
	return a.rb.GetPendingEvents()
}

// Shutdown stops accepting batches and waits until the backlog is drained.
func (a *AsyncPublishLog) Shutdown(ctx context.Context) error {
	return a.rb.Shutdown(ctx)
}
