package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelgate/agent-gateway/internal/config"
)

// Flusher delivers a batch of events to its destination.
type Flusher interface {
	Flush(ctx context.Context, batch []AgentEvent) error
}

// Buffer queues events and flushes them in batches, either when the queue
// reaches the flush threshold or on a timer.
//
// Delivery is at-least-once best effort: a failed batch is held aside and
// retried once before being dropped. Events enqueued while a failed batch
// waits form their own batch with their own retry. The queue is capped;
// when full, the oldest events are dropped first so a dead sink cannot
// grow memory without bound.
type Buffer struct {
	mu      sync.Mutex
	queue   []AgentEvent
	pending []AgentEvent // failed batch awaiting its one retry

	flusher Flusher
	wake    chan struct{}
	done    chan struct{}
	closed  bool

	onFlushed func(n int)
	onDropped func(n int)
}

// NewBuffer returns a buffer delivering through the given flusher. Call
// Start to begin background flushing.
func NewBuffer(flusher Flusher) *Buffer {
	return &Buffer{
		flusher: flusher,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// OnFlushed registers a callback invoked with each successful batch size.
func (b *Buffer) OnFlushed(fn func(n int)) { b.onFlushed = fn }

// OnDropped registers a callback invoked with each dropped event count.
func (b *Buffer) OnDropped(fn func(n int)) { b.onDropped = fn }

// Enqueue adds an event to the queue. Never blocks.
func (b *Buffer) Enqueue(ev AgentEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if over := len(b.queue) + 1 - config.MaxQueuedEvents; over > 0 {
		b.queue = b.queue[over:]
		if b.onDropped != nil {
			b.onDropped(over)
		}
	}
	b.queue = append(b.queue, ev)
	full := len(b.queue) >= config.EventFlushThreshold
	b.mu.Unlock()

	if full {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
}

// Len reports the current queue depth, including a batch awaiting retry.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) + len(b.pending)
}

// Start runs the flush loop until ctx is done, then drains the queue.
func (b *Buffer) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(config.EventFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				b.drain()
				return
			case <-ticker.C:
				b.flushOnce(ctx)
			case <-b.wake:
				b.flushOnce(ctx)
			}
		}
	}()
}

// Wait blocks until the flush loop has drained and exited.
func (b *Buffer) Wait() { <-b.done }

// flushOnce attempts one delivery: a batch awaiting retry first, otherwise
// the whole queue as a fresh batch. A fresh batch that fails is held aside
// for one retry; a retried batch that fails again is dropped. Newly
// enqueued events stay in the queue and get their own fresh batch.
func (b *Buffer) flushOnce(ctx context.Context) {
	b.mu.Lock()
	batch := b.pending
	wasRetry := batch != nil
	b.pending = nil
	if !wasRetry {
		batch = b.queue
		b.queue = nil
	}
	b.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	err := b.flusher.Flush(ctx, batch)
	if err == nil {
		if b.onFlushed != nil {
			b.onFlushed(len(batch))
		}
		return
	}

	if wasRetry {
		log.Warn().Err(err).Int("dropped", len(batch)).Msg("event flush retry failed, dropping batch")
		if b.onDropped != nil {
			b.onDropped(len(batch))
		}
		return
	}

	log.Warn().Err(err).Int("requeued", len(batch)).Msg("event flush failed, will retry")
	b.mu.Lock()
	b.pending = batch
	b.mu.Unlock()
}

// drain flushes whatever remains with a short deadline, used at shutdown.
func (b *Buffer) drain() {
	b.mu.Lock()
	b.closed = true
	batch := append(b.pending, b.queue...)
	b.pending = nil
	b.queue = nil
	b.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.flusher.Flush(ctx, batch); err != nil {
		log.Warn().Err(err).Int("dropped", len(batch)).Msg("final event flush failed")
		if b.onDropped != nil {
			b.onDropped(len(batch))
		}
		return
	}
	if b.onFlushed != nil {
		b.onFlushed(len(batch))
	}
}
