package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelgate/agent-gateway/internal/config"
)

type fakeFlusher struct {
	mu      sync.Mutex
	batches [][]AgentEvent
	fail    int // number of calls to fail before succeeding
}

func (f *fakeFlusher) Flush(ctx context.Context, batch []AgentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("sink unavailable")
	}
	cp := make([]AgentEvent, len(batch))
	copy(cp, batch)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeFlusher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func ev(id string) AgentEvent {
	return AgentEvent{AgentID: id, EventType: TypeSuccess, Timestamp: time.Now()}
}

func TestBufferFlushOnce(t *testing.T) {
	sink := &fakeFlusher{}
	b := NewBuffer(sink)
	b.Enqueue(ev("a"))
	b.Enqueue(ev("b"))

	b.flushOnce(context.Background())
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)
	assert.Equal(t, 0, b.Len())
}

func TestBufferRequeueOnFailureThenDeliver(t *testing.T) {
	sink := &fakeFlusher{fail: 1}
	b := NewBuffer(sink)
	b.Enqueue(ev("a"))

	b.flushOnce(context.Background())
	assert.Equal(t, 1, b.Len(), "failed batch is requeued")

	b.flushOnce(context.Background())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 1, sink.total())
}

func TestBufferDropsAfterSecondFailure(t *testing.T) {
	sink := &fakeFlusher{fail: 2}
	b := NewBuffer(sink)
	var dropped int
	b.OnDropped(func(n int) { dropped += n })
	b.Enqueue(ev("a"))

	b.flushOnce(context.Background())
	b.flushOnce(context.Background())
	assert.Equal(t, 0, b.Len(), "batch dropped after its retry fails")
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, sink.total())
}

func TestBufferCapDropsOldest(t *testing.T) {
	sink := &fakeFlusher{}
	b := NewBuffer(sink)
	var dropped int
	b.OnDropped(func(n int) { dropped += n })

	for i := range config.MaxQueuedEvents + 10 {
		b.Enqueue(ev(fmt.Sprintf("e%d", i)))
	}
	assert.Equal(t, config.MaxQueuedEvents, b.Len())
	assert.Equal(t, 10, dropped)

	b.flushOnce(context.Background())
	first := sink.batches[0][0]
	assert.Equal(t, "e10", first.AgentID, "oldest events were the ones dropped")
}

func TestBufferDrainOnShutdown(t *testing.T) {
	sink := &fakeFlusher{}
	b := NewBuffer(sink)
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)

	b.Enqueue(ev("a"))
	b.Enqueue(ev("b"))
	cancel()
	b.Wait()

	assert.Equal(t, 2, sink.total(), "shutdown flushes the remaining queue")

	b.Enqueue(ev("late"))
	assert.Equal(t, 0, b.Len(), "events after close are discarded")
}

func TestBufferThresholdTriggersFlush(t *testing.T) {
	sink := &fakeFlusher{}
	b := NewBuffer(sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	for i := range config.EventFlushThreshold {
		b.Enqueue(ev(fmt.Sprintf("e%d", i)))
	}

	require.Eventually(t, func() bool {
		return sink.total() == config.EventFlushThreshold
	}, 2*time.Second, 10*time.Millisecond, "reaching the threshold wakes the flush loop")
}

type captureStore struct {
	mu       sync.Mutex
	inserted []AgentEvent
}

func (c *captureStore) InsertEvent(ctx context.Context, ev AgentEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inserted = append(c.inserted, ev)
	return nil
}

func TestRecorderInsertsDurablyAndEnqueues(t *testing.T) {
	store := &captureStore{}
	b := NewBuffer(DiscardFlusher())
	r := NewRecorder(store, b, "gateway")

	r.Record(context.Background(), AgentEvent{AgentID: "a", EventType: TypeBlocked})
	r.Record(context.Background(), AgentEvent{AgentID: "a", EventType: TypeSuccess, CostUSD: 0.01})
	r.Record(context.Background(), AgentEvent{AgentID: "a", EventType: TypeKillSwitch})

	require.Len(t, store.inserted, 3, "every event inserts durably, cost-bearing ones included")
	assert.Equal(t, 0.01, store.inserted[1].CostUSD)
	assert.Equal(t, 3, b.Len(), "all events are enqueued for remote delivery")

	for _, ins := range store.inserted {
		assert.False(t, ins.Timestamp.IsZero())
		assert.Equal(t, "gateway", ins.Source)
	}
}

func TestBufferLaterEventsGetOwnRetry(t *testing.T) {
	// A batch that failed waits aside for its retry; events enqueued in the
	// meantime must not be folded into it and lose their own retry.
	sink := &fakeFlusher{fail: 2}
	b := NewBuffer(sink)
	var dropped int
	b.OnDropped(func(n int) { dropped += n })

	b.Enqueue(ev("a"))
	b.flushOnce(context.Background()) // "a" fails, held for retry

	b.Enqueue(ev("b"))
	b.flushOnce(context.Background()) // retry of "a" alone fails, dropped

	b.flushOnce(context.Background()) // "b" flushes as its own fresh batch
	assert.Equal(t, 1, dropped, "only the twice-failed batch is dropped")
	require.Equal(t, 1, sink.total())
	assert.Equal(t, "b", sink.batches[0][0].AgentID)
}
