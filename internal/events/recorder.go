package events

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Recorder is the gateway's event entry point. Every event is inserted
// into the durable store synchronously, so daily-spend aggregation sees
// request costs without depending on the remote sink; the same event is
// also enqueued for batched remote delivery.
type Recorder struct {
	store  Store
	buffer *Buffer
	source string
}

// NewRecorder builds a recorder writing through store and buffer.
func NewRecorder(store Store, buffer *Buffer, source string) *Recorder {
	return &Recorder{store: store, buffer: buffer, source: source}
}

// Record writes an event to the durable store and enqueues it for remote
// delivery, stamping source and timestamp if unset. The store insert
// happens before Record returns: blocking decisions must be durable before
// the client sees a response, and success costs must be visible to the
// next budget check.
func (r *Recorder) Record(ctx context.Context, ev AgentEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = r.source
	}

	if err := r.store.InsertEvent(ctx, ev); err != nil {
		log.Error().Err(err).
			Str("agent_id", ev.AgentID).
			Str("event_type", ev.EventType).
			Msg("durable event insert failed")
	}
	r.buffer.Enqueue(ev)
}
