// Package alerts fans kill-switch incidents out to notification sinks.
package alerts

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Incident describes a kill-switch trip.
type Incident struct {
	AgentID           string    `json:"agent_id"`
	Provider          string    `json:"provider"`
	Score             float64   `json:"score"`
	Threshold         float64   `json:"threshold"`
	SimilarPrompts    int       `json:"similar_prompts"`
	SimilarResponses  int       `json:"similar_responses"`
	RepeatedToolCalls int       `json:"repeated_tool_calls"`
	WindowSize        int       `json:"window_size"`
	Timestamp         time.Time `json:"timestamp"`
}

// Sink receives incidents. Delivery is fire-and-forget; a sink must not
// block the request path.
type Sink interface {
	Notify(inc Incident)
}

// LogSink writes incidents to the structured log.
type LogSink struct{}

// Notify implements Sink.
func (LogSink) Notify(inc Incident) {
	log.Warn().
		Str("agent_id", inc.AgentID).
		Str("provider", inc.Provider).
		Float64("score", inc.Score).
		Float64("threshold", inc.Threshold).
		Int("similar_prompts", inc.SimilarPrompts).
		Int("similar_responses", inc.SimilarResponses).
		Int("repeated_tool_calls", inc.RepeatedToolCalls).
		Msg("kill switch tripped")
}

// Fanout delivers to every sink in order.
type Fanout []Sink

// Notify implements Sink.
func (f Fanout) Notify(inc Incident) {
	for _, s := range f {
		s.Notify(inc)
	}
}
