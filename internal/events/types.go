// Package events records per-request observability events: durable inserts
// for blocking decisions and a batched best-effort pipeline to a remote
// ingest endpoint for everything.
package events

import (
	"context"
	"time"
)

// Event types emitted by the gateway.
const (
	TypeSuccess    = "success"
	TypeBlocked    = "blocked"
	TypeError      = "error"
	TypeKillSwitch = "kill_switch"
)

// AgentEvent is one immutable request outcome record.
type AgentEvent struct {
	AgentID        string            `json:"agent_id"`
	EventType      string            `json:"event_type"`
	Provider       string            `json:"provider,omitempty"`
	Model          string            `json:"model,omitempty"`
	RequestedModel string            `json:"requested_model,omitempty"`
	TokensIn       int               `json:"tokens_in"`
	TokensOut      int               `json:"tokens_out"`
	TokensTotal    int               `json:"tokens_total"`
	CostUSD        float64           `json:"cost_usd"`
	LatencyMS      int64             `json:"latency_ms"`
	StatusCode     int               `json:"status_code,omitempty"`
	Source         string            `json:"source,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// Store is the durable insert surface for events that must survive a
// crash, i.e. every blocking decision.
type Store interface {
	InsertEvent(ctx context.Context, ev AgentEvent) error
}
