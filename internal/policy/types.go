// Package policy decides whether a request may proceed: per-agent policy
// (active flag, daily budget, allowed hours), per-provider settings, and
// model overrides.
package policy

import (
	"context"
	"time"
)

// AgentPolicy is the per-agent enforcement record. A previously unseen
// agent gets a default policy (active, no budget, no hour window).
type AgentPolicy struct {
	AgentID           string
	Active            bool
	DailyBudgetUSD    float64 // 0 means unlimited
	AllowedStartHour  int     // local hour, inclusive; -1 disables the window
	AllowedEndHour    int     // local hour, exclusive
	KillSwitchEnabled bool
	WindowSize        int
	ScoreThreshold    float64
	DeactivatedBy     string
	UpdatedAt         time.Time
}

// HasHourWindow reports whether the policy restricts request hours.
func (p AgentPolicy) HasHourWindow() bool {
	return p.AllowedStartHour >= 0 && p.AllowedEndHour >= 0 &&
		p.AllowedStartHour != p.AllowedEndHour
}

// ProviderSettings is the per-provider activation record with an optional
// provider-wide rate limit.
type ProviderSettings struct {
	Provider      string
	Active        bool
	MaxRequests   int // 0 means no provider-wide limit
	WindowSeconds int
	UpdatedAt     time.Time
}

// ModelOverride substitutes the requested model for one agent+provider
// pair, optionally redirecting the call to a different provider.
type ModelOverride struct {
	AgentID        string
	Provider       string
	Model          string
	TargetProvider string
}

// Store is the persistence surface the evaluator reads from.
type Store interface {
	// AgentPolicy returns the policy for an agent, creating the default
	// record on first sight.
	AgentPolicy(ctx context.Context, agentID string) (AgentPolicy, error)
	UpdateAgentPolicy(ctx context.Context, pol AgentPolicy) error
	ProviderSettings(ctx context.Context, provider string) (ProviderSettings, error)
	ModelOverride(ctx context.Context, agentID, provider string) (*ModelOverride, error)
	// DailySpend sums recorded request costs for the agent since UTC midnight.
	DailySpend(ctx context.Context, agentID string) (float64, error)
}

// Block reasons attached to denial decisions and recorded events.
const (
	ReasonInactive            = "inactive"
	ReasonBudgetExceeded      = "budget_exceeded"
	ReasonOutsideHours        = "outside_hours"
	ReasonProviderDeactivated = "provider_deactivated"
	ReasonRateLimited         = "rate_limited"
	ReasonProviderRateLimited = "provider_rate_limited"
	ReasonLoopDetected        = "loop_detected"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	Reason  string
	Message string
}

// Allow is the affirmative decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a denial with the given reason and operator-facing message.
func Deny(reason, message string) Decision {
	return Decision{Reason: reason, Message: message}
}
