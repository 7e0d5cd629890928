package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelgate/agent-gateway/internal/config"
)

// Evaluator runs the pre-flight policy checks for a request.
//
// Agent policies are read fresh on every request so a deactivation takes
// effect immediately. Provider settings and model overrides change rarely
// and are cached with short TTLs.
type Evaluator struct {
	store     Store
	providers *Cache[string, ProviderSettings]
	overrides *Cache[string, *ModelOverride]
	now       func() time.Time
}

// NewEvaluator builds an evaluator over the given store.
func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{
		store:     store,
		providers: NewCache[string, ProviderSettings](config.ProviderSettingsTTL),
		overrides: NewCache[string, *ModelOverride](config.ModelOverrideTTL),
		now:       time.Now,
	}
}

// CheckAgent loads the agent's policy and evaluates the active flag, the
// allowed-hours window, and the daily budget, in that order. The loaded
// policy is returned alongside the decision so callers can reuse the kill
// switch parameters without a second read.
func (e *Evaluator) CheckAgent(ctx context.Context, agentID string) (AgentPolicy, Decision, error) {
	pol, err := e.store.AgentPolicy(ctx, agentID)
	if err != nil {
		return AgentPolicy{}, Decision{}, fmt.Errorf("load agent policy: %w", err)
	}

	if !pol.Active {
		return pol, Deny(ReasonInactive, "agent is deactivated"), nil
	}

	if pol.HasHourWindow() && !e.withinHours(pol) {
		msg := fmt.Sprintf("requests allowed between %02d:00 and %02d:00",
			pol.AllowedStartHour, pol.AllowedEndHour)
		return pol, Deny(ReasonOutsideHours, msg), nil
	}

	if pol.DailyBudgetUSD > 0 {
		spend, err := e.store.DailySpend(ctx, agentID)
		if err != nil {
			return AgentPolicy{}, Decision{}, fmt.Errorf("load daily spend: %w", err)
		}
		if spend >= pol.DailyBudgetUSD {
			log.Warn().
				Str("agent_id", agentID).
				Float64("spend_usd", spend).
				Float64("budget_usd", pol.DailyBudgetUSD).
				Msg("daily budget exhausted")
			msg := fmt.Sprintf("daily budget of $%.2f exhausted ($%.2f spent)",
				pol.DailyBudgetUSD, spend)
			return pol, Deny(ReasonBudgetExceeded, msg), nil
		}
	}

	return pol, Allow(), nil
}

// withinHours checks the hour window, start inclusive and end exclusive,
// handling windows that wrap past midnight.
func (e *Evaluator) withinHours(pol AgentPolicy) bool {
	h := e.now().Hour()
	start, end := pol.AllowedStartHour, pol.AllowedEndHour
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// CheckProvider evaluates the provider activation flag through the
// short-TTL cache.
func (e *Evaluator) CheckProvider(ctx context.Context, provider string) (Decision, error) {
	settings, ok := e.providers.Get(provider)
	if !ok {
		var err error
		settings, err = e.store.ProviderSettings(ctx, provider)
		if err != nil {
			return Decision{}, fmt.Errorf("load provider settings: %w", err)
		}
		e.providers.Set(provider, settings)
	}
	if !settings.Active {
		return Deny(ReasonProviderDeactivated, "provider "+provider+" is deactivated"), nil
	}
	return Allow(), nil
}

// Override is the applied model override result.
type Override struct {
	Model    string
	Provider string // non-empty when the call is redirected
}

// ResolveOverride looks up the agent+provider override rule through the
// 30s cache. Returns nil when no rule exists or the rule changes nothing.
// Lookup failures are logged and treated as no override.
func (e *Evaluator) ResolveOverride(ctx context.Context, agentID, provider, model string) *Override {
	key := agentID + ":" + provider
	rule, ok := e.overrides.Get(key)
	if !ok {
		var err error
		rule, err = e.store.ModelOverride(ctx, agentID, provider)
		if err != nil {
			log.Warn().Err(err).
				Str("agent_id", agentID).
				Str("provider", provider).
				Msg("model override lookup failed")
			return nil
		}
		e.overrides.Set(key, rule)
	}
	if rule == nil {
		return nil
	}
	ov := &Override{Model: rule.Model, Provider: rule.TargetProvider}
	if ov.Model == "" {
		ov.Model = model
	}
	if ov.Model == model && (ov.Provider == "" || ov.Provider == provider) {
		return nil
	}
	return ov
}

// InvalidateProvider drops cached settings for a provider so the next
// check rereads the store.
func (e *Evaluator) InvalidateProvider(provider string) {
	e.providers.Invalidate(provider)
}

// InvalidateOverride drops a cached override rule.
func (e *Evaluator) InvalidateOverride(agentID, provider string) {
	e.overrides.Invalidate(agentID + ":" + provider)
}
