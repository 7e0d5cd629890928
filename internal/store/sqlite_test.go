package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelgate/agent-gateway/internal/config"
	"github.com/sentinelgate/agent-gateway/internal/events"
	"github.com/sentinelgate/agent-gateway/internal/policy"
	"github.com/sentinelgate/agent-gateway/internal/ratelimit"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAgentPolicyCreatedOnFirstSight(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pol, err := s.AgentPolicy(ctx, "fresh-agent")
	require.NoError(t, err)
	assert.Equal(t, "fresh-agent", pol.AgentID)
	assert.True(t, pol.Active)
	assert.Equal(t, 0.0, pol.DailyBudgetUSD)
	assert.Equal(t, -1, pol.AllowedStartHour)
	assert.Equal(t, config.DefaultKillSwitchWindow, pol.WindowSize)
	assert.Equal(t, config.DefaultKillSwitchThreshold, pol.ScoreThreshold)
	assert.False(t, pol.UpdatedAt.IsZero())
}

func TestUpdateAgentPolicyRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pol, err := s.AgentPolicy(ctx, "agent-1")
	require.NoError(t, err)

	pol.Active = false
	pol.DeactivatedBy = "kill_switch"
	pol.DailyBudgetUSD = 25.50
	pol.AllowedStartHour = 9
	pol.AllowedEndHour = 17
	pol.KillSwitchEnabled = true
	require.NoError(t, s.UpdateAgentPolicy(ctx, pol))

	got, err := s.AgentPolicy(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, "kill_switch", got.DeactivatedBy)
	assert.Equal(t, 25.50, got.DailyBudgetUSD)
	assert.Equal(t, 9, got.AllowedStartHour)
	assert.True(t, got.KillSwitchEnabled)
}

func TestProviderSettingsDefaultOpen(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ps, err := s.ProviderSettings(ctx, "anthropic")
	require.NoError(t, err)
	assert.True(t, ps.Active, "unconfigured providers are active")

	require.NoError(t, s.UpsertProviderSettings(ctx, policy.ProviderSettings{
		Provider: "anthropic", Active: false,
	}))
	ps, err = s.ProviderSettings(ctx, "anthropic")
	require.NoError(t, err)
	assert.False(t, ps.Active)
}

func TestModelOverrideLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mo, err := s.ModelOverride(ctx, "agent-1", "openai")
	require.NoError(t, err)
	assert.Nil(t, mo)

	require.NoError(t, s.UpsertModelOverride(ctx, policy.ModelOverride{
		AgentID:        "agent-1",
		Provider:       "openai",
		Model:          "claude-sonnet-4-5",
		TargetProvider: "anthropic",
	}))

	mo, err = s.ModelOverride(ctx, "agent-1", "openai")
	require.NoError(t, err)
	require.NotNil(t, mo)
	assert.Equal(t, "claude-sonnet-4-5", mo.Model)
	assert.Equal(t, "anthropic", mo.TargetProvider)
}

func TestDailySpendSumsToday(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.InsertEvent(ctx, events.AgentEvent{
		AgentID: "agent-1", EventType: events.TypeSuccess, CostUSD: 1.25, Timestamp: now,
	}))
	require.NoError(t, s.InsertEvent(ctx, events.AgentEvent{
		AgentID: "agent-1", EventType: events.TypeSuccess, CostUSD: 0.75, Timestamp: now,
	}))
	require.NoError(t, s.InsertEvent(ctx, events.AgentEvent{
		AgentID: "agent-1", EventType: events.TypeSuccess, CostUSD: 9.99,
		Timestamp: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, s.InsertEvent(ctx, events.AgentEvent{
		AgentID: "other-agent", EventType: events.TypeSuccess, CostUSD: 5, Timestamp: now,
	}))

	spend, err := s.DailySpend(ctx, "agent-1")
	require.NoError(t, err)
	assert.InDelta(t, 2.00, spend, 1e-9)
}

func TestRateLimitRulesIncludeProviderLimits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRateLimit(ctx, ratelimit.Rule{
		Key: "agent-1:anthropic", MaxRequests: 5, Window: time.Minute,
	}))
	require.NoError(t, s.UpsertProviderSettings(ctx, policy.ProviderSettings{
		Provider: "openai", Active: true, MaxRequests: 100, WindowSeconds: 60,
	}))

	rules, err := s.RateLimitRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	byKey := map[string]ratelimit.Rule{}
	for _, r := range rules {
		byKey[r.Key] = r
	}
	assert.Equal(t, 5, byKey["agent-1:anthropic"].MaxRequests)
	assert.Equal(t, time.Minute, byKey["agent-1:anthropic"].Window)
	assert.Equal(t, 100, byKey["openai"].MaxRequests)
}
