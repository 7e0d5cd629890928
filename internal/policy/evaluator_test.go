package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	policy        AgentPolicy
	policyErr     error
	spend         float64
	provider      ProviderSettings
	providerCalls int
	override      *ModelOverride
	overrideCalls int
}

func (s *stubStore) AgentPolicy(ctx context.Context, agentID string) (AgentPolicy, error) {
	return s.policy, s.policyErr
}

func (s *stubStore) UpdateAgentPolicy(ctx context.Context, pol AgentPolicy) error {
	s.policy = pol
	return nil
}

func (s *stubStore) ProviderSettings(ctx context.Context, provider string) (ProviderSettings, error) {
	s.providerCalls++
	return s.provider, nil
}

func (s *stubStore) ModelOverride(ctx context.Context, agentID, provider string) (*ModelOverride, error) {
	s.overrideCalls++
	return s.override, nil
}

func (s *stubStore) DailySpend(ctx context.Context, agentID string) (float64, error) {
	return s.spend, nil
}

func activePolicy() AgentPolicy {
	return AgentPolicy{
		AgentID:          "agent-1",
		Active:           true,
		AllowedStartHour: -1,
		AllowedEndHour:   -1,
	}
}

func TestCheckAgentInactive(t *testing.T) {
	store := &stubStore{policy: AgentPolicy{AgentID: "agent-1", Active: false, AllowedStartHour: -1, AllowedEndHour: -1}}
	e := NewEvaluator(store)

	_, dec, err := e.CheckAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonInactive, dec.Reason)
}

func TestCheckAgentBudgetBoundary(t *testing.T) {
	pol := activePolicy()
	pol.DailyBudgetUSD = 10.00
	store := &stubStore{policy: pol, spend: 10.00}
	e := NewEvaluator(store)

	// Spend equal to the budget blocks.
	_, dec, err := e.CheckAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonBudgetExceeded, dec.Reason)

	store.spend = 9.99
	_, dec, err = e.CheckAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestCheckAgentHourWindow(t *testing.T) {
	pol := activePolicy()
	pol.AllowedStartHour = 9
	pol.AllowedEndHour = 17
	store := &stubStore{policy: pol}
	e := NewEvaluator(store)

	at := func(hour int) {
		e.now = func() time.Time {
			return time.Date(2026, 3, 1, hour, 30, 0, 0, time.Local)
		}
	}

	at(9)
	_, dec, err := e.CheckAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "start hour is inclusive")

	at(17)
	_, dec, err = e.CheckAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.False(t, dec.Allowed, "end hour is exclusive")
	assert.Equal(t, ReasonOutsideHours, dec.Reason)
}

func TestCheckAgentHourWindowWrapsMidnight(t *testing.T) {
	pol := activePolicy()
	pol.AllowedStartHour = 22
	pol.AllowedEndHour = 6
	store := &stubStore{policy: pol}
	e := NewEvaluator(store)

	cases := map[int]bool{21: false, 22: true, 23: true, 0: true, 5: true, 6: false, 12: false}
	for hour, want := range cases {
		e.now = func() time.Time {
			return time.Date(2026, 3, 1, hour, 0, 0, 0, time.Local)
		}
		_, dec, err := e.CheckAgent(context.Background(), "agent-1")
		require.NoError(t, err)
		assert.Equal(t, want, dec.Allowed, "hour %d", hour)
	}
}

func TestCheckProviderCaches(t *testing.T) {
	store := &stubStore{provider: ProviderSettings{Provider: "anthropic", Active: true}}
	e := NewEvaluator(store)

	for range 3 {
		dec, err := e.CheckProvider(context.Background(), "anthropic")
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
	}
	assert.Equal(t, 1, store.providerCalls, "settings served from cache within TTL")

	e.InvalidateProvider("anthropic")
	store.provider.Active = false
	dec, err := e.CheckProvider(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonProviderDeactivated, dec.Reason)
}

func TestResolveOverride(t *testing.T) {
	store := &stubStore{override: &ModelOverride{
		AgentID:  "agent-1",
		Provider: "anthropic",
		Model:    "claude-haiku-4-5",
	}}
	e := NewEvaluator(store)

	ov := e.ResolveOverride(context.Background(), "agent-1", "anthropic", "claude-opus-4-6")
	require.NotNil(t, ov)
	assert.Equal(t, "claude-haiku-4-5", ov.Model)
	assert.Empty(t, ov.Provider)

	// Cached on repeat lookups.
	e.ResolveOverride(context.Background(), "agent-1", "anthropic", "claude-opus-4-6")
	assert.Equal(t, 1, store.overrideCalls)

	// A rule that matches the requested model is a no-op.
	ov = e.ResolveOverride(context.Background(), "agent-1", "anthropic", "claude-haiku-4-5")
	assert.Nil(t, ov)
}

func TestResolveOverrideNoRule(t *testing.T) {
	store := &stubStore{}
	e := NewEvaluator(store)
	assert.Nil(t, e.ResolveOverride(context.Background(), "agent-1", "anthropic", "gpt-4o"))
}

func TestResolveOverrideCrossProvider(t *testing.T) {
	store := &stubStore{override: &ModelOverride{
		AgentID:        "agent-1",
		Provider:       "openai",
		Model:          "claude-sonnet-4-5",
		TargetProvider: "anthropic",
	}}
	e := NewEvaluator(store)

	ov := e.ResolveOverride(context.Background(), "agent-1", "openai", "gpt-4o")
	require.NotNil(t, ov)
	assert.Equal(t, "claude-sonnet-4-5", ov.Model)
	assert.Equal(t, "anthropic", ov.Provider)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache[string, int](time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	c.setNow(func() time.Time { return now })

	c.Set("k", 42)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	now = base.Add(61 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}
