// Package store persists policy state and events in SQLite. It implements
// policy.Store, ratelimit.RulesSource, and events.Store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sentinelgate/agent-gateway/internal/config"
	"github.com/sentinelgate/agent-gateway/internal/events"
	"github.com/sentinelgate/agent-gateway/internal/policy"
	"github.com/sentinelgate/agent-gateway/internal/ratelimit"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_policies (
	agent_id            TEXT PRIMARY KEY,
	active              INTEGER NOT NULL DEFAULT 1,
	daily_budget_usd    REAL NOT NULL DEFAULT 0,
	allowed_start_hour  INTEGER NOT NULL DEFAULT -1,
	allowed_end_hour    INTEGER NOT NULL DEFAULT -1,
	kill_switch_enabled INTEGER NOT NULL DEFAULT 0,
	window_size         INTEGER NOT NULL DEFAULT 20,
	score_threshold     REAL NOT NULL DEFAULT 10,
	deactivated_by      TEXT NOT NULL DEFAULT '',
	updated_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_settings (
	provider       TEXT PRIMARY KEY,
	active         INTEGER NOT NULL DEFAULT 1,
	max_requests   INTEGER NOT NULL DEFAULT 0,
	window_seconds INTEGER NOT NULL DEFAULT 0,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS model_overrides (
	agent_id        TEXT NOT NULL,
	provider        TEXT NOT NULL,
	model           TEXT NOT NULL,
	target_provider TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (agent_id, provider)
);

CREATE TABLE IF NOT EXISTS rate_limits (
	key            TEXT PRIMARY KEY,
	max_requests   INTEGER NOT NULL,
	window_seconds INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id        TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	provider        TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL DEFAULT '',
	requested_model TEXT NOT NULL DEFAULT '',
	tokens_in       INTEGER NOT NULL DEFAULT 0,
	tokens_out      INTEGER NOT NULL DEFAULT 0,
	tokens_total    INTEGER NOT NULL DEFAULT 0,
	cost_usd        REAL NOT NULL DEFAULT 0,
	latency_ms      INTEGER NOT NULL DEFAULT 0,
	status_code     INTEGER NOT NULL DEFAULT 0,
	source          TEXT NOT NULL DEFAULT '',
	timestamp       TEXT NOT NULL,
	tags            TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_agent_events_agent_time
	ON agent_events (agent_id, timestamp);
`

// Store is a SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives an ephemeral store for tests.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent request handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// AgentPolicy returns the agent's policy, inserting the default record on
// first sight.
func (s *Store) AgentPolicy(ctx context.Context, agentID string) (policy.AgentPolicy, error) {
	pol, err := s.readAgentPolicy(ctx, agentID)
	if err == nil {
		return pol, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return policy.AgentPolicy{}, err
	}

	pol = policy.AgentPolicy{
		AgentID:          agentID,
		Active:           true,
		AllowedStartHour: -1,
		AllowedEndHour:   -1,
		WindowSize:       config.DefaultKillSwitchWindow,
		ScoreThreshold:   config.DefaultKillSwitchThreshold,
		UpdatedAt:        time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_policies
			(agent_id, active, daily_budget_usd, allowed_start_hour, allowed_end_hour,
			 kill_switch_enabled, window_size, score_threshold, deactivated_by, updated_at)
		VALUES (?, 1, 0, -1, -1, 0, ?, ?, '', ?)
		ON CONFLICT (agent_id) DO NOTHING`,
		agentID, pol.WindowSize, pol.ScoreThreshold, pol.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return policy.AgentPolicy{}, fmt.Errorf("create default agent policy: %w", err)
	}
	return s.readAgentPolicy(ctx, agentID)
}

func (s *Store) readAgentPolicy(ctx context.Context, agentID string) (policy.AgentPolicy, error) {
	var pol policy.AgentPolicy
	var active, killSwitch int
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, active, daily_budget_usd, allowed_start_hour, allowed_end_hour,
		       kill_switch_enabled, window_size, score_threshold, deactivated_by, updated_at
		FROM agent_policies WHERE agent_id = ?`, agentID).
		Scan(&pol.AgentID, &active, &pol.DailyBudgetUSD, &pol.AllowedStartHour,
			&pol.AllowedEndHour, &killSwitch, &pol.WindowSize, &pol.ScoreThreshold,
			&pol.DeactivatedBy, &updatedAt)
	if err != nil {
		return policy.AgentPolicy{}, err
	}
	pol.Active = active != 0
	pol.KillSwitchEnabled = killSwitch != 0
	pol.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return pol, nil
}

// UpdateAgentPolicy overwrites the agent's policy record.
func (s *Store) UpdateAgentPolicy(ctx context.Context, pol policy.AgentPolicy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_policies
			(agent_id, active, daily_budget_usd, allowed_start_hour, allowed_end_hour,
			 kill_switch_enabled, window_size, score_threshold, deactivated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			active = excluded.active,
			daily_budget_usd = excluded.daily_budget_usd,
			allowed_start_hour = excluded.allowed_start_hour,
			allowed_end_hour = excluded.allowed_end_hour,
			kill_switch_enabled = excluded.kill_switch_enabled,
			window_size = excluded.window_size,
			score_threshold = excluded.score_threshold,
			deactivated_by = excluded.deactivated_by,
			updated_at = excluded.updated_at`,
		pol.AgentID, boolInt(pol.Active), pol.DailyBudgetUSD, pol.AllowedStartHour,
		pol.AllowedEndHour, boolInt(pol.KillSwitchEnabled), pol.WindowSize,
		pol.ScoreThreshold, pol.DeactivatedBy, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("update agent policy: %w", err)
	}
	return nil
}

// ProviderSettings returns the provider's record. Unknown providers are
// reported active with no limit, matching the evaluator's default-open
// posture for providers the operator never configured.
func (s *Store) ProviderSettings(ctx context.Context, provider string) (policy.ProviderSettings, error) {
	var ps policy.ProviderSettings
	var active int
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT provider, active, max_requests, window_seconds, updated_at
		FROM provider_settings WHERE provider = ?`, provider).
		Scan(&ps.Provider, &active, &ps.MaxRequests, &ps.WindowSeconds, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.ProviderSettings{Provider: provider, Active: true}, nil
	}
	if err != nil {
		return policy.ProviderSettings{}, fmt.Errorf("read provider settings: %w", err)
	}
	ps.Active = active != 0
	ps.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return ps, nil
}

// UpsertProviderSettings writes a provider record.
func (s *Store) UpsertProviderSettings(ctx context.Context, ps policy.ProviderSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_settings (provider, active, max_requests, window_seconds, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider) DO UPDATE SET
			active = excluded.active,
			max_requests = excluded.max_requests,
			window_seconds = excluded.window_seconds,
			updated_at = excluded.updated_at`,
		ps.Provider, boolInt(ps.Active), ps.MaxRequests, ps.WindowSeconds,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert provider settings: %w", err)
	}
	return nil
}

// ModelOverride returns the override rule for an agent+provider pair, or
// nil when none exists.
func (s *Store) ModelOverride(ctx context.Context, agentID, provider string) (*policy.ModelOverride, error) {
	var mo policy.ModelOverride
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, provider, model, target_provider
		FROM model_overrides WHERE agent_id = ? AND provider = ?`, agentID, provider).
		Scan(&mo.AgentID, &mo.Provider, &mo.Model, &mo.TargetProvider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read model override: %w", err)
	}
	return &mo, nil
}

// UpsertModelOverride writes an override rule.
func (s *Store) UpsertModelOverride(ctx context.Context, mo policy.ModelOverride) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_overrides (agent_id, provider, model, target_provider)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (agent_id, provider) DO UPDATE SET
			model = excluded.model,
			target_provider = excluded.target_provider`,
		mo.AgentID, mo.Provider, mo.Model, mo.TargetProvider)
	if err != nil {
		return fmt.Errorf("upsert model override: %w", err)
	}
	return nil
}

// DailySpend sums recorded costs for an agent since UTC midnight.
func (s *Store) DailySpend(ctx context.Context, agentID string) (float64, error) {
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	var spend float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM agent_events WHERE agent_id = ? AND timestamp >= ?`,
		agentID, midnight.Format(time.RFC3339Nano)).Scan(&spend)
	if err != nil {
		return 0, fmt.Errorf("sum daily spend: %w", err)
	}
	return spend, nil
}

// RateLimitRules returns the configured rules: every rate_limits row plus
// one provider-wide rule per provider_settings row that carries a limit.
func (s *Store) RateLimitRules(ctx context.Context) ([]ratelimit.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, max_requests, window_seconds FROM rate_limits
		UNION ALL
		SELECT provider, max_requests, window_seconds
		FROM provider_settings WHERE max_requests > 0 AND window_seconds > 0`)
	if err != nil {
		return nil, fmt.Errorf("read rate limit rules: %w", err)
	}
	defer rows.Close()

	var rules []ratelimit.Rule
	for rows.Next() {
		var key string
		var maxReq, windowSecs int
		if err := rows.Scan(&key, &maxReq, &windowSecs); err != nil {
			return nil, fmt.Errorf("scan rate limit rule: %w", err)
		}
		rules = append(rules, ratelimit.Rule{
			Key:         key,
			MaxRequests: maxReq,
			Window:      time.Duration(windowSecs) * time.Second,
		})
	}
	return rules, rows.Err()
}

// UpsertRateLimit writes a rule row.
func (s *Store) UpsertRateLimit(ctx context.Context, rule ratelimit.Rule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limits (key, max_requests, window_seconds)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			max_requests = excluded.max_requests,
			window_seconds = excluded.window_seconds`,
		rule.Key, rule.MaxRequests, int(rule.Window.Seconds()))
	if err != nil {
		return fmt.Errorf("upsert rate limit: %w", err)
	}
	return nil
}

// InsertEvent appends an event row.
func (s *Store) InsertEvent(ctx context.Context, ev events.AgentEvent) error {
	tags := "{}"
	if len(ev.Tags) > 0 {
		if data, err := json.Marshal(ev.Tags); err == nil {
			tags = string(data)
		}
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_events
			(agent_id, event_type, provider, model, requested_model,
			 tokens_in, tokens_out, tokens_total, cost_usd, latency_ms,
			 status_code, source, timestamp, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.AgentID, ev.EventType, ev.Provider, ev.Model, ev.RequestedModel,
		ev.TokensIn, ev.TokensOut, ev.TokensTotal, ev.CostUSD, ev.LatencyMS,
		ev.StatusCode, ev.Source, ts.UTC().Format(time.RFC3339Nano), tags)
	if err != nil {
		return fmt.Errorf("insert agent event: %w", err)
	}
	return nil
}

// EventCount counts stored events for an agent, optionally filtered by
// event type.
func (s *Store) EventCount(ctx context.Context, agentID, eventType string) (int, error) {
	q := `SELECT COUNT(*) FROM agent_events WHERE agent_id = ?`
	args := []any{agentID}
	if eventType != "" {
		q += ` AND event_type = ?`
		args = append(args, eventType)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count agent events: %w", err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
