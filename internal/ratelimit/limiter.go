// Package ratelimit enforces sliding-window request caps per agent+provider
// pair and per provider.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelgate/agent-gateway/internal/config"
)

// Rule caps requests under a key to MaxRequests per Window.
type Rule struct {
	Key         string
	MaxRequests int
	Window      time.Duration
}

// AgentKey builds the limit key for an agent+provider pair.
func AgentKey(agentID, provider string) string {
	return agentID + ":" + provider
}

// ProviderKey builds the limit key for a whole provider.
func ProviderKey(provider string) string {
	return provider
}

// RulesSource supplies the current rule set, typically from the store.
type RulesSource interface {
	RateLimitRules(ctx context.Context) ([]Rule, error)
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration // how long until a slot frees, when denied
}

type window struct {
	rule   Rule
	stamps []time.Time
}

// Limiter tracks request timestamps per key. Keys without a rule are
// unlimited. Rule refreshes merge over the existing set so in-flight
// windows keep their counts.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewLimiter returns an empty limiter; call SetRules or StartRefresh to
// install rules.
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// SetRules installs or updates rules. Existing windows for keys missing
// from the new set are kept as-is: a transient read failure upstream must
// not silently lift a limit.
func (l *Limiter) SetRules(rules []Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range rules {
		if r.MaxRequests <= 0 || r.Window <= 0 {
			continue
		}
		if w, ok := l.windows[r.Key]; ok {
			w.rule = r
		} else {
			l.windows[r.Key] = &window{rule: r}
		}
	}
}

// Check records the request against every given key and reports whether
// all limits admit it. A denied request is not recorded. When denied,
// RetryAfter is the longest wait among the violated keys.
func (l *Limiter) Check(keys ...string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var worst time.Duration

	for _, key := range keys {
		w, ok := l.windows[key]
		if !ok {
			continue
		}
		w.prune(now)
		if len(w.stamps) >= w.rule.MaxRequests {
			wait := w.stamps[0].Add(w.rule.Window).Sub(now)
			if wait > worst {
				worst = wait
			}
		}
	}
	if worst > 0 {
		return Result{RetryAfter: worst}
	}

	for _, key := range keys {
		if w, ok := l.windows[key]; ok {
			w.stamps = append(w.stamps, now)
		}
	}
	return Result{Allowed: true}
}

// prune drops timestamps older than the window.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.rule.Window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = w.stamps[i:]
	}
}

// ClearKey empties the recorded window for a key, admitting fresh
// requests immediately. The rule itself stays installed.
func (l *Limiter) ClearKey(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[key]; ok {
		w.stamps = nil
	}
}

// StartRefresh reloads rules from the source on an interval until ctx is
// done. The initial load happens synchronously so the limiter is armed
// before the first request.
func (l *Limiter) StartRefresh(ctx context.Context, source RulesSource) {
	l.refresh(ctx, source)
	go func() {
		ticker := time.NewTicker(config.RateLimitRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.refresh(ctx, source)
			}
		}
	}()
}

func (l *Limiter) refresh(ctx context.Context, source RulesSource) {
	rules, err := source.RateLimitRules(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("rate limit rule refresh failed")
		return
	}
	l.SetRules(rules)
}

// RetryAfterSeconds rounds a retry delay up to whole seconds for the
// Retry-After response header, minimum one second.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
