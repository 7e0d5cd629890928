// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultListenAddr is the address the gateway binds to.
const DefaultListenAddr = "127.0.0.1:8484"

// DefaultUpstreamTimeout bounds a single upstream call, including the full
// body of a streamed response.
const DefaultUpstreamTimeout = 2 * time.Minute

// DefaultDialTimeout is the TCP dial timeout.
const DefaultDialTimeout = 30 * time.Second

// DefaultBufferSize is the standard I/O buffer size for stream relaying.
const DefaultBufferSize = 4096

// MaxRequestBodySize is the maximum allowed request body (50MB).
const MaxRequestBodySize = 50 * 1024 * 1024

// MaxStreamAccumulation caps how many streamed response bytes are retained
// for deferred metric extraction. The client still receives the full stream.
const MaxStreamAccumulation = 50 * 1024 * 1024

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = 2 * time.Minute

// =============================================================================
// CACHE TTLS AND REFRESH INTERVALS
// =============================================================================

// ProviderSettingsTTL is how long provider settings are served from cache.
const ProviderSettingsTTL = 5 * time.Second

// ModelOverrideTTL is how long model-override rules are served from cache.
const ModelOverrideTTL = 30 * time.Second

// RateLimitRefreshInterval is how often rate-limit rules are re-read from
// the data provider.
const RateLimitRefreshInterval = 30 * time.Second

// CredentialRefreshInterval is how often provider credentials are re-resolved.
const CredentialRefreshInterval = 5 * time.Minute

// =============================================================================
// KILL SWITCH
// =============================================================================

// DefaultKillSwitchWindow is the loop-detection window size when an agent
// policy does not specify one.
const DefaultKillSwitchWindow = 20

// MinKillSwitchWindow and MaxKillSwitchWindow bound the configurable window.
const (
	MinKillSwitchWindow = 5
	MaxKillSwitchWindow = 100
)

// DefaultKillSwitchThreshold is the composite score at which a loop is declared.
const DefaultKillSwitchThreshold = 10.0

// MinKillSwitchThreshold and MaxKillSwitchThreshold bound the configurable threshold.
const (
	MinKillSwitchThreshold = 1.0
	MaxKillSwitchThreshold = 50.0
)

// KillSwitchSweepInterval is how often idle loop-detection windows are evicted.
const KillSwitchSweepInterval = 1 * time.Hour

// KillSwitchWindowRetention is how long an idle agent's window is kept.
const KillSwitchWindowRetention = 2 * time.Hour

// SimilarityThreshold is the token-set Jaccard score above which two prompts
// or responses count as similar for loop scoring.
const SimilarityThreshold = 0.85

// =============================================================================
// EVENT BUFFER
// =============================================================================

// EventFlushInterval is the timer-based flush period.
const EventFlushInterval = 10 * time.Second

// EventFlushThreshold triggers an immediate flush when the queue reaches it.
const EventFlushThreshold = 50

// MaxQueuedEvents hard-caps the in-memory event queue; beyond it the oldest
// events are dropped rather than growing unbounded.
const MaxQueuedEvents = 10000

// =============================================================================
// CONVERSION
// =============================================================================

// DefaultMaxTokens is injected when converting to a format that mandates an
// explicit token limit and the source request carries none.
const DefaultMaxTokens = 4096

// TokenEstimateRatio is the approximate number of characters per token,
// used when no tokenizer is available for a model.
const TokenEstimateRatio = 4
