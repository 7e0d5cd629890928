// Package adapters - response-shape strategies for the supported wire formats.
//
// DESIGN: The two chat-completion formats need different synthetic payloads,
// error shapes, and usage extraction. Rather than scattering provider string
// comparisons through the gateway, each format gets one Shape implementation
// and everything shape-dependent goes through that interface.
package adapters

import "github.com/sentinelgate/agent-gateway/internal/config"

// UsageInfo holds token usage extracted from an API response.
type UsageInfo struct {
	InputTokens              int
	OutputTokens             int
	TotalTokens              int
	CacheCreationInputTokens int // blocks format: tokens written to cache
	CacheReadInputTokens     int // blocks format: tokens read from cache
}

// ToolCallInfo is a tool invocation extracted from a request or response,
// used by the loop detector to fingerprint repeated calls.
type ToolCallInfo struct {
	Name      string
	Arguments string // canonical JSON argument payload
}

// Shape abstracts over the format-specific parts of request/response handling.
type Shape interface {
	// Format returns the wire format this shape serves.
	Format() config.Format

	// ExtractModel returns the model field from a request or response body.
	ExtractModel(body []byte) string

	// ExtractUsage returns token usage from a non-streamed response body.
	ExtractUsage(body []byte) UsageInfo

	// ExtractResponseText returns the concatenated assistant text of a
	// response body, for loop-detection fingerprinting.
	ExtractResponseText(body []byte) string

	// ExtractPrompt returns the text of the last user message in a request
	// body, for loop-detection fingerprinting.
	ExtractPrompt(body []byte) string

	// ExtractToolCalls returns tool invocations found in a request's
	// trailing assistant turn or in a response body.
	ExtractToolCalls(body []byte) []ToolCallInfo

	// SyntheticBlockedResponse builds a 200-status assistant-style payload
	// carrying the block message, shaped so client SDKs parse it without
	// special-casing the gateway.
	SyntheticBlockedResponse(model, message string) []byte

	// RateLimitErrorBody builds the format's native 429 error payload.
	RateLimitErrorBody(message string) []byte
}

// ForFormat returns the Shape for a wire format.
func ForFormat(f config.Format) Shape {
	if f == config.FormatBlocks {
		return blocksShape{}
	}
	return chatShape{}
}
