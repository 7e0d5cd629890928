package gateway

import (
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sentinelgate/agent-gateway/internal/config"
)

// Top-level fields each format's vendors reject.
var (
	chatOnlyFields   = []string{"frequency_penalty", "presence_penalty", "logprobs", "top_logprobs", "n", "stream_options", "user", "parallel_tool_calls"}
	blocksOnlyFields = []string{"stop_sequences", "metadata", "anthropic_version"}
)

// normalizeRequest rewrites the request body for the target provider:
// applies the effective model, renames the token-limit field where the
// vendor requires it, strips fields the vendor rejects, and repairs tool
// schemas missing their object type. Always idempotent; any rewrite error
// falls back to the body as it was, never failing the request.
func normalizeRequest(body []byte, pc config.ProviderConfig, model string) ([]byte, bool) {
	if !gjson.ValidBytes(body) {
		return body, false
	}
	out := body
	modified := false

	set := func(path string, value any) bool {
		next, err := sjson.SetBytes(out, path, value)
		if err != nil {
			return false
		}
		out = next
		return true
	}
	del := func(path string) bool {
		next, err := sjson.DeleteBytes(out, path)
		if err != nil {
			return false
		}
		out = next
		return true
	}

	if model != "" && gjson.GetBytes(out, "model").String() != model {
		if set("model", model) {
			modified = true
		}
	}

	switch pc.Format {
	case config.FormatChat:
		if pc.MaxCompletionTokens {
			if mt := gjson.GetBytes(out, "max_tokens"); mt.Exists() {
				if set("max_completion_tokens", mt.Int()) && del("max_tokens") {
					modified = true
				}
			}
		}
		for _, field := range blocksOnlyFields {
			if gjson.GetBytes(out, field).Exists() && del(field) {
				modified = true
			}
		}

	case config.FormatBlocks:
		for _, field := range chatOnlyFields {
			if gjson.GetBytes(out, field).Exists() && del(field) {
				modified = true
			}
		}
		tools := gjson.GetBytes(out, "tools")
		if tools.IsArray() {
			for i, tool := range tools.Array() {
				schema := tool.Get("input_schema")
				if schema.Exists() && !schema.Get("type").Exists() {
					path := "tools." + strconv.Itoa(i) + ".input_schema.type"
					if set(path, "object") {
						modified = true
					}
				}
			}
		}
	}

	return out, modified
}
