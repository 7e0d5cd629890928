package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/sentinelgate/agent-gateway/internal/config"
)

func TestNormalizeSetsModel(t *testing.T) {
	pc := config.ProviderConfig{Format: config.FormatBlocks}
	body := []byte(`{"model":"claude-sonnet-4-5","max_tokens":100}`)

	out, modified := normalizeRequest(body, pc, "claude-haiku-4-5")
	assert.True(t, modified)
	assert.Equal(t, "claude-haiku-4-5", gjson.GetBytes(out, "model").String())
}

func TestNormalizeIdempotent(t *testing.T) {
	pc := config.ProviderConfig{Format: config.FormatBlocks}
	body := []byte(`{"model":"claude-sonnet-4-5","max_tokens":100,"messages":[]}`)

	out, modified := normalizeRequest(body, pc, "claude-sonnet-4-5")
	assert.False(t, modified, "a clean body needs no rewrite")
	assert.Equal(t, string(body), string(out))
}

func TestNormalizeRenamesMaxTokens(t *testing.T) {
	pc := config.ProviderConfig{Format: config.FormatChat, MaxCompletionTokens: true}
	body := []byte(`{"model":"gpt-5.2","max_tokens":256}`)

	out, modified := normalizeRequest(body, pc, "gpt-5.2")
	assert.True(t, modified)
	assert.False(t, gjson.GetBytes(out, "max_tokens").Exists())
	assert.Equal(t, int64(256), gjson.GetBytes(out, "max_completion_tokens").Int())
}

func TestNormalizeKeepsMaxTokensWithoutFlag(t *testing.T) {
	pc := config.ProviderConfig{Format: config.FormatChat}
	body := []byte(`{"model":"gpt-5.2","max_tokens":256}`)

	out, modified := normalizeRequest(body, pc, "gpt-5.2")
	assert.False(t, modified)
	assert.Equal(t, int64(256), gjson.GetBytes(out, "max_tokens").Int())
}

func TestNormalizeStripsForeignFields(t *testing.T) {
	t.Run("chat drops blocks-only fields", func(t *testing.T) {
		pc := config.ProviderConfig{Format: config.FormatChat}
		body := []byte(`{"model":"gpt-5.2","stop_sequences":["x"],"metadata":{"a":1},"temperature":0.5}`)

		out, modified := normalizeRequest(body, pc, "gpt-5.2")
		assert.True(t, modified)
		assert.False(t, gjson.GetBytes(out, "stop_sequences").Exists())
		assert.False(t, gjson.GetBytes(out, "metadata").Exists())
		assert.Equal(t, 0.5, gjson.GetBytes(out, "temperature").Float())
	})

	t.Run("blocks drops chat-only fields", func(t *testing.T) {
		pc := config.ProviderConfig{Format: config.FormatBlocks}
		body := []byte(`{"model":"claude-sonnet-4-5","frequency_penalty":0.2,"n":3,"user":"u1","top_k":5}`)

		out, modified := normalizeRequest(body, pc, "claude-sonnet-4-5")
		assert.True(t, modified)
		assert.False(t, gjson.GetBytes(out, "frequency_penalty").Exists())
		assert.False(t, gjson.GetBytes(out, "n").Exists())
		assert.False(t, gjson.GetBytes(out, "user").Exists())
		assert.Equal(t, int64(5), gjson.GetBytes(out, "top_k").Int())
	})
}

func TestNormalizeRepairsToolSchema(t *testing.T) {
	pc := config.ProviderConfig{Format: config.FormatBlocks}
	body := []byte(`{"model":"claude-sonnet-4-5","tools":[` +
		`{"name":"search","input_schema":{"properties":{"q":{"type":"string"}}}},` +
		`{"name":"fetch","input_schema":{"type":"object","properties":{}}}]}`)

	out, modified := normalizeRequest(body, pc, "claude-sonnet-4-5")
	assert.True(t, modified)
	assert.Equal(t, "object", gjson.GetBytes(out, "tools.0.input_schema.type").String())
	assert.Equal(t, "object", gjson.GetBytes(out, "tools.1.input_schema.type").String())
}

func TestNormalizeInvalidJSONPassthrough(t *testing.T) {
	pc := config.ProviderConfig{Format: config.FormatBlocks}
	body := []byte(`{"model": truncated`)

	out, modified := normalizeRequest(body, pc, "claude-sonnet-4-5")
	assert.False(t, modified)
	assert.Equal(t, string(body), string(out))
}
