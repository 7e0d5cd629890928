package adapters

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelgate/agent-gateway/internal/config"
)

func TestForFormat(t *testing.T) {
	assert.Equal(t, config.FormatBlocks, ForFormat(config.FormatBlocks).Format())
	assert.Equal(t, config.FormatChat, ForFormat(config.FormatChat).Format())
}

func TestChatExtractUsage(t *testing.T) {
	body := []byte(`{"usage":{"prompt_tokens":10,"completion_tokens":4}}`)
	u := chatShape{}.ExtractUsage(body)
	assert.Equal(t, 10, u.InputTokens)
	assert.Equal(t, 4, u.OutputTokens)
	assert.Equal(t, 14, u.TotalTokens, "total is derived when the body omits it")
}

func TestBlocksExtractUsageIncludesCache(t *testing.T) {
	body := []byte(`{"usage":{"input_tokens":10,"output_tokens":4,
		"cache_creation_input_tokens":100,"cache_read_input_tokens":50}}`)
	u := blocksShape{}.ExtractUsage(body)
	assert.Equal(t, 10, u.InputTokens)
	assert.Equal(t, 100, u.CacheCreationInputTokens)
	assert.Equal(t, 50, u.CacheReadInputTokens)
	assert.Equal(t, 164, u.TotalTokens)
}

func TestExtractPromptLastUserMessage(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"user","content":"first"},
		{"role":"assistant","content":"reply"},
		{"role":"user","content":"second"}]}`)
	assert.Equal(t, "second", chatShape{}.ExtractPrompt(body))
	assert.Equal(t, "second", blocksShape{}.ExtractPrompt(body))
}

func TestExtractPromptStructuredContent(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":[
		{"type":"text","text":"part one"},
		{"type":"image","source":{}},
		{"type":"text","text":"part two"}]}]}`)
	assert.Equal(t, "part one\npart two", blocksShape{}.ExtractPrompt(body))
}

func TestChatExtractToolCallsFromResponse(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"tool_calls":[
		{"function":{"name":"search","arguments":"{\"q\":\"go\"}"}}]}}]}`)
	calls := chatShape{}.ExtractToolCalls(body)
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Name)
	assert.Equal(t, `{"q":"go"}`, calls[0].Arguments)
}

func TestBlocksExtractToolCallsFromRequest(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"user","content":"find it"},
		{"role":"assistant","content":[
			{"type":"text","text":"searching"},
			{"type":"tool_use","name":"search","input":{"q":"go"}}]}]}`)
	calls := blocksShape{}.ExtractToolCalls(body)
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Name)
}

func TestSyntheticBlockedResponseParses(t *testing.T) {
	t.Run("chat", func(t *testing.T) {
		body := chatShape{}.SyntheticBlockedResponse("gpt-5.2", "budget exhausted")
		var resp struct {
			Object  string `json:"object"`
			Choices []struct {
				Message struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"message"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.Equal(t, "chat.completion", resp.Object)
		require.Len(t, resp.Choices, 1)
		assert.Equal(t, "budget exhausted", resp.Choices[0].Message.Content)
		assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	})

	t.Run("blocks", func(t *testing.T) {
		body := blocksShape{}.SyntheticBlockedResponse("claude-sonnet-4-5", "budget exhausted")
		var resp struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			StopReason string `json:"stop_reason"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.Equal(t, "message", resp.Type)
		assert.Equal(t, "assistant", resp.Role)
		require.Len(t, resp.Content, 1)
		assert.Equal(t, "budget exhausted", resp.Content[0].Text)
		assert.Equal(t, "end_turn", resp.StopReason)
	})
}
