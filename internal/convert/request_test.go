package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequestToBlocksSystemExtraction(t *testing.T) {
	req := ChatRequest{
		Model: "test-model",
		Messages: []ChatMessage{
			{Role: "system", Content: TextContent("be terse")},
			{Role: "user", Content: TextContent("hello")},
		},
	}
	out, err := ChatRequestToBlocks(req)
	require.NoError(t, err)

	assert.Equal(t, "test-model", out.Model)
	assert.Equal(t, SystemField("be terse"), out.System)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	require.Len(t, out.Messages[0].Content, 1)
	assert.Equal(t, "hello", out.Messages[0].Content[0].Text)
	assert.Greater(t, out.MaxTokens, 0, "max_tokens must be injected when absent")
}

func TestChatRequestToBlocksToolCalls(t *testing.T) {
	req := ChatRequest{
		Model: "test-model",
		Messages: []ChatMessage{
			{Role: "user", Content: TextContent("list files")},
			{Role: "assistant", ToolCalls: []ChatToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: ChatFunctionCall{
					Name:      "list_dir",
					Arguments: `{"path":"/tmp"}`,
				},
			}}},
			{Role: "tool", ToolCallID: "call_1", Content: TextContent("a.txt b.txt")},
		},
		Tools: []ChatTool{{
			Type: "function",
			Function: ChatToolFunction{
				Name:       "list_dir",
				Parameters: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`),
			},
		}},
	}
	out, err := ChatRequestToBlocks(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)

	asst := out.Messages[1]
	require.Len(t, asst.Content, 1)
	assert.Equal(t, "tool_use", asst.Content[0].Type)
	assert.Equal(t, "call_1", asst.Content[0].ID)
	assert.Equal(t, "list_dir", asst.Content[0].Name)
	assert.JSONEq(t, `{"path":"/tmp"}`, string(asst.Content[0].Input))

	result := out.Messages[2]
	assert.Equal(t, "user", result.Role)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "tool_result", result.Content[0].Type)
	assert.Equal(t, "call_1", result.Content[0].ToolUseID)

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "list_dir", out.Tools[0].Name)
}

func TestChatRequestToBlocksInvalidToolArguments(t *testing.T) {
	req := ChatRequest{
		Model: "test-model",
		Messages: []ChatMessage{
			{Role: "assistant", ToolCalls: []ChatToolCall{{
				ID:       "call_x",
				Function: ChatFunctionCall{Name: "run", Arguments: `{"broken`},
			}}},
		},
	}
	out, err := ChatRequestToBlocks(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.JSONEq(t, `{}`, string(out.Messages[0].Content[0].Input))
}

func TestChatRequestToBlocksImageDegradesToPlaceholder(t *testing.T) {
	content, _ := json.Marshal([]ChatContentPart{
		{Type: "text", Text: "what is this"},
		{Type: "image_url", ImageURL: &ChatImageURL{URL: "https://example.com/cat.png"}},
	})
	req := ChatRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: "user", Content: content}},
	}
	out, err := ChatRequestToBlocks(req)
	require.NoError(t, err)
	require.Len(t, out.Messages[0].Content, 2)
	assert.Equal(t, "text", out.Messages[0].Content[1].Type)
	assert.Contains(t, out.Messages[0].Content[1].Text, "https://example.com/cat.png")
}

func TestChatRequestToBlocksInlineImage(t *testing.T) {
	content, _ := json.Marshal([]ChatContentPart{
		{Type: "image_url", ImageURL: &ChatImageURL{URL: "data:image/png;base64,aGVsbG8="}},
	})
	req := ChatRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: "user", Content: content}},
	}
	out, err := ChatRequestToBlocks(req)
	require.NoError(t, err)
	block := out.Messages[0].Content[0]
	require.Equal(t, "image", block.Type)
	require.NotNil(t, block.Source)
	assert.Equal(t, "base64", block.Source.Type)
	assert.Equal(t, "image/png", block.Source.MediaType)
	assert.Equal(t, "aGVsbG8=", block.Source.Data)
}

func TestBlocksRequestToChatSystemInjection(t *testing.T) {
	req := BlocksRequest{
		Model:     "test-model",
		System:    "be terse",
		MaxTokens: 256,
		Messages: []BlocksMessage{
			{Role: "user", Content: BlockList{{Type: "text", Text: "hello"}}},
		},
	}
	out, err := BlocksRequestToChat(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "system", out.Messages[0].Role)

	text, err := ContentText(out.Messages[0].Content)
	require.NoError(t, err)
	assert.Equal(t, "be terse", text)
	assert.Equal(t, 256, out.MaxTokens)
}

func TestBlocksRequestToChatToolResultFanOut(t *testing.T) {
	req := BlocksRequest{
		Model:     "test-model",
		MaxTokens: 256,
		Messages: []BlocksMessage{
			{Role: "assistant", Content: BlockList{
				{Type: "tool_use", ID: "toolu_1", Name: "list_dir", Input: json.RawMessage(`{"path":"/"}`)},
				{Type: "tool_use", ID: "toolu_2", Name: "read_file", Input: json.RawMessage(`{"path":"/a"}`)},
			}},
			{Role: "user", Content: BlockList{
				{Type: "tool_result", ToolUseID: "toolu_1", Content: TextContent("ok")},
				{Type: "tool_result", ToolUseID: "toolu_2", Content: TextContent("data")},
			}},
		},
	}
	out, err := BlocksRequestToChat(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)

	asst := out.Messages[0]
	require.Len(t, asst.ToolCalls, 2)
	assert.Equal(t, "list_dir", asst.ToolCalls[0].Function.Name)

	assert.Equal(t, "tool", out.Messages[1].Role)
	assert.Equal(t, "toolu_1", out.Messages[1].ToolCallID)
	assert.Equal(t, "tool", out.Messages[2].Role)
	assert.Equal(t, "toolu_2", out.Messages[2].ToolCallID)
}

func TestRequestRoundTripPreservesShape(t *testing.T) {
	orig := ChatRequest{
		Model:     "test-model",
		MaxTokens: 512,
		Messages: []ChatMessage{
			{Role: "system", Content: TextContent("sys")},
			{Role: "user", Content: TextContent("q1")},
			{Role: "assistant", Content: TextContent("a1")},
			{Role: "user", Content: TextContent("q2")},
		},
		Tools: []ChatTool{{
			Type:     "function",
			Function: ChatToolFunction{Name: "search"},
		}},
	}
	blocks, err := ChatRequestToBlocks(orig)
	require.NoError(t, err)
	back, err := BlocksRequestToChat(blocks)
	require.NoError(t, err)

	assert.Equal(t, orig.Model, back.Model)
	assert.Equal(t, orig.MaxTokens, back.MaxTokens)
	require.Len(t, back.Messages, len(orig.Messages))
	for i := range orig.Messages {
		assert.Equal(t, orig.Messages[i].Role, back.Messages[i].Role, "message %d role", i)
	}
	require.Len(t, back.Tools, 1)
	assert.Equal(t, "search", back.Tools[0].Function.Name)
}

func TestSystemFieldAcceptsBlockArray(t *testing.T) {
	var req BlocksRequest
	body := `{"model":"m","max_tokens":10,"system":[{"type":"text","text":"one"},{"type":"text","text":"two"}],"messages":[]}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	assert.Equal(t, SystemField("one\n\ntwo"), req.System)
}

func TestBlockListAcceptsPlainString(t *testing.T) {
	var msg BlocksMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &msg))
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "text", msg.Content[0].Type)
	assert.Equal(t, "hi", msg.Content[0].Text)
}
