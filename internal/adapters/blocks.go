package adapters

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/sentinelgate/agent-gateway/internal/config"
	"github.com/sentinelgate/agent-gateway/internal/utils"
)

// blocksShape handles the typed content-block format.
type blocksShape struct{}

func (blocksShape) Format() config.Format { return config.FormatBlocks }

func (blocksShape) ExtractModel(body []byte) string {
	var v struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &v)
	return v.Model
}

func (blocksShape) ExtractUsage(body []byte) UsageInfo {
	if len(body) == 0 {
		return UsageInfo{}
	}
	var resp struct {
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return UsageInfo{}
	}
	u := UsageInfo{
		InputTokens:              resp.Usage.InputTokens,
		OutputTokens:             resp.Usage.OutputTokens,
		CacheCreationInputTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     resp.Usage.CacheReadInputTokens,
	}
	u.TotalTokens = u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
	return u
}

type blockRaw struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (blocksShape) ExtractResponseText(body []byte) string {
	var resp struct {
		Content []blockRaw `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	out := ""
	for _, b := range resp.Content {
		if b.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

func (blocksShape) ExtractPrompt(body []byte) string {
	var req struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		raw := req.Messages[i].Content
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		var blocks []blockRaw
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return ""
		}
		out := ""
		for _, b := range blocks {
			if b.Type == "text" {
				if out != "" {
					out += "\n"
				}
				out += b.Text
			}
		}
		return out
	}
	return ""
}

func (blocksShape) ExtractToolCalls(body []byte) []ToolCallInfo {
	// Responses carry tool_use in top-level content; requests carry them in
	// the trailing assistant message.
	var v struct {
		Content  []blockRaw `json:"content"`
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}

	blocks := v.Content
	if blocks == nil {
		for i := len(v.Messages) - 1; i >= 0; i-- {
			if v.Messages[i].Role != "assistant" {
				continue
			}
			var parsed []blockRaw
			if err := json.Unmarshal(v.Messages[i].Content, &parsed); err == nil && len(parsed) > 0 {
				blocks = parsed
			}
			break
		}
	}

	var calls []ToolCallInfo
	for _, b := range blocks {
		if b.Type == "tool_use" {
			calls = append(calls, ToolCallInfo{Name: b.Name, Arguments: string(b.Input)})
		}
	}
	return calls
}

func (blocksShape) SyntheticBlockedResponse(model, message string) []byte {
	resp := map[string]any{
		"id":    "msg_" + uuid.New().String(),
		"type":  "message",
		"role":  "assistant",
		"model": model,
		"content": []any{
			map[string]any{"type": "text", "text": message},
		},
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
	}
	data, _ := utils.MarshalNoEscape(resp)
	return data
}

func (blocksShape) RateLimitErrorBody(message string) []byte {
	data, _ := utils.MarshalNoEscape(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "rate_limit_error",
			"message": message,
		},
	})
	return data
}
