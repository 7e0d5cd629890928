package adapters

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelgate/agent-gateway/internal/config"
	"github.com/sentinelgate/agent-gateway/internal/utils"
)

// chatShape handles the flat role/content chat-completions format.
type chatShape struct{}

func (chatShape) Format() config.Format { return config.FormatChat }

func (chatShape) ExtractModel(body []byte) string {
	var v struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &v)
	return v.Model
}

func (chatShape) ExtractUsage(body []byte) UsageInfo {
	if len(body) == 0 {
		return UsageInfo{}
	}
	var resp struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return UsageInfo{}
	}
	u := UsageInfo{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

func (chatShape) ExtractResponseText(body []byte) string {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

func (chatShape) ExtractPrompt(body []byte) string {
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
		if req.Messages[i].Role == "user" {
			return flattenContent(req.Messages[i].Content)
		}
	}
	return ""
}

func (chatShape) ExtractToolCalls(body []byte) []ToolCallInfo {
	// Requests carry tool calls on the trailing assistant message;
	// responses carry them on choices[0].message.
	var v struct {
		Messages []struct {
			Role      string        `json:"role"`
			ToolCalls []chatRawCall `json:"tool_calls"`
		} `json:"messages"`
		Choices []struct {
			Message struct {
				ToolCalls []chatRawCall `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}

	var raw []chatRawCall
	if len(v.Choices) > 0 {
		raw = v.Choices[0].Message.ToolCalls
	} else {
		for i := len(v.Messages) - 1; i >= 0; i-- {
			if v.Messages[i].Role == "assistant" && len(v.Messages[i].ToolCalls) > 0 {
				raw = v.Messages[i].ToolCalls
				break
			}
		}
	}

	calls := make([]ToolCallInfo, 0, len(raw))
	for _, c := range raw {
		calls = append(calls, ToolCallInfo{Name: c.Function.Name, Arguments: c.Function.Arguments})
	}
	return calls
}

type chatRawCall struct {
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (chatShape) SyntheticBlockedResponse(model, message string) []byte {
	resp := map[string]any{
		"id":      "chatcmpl-" + uuid.New().String(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []any{
			map[string]any{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": message,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{"prompt_tokens": 0, "completion_tokens": 0, "total_tokens": 0},
	}
	data, _ := utils.MarshalNoEscape(resp)
	return data
}

func (chatShape) RateLimitErrorBody(message string) []byte {
	data, _ := utils.MarshalNoEscape(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "rate_limit_exceeded",
			"code":    "rate_limit_exceeded",
		},
	})
	return data
}

// flattenContent returns the text of a content field that may be a plain
// string or an array of typed parts.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	out := ""
	for _, p := range parts {
		if p.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}
