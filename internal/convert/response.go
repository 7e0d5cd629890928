package convert

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StopReasonToFinish maps a blocks stop_reason to a chat finish_reason.
// Unknown values collapse to "stop".
func StopReasonToFinish(stop string) string {
	switch stop {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

// FinishToStopReason maps a chat finish_reason to a blocks stop_reason.
// Unknown values collapse to "end_turn".
func FinishToStopReason(finish string) string {
	switch finish {
	case "stop", "content_filter":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}

// BlocksResponseToChat converts a blocks-format response into the chat
// format. Text blocks are concatenated into the message content and
// tool_use blocks become tool_calls entries.
func BlocksResponseToChat(resp BlocksResponse) ChatResponse {
	msg := ChatMessage{Role: "assistant"}
	var texts []string
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			texts = append(texts, b.Text)
		case "tool_use":
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, ChatToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: ChatFunctionCall{Name: b.Name, Arguments: args},
			})
		}
	}
	if len(texts) > 0 || len(msg.ToolCalls) == 0 {
		msg.Content = TextContent(strings.Join(texts, ""))
	}

	out := ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: StopReasonToFinish(resp.StopReason),
		}},
	}
	if out.ID == "" {
		out.ID = "chatcmpl-" + uuid.NewString()
	}
	if resp.Usage != nil {
		out.Usage = &ChatUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

// ChatResponseToBlocks converts a chat-format response into the blocks
// format. Only the first choice is carried over.
func ChatResponseToBlocks(resp ChatResponse) BlocksResponse {
	out := BlocksResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
	}
	if out.ID == "" {
		out.ID = "msg_" + uuid.NewString()
	}
	if resp.Usage != nil {
		out.Usage = &BlocksUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 {
		out.StopReason = "end_turn"
		out.Content = []ContentBlock{{Type: "text", Text: ""}}
		return out
	}

	choice := resp.Choices[0]
	out.StopReason = FinishToStopReason(choice.FinishReason)

	if text, err := ContentText(choice.Message.Content); err == nil && text != "" {
		out.Content = append(out.Content, ContentBlock{Type: "text", Text: text})
	}
	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		id := tc.ID
		if id == "" {
			id = "toolu_" + uuid.NewString()
		}
		out.Content = append(out.Content, ContentBlock{
			Type:  "tool_use",
			ID:    id,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	if len(out.Content) == 0 {
		out.Content = []ContentBlock{{Type: "text", Text: ""}}
	}
	return out
}
