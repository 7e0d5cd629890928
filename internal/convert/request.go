package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sentinelgate/agent-gateway/internal/config"
)

// defaultToolSchema is used when a tool declares no parameter schema.
var defaultToolSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ChatRequestToBlocks converts a chat-format request into the blocks format.
//
// System and developer messages are lifted out of the message array into the
// top-level system field. Tool-call turns become tool_use blocks and tool
// result turns become tool_result blocks inside user messages. Consecutive
// tool results are coalesced into a single user message so the alternation
// requirement of the blocks format holds.
func ChatRequestToBlocks(req ChatRequest) (BlocksRequest, error) {
	out := BlocksRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = config.DefaultMaxTokens
	}

	var system []string
	var pendingResults *BlocksMessage

	flushResults := func() {
		if pendingResults != nil {
			out.Messages = append(out.Messages, *pendingResults)
			pendingResults = nil
		}
	}

	for i, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			text, err := ContentText(msg.Content)
			if err != nil {
				return BlocksRequest{}, fmt.Errorf("message %d: %w", i, err)
			}
			if text != "" {
				system = append(system, text)
			}

		case "tool":
			var payload json.RawMessage
			if text, err := ContentText(msg.Content); err == nil {
				payload = TextContent(text)
			} else {
				payload = msg.Content
			}
			block := ContentBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   payload,
			}
			if pendingResults == nil {
				pendingResults = &BlocksMessage{Role: "user"}
			}
			pendingResults.Content = append(pendingResults.Content, block)

		case "assistant":
			flushResults()
			blocks, err := assistantBlocks(msg)
			if err != nil {
				return BlocksRequest{}, fmt.Errorf("message %d: %w", i, err)
			}
			out.Messages = append(out.Messages, BlocksMessage{Role: "assistant", Content: blocks})

		default: // user
			flushResults()
			blocks, err := userBlocks(msg.Content)
			if err != nil {
				return BlocksRequest{}, fmt.Errorf("message %d: %w", i, err)
			}
			out.Messages = append(out.Messages, BlocksMessage{Role: "user", Content: blocks})
		}
	}
	flushResults()

	out.System = SystemField(strings.Join(system, "\n\n"))

	for _, t := range req.Tools {
		schema := t.Function.Parameters
		if len(schema) == 0 {
			schema = defaultToolSchema
		}
		out.Tools = append(out.Tools, BlocksTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}
	return out, nil
}

// assistantBlocks turns an assistant chat message into content blocks:
// the text content first, then one tool_use block per tool call.
func assistantBlocks(msg ChatMessage) (BlockList, error) {
	var blocks BlockList
	if len(msg.Content) > 0 {
		text, err := ContentText(msg.Content)
		if err != nil {
			return nil, err
		}
		if text != "" {
			blocks = append(blocks, ContentBlock{Type: "text", Text: text})
		}
	}
	for _, tc := range msg.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		id := tc.ID
		if id == "" {
			id = "toolu_" + uuid.NewString()
		}
		blocks = append(blocks, ContentBlock{
			Type:  "tool_use",
			ID:    id,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	if len(blocks) == 0 {
		blocks = append(blocks, ContentBlock{Type: "text", Text: ""})
	}
	return blocks, nil
}

// userBlocks turns user content (string or parts array) into content blocks.
// Inline data-URL images become image blocks; remote image URLs degrade to a
// text placeholder since the blocks format cannot reference them.
func userBlocks(content json.RawMessage) (BlockList, error) {
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return BlockList{{Type: "text", Text: s}}, nil
	}
	var parts []ChatContentPart
	if err := json.Unmarshal(content, &parts); err != nil {
		return nil, fmt.Errorf("content is neither string nor parts array: %w", err)
	}
	var blocks BlockList
	for _, p := range parts {
		switch p.Type {
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if src, ok := parseDataURL(p.ImageURL.URL); ok {
				blocks = append(blocks, ContentBlock{Type: "image", Source: src})
			} else {
				blocks = append(blocks, ContentBlock{Type: "text", Text: "[image: " + p.ImageURL.URL + "]"})
			}
		default:
			blocks = append(blocks, ContentBlock{Type: "text", Text: p.Text})
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, ContentBlock{Type: "text", Text: ""})
	}
	return blocks, nil
}

// parseDataURL splits a "data:<media>;base64,<data>" URL into an inline
// image source. Returns false for anything else.
func parseDataURL(url string) (*ImageSource, bool) {
	if !strings.HasPrefix(url, "data:") {
		return nil, false
	}
	meta, data, ok := strings.Cut(url[len("data:"):], ",")
	if !ok {
		return nil, false
	}
	mediaType, enc, ok := strings.Cut(meta, ";")
	if !ok || enc != "base64" {
		return nil, false
	}
	return &ImageSource{Type: "base64", MediaType: mediaType, Data: data}, true
}

// ContentText flattens a chat content field to plain text. Multi-part
// arrays have their text parts joined with newlines; image parts are
// replaced with a placeholder.
func ContentText(content json.RawMessage) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s, nil
	}
	var parts []ChatContentPart
	if err := json.Unmarshal(content, &parts); err != nil {
		return "", fmt.Errorf("content is neither string nor parts array: %w", err)
	}
	var texts []string
	for _, p := range parts {
		switch p.Type {
		case "image_url":
			url := ""
			if p.ImageURL != nil {
				url = p.ImageURL.URL
			}
			texts = append(texts, "[image: "+url+"]")
		default:
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// BlocksRequestToChat converts a blocks-format request into the chat format.
//
// The top-level system field becomes a leading system message. tool_result
// blocks in user messages fan out into individual tool-role messages, and
// tool_use blocks in assistant messages become tool_calls entries.
func BlocksRequestToChat(req BlocksRequest) (ChatRequest, error) {
	out := ChatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}
	if req.System != "" {
		out.Messages = append(out.Messages, ChatMessage{
			Role:    "system",
			Content: TextContent(string(req.System)),
		})
	}

	for i, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			cm := ChatMessage{Role: "assistant"}
			var texts []string
			for _, b := range msg.Content {
				switch b.Type {
				case "text":
					texts = append(texts, b.Text)
				case "tool_use":
					args := string(b.Input)
					if args == "" {
						args = "{}"
					}
					id := b.ID
					if id == "" {
						id = "call_" + uuid.NewString()
					}
					cm.ToolCalls = append(cm.ToolCalls, ChatToolCall{
						ID:   id,
						Type: "function",
						Function: ChatFunctionCall{
							Name:      b.Name,
							Arguments: args,
						},
					})
				}
			}
			if len(texts) > 0 || len(cm.ToolCalls) == 0 {
				cm.Content = TextContent(strings.Join(texts, ""))
			}
			out.Messages = append(out.Messages, cm)

		case "user":
			results, rest, err := splitUserBlocks(msg.Content)
			if err != nil {
				return ChatRequest{}, fmt.Errorf("message %d: %w", i, err)
			}
			out.Messages = append(out.Messages, results...)
			if rest != nil {
				out.Messages = append(out.Messages, *rest)
			}

		default:
			return ChatRequest{}, fmt.Errorf("message %d: unsupported role %q", i, msg.Role)
		}
	}

	for _, t := range req.Tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = defaultToolSchema
		}
		out.Tools = append(out.Tools, ChatTool{
			Type: "function",
			Function: ChatToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out, nil
}

// splitUserBlocks separates tool_result blocks (which become tool-role
// messages) from the remaining text/image blocks (which become one user
// message, or nil when there are none).
func splitUserBlocks(blocks BlockList) ([]ChatMessage, *ChatMessage, error) {
	var results []ChatMessage
	var parts []ChatContentPart
	for _, b := range blocks {
		switch b.Type {
		case "tool_result":
			results = append(results, ChatMessage{
				Role:       "tool",
				Content:    TextContent(toolResultText(b)),
				ToolCallID: b.ToolUseID,
			})
		case "image":
			if b.Source == nil {
				continue
			}
			url := b.Source.URL
			if b.Source.Type == "base64" {
				url = "data:" + b.Source.MediaType + ";base64," + b.Source.Data
			}
			parts = append(parts, ChatContentPart{Type: "image_url", ImageURL: &ChatImageURL{URL: url}})
		case "text":
			parts = append(parts, ChatContentPart{Type: "text", Text: b.Text})
		}
	}
	if len(parts) == 0 {
		if len(results) > 0 {
			return results, nil, nil
		}
		return nil, &ChatMessage{Role: "user", Content: TextContent("")}, nil
	}
	if len(parts) == 1 && parts[0].Type == "text" {
		return results, &ChatMessage{Role: "user", Content: TextContent(parts[0].Text)}, nil
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return nil, nil, err
	}
	return results, &ChatMessage{Role: "user", Content: data}, nil
}

// toolResultText flattens a tool_result payload (string or blocks) to text.
func toolResultText(b ContentBlock) string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var inner []ContentBlock
	if err := json.Unmarshal(b.Content, &inner); err == nil {
		var texts []string
		for _, ib := range inner {
			if ib.Type == "text" {
				texts = append(texts, ib.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(b.Content)
}
