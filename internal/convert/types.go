// Package convert translates between the two supported chat-completion wire
// formats: the flat role/content "chat" format and the typed content-block
// "blocks" format. Non-streaming conversions are pure functions; streaming
// conversions are per-exchange state machines (see stream_*.go).
package convert

import "encoding/json"

// =============================================================================
// CHAT FORMAT - flat messages, tool_calls array, finish_reason
// =============================================================================

// ChatRequest is a chat-format completion request.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []ChatTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatMessage is one turn. Content is either a JSON string or an array of
// typed parts; it is kept raw and decoded on demand.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ChatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// TextContent wraps a plain string as a raw content field.
func TextContent(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// ChatContentPart is one element of a multi-part content array.
type ChatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ChatImageURL `json:"image_url,omitempty"`
}

// ChatImageURL carries an image reference, inline data URL or remote.
type ChatImageURL struct {
	URL string `json:"url"`
}

// ChatToolCall is an assistant tool invocation.
type ChatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ChatFunctionCall `json:"function"`
}

// ChatFunctionCall holds the function name and its JSON-encoded arguments.
type ChatFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatTool declares a callable tool.
type ChatTool struct {
	Type     string           `json:"type"`
	Function ChatToolFunction `json:"function"`
}

// ChatToolFunction is the tool's schema.
type ChatToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatResponse is a chat-format completion response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice is one completion alternative.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage is chat-format token accounting.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatStreamChunk is one streamed delta.
type ChatStreamChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
	Usage   *ChatUsage        `json:"usage,omitempty"`
}

// ChatChunkChoice carries the delta and optional finish reason.
type ChatChunkChoice struct {
	Index        int            `json:"index"`
	Delta        ChatChunkDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason,omitempty"`
}

// ChatChunkDelta is the incremental message fragment.
type ChatChunkDelta struct {
	Role      string              `json:"role,omitempty"`
	Content   string              `json:"content,omitempty"`
	ToolCalls []ChatChunkToolCall `json:"tool_calls,omitempty"`
}

// ChatChunkToolCall is an incremental tool-call fragment keyed by index.
type ChatChunkToolCall struct {
	Index    int              `json:"index"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ChatFunctionCall `json:"function"`
}

// =============================================================================
// BLOCKS FORMAT - typed content blocks, top-level system, stop_reason
// =============================================================================

// BlocksRequest is a blocks-format completion request.
type BlocksRequest struct {
	Model         string          `json:"model"`
	System        SystemField     `json:"system,omitempty"`
	Messages      []BlocksMessage `json:"messages"`
	Tools         []BlocksTool    `json:"tools,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
}

// SystemField accepts either a plain string or an array of text blocks on
// input, and always marshals as a plain string.
type SystemField string

// UnmarshalJSON implements the string-or-blocks union.
func (s *SystemField) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SystemField(str)
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	joined := ""
	for _, b := range blocks {
		if b.Type != "text" {
			continue
		}
		if joined != "" {
			joined += "\n\n"
		}
		joined += b.Text
	}
	*s = SystemField(joined)
	return nil
}

// BlocksMessage is one turn of typed content blocks.
type BlocksMessage struct {
	Role    string    `json:"role"`
	Content BlockList `json:"content"`
}

// BlockList accepts either a plain string (shorthand for a single text
// block) or an array of blocks on input.
type BlockList []ContentBlock

// UnmarshalJSON implements the string-or-array union.
func (b *BlockList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = BlockList{{Type: "text", Text: s}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*b = blocks
	return nil
}

// ContentBlock is the union of all block kinds; which fields are set
// depends on Type (text, image, tool_use, tool_result).
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ImageSource is an inline-encoded (or, rarely, URL) image payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// BlocksTool declares a callable tool.
type BlocksTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// BlocksResponse is a blocks-format completion response.
type BlocksResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        *BlocksUsage   `json:"usage,omitempty"`
}

// BlocksUsage is blocks-format token accounting.
type BlocksUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// BlocksStreamEvent is one typed streaming event.
type BlocksStreamEvent struct {
	Type         string          `json:"type"`
	Message      *BlocksResponse `json:"message,omitempty"`
	Index        *int            `json:"index,omitempty"`
	ContentBlock *ContentBlock   `json:"content_block,omitempty"`
	Delta        *BlocksDelta    `json:"delta,omitempty"`
	Usage        *BlocksUsage    `json:"usage,omitempty"`
}

// BlocksDelta is the union of delta payloads carried by streaming events.
type BlocksDelta struct {
	Type        string  `json:"type,omitempty"`
	Text        string  `json:"text,omitempty"`
	PartialJSON string  `json:"partial_json,omitempty"`
	StopReason  string  `json:"stop_reason,omitempty"`
	StopSeq     *string `json:"stop_sequence,omitempty"`
}

// Streaming event type names for the blocks format.
const (
	EventMessageStart      = "message_start"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventPing              = "ping"
)
