package adapters

import (
	"bytes"
	"encoding/json"

	"github.com/sentinelgate/agent-gateway/internal/config"
)

// StreamParser incrementally parses an event stream and extracts model,
// usage, and assistant text for deferred metric extraction. It only reads
// structured "data: {json}" events to avoid false positives from arbitrary
// text that might contain token-like key names.
type StreamParser struct {
	format config.Format
	buffer []byte
	usage  UsageInfo
	model  string
	text   bytes.Buffer
}

// NewStreamParser creates a parser for the given wire format.
func NewStreamParser(format config.Format) *StreamParser {
	return &StreamParser{format: format, buffer: make([]byte, 0, 4096)}
}

// Feed consumes a raw chunk of the event stream.
func (p *StreamParser) Feed(chunk []byte) {
	p.buffer = append(p.buffer, chunk...)
	p.parse(false)
}

// Usage returns usage accumulated so far, flushing any buffered partial event.
func (p *StreamParser) Usage() UsageInfo {
	p.parse(true)
	return p.usage
}

// Model returns the model name seen in the stream, if any.
func (p *StreamParser) Model() string { return p.model }

// Text returns the assistant text accumulated from delta events.
func (p *StreamParser) Text() string { return p.text.String() }

func (p *StreamParser) parse(flush bool) {
	for {
		event, rest, ok := NextSSEEvent(p.buffer, flush)
		if !ok {
			return
		}
		p.buffer = rest
		for _, payload := range DataPayloads(event) {
			p.parsePayload(payload)
		}
	}
}

// NextSSEEvent splits the next complete event off buf. With flush set, a
// trailing partial event is returned as-is.
func NextSSEEvent(buf []byte, flush bool) (event, rest []byte, ok bool) {
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
		return buf[:idx], buf[idx+4:], true
	}
	if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
		return buf[:idx], buf[idx+2:], true
	}
	if flush {
		trimmed := bytes.TrimSpace(buf)
		if len(trimmed) > 0 {
			return trimmed, nil, true
		}
	}
	return nil, nil, false
}

// DataPayloads returns the JSON payloads of an event's data lines,
// skipping [DONE] sentinels.
func DataPayloads(event []byte) [][]byte {
	lines := bytes.Split(event, []byte("\n"))
	payloads := make([][]byte, 0, 2)
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

type blocksStreamPayload struct {
	Type    string `json:"type"`
	Message struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type chatStreamPayload struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *StreamParser) parsePayload(data []byte) {
	if p.format == config.FormatBlocks {
		var ev blocksStreamPayload
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Message.Model != "" {
			p.model = ev.Message.Model
		}
		if ev.Message.Usage.InputTokens > 0 {
			p.usage.InputTokens = ev.Message.Usage.InputTokens
			p.usage.CacheCreationInputTokens = ev.Message.Usage.CacheCreationInputTokens
			p.usage.CacheReadInputTokens = ev.Message.Usage.CacheReadInputTokens
		}
		if ev.Usage.OutputTokens > p.usage.OutputTokens {
			p.usage.OutputTokens = ev.Usage.OutputTokens
		}
		if ev.Delta.Type == "text_delta" {
			p.text.WriteString(ev.Delta.Text)
		}
	} else {
		var ev chatStreamPayload
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Model != "" {
			p.model = ev.Model
		}
		if len(ev.Choices) > 0 {
			p.text.WriteString(ev.Choices[0].Delta.Content)
		}
		if ev.Usage != nil {
			p.usage.InputTokens = ev.Usage.PromptTokens
			p.usage.OutputTokens = ev.Usage.CompletionTokens
		}
	}
	p.usage.TotalTokens = p.usage.InputTokens + p.usage.OutputTokens +
		p.usage.CacheCreationInputTokens + p.usage.CacheReadInputTokens
}
