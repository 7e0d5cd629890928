package convert

import (
	"time"

	"github.com/google/uuid"
)

// BlocksToChatStream rewrites a blocks-format event stream into a chat-format
// delta stream. One instance serves exactly one exchange.
//
// The first emitted chunk carries the assistant role; tool_use blocks are
// renumbered into the chat tool_calls index space in arrival order; the final
// chunk carries the finish reason and, when the upstream reported it, usage.
// Finalize synthesizes that final chunk if the upstream stream was cut short
// and is a no-op once it has been emitted.
type BlocksToChatStream struct {
	finalized bool

	id       string
	model    string
	created  int64
	roleSent bool

	blockKind map[int]string // block index -> "text" | "tool_use"
	toolSlot  map[int]int    // block index -> chat tool_calls index
	nextSlot  int

	finishReason string
	usage        *ChatUsage
}

// NewBlocksToChatStream returns a fresh converter for one streamed exchange.
func NewBlocksToChatStream() *BlocksToChatStream {
	return &BlocksToChatStream{
		created:   time.Now().Unix(),
		blockKind: make(map[int]string),
		toolSlot:  make(map[int]int),
	}
}

// Next consumes one upstream event and returns the chat chunks it maps to.
// Events arriving after the final chunk are dropped.
func (s *BlocksToChatStream) Next(ev BlocksStreamEvent) []ChatStreamChunk {
	if s.finalized {
		return nil
	}
	switch ev.Type {
	case EventMessageStart:
		if ev.Message != nil {
			s.id = ev.Message.ID
			s.model = ev.Message.Model
			if ev.Message.Usage != nil {
				s.mergeUsage(ev.Message.Usage)
			}
		}
		return s.emit(ChatChunkDelta{Role: "assistant"}, nil, nil)

	case EventContentBlockStart:
		if ev.Index == nil || ev.ContentBlock == nil {
			return nil
		}
		s.blockKind[*ev.Index] = ev.ContentBlock.Type
		if ev.ContentBlock.Type != "tool_use" {
			return nil
		}
		slot := s.nextSlot
		s.nextSlot++
		s.toolSlot[*ev.Index] = slot
		return s.emit(ChatChunkDelta{ToolCalls: []ChatChunkToolCall{{
			Index:    slot,
			ID:       ev.ContentBlock.ID,
			Type:     "function",
			Function: ChatFunctionCall{Name: ev.ContentBlock.Name},
		}}}, nil, nil)

	case EventContentBlockDelta:
		if ev.Index == nil || ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text == "" {
				return nil
			}
			return s.emit(ChatChunkDelta{Content: ev.Delta.Text}, nil, nil)
		case "input_json_delta":
			slot, ok := s.toolSlot[*ev.Index]
			if !ok || ev.Delta.PartialJSON == "" {
				return nil
			}
			return s.emit(ChatChunkDelta{ToolCalls: []ChatChunkToolCall{{
				Index:    slot,
				Function: ChatFunctionCall{Arguments: ev.Delta.PartialJSON},
			}}}, nil, nil)
		}
		return nil

	case EventMessageDelta:
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			s.finishReason = StopReasonToFinish(ev.Delta.StopReason)
		}
		if ev.Usage != nil {
			s.mergeUsage(ev.Usage)
		}
		return nil

	case EventMessageStop:
		return s.finalChunk()
	}
	return nil
}

// Finalize synthesizes the final chunk if the upstream never sent
// message_stop. Calling it again returns nil.
func (s *BlocksToChatStream) Finalize() []ChatStreamChunk {
	if s.finalized {
		return nil
	}
	return s.finalChunk()
}

func (s *BlocksToChatStream) finalChunk() []ChatStreamChunk {
	finish := s.finishReason
	if finish == "" {
		finish = "stop"
	}
	chunks := s.emit(ChatChunkDelta{}, &finish, s.usage)
	s.finalized = true
	return chunks
}

func (s *BlocksToChatStream) mergeUsage(u *BlocksUsage) {
	if s.usage == nil {
		s.usage = &ChatUsage{}
	}
	if u.InputTokens > 0 {
		s.usage.PromptTokens = u.InputTokens
	}
	if u.OutputTokens > 0 {
		s.usage.CompletionTokens = u.OutputTokens
	}
	s.usage.TotalTokens = s.usage.PromptTokens + s.usage.CompletionTokens
}

func (s *BlocksToChatStream) emit(delta ChatChunkDelta, finish *string, usage *ChatUsage) []ChatStreamChunk {
	if s.id == "" {
		s.id = "chatcmpl-" + uuid.NewString()
	}
	if !s.roleSent && delta.Role == "" {
		delta.Role = "assistant"
	}
	s.roleSent = true
	return []ChatStreamChunk{{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		Usage:   usage,
	}}
}
