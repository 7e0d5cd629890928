package convert

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ChatToBlocksStream rewrites a chat-format delta stream into a blocks-format
// event stream. One instance serves exactly one exchange.
//
// The machine guarantees the blocks event grammar: a single message_start,
// a content_block_start before any delta for that index, content_block_stop
// for every opened index, then one message_delta carrying the stop reason
// and one message_stop. Finalize closes out a truncated upstream stream and
// is a no-op once the terminal events have been emitted.
type ChatToBlocksStream struct {
	started   bool
	finalized bool

	id    string
	model string

	nextIndex int
	textIndex int         // block index of the open text block, -1 if none
	toolIndex map[int]int // chat tool_calls index -> block index
	openOrder []int       // block indexes in open order

	stopReason string
	usage      BlocksUsage
}

// NewChatToBlocksStream returns a fresh converter for one streamed exchange.
func NewChatToBlocksStream() *ChatToBlocksStream {
	return &ChatToBlocksStream{
		textIndex: -1,
		toolIndex: make(map[int]int),
	}
}

// Next consumes one upstream chunk and returns the blocks events it maps to.
// Chunks arriving after the terminal events are dropped.
func (s *ChatToBlocksStream) Next(chunk ChatStreamChunk) []BlocksStreamEvent {
	if s.finalized {
		return nil
	}
	var events []BlocksStreamEvent

	if !s.started {
		events = append(events, s.startEvent(chunk))
	}

	if chunk.Usage != nil {
		s.usage.InputTokens = chunk.Usage.PromptTokens
		s.usage.OutputTokens = chunk.Usage.CompletionTokens
	}
	if len(chunk.Choices) == 0 {
		return events
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if s.textIndex < 0 {
			s.textIndex = s.open(&events, ContentBlock{Type: "text", Text: ""})
		}
		idx := s.textIndex
		events = append(events, BlocksStreamEvent{
			Type:  EventContentBlockDelta,
			Index: &idx,
			Delta: &BlocksDelta{Type: "text_delta", Text: choice.Delta.Content},
		})
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx, ok := s.toolIndex[tc.Index]
		if !ok {
			id := tc.ID
			if id == "" {
				id = "toolu_" + uuid.NewString()
			}
			idx = s.open(&events, ContentBlock{
				Type:  "tool_use",
				ID:    id,
				Name:  tc.Function.Name,
				Input: json.RawMessage(`{}`),
			})
			s.toolIndex[tc.Index] = idx
		}
		if tc.Function.Arguments != "" {
			i := idx
			events = append(events, BlocksStreamEvent{
				Type:  EventContentBlockDelta,
				Index: &i,
				Delta: &BlocksDelta{Type: "input_json_delta", PartialJSON: tc.Function.Arguments},
			})
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		s.stopReason = FinishToStopReason(*choice.FinishReason)
		events = append(events, s.terminalEvents()...)
	}
	return events
}

// Finalize closes the stream if the upstream ended without a finish reason.
// Calling it again returns nil.
func (s *ChatToBlocksStream) Finalize() []BlocksStreamEvent {
	if s.finalized {
		return nil
	}
	var events []BlocksStreamEvent
	if !s.started {
		events = append(events, s.startEvent(ChatStreamChunk{}))
	}
	if s.stopReason == "" {
		s.stopReason = "end_turn"
	}
	events = append(events, s.terminalEvents()...)
	return events
}

func (s *ChatToBlocksStream) startEvent(chunk ChatStreamChunk) BlocksStreamEvent {
	s.started = true
	s.id = chunk.ID
	if s.id == "" {
		s.id = "msg_" + uuid.NewString()
	}
	s.model = chunk.Model
	return BlocksStreamEvent{
		Type: EventMessageStart,
		Message: &BlocksResponse{
			ID:      s.id,
			Type:    "message",
			Role:    "assistant",
			Model:   s.model,
			Content: []ContentBlock{},
			Usage:   &BlocksUsage{},
		},
	}
}

// open appends a content_block_start and returns the new block index.
func (s *ChatToBlocksStream) open(events *[]BlocksStreamEvent, block ContentBlock) int {
	idx := s.nextIndex
	s.nextIndex++
	s.openOrder = append(s.openOrder, idx)
	b := block
	i := idx
	*events = append(*events, BlocksStreamEvent{
		Type:         EventContentBlockStart,
		Index:        &i,
		ContentBlock: &b,
	})
	return idx
}

// terminalEvents closes every open block and emits the message_delta and
// message_stop pair, marking the machine finalized.
func (s *ChatToBlocksStream) terminalEvents() []BlocksStreamEvent {
	var events []BlocksStreamEvent
	for _, idx := range s.openOrder {
		i := idx
		events = append(events, BlocksStreamEvent{Type: EventContentBlockStop, Index: &i})
	}
	s.openOrder = nil
	usage := s.usage
	events = append(events,
		BlocksStreamEvent{
			Type:  EventMessageDelta,
			Delta: &BlocksDelta{StopReason: s.stopReason},
			Usage: &usage,
		},
		BlocksStreamEvent{Type: EventMessageStop},
	)
	s.finalized = true
	return events
}
