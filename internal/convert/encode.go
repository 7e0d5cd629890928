package convert

import "encoding/json"

// EncodeBlocksEvent serializes one blocks event as an SSE frame with the
// event name line the blocks format expects.
func EncodeBlocksEvent(ev BlocksStreamEvent) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	out := make([]byte, 0, len(ev.Type)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, ev.Type...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}

// EncodeChatChunk serializes one chat chunk as a data-only SSE frame.
func EncodeChatChunk(chunk ChatStreamChunk) []byte {
	data, err := json.Marshal(chunk)
	if err != nil {
		return nil
	}
	out := make([]byte, 0, len(data)+10)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}

// ChatDone is the chat-format stream terminator frame.
func ChatDone() []byte {
	return []byte("data: [DONE]\n\n")
}
