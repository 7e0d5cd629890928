package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sentinelgate/agent-gateway/internal/adapters"
	"github.com/sentinelgate/agent-gateway/internal/config"
	"github.com/sentinelgate/agent-gateway/internal/convert"
)

// relayResponse forwards the upstream response to the client, streaming or
// buffered, converting formats when an override redirected the request to
// a provider with a different wire shape. After the relay it runs deferred
// metric extraction.
func (g *Gateway) relayResponse(w http.ResponseWriter, rc *requestContext, resp *http.Response) {
	streaming := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
	needConvert := rc.targetPC.Format != rc.pc.Format && resp.StatusCode == http.StatusOK

	for name, values := range resp.Header {
		lower := strings.ToLower(name)
		if lower == "content-length" || lower == "transfer-encoding" || lower == "connection" {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}

	if streaming {
		g.relayStream(w, rc, resp, needConvert)
		return
	}
	g.relayBuffered(w, rc, resp, needConvert)
}

func (g *Gateway) relayBuffered(w http.ResponseWriter, rc *requestContext, resp *http.Response, needConvert bool) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Str("provider", rc.target).Msg("reading upstream response failed")
		g.metrics.RecordRequest(rc.provider, "upstream_failure")
		g.writeError(w, "upstream response read failed", http.StatusBadGateway)
		return
	}

	out := body
	if needConvert {
		converted, err := convertResponseBody(body, rc.targetPC.Format, rc.pc.Format)
		if err != nil {
			log.Warn().Err(err).Msg("response format conversion failed, forwarding verbatim")
		} else {
			out = converted
		}
	}

	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(out)

	// Extraction reads the upstream-format body.
	tshape := adapters.ForFormat(rc.targetPC.Format)
	g.recordOutcome(rc, resp.StatusCode,
		tshape.ExtractUsage(body), tshape.ExtractModel(body), tshape.ExtractResponseText(body))
}

// relayStream forwards SSE bytes as they arrive while accumulating up to
// the parse cap for deferred extraction. Client backpressure past the cap
// only costs observability, never the stream itself.
func (g *Gateway) relayStream(w http.ResponseWriter, rc *requestContext, resp *http.Response, needConvert bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(resp.StatusCode)
	flusher, canFlush := w.(http.Flusher)

	parser := adapters.NewStreamParser(rc.targetPC.Format)
	accumulated := 0
	feed := func(chunk []byte) {
		if accumulated >= config.MaxStreamAccumulation {
			return
		}
		if room := config.MaxStreamAccumulation - accumulated; len(chunk) > room {
			chunk = chunk[:room]
		}
		parser.Feed(chunk)
		accumulated += len(chunk)
	}

	var machine streamMachine
	if needConvert {
		machine = newStreamMachine(rc.targetPC.Format)
	}

	var pending []byte
	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			feed(chunk)
			if machine == nil {
				_, _ = w.Write(chunk)
			} else {
				pending = append(pending, chunk...)
				pending = g.pumpConverted(w, machine, pending, false)
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("provider", rc.target).Msg("upstream stream ended early")
			}
			break
		}
	}

	if machine != nil {
		g.pumpConverted(w, machine, pending, true)
		for _, frame := range machine.Finalize() {
			_, _ = w.Write(frame)
		}
		if canFlush {
			flusher.Flush()
		}
	}

	g.recordOutcome(rc, resp.StatusCode, parser.Usage(), parser.Model(), parser.Text())
}

// pumpConverted splits buffered bytes into SSE events, runs each data
// payload through the conversion machine, and writes the converted frames.
// Returns the unconsumed remainder.
func (g *Gateway) pumpConverted(w http.ResponseWriter, machine streamMachine, buf []byte, flush bool) []byte {
	for {
		event, rest, ok := adapters.NextSSEEvent(buf, flush)
		if !ok {
			return buf
		}
		buf = rest
		for _, payload := range adapters.DataPayloads(event) {
			for _, frame := range machine.Consume(payload) {
				_, _ = w.Write(frame)
			}
		}
	}
}

// streamMachine adapts the two conversion directions to one relay loop.
// Consume takes one upstream data payload and returns encoded client
// frames; Finalize force-closes a truncated stream.
type streamMachine interface {
	Consume(payload []byte) [][]byte
	Finalize() [][]byte
}

// newStreamMachine picks the direction by the upstream format: a blocks
// upstream converts to chat frames for the client, and vice versa.
func newStreamMachine(upstream config.Format) streamMachine {
	if upstream == config.FormatBlocks {
		return &blocksToChatMachine{state: convert.NewBlocksToChatStream()}
	}
	return &chatToBlocksMachine{state: convert.NewChatToBlocksStream()}
}

type blocksToChatMachine struct {
	state *convert.BlocksToChatStream
	done  bool
}

func (m *blocksToChatMachine) Consume(payload []byte) [][]byte {
	var ev convert.BlocksStreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil
	}
	return m.encode(m.state.Next(ev))
}

func (m *blocksToChatMachine) Finalize() [][]byte {
	frames := m.encode(m.state.Finalize())
	if !m.done {
		frames = append(frames, convert.ChatDone())
		m.done = true
	}
	return frames
}

func (m *blocksToChatMachine) encode(chunks []convert.ChatStreamChunk) [][]byte {
	var frames [][]byte
	for _, c := range chunks {
		if frame := convert.EncodeChatChunk(c); frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

type chatToBlocksMachine struct {
	state *convert.ChatToBlocksStream
}

func (m *chatToBlocksMachine) Consume(payload []byte) [][]byte {
	var chunk convert.ChatStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil
	}
	return m.encode(m.state.Next(chunk))
}

func (m *chatToBlocksMachine) Finalize() [][]byte {
	return m.encode(m.state.Finalize())
}

func (m *chatToBlocksMachine) encode(evs []convert.BlocksStreamEvent) [][]byte {
	var frames [][]byte
	for _, ev := range evs {
		if frame := convert.EncodeBlocksEvent(ev); frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

// convertRequestBody translates a request between wire formats.
func convertRequestBody(body []byte, from, to config.Format) ([]byte, error) {
	if from == to {
		return body, nil
	}
	switch from {
	case config.FormatChat:
		var req convert.ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("parse chat request: %w", err)
		}
		out, err := convert.ChatRequestToBlocks(req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	default:
		var req convert.BlocksRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("parse blocks request: %w", err)
		}
		out, err := convert.BlocksRequestToChat(req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}
}

// convertResponseBody translates a response between wire formats.
func convertResponseBody(body []byte, from, to config.Format) ([]byte, error) {
	if from == to {
		return body, nil
	}
	switch from {
	case config.FormatBlocks:
		var resp convert.BlocksResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("parse blocks response: %w", err)
		}
		return json.Marshal(convert.BlocksResponseToChat(resp))
	default:
		var resp convert.ChatResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("parse chat response: %w", err)
		}
		return json.Marshal(convert.ChatResponseToBlocks(resp))
	}
}
