package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// IngestClient posts event batches to the remote ingest endpoint with
// bearer auth. It implements Flusher.
type IngestClient struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewIngestClient builds a client for the given endpoint. The token may be
// empty for unauthenticated sinks.
func NewIngestClient(endpoint, token string) *IngestClient {
	return &IngestClient{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Flush posts one batch as {"events": [...]}.
func (c *IngestClient) Flush(ctx context.Context, batch []AgentEvent) error {
	body, err := json.Marshal(map[string][]AgentEvent{"events": batch})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post ingest batch: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("ingest endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// discardFlusher drops every batch, used when no ingest endpoint is
// configured.
type discardFlusher struct{}

func (discardFlusher) Flush(ctx context.Context, batch []AgentEvent) error { return nil }

// DiscardFlusher returns a flusher that accepts and drops all batches.
func DiscardFlusher() Flusher { return discardFlusher{} }
