package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelgate/agent-gateway/internal/adapters"
	"github.com/sentinelgate/agent-gateway/internal/alerts"
	"github.com/sentinelgate/agent-gateway/internal/config"
	"github.com/sentinelgate/agent-gateway/internal/costcontrol"
	"github.com/sentinelgate/agent-gateway/internal/events"
	"github.com/sentinelgate/agent-gateway/internal/killswitch"
	"github.com/sentinelgate/agent-gateway/internal/policy"
	"github.com/sentinelgate/agent-gateway/internal/ratelimit"
)

// requestContext carries one request through the pipeline stages.
type requestContext struct {
	agentID        string
	provider       string // provider the client addressed
	pc             config.ProviderConfig
	shape          adapters.Shape
	rest           string
	body           []byte
	requestedModel string
	model          string // effective model after override
	target         string // upstream provider after override redirect
	targetPC       config.ProviderConfig
	start          time.Time
}

// handleProxy runs the full request pipeline. Each stage short-circuits
// with a client-facing response on rejection.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	if agentID == "" {
		agentID = "default"
	}
	provider := strings.ToLower(r.PathValue("provider"))

	pc, ok := g.cfg.Provider(provider)
	if !ok {
		g.metrics.RecordRequest(provider, "unknown_provider")
		g.writeError(w, "unknown provider: "+provider, http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			g.writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		g.writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	shape := adapters.ForFormat(pc.Format)
	rc := &requestContext{
		agentID:        agentID,
		provider:       provider,
		pc:             pc,
		shape:          shape,
		rest:           r.PathValue("rest"),
		body:           body,
		requestedModel: shape.ExtractModel(body),
		target:         provider,
		targetPC:       pc,
		start:          time.Now(),
	}
	rc.model = rc.requestedModel

	// Provider policy.
	dec, err := g.evaluator.CheckProvider(r.Context(), provider)
	if err != nil {
		g.writeError(w, "policy check failed", http.StatusInternalServerError)
		return
	}
	if !dec.Allowed {
		g.blockRequest(w, r, rc, dec)
		return
	}
	if res := g.limiter.Check(ratelimit.ProviderKey(provider)); !res.Allowed {
		g.rateLimitRequest(w, r, rc, "provider", res.RetryAfter)
		return
	}

	// Agent policy.
	pol, dec, err := g.evaluator.CheckAgent(r.Context(), agentID)
	if err != nil {
		g.writeError(w, "policy check failed", http.StatusInternalServerError)
		return
	}
	if !dec.Allowed {
		g.blockRequest(w, r, rc, dec)
		return
	}

	// Kill switch.
	if pol.KillSwitchEnabled {
		if dec := g.checkKillSwitch(r.Context(), rc, pol); !dec.Allowed {
			g.blockRequest(w, r, rc, dec)
			return
		}
	}

	// Model override and request normalization.
	g.applyOverride(r.Context(), rc)
	rc.body, _ = normalizeRequest(rc.body, rc.targetPC, rc.model)

	// Agent rate limit.
	if res := g.limiter.Check(ratelimit.AgentKey(agentID, provider)); !res.Allowed {
		g.rateLimitRequest(w, r, rc, "agent", res.RetryAfter)
		return
	}

	// Upstream forward.
	resp, err := g.forwardUpstream(r, rc)
	if err != nil {
		log.Error().Err(err).
			Str("agent_id", agentID).
			Str("provider", rc.target).
			Msg("upstream request failed")
		g.metrics.RecordRequest(provider, "upstream_failure")
		g.writeError(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	g.relayResponse(w, rc, resp)
}

// applyOverride resolves a model override rule and, when it redirects to a
// different configured provider, retargets the upstream call.
func (g *Gateway) applyOverride(ctx context.Context, rc *requestContext) {
	ov := g.evaluator.ResolveOverride(ctx, rc.agentID, rc.provider, rc.requestedModel)
	if ov == nil {
		return
	}
	rc.model = ov.Model
	if ov.Provider != "" && ov.Provider != rc.provider {
		pc, ok := g.cfg.Provider(ov.Provider)
		if !ok {
			log.Warn().
				Str("agent_id", rc.agentID).
				Str("target_provider", ov.Provider).
				Msg("override targets unknown provider, ignoring redirect")
			return
		}
		rc.target = ov.Provider
		rc.targetPC = pc
		if rc.targetPC.Format != rc.pc.Format {
			converted, err := convertRequestBody(rc.body, rc.pc.Format, rc.targetPC.Format)
			if err != nil {
				log.Warn().Err(err).
					Str("agent_id", rc.agentID).
					Msg("request format conversion failed, dropping redirect")
				rc.target = rc.provider
				rc.targetPC = rc.pc
				return
			}
			rc.body = converted
		}
	}
	log.Debug().
		Str("agent_id", rc.agentID).
		Str("requested_model", rc.requestedModel).
		Str("model", rc.model).
		Str("provider", rc.target).
		Msg("model override applied")
}

// checkKillSwitch fingerprints the request, scores it against the agent's
// window, and on detection deactivates the agent before any upstream call.
func (g *Gateway) checkKillSwitch(ctx context.Context, rc *requestContext, pol policy.AgentPolicy) policy.Decision {
	prompt := rc.shape.ExtractPrompt(rc.body)
	sig := killswitch.ToolSignature(rc.shape.ExtractToolCalls(rc.body))
	score := g.detector.Observe(rc.agentID, pol.WindowSize, prompt, sig)

	threshold := pol.ScoreThreshold
	if threshold < config.MinKillSwitchThreshold {
		threshold = config.MinKillSwitchThreshold
	}
	if threshold > config.MaxKillSwitchThreshold {
		threshold = config.MaxKillSwitchThreshold
	}
	if score.Total() < threshold {
		return policy.Allow()
	}

	pol.Active = false
	pol.DeactivatedBy = "kill_switch"
	if err := g.store.UpdateAgentPolicy(ctx, pol); err != nil {
		log.Error().Err(err).Str("agent_id", rc.agentID).Msg("kill switch deactivation failed")
	}

	g.recorder.Record(ctx, events.AgentEvent{
		AgentID:        rc.agentID,
		EventType:      events.TypeKillSwitch,
		Provider:       rc.provider,
		RequestedModel: rc.requestedModel,
		Tags: map[string]string{
			"score":               fmt.Sprintf("%.1f", score.Total()),
			"threshold":           fmt.Sprintf("%.1f", threshold),
			"similar_prompts":     strconv.Itoa(score.SimilarPrompts),
			"similar_responses":   strconv.Itoa(score.SimilarResponses),
			"repeated_tool_calls": strconv.Itoa(score.RepeatedToolCalls),
			"window_size":         strconv.Itoa(pol.WindowSize),
		},
	})
	g.alerts.Notify(alertIncident(rc, pol, score, threshold))
	g.metrics.RecordKillSwitchTrip()

	return policy.Deny(policy.ReasonLoopDetected,
		"agent deactivated: repeated request loop detected")
}

func alertIncident(rc *requestContext, pol policy.AgentPolicy, score killswitch.Score, threshold float64) alerts.Incident {
	return alerts.Incident{
		AgentID:           rc.agentID,
		Provider:          rc.provider,
		Score:             score.Total(),
		Threshold:         threshold,
		SimilarPrompts:    score.SimilarPrompts,
		SimilarResponses:  score.SimilarResponses,
		RepeatedToolCalls: score.RepeatedToolCalls,
		WindowSize:        pol.WindowSize,
		Timestamp:         time.Now().UTC(),
	}
}

// blockRequest records the blocking decision durably, then answers with a
// synthetic vendor-shaped 200 so client SDKs parse it normally.
func (g *Gateway) blockRequest(w http.ResponseWriter, r *http.Request, rc *requestContext, dec policy.Decision) {
	g.recorder.Record(r.Context(), events.AgentEvent{
		AgentID:        rc.agentID,
		EventType:      events.TypeBlocked,
		Provider:       rc.provider,
		RequestedModel: rc.requestedModel,
		LatencyMS:      time.Since(rc.start).Milliseconds(),
		StatusCode:     http.StatusOK,
		Tags:           map[string]string{"reason": dec.Reason},
	})
	g.metrics.RecordBlocked(dec.Reason)
	g.metrics.RecordRequest(rc.provider, "blocked")

	log.Info().
		Str("agent_id", rc.agentID).
		Str("provider", rc.provider).
		Str("reason", dec.Reason).
		Msg("request blocked")

	body := rc.shape.SyntheticBlockedResponse(rc.requestedModel, dec.Message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// rateLimitRequest answers 429 with Retry-After. A provider-level breach
// is a policy block with its own reason; an agent-level breach records a
// plain error event.
func (g *Gateway) rateLimitRequest(w http.ResponseWriter, r *http.Request, rc *requestContext, scope string, retryAfter time.Duration) {
	secs := ratelimit.RetryAfterSeconds(retryAfter)
	eventType := events.TypeError
	reason := policy.ReasonRateLimited
	if scope == "provider" {
		eventType = events.TypeBlocked
		reason = policy.ReasonProviderRateLimited
	}
	g.recorder.Record(r.Context(), events.AgentEvent{
		AgentID:        rc.agentID,
		EventType:      eventType,
		Provider:       rc.provider,
		RequestedModel: rc.requestedModel,
		LatencyMS:      time.Since(rc.start).Milliseconds(),
		StatusCode:     http.StatusTooManyRequests,
		Tags:           map[string]string{"reason": reason, "scope": scope},
	})
	g.metrics.RecordRateLimited(scope)
	g.metrics.RecordRequest(rc.provider, "rate_limited")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write(rc.shape.RateLimitErrorBody(
		fmt.Sprintf("rate limit exceeded, retry in %ds", secs)))
}

// hop-by-hop and gateway-managed headers never forwarded upstream.
var skipHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-connection":    {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
	"content-length":      {},
	"accept-encoding":     {},
	"authorization":       {},
	"x-api-key":           {},
}

// forwardUpstream assembles headers, injects the provider credential, and
// sends the request with the upstream timeout.
func (g *Gateway) forwardUpstream(r *http.Request, rc *requestContext) (*http.Response, error) {
	target, err := g.upstreamURL(rc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.DefaultUpstreamTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(rc.body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	for name, values := range r.Header {
		if _, skip := skipHeaders[strings.ToLower(name)]; skip {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range rc.targetPC.VersionHeader {
		req.Header.Set(name, value)
	}

	switch {
	case rc.targetPC.SigV4Region != "":
		if g.signer == nil {
			cancel()
			return nil, errors.New("sigv4 signing not configured")
		}
		if err := g.signer.sign(ctx, req, rc.body); err != nil {
			cancel()
			return nil, fmt.Errorf("sign upstream request: %w", err)
		}
	case rc.targetPC.AuthHeader == "authorization":
		req.Header.Set("Authorization", "Bearer "+g.creds.Key(rc.target))
	case rc.targetPC.AuthHeader != "":
		req.Header.Set(rc.targetPC.AuthHeader, g.creds.Key(rc.target))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// cancel fires when the response body is fully read or abandoned.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// upstreamURL resolves the forward destination. Path-addressed providers
// get the client's trailing path verbatim; everyone else gets the fixed
// chat endpoint. SigV4 providers derive their origin from the region and
// embed the model in the path.
func (g *Gateway) upstreamURL(rc *requestContext) (string, error) {
	pc := rc.targetPC
	if pc.SigV4Region != "" {
		base := pc.BaseURL
		if base == "" {
			base = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", pc.SigV4Region)
		}
		return base + fmt.Sprintf(pc.ChatPath, url.PathEscape(rc.model)), nil
	}
	if pc.PathAddressed && rc.rest != "" {
		return pc.BaseURL + "/" + rc.rest, nil
	}
	if pc.BaseURL == "" {
		return "", fmt.Errorf("provider %s has no base URL", rc.target)
	}
	return pc.BaseURL + pc.ChatPath, nil
}

// writeError writes a JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
}

// recordOutcome runs deferred metric extraction after the response has
// been relayed. Failures here are logged and swallowed.
func (g *Gateway) recordOutcome(rc *requestContext, statusCode int, usage adapters.UsageInfo, model, responseText string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("metric extraction panicked")
		}
	}()

	if model == "" {
		model = rc.model
	}
	if usage.InputTokens == 0 && usage.TotalTokens == 0 {
		usage.InputTokens = costcontrol.EstimateTokens(rc.shape.ExtractPrompt(rc.body))
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	cost := costcontrol.CalculateCostWithCache(
		usage.InputTokens, usage.OutputTokens,
		usage.CacheCreationInputTokens, usage.CacheReadInputTokens,
		costcontrol.GetModelPricing(model))

	if responseText != "" {
		g.detector.ObserveResponse(rc.agentID, responseText)
	}

	eventType := events.TypeSuccess
	outcome := "success"
	if statusCode >= 400 {
		eventType = events.TypeError
		outcome = "upstream_error"
	}
	latency := time.Since(rc.start)

	g.recorder.Record(context.Background(), events.AgentEvent{
		AgentID:        rc.agentID,
		EventType:      eventType,
		Provider:       rc.target,
		Model:          model,
		RequestedModel: rc.requestedModel,
		TokensIn:       usage.InputTokens,
		TokensOut:      usage.OutputTokens,
		TokensTotal:    usage.TotalTokens,
		CostUSD:        cost,
		LatencyMS:      latency.Milliseconds(),
		StatusCode:     statusCode,
	})
	g.metrics.RecordRequest(rc.provider, outcome)
	g.metrics.RecordUpstreamLatency(rc.target, latency)
}
