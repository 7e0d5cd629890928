// HTTP orchestration for the agent gateway.
//
// DESIGN: Request flow:
//   - handleProxy():     entry point for all agent LLM requests
//   - checkPolicies():   provider policy, agent policy, kill switch
//   - forwardUpstream(): header assembly, credential injection, send
//   - relayResponse():   buffered or streaming relay, with format
//     conversion when an override redirects across providers
//   - recordOutcome():   deferred metric extraction and event emission
//
// Also includes the health check and loopback-only internal endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelgate/agent-gateway/internal/alerts"
	"github.com/sentinelgate/agent-gateway/internal/config"
	"github.com/sentinelgate/agent-gateway/internal/credentials"
	"github.com/sentinelgate/agent-gateway/internal/events"
	"github.com/sentinelgate/agent-gateway/internal/killswitch"
	"github.com/sentinelgate/agent-gateway/internal/monitoring"
	"github.com/sentinelgate/agent-gateway/internal/policy"
	"github.com/sentinelgate/agent-gateway/internal/ratelimit"
	"github.com/sentinelgate/agent-gateway/internal/store"
)

// Gateway wires the policy, limiting, detection, and event components
// behind the HTTP surface.
type Gateway struct {
	cfg       *config.Config
	store     *store.Store
	evaluator *policy.Evaluator
	limiter   *ratelimit.Limiter
	detector  *killswitch.Detector
	buffer    *events.Buffer
	recorder  *events.Recorder
	creds     *credentials.Provider
	alerts    alerts.Sink
	hub       *alerts.Hub
	metrics   *monitoring.Metrics
	client    *http.Client
	signer    *bedrockSigner

	startedAt time.Time
	cancelBg  context.CancelFunc
	srv       *http.Server
}

// New assembles a gateway from configuration and an opened store.
func New(cfg *config.Config, st *store.Store) (*Gateway, error) {
	var flusher events.Flusher = events.DiscardFlusher()
	if cfg.Ingest.Endpoint != "" {
		flusher = events.NewIngestClient(cfg.Ingest.Endpoint, cfg.Ingest.Token())
	}
	buffer := events.NewBuffer(flusher)

	metrics := monitoring.NewMetrics()
	buffer.OnFlushed(metrics.RecordEventsFlushed)
	buffer.OnDropped(metrics.RecordEventsDropped)

	hub := alerts.NewHub()

	g := &Gateway{
		cfg:       cfg,
		store:     st,
		evaluator: policy.NewEvaluator(st),
		limiter:   ratelimit.NewLimiter(),
		detector:  killswitch.NewDetector(),
		buffer:    buffer,
		recorder:  events.NewRecorder(st, buffer, "gateway"),
		creds:     credentials.New(cfg.Providers),
		alerts:    alerts.Fanout{alerts.LogSink{}, hub},
		hub:       hub,
		metrics:   metrics,
		client:    &http.Client{},
		startedAt: time.Now(),
	}

	if _, ok := cfg.Providers["bedrock"]; ok {
		signer, err := newBedrockSigner(context.Background(), cfg.Providers["bedrock"].SigV4Region)
		if err != nil {
			log.Warn().Err(err).Msg("bedrock signing unavailable")
		} else {
			g.signer = signer
		}
	}
	return g, nil
}

// Routes builds the gateway's request mux.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /agents/{agent}/{provider}", g.handleProxy)
	mux.HandleFunc("POST /agents/{agent}/{provider}/{rest...}", g.handleProxy)
	mux.HandleFunc("POST /{provider}", g.handleProxy)
	mux.HandleFunc("POST /{provider}/{rest...}", g.handleProxy)

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("POST /internal/agents/{id}/clear-window", g.handleClearWindow)
	mux.Handle("GET /internal/metrics", g.loopbackOnly(g.metrics.Handler()))
	mux.Handle("GET /internal/alerts/ws", g.loopbackOnly(g.hub))

	return mux
}

// Start launches background refresh loops and serves HTTP until the
// listener fails or Shutdown is called.
func (g *Gateway) Start() error {
	bg, cancel := context.WithCancel(context.Background())
	g.cancelBg = cancel

	g.limiter.StartRefresh(bg, g.store)
	g.detector.StartSweep(bg)
	g.creds.StartRefresh(bg)
	g.buffer.Start(bg)

	g.srv = &http.Server{
		Addr:         g.cfg.Server.ListenAddr,
		Handler:      g.Routes(),
		ReadTimeout:  g.cfg.Server.ReadTimeout,
		WriteTimeout: 0, // streaming responses outlive any fixed write deadline
	}
	log.Info().Str("addr", g.cfg.Server.ListenAddr).Msg("gateway listening")
	err := g.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, halts the background loops, and
// drains the event buffer before returning.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var srvErr error
	if g.srv != nil {
		srvErr = g.srv.Shutdown(ctx)
	}
	g.hub.Shutdown()
	if g.cancelBg != nil {
		g.cancelBg()
		g.buffer.Wait()
	}
	return srvErr
}

// handleHealth reports liveness.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"agent_id":  g.cfg.Server.AgentID,
		"uptime_ms": time.Since(g.startedAt).Milliseconds(),
	})
}

// handleClearWindow resets an agent's loop-detection window. Local-only;
// policy state and rate counters are untouched.
func (g *Gateway) handleClearWindow(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	agentID := r.PathValue("id")
	if agentID == "" {
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}
	g.detector.Clear(agentID)
	log.Info().Str("agent_id", agentID).Msg("cleared loop detection window")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "cleared", "agent_id": agentID})
}

// loopbackOnly guards internal handlers from non-local callers.
func (g *Gateway) loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isLoopback reports whether the remote address is a loopback interface.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
