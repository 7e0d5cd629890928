package killswitch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelgate/agent-gateway/internal/config"
)

// Score weight per signal. Repeated responses weigh heaviest since an
// agent receiving the same answer and asking again is the clearest loop.
const (
	weightSimilarPrompt    = 1.0
	weightSimilarResponse  = 2.0
	weightRepeatedToolCall = 1.5
)

// Score is the per-request loop score breakdown.
type Score struct {
	SimilarPrompts    int
	SimilarResponses  int
	RepeatedToolCalls int
}

// Total combines the signals into the comparable loop score.
func (s Score) Total() float64 {
	return float64(s.SimilarPrompts)*weightSimilarPrompt +
		float64(s.SimilarResponses)*weightSimilarResponse +
		float64(s.RepeatedToolCalls)*weightRepeatedToolCall
}

type entry struct {
	prompt   fingerprint
	response *fingerprint
	toolSig  string
}

type agentWindow struct {
	mu       sync.Mutex
	entries  []entry
	lastSeen time.Time
}

// Detector keeps a bounded activity window per agent and scores each new
// request against it. All methods are safe for concurrent use.
type Detector struct {
	mu     sync.RWMutex
	agents map[string]*agentWindow
	now    func() time.Time
}

// NewDetector returns an empty detector.
func NewDetector() *Detector {
	return &Detector{
		agents: make(map[string]*agentWindow),
		now:    time.Now,
	}
}

func (d *Detector) window(agentID string) *agentWindow {
	d.mu.RLock()
	w, ok := d.agents[agentID]
	d.mu.RUnlock()
	if ok {
		return w
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok = d.agents[agentID]; ok {
		return w
	}
	w = &agentWindow{}
	d.agents[agentID] = w
	return w
}

// Observe scores the request against the agent's window, then records it.
// The score counts prior entries with a similar prompt, prior entries with
// the same non-empty tool signature, and prior responses similar to the
// most recently completed response. Oldest entries are evicted once the
// window exceeds windowSize.
func (d *Detector) Observe(agentID string, windowSize int, prompt, toolSig string) Score {
	if windowSize < config.MinKillSwitchWindow {
		windowSize = config.MinKillSwitchWindow
	}
	if windowSize > config.MaxKillSwitchWindow {
		windowSize = config.MaxKillSwitchWindow
	}

	w := d.window(agentID)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSeen = d.now()

	fp := newFingerprint(prompt)
	var score Score

	var latestResp *fingerprint
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].response != nil {
			latestResp = w.entries[i].response
			break
		}
	}

	for _, e := range w.entries {
		if fp.similar(e.prompt) {
			score.SimilarPrompts++
		}
		if toolSig != "" && toolSig == e.toolSig {
			score.RepeatedToolCalls++
		}
		if latestResp != nil && e.response != nil && e.response != latestResp {
			if latestResp.similar(*e.response) {
				score.SimilarResponses++
			}
		}
	}

	w.entries = append(w.entries, entry{prompt: fp, toolSig: toolSig})
	if excess := len(w.entries) - windowSize; excess > 0 {
		w.entries = w.entries[excess:]
	}
	return score
}

// ObserveResponse attaches the response text to the newest window entry so
// later requests can be scored against it.
func (d *Detector) ObserveResponse(agentID, responseText string) {
	if responseText == "" {
		return
	}
	w := d.window(agentID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return
	}
	fp := newFingerprint(responseText)
	w.entries[len(w.entries)-1].response = &fp
}

// Clear discards an agent's window, resetting its loop score to zero.
func (d *Detector) Clear(agentID string) {
	d.mu.Lock()
	delete(d.agents, agentID)
	d.mu.Unlock()
}

// Len reports the current window length for an agent.
func (d *Detector) Len(agentID string) int {
	d.mu.RLock()
	w, ok := d.agents[agentID]
	d.mu.RUnlock()
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// StartSweep evicts windows idle longer than the retention period, on an
// interval, until ctx is done.
func (d *Detector) StartSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(config.KillSwitchSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.sweep()
			}
		}
	}()
}

func (d *Detector) sweep() {
	cutoff := d.now().Add(-config.KillSwitchWindowRetention)
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for id, w := range d.agents {
		w.mu.Lock()
		idle := w.lastSeen.Before(cutoff)
		w.mu.Unlock()
		if idle {
			delete(d.agents, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("swept idle kill switch windows")
	}
}
