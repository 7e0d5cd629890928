// Package credentials resolves provider API keys from the environment and
// keeps them fresh so rotated keys are picked up without a restart.
package credentials

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelgate/agent-gateway/internal/config"
	"github.com/sentinelgate/agent-gateway/internal/utils"
)

// Provider caches provider name -> API key lookups.
type Provider struct {
	mu   sync.RWMutex
	keys map[string]string // provider -> key
	envs map[string]string // provider -> env var name
}

// New builds a provider from the configured provider table and loads the
// initial keys.
func New(providers map[string]config.ProviderConfig) *Provider {
	envs := make(map[string]string, len(providers))
	for name, pc := range providers {
		if pc.APIKeyEnv != "" {
			envs[name] = pc.APIKeyEnv
		}
	}
	p := &Provider{keys: make(map[string]string, len(envs)), envs: envs}
	p.refresh()
	return p
}

// Key returns the API key for a provider, empty if none is configured.
func (p *Provider) Key(provider string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keys[provider]
}

// StartRefresh re-reads the environment on an interval until ctx is done.
func (p *Provider) StartRefresh(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(config.CredentialRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.refresh()
			}
		}
	}()
}

func (p *Provider) refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for provider, env := range p.envs {
		key := os.Getenv(env)
		if key == "" {
			continue
		}
		if old, ok := p.keys[provider]; ok && old != key {
			log.Info().
				Str("provider", provider).
				Str("key", utils.MaskKey(key)).
				Msg("provider credential rotated")
		}
		p.keys[provider] = key
	}
}
