package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHasBuiltinProviders(t *testing.T) {
	cfg := Default()
	for _, name := range []string{"anthropic", "openai", "openrouter", "bedrock"} {
		_, ok := cfg.Provider(name)
		assert.True(t, ok, "builtin provider %s", name)
	}
	assert.Equal(t, "default", cfg.Server.AgentID)
	require.NoError(t, cfg.Validate())
}

func TestProviderLookupCaseInsensitive(t *testing.T) {
	cfg := Default()
	p, ok := cfg.Provider("Anthropic")
	require.True(t, ok)
	assert.Equal(t, FormatBlocks, p.Format)
}

func TestLoadFromBytesAddsProvider(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
server:
  listen_addr: "127.0.0.1:9999"
providers:
  localllm:
    base_url: "http://localhost:11434"
    chat_path: "/v1/chat/completions"
    format: "chat"
`))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.ListenAddr)

	p, ok := cfg.Provider("localllm")
	require.True(t, ok)
	assert.Equal(t, FormatChat, p.Format)

	// Built-ins survive the merge.
	_, ok = cfg.Provider("anthropic")
	assert.True(t, ok)
}

func TestLoadFromBytesMergesBuiltinOverride(t *testing.T) {
	// A partial entry for a known provider merges over the built-in
	// instead of requiring a full definition.
	cfg, err := LoadFromBytes([]byte(`
providers:
  anthropic:
    base_url: "https://proxy.internal"
`))
	require.NoError(t, err)
	p, ok := cfg.Provider("anthropic")
	require.True(t, ok)
	assert.Equal(t, "https://proxy.internal", p.BaseURL)
	assert.Equal(t, FormatBlocks, p.Format)
	assert.Equal(t, "/v1/messages", p.ChatPath)
}

func TestLoadFromBytesRejectsBadFormat(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
providers:
  weird:
    base_url: "http://x"
    format: "xml"
`))
	assert.Error(t, err)
}

func TestValidateRequiresBaseURL(t *testing.T) {
	cfg := Default()
	cfg.Providers["broken"] = ProviderConfig{Format: FormatChat}
	assert.Error(t, cfg.Validate())
}
