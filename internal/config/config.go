// Package config loads and validates gateway configuration.
//
// DESIGN: YAML file + environment overrides. Built-in provider entries cover
// the common vendors; a config file can add or replace providers. Defaults
// for tunables live in defaults.go.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format identifies the wire format a provider speaks.
type Format string

const (
	// FormatChat is the flat role/content chat-completions shape
	// (messages[], tool_calls[], finish_reason).
	FormatChat Format = "chat"

	// FormatBlocks is the typed content-block shape (system field,
	// content blocks, tool_use/tool_result, stop_reason).
	FormatBlocks Format = "blocks"
)

// ProviderConfig describes one upstream vendor.
type ProviderConfig struct {
	// BaseURL is the upstream origin, e.g. https://api.anthropic.com.
	BaseURL string `yaml:"base_url"`

	// ChatPath is the fixed chat endpoint used when the provider is not
	// path-addressed, e.g. /v1/messages.
	ChatPath string `yaml:"chat_path"`

	// Format selects the request/response wire shape.
	Format Format `yaml:"format"`

	// PathAddressed providers have the request's trailing path forwarded
	// verbatim instead of ChatPath.
	PathAddressed bool `yaml:"path_addressed"`

	// AuthHeader is the credential header name ("x-api-key" or
	// "authorization"). Empty means the provider needs no credential
	// header (e.g. SigV4-signed providers).
	AuthHeader string `yaml:"auth_header"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env"`

	// VersionHeader, when set, is added to every upstream request as
	// "<name>: <value>" (e.g. anthropic-version).
	VersionHeader map[string]string `yaml:"version_header"`

	// SigV4Region enables AWS request signing for this provider.
	SigV4Region string `yaml:"sigv4_region"`

	// MaxCompletionTokens renames max_tokens to max_completion_tokens
	// during normalization, for vendors that retired the old field.
	MaxCompletionTokens bool `yaml:"max_completion_tokens"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	AgentID      string        `yaml:"agent_id"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StoreConfig holds the policy data store settings.
type StoreConfig struct {
	// Path is the sqlite database path (":memory:" for ephemeral).
	Path string `yaml:"path"`
}

// IngestConfig holds the remote event sink settings.
type IngestConfig struct {
	Endpoint string `yaml:"endpoint"`
	TokenEnv string `yaml:"token_env"`
}

// Token resolves the ingest bearer token from the environment.
func (c IngestConfig) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// Config is the root gateway configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Store     StoreConfig               `yaml:"store"`
	Ingest    IngestConfig              `yaml:"ingest"`
	Debug     bool                      `yaml:"debug"`
}

// builtinProviders are the vendors the gateway knows out of the box.
func builtinProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"anthropic": {
			BaseURL:       "https://api.anthropic.com",
			ChatPath:      "/v1/messages",
			Format:        FormatBlocks,
			AuthHeader:    "x-api-key",
			APIKeyEnv:     "ANTHROPIC_API_KEY",
			VersionHeader: map[string]string{"anthropic-version": "2023-06-01"},
		},
		"openai": {
			BaseURL:             "https://api.openai.com",
			ChatPath:            "/v1/chat/completions",
			Format:              FormatChat,
			PathAddressed:       true,
			AuthHeader:          "authorization",
			APIKeyEnv:           "OPENAI_API_KEY",
			MaxCompletionTokens: true,
		},
		"openrouter": {
			BaseURL:    "https://openrouter.ai/api",
			ChatPath:   "/v1/chat/completions",
			Format:     FormatChat,
			AuthHeader: "authorization",
			APIKeyEnv:  "OPENROUTER_API_KEY",
		},
		"bedrock": {
			// BaseURL is derived from the region at request time.
			ChatPath:    "/model/%s/invoke",
			Format:      FormatBlocks,
			SigV4Region: "us-east-1",
		},
	}
}

// Default returns a config with built-in providers and default tunables.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   DefaultListenAddr,
			AgentID:      "default",
			ReadTimeout:  DefaultServerReadTimeout,
			WriteTimeout: DefaultServerWriteTimeout,
		},
		Providers: builtinProviders(),
		Store:     StoreConfig{Path: "gateway.db"},
	}
}

// Load reads a YAML config file and merges it over the defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML config bytes over the defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if file.Server.ListenAddr != "" {
		cfg.Server.ListenAddr = file.Server.ListenAddr
	}
	if file.Server.AgentID != "" {
		cfg.Server.AgentID = file.Server.AgentID
	}
	if file.Server.ReadTimeout > 0 {
		cfg.Server.ReadTimeout = file.Server.ReadTimeout
	}
	if file.Server.WriteTimeout > 0 {
		cfg.Server.WriteTimeout = file.Server.WriteTimeout
	}
	if file.Store.Path != "" {
		cfg.Store.Path = file.Store.Path
	}
	if file.Ingest.Endpoint != "" {
		cfg.Ingest = file.Ingest
	}
	cfg.Debug = cfg.Debug || file.Debug

	// File-declared providers override or extend the built-ins.
	for name, p := range file.Providers {
		if p.Format == "" {
			if base, ok := cfg.Providers[name]; ok {
				merged := base
				if p.BaseURL != "" {
					merged.BaseURL = p.BaseURL
				}
				if p.ChatPath != "" {
					merged.ChatPath = p.ChatPath
				}
				if p.APIKeyEnv != "" {
					merged.APIKeyEnv = p.APIKeyEnv
				}
				cfg.Providers[name] = merged
				continue
			}
			return nil, fmt.Errorf("provider %q: format is required", name)
		}
		cfg.Providers[strings.ToLower(name)] = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks provider entries for obvious misconfiguration.
func (c *Config) Validate() error {
	for name, p := range c.Providers {
		switch p.Format {
		case FormatChat, FormatBlocks:
		default:
			return fmt.Errorf("provider %q: unknown format %q", name, p.Format)
		}
		if p.BaseURL == "" && p.SigV4Region == "" {
			return fmt.Errorf("provider %q: base_url is required", name)
		}
	}
	return nil
}

// Provider returns the config for a provider name, case-insensitively.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[strings.ToLower(name)]
	return p, ok
}
