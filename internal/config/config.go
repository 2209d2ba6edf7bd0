// Package config loads the configuration schema consumed by the Manager
// Facade (see the configuration schema section of SPEC_FULL.md). It mirrors
// the nested-struct-with-yaml-tags shape the rest of this codebase's ambient
// config layer uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/memsearch/internal/errs"
)

// Provider identifies an embedding provider variant.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// Config is the full configuration tree recognized by the Manager.
type Config struct {
	Workspace    string             `yaml:"workspace" json:"workspace"`
	MemorySearch MemorySearchConfig `yaml:"memorySearch" json:"memorySearch"`
	Models       ModelsConfig       `yaml:"models" json:"models"`
}

// MemorySearchConfig groups every memorySearch.* key from SPEC_FULL.md §6.
type MemorySearchConfig struct {
	Provider    Provider    `yaml:"provider" json:"provider"`
	Model       string      `yaml:"model" json:"model"`
	Store       StoreConfig `yaml:"store" json:"store"`
	Sync        SyncConfig  `yaml:"sync" json:"sync"`
	Query       QueryConfig `yaml:"query" json:"query"`
	Cache       CacheConfig `yaml:"cache" json:"cache"`
	ExtraPaths  []string    `yaml:"extraPaths" json:"extraPaths"`
}

// StoreConfig configures the Index Store.
type StoreConfig struct {
	Path   string       `yaml:"path" json:"path"`
	Vector VectorConfig `yaml:"vector" json:"vector"`
}

// VectorConfig toggles vector search.
type VectorConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// SyncConfig configures the Sync Engine's triggers.
type SyncConfig struct {
	Watch          bool `yaml:"watch" json:"watch"`
	OnSessionStart bool `yaml:"onSessionStart" json:"onSessionStart"`
	OnSearch       bool `yaml:"onSearch" json:"onSearch"`
}

// QueryConfig configures the Query Planner.
type QueryConfig struct {
	MinScore   float64     `yaml:"minScore" json:"minScore"`
	MaxResults int         `yaml:"maxResults" json:"maxResults"`
	Hybrid     HybridConfig `yaml:"hybrid" json:"hybrid"`
}

// HybridConfig configures fusion weights (§4.8).
type HybridConfig struct {
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	VectorWeight       float64 `yaml:"vectorWeight" json:"vectorWeight"`
	TextWeight         float64 `yaml:"textWeight" json:"textWeight"`
	CandidateMultiplier int    `yaml:"candidateMultiplier" json:"candidateMultiplier"`
}

// CacheConfig configures the persistent Embedding Cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ModelsConfig carries per-provider transport overrides.
type ModelsConfig struct {
	Providers map[string]ProviderOverride `yaml:"providers" json:"providers"`
}

// ProviderOverride overrides transport details for one provider id.
type ProviderOverride struct {
	BaseURL string            `yaml:"baseUrl" json:"baseUrl"`
	Headers map[string]string `yaml:"headers" json:"headers"`
	APIKey  string            `yaml:"apiKey" json:"apiKey"`
}

// DefaultOpenAIBaseURL is the default OpenAI-compatible endpoint (§4.4).
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// DefaultOllamaHost is the default Ollama-compatible endpoint.
const DefaultOllamaHost = "http://localhost:11434"

// Default returns a Config with the defaults named in SPEC_FULL.md §6.
func Default() *Config {
	return &Config{
		MemorySearch: MemorySearchConfig{
			Provider: ProviderOllama,
			Store: StoreConfig{
				Vector: VectorConfig{Enabled: true},
			},
			Query: QueryConfig{
				MinScore:   0,
				MaxResults: 20,
				Hybrid: HybridConfig{
					Enabled:             true,
					VectorWeight:        0.6,
					TextWeight:          0.4,
					CandidateMultiplier: 3,
				},
			},
			Cache: CacheConfig{Enabled: true},
		},
	}
}

// Load reads and merges a YAML config file over Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants SPEC_FULL.md §6 and §7 (config_invalid) require.
func (c *Config) Validate() error {
	const op = "config.Validate"
	if c.Workspace == "" {
		return errs.New(errs.ConfigInvalid, op, "workspace is required", nil)
	}
	if !filepath.IsAbs(c.Workspace) {
		return errs.New(errs.ConfigInvalid, op, fmt.Sprintf("workspace must be an absolute path, got %q", c.Workspace), nil)
	}
	switch c.MemorySearch.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return errs.New(errs.ConfigInvalid, op, fmt.Sprintf("memorySearch.provider must be %q or %q, got %q", ProviderOpenAI, ProviderOllama, c.MemorySearch.Provider), nil)
	}
	if c.MemorySearch.Store.Path == "" {
		return errs.New(errs.ConfigInvalid, op, "memorySearch.store.path is required", nil)
	}
	if !filepath.IsAbs(c.MemorySearch.Store.Path) {
		return errs.New(errs.ConfigInvalid, op, fmt.Sprintf("memorySearch.store.path must be absolute, got %q", c.MemorySearch.Store.Path), nil)
	}
	for _, p := range c.MemorySearch.ExtraPaths {
		if !filepath.IsAbs(p) {
			return errs.New(errs.ConfigInvalid, op, fmt.Sprintf("extraPaths entries must be absolute, got %q", p), nil)
		}
	}
	h := c.MemorySearch.Query.Hybrid
	if h.Enabled && h.VectorWeight+h.TextWeight <= 0 {
		return errs.New(errs.ConfigInvalid, op, "hybrid weights must sum to more than 0", nil)
	}
	if c.MemorySearch.Query.MaxResults < 0 {
		return errs.New(errs.ConfigInvalid, op, "query.maxResults must be non-negative", nil)
	}
	return nil
}

// ModelID returns the effective model name, applying the provider default.
func (c *Config) ModelID() string {
	if c.MemorySearch.Model != "" {
		return c.MemorySearch.Model
	}
	switch c.MemorySearch.Provider {
	case ProviderOpenAI:
		return "text-embedding-3-small"
	case ProviderOllama:
		return "nomic-embed-text"
	default:
		return ""
	}
}

// ProviderOverrideFor returns the transport override for a provider id, if any.
func (c *Config) ProviderOverrideFor(id string) ProviderOverride {
	if c.Models.Providers == nil {
		return ProviderOverride{}
	}
	return c.Models.Providers[strings.ToLower(id)]
}
