// Package config loads the orchestrator's YAML configuration file and
// environment-variable overrides: market profiles, the chat model provider
// and binding tables, and graph depth defaults. Grounded on
// ChoSanghyuk-blackholedex/configs/config.go's ReadFile+yaml.Unmarshal pattern.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/chatmodel"
)

// EncryptionKeyEnv is the mandatory environment variable carrying the
// base64-encoded symmetric key used to encrypt provider secrets (spec §6's
// "Environment contract"). Its absence means the system MUST refuse to
// persist any new provider record.
const EncryptionKeyEnv = "TRADEORCH_SECRET_KEY"

// Config is the parsed contents of the orchestrator's YAML config file.
type Config struct {
	Providers []ProviderYAML          `yaml:"providers"`
	Bindings  map[string]BindingYAML  `yaml:"bindings"`
	Graph     GraphConfig             `yaml:"graph"`
}

// ProviderYAML is one row of the provider table as written in YAML. ApplyTo
// encrypts the plaintext api_key through the registry's SecretBox, so the
// registry only ever holds the ciphertext.
type ProviderYAML struct {
	ID            string   `yaml:"id"`
	Kind          string   `yaml:"kind"`
	BaseURL       string   `yaml:"base_url"`
	APIKey        string   `yaml:"api_key"`
	EnabledModels []string `yaml:"enabled_models"`
	Priority      int      `yaml:"priority"`
	Enabled       bool     `yaml:"enabled"`
}

// BindingYAML is one row of the role_key -> (provider_id, model_name) binding table.
type BindingYAML struct {
	ProviderID string `yaml:"provider_id"`
	ModelName  string `yaml:"model_name"`
}

// GraphConfig carries the Main Graph Assembler's tunable defaults (spec §4.5).
type GraphConfig struct {
	MaxDebateRounds int `yaml:"max_debate_rounds"`
	MaxRiskRounds   int `yaml:"max_risk_rounds"`
	RecursionLimit  int `yaml:"recursion_limit"`
}

// DefaultGraphConfig returns spec §4.5/§6's defaults.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{MaxDebateRounds: 1, MaxRiskRounds: 1, RecursionLimit: 100}
}

// Load reads and parses path into a Config, filling graph defaults for any
// zero-valued fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	defaults := DefaultGraphConfig()
	if cfg.Graph.MaxDebateRounds == 0 {
		cfg.Graph.MaxDebateRounds = defaults.MaxDebateRounds
	}
	if cfg.Graph.MaxRiskRounds == 0 {
		cfg.Graph.MaxRiskRounds = defaults.MaxRiskRounds
	}
	if cfg.Graph.RecursionLimit == 0 {
		cfg.Graph.RecursionLimit = defaults.RecursionLimit
	}

	return &cfg, nil
}

// ApplyTo encrypts every provider's plaintext API key via secrets and loads
// the resulting provider and binding tables into reg, per §6's mandatory
// encryption-key contract: a nil secrets box refuses to load any provider
// carrying a non-empty APIKey.
func (c *Config) ApplyTo(reg *chatmodel.Registry, secrets chatmodel.SecretBox) error {
	providers := make([]chatmodel.ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		var encrypted []byte
		if p.APIKey != "" {
			if secrets == nil {
				return fmt.Errorf("provider %q: no encryption key configured (%s unset), refusing to load secret", p.ID, EncryptionKeyEnv)
			}
			ciphertext, err := secrets.Encrypt(p.APIKey)
			if err != nil {
				return fmt.Errorf("provider %q: encrypt api key: %w", p.ID, err)
			}
			encrypted = ciphertext
		}
		providers = append(providers, chatmodel.ProviderConfig{
			ID:              p.ID,
			Kind:            chatmodel.ProviderKind(p.Kind),
			BaseURL:         p.BaseURL,
			APIKeyEncrypted: encrypted,
			EnabledModels:   p.EnabledModels,
			Priority:        p.Priority,
			Enabled:         p.Enabled,
		})
	}
	reg.SetProviders(providers)

	bindings := make(map[chatmodel.RoleKey]chatmodel.Binding, len(c.Bindings))
	for role, b := range c.Bindings {
		bindings[chatmodel.RoleKey(role)] = chatmodel.Binding{ProviderID: b.ProviderID, ModelName: b.ModelName}
	}
	reg.SetBindings(bindings)

	return nil
}

// MarketProfile returns the default analyst kinds for a market (spec §4.5):
// US is the base set; HK and CN extend it.
func MarketProfile(market analysis.Market) []analysis.AnalystKind {
	us := []analysis.AnalystKind{analysis.AnalystMarket, analysis.AnalystSocial, analysis.AnalystNews, analysis.AnalystFundamentals}
	switch market {
	case analysis.MarketHK:
		return append(append([]analysis.AnalystKind(nil), us...), analysis.AnalystSentiment)
	case analysis.MarketCN:
		return append(append([]analysis.AnalystKind(nil), us...), analysis.AnalystSentiment, analysis.AnalystPolicy, analysis.AnalystFundFlow)
	default:
		return us
	}
}

// L1AnalystKinds is the reduced quick-scan analyst set (spec §4.5's L1 profile).
var L1AnalystKinds = []analysis.AnalystKind{analysis.AnalystMarket, analysis.AnalystNews, analysis.AnalystMacro}
