// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"codi/internal/agentcore"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers"`
	MCP             MCPConfig                 `toml:"mcp"`
	Cache           CacheConfig               `toml:"cache"`
	UI              UIConfig                  `toml:"ui"`
	Agent           AgentConfig               `toml:"agent"`
	Commander       CommanderConfig           `toml:"commander"`
}

// AgentConfig holds Turn Orchestrator and confirmation-policy settings.
type AgentConfig struct {
	MaxIterations        int      `toml:"max_iterations"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
	TurnDeadlineMS       int      `toml:"turn_deadline_ms"`
	ContextTokenBudget   int      `toml:"context_token_budget"`
	DisableTools         bool     `toml:"disable_tools"`
	ExtractToolsFromText bool     `toml:"extract_tools_from_text"`
	AutoApproveAll       bool     `toml:"auto_approve_all"`
	AutoApprove          []string `toml:"auto_approve"`
	DangerRegex          []string `toml:"danger_regex"`
}

// ToAgentCore converts the TOML-loaded settings into an agentcore.AgentConfig,
// falling back to agentcore.DefaultAgentConfig for any zero-valued field.
func (a AgentConfig) ToAgentCore() agentcore.AgentConfig {
	def := agentcore.DefaultAgentConfig()
	cfg := agentcore.AgentConfig{
		MaxIterations:        a.MaxIterations,
		MaxConsecutiveErrors: a.MaxConsecutiveErrors,
		MaxTurnDuration:      time.Duration(a.TurnDeadlineMS) * time.Millisecond,
		ContextTokenBudget:   a.ContextTokenBudget,
		ToolsEnabled:         !a.DisableTools,
		ExtractToolsFromText: a.ExtractToolsFromText,
		AutoApproveAll:       a.AutoApproveAll,
		AutoApproveToolNames: a.AutoApprove,
		DangerRegexes:        a.DangerRegex,
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxConsecutiveErrors == 0 {
		cfg.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if cfg.MaxTurnDuration == 0 {
		cfg.MaxTurnDuration = def.MaxTurnDuration
	}
	if cfg.ContextTokenBudget == 0 {
		cfg.ContextTokenBudget = def.ContextTokenBudget
	}
	return cfg
}

// WorkerAutoApprove returns the auto-approve tool names a spawned worker
// should inherit: the Commander section's own list if set, else the
// top-level Agent list.
func (c CommanderConfig) WorkerAutoApprove(agent AgentConfig) []string {
	if len(c.AutoApprove) > 0 {
		return c.AutoApprove
	}
	return agent.AutoApprove
}

// WorkerDangerRegex mirrors WorkerAutoApprove for the danger-regex list.
func (c CommanderConfig) WorkerDangerRegex(agent AgentConfig) []string {
	if len(c.DangerRegex) > 0 {
		return c.DangerRegex
	}
	return agent.DangerRegex
}

// CommanderConfig holds defaults passed to every worker the Worker
// Commander spawns. A worker's auto-approve/danger lists are inherited
// from AgentConfig unless overridden here.
type CommanderConfig struct {
	MaxDepth      int      `toml:"max_depth"`
	MaxIterations int      `toml:"max_iterations"`
	AutoApprove   []string `toml:"auto_approve"`
	DangerRegex   []string `toml:"danger_regex"`
}

// UIConfig holds user-interface settings.
type UIConfig struct {
	// SyntaxTheme is the Chroma syntax highlighting theme used across the TUI.
	// UI chrome colors are derived from this theme's background via highlight.ThemeBg.
	// Defaults to "vulcan" if unset.
	SyntaxTheme string `toml:"syntax_theme"`
}

// SyntaxThemeOrDefault returns the configured syntax theme or "vulcan" if unset.
func (u UIConfig) SyntaxThemeOrDefault() string {
	if u.SyntaxTheme == "" {
		return "vulcan"
	}
	return u.SyntaxTheme
}

// CacheConfig holds web cache settings.
type CacheConfig struct {
	TTLHours int `toml:"ttl_hours"`
}

// CacheTTLOrDefault returns the configured TTL or 24 hours if unset.
func (c CacheConfig) CacheTTLOrDefault() int {
	if c.TTLHours <= 0 {
		return 24
	}
	return c.TTLHours
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
}

// MCPConfig holds MCP proxy settings.
type MCPConfig struct {
	Upstream string `toml:"upstream"`
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
	}

	// Config file is required
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	// File must exist
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Load from file
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		for name, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(name, providerCfg)...)
		}
	}

	// Validate default provider if specified
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateProviderConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	if cfg.Endpoint == "" {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint is required", name))
	} else if err := validateEndpoint(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
	}

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("providers.%s.model is required", name))
	}

	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("providers.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}

	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	for _, setter := range []struct {
		env   string
		apply func(string)
	}{
		{"CODI_MCP_ENDPOINT", func(v string) {
			if v != "" {
				cfg.MCP.Upstream = v
			}
		}},
	} {
		setter.apply(os.Getenv(setter.env))
	}
}

// DataDir returns the path to the Codi data directory (~/.config/codi).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "codi"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
