package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the root Warden configuration. It is constructed once at process
// start and handed to each component's constructor; no package reads it from
// ambient globals.
type Config struct {
	// Turn loop limits
	Limits LimitsConfig `json:"limits" mapstructure:"limits"`

	// Reasoning trace tags
	ThinkTags ThinkTagsConfig `json:"think_tags" mapstructure:"think_tags"`

	// Model endpoint
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Input/output moderation
	Moderation ModerationConfig `json:"moderation" mapstructure:"moderation"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Languages the deployment advertises. Informational; language
	// negotiation happens outside the turn loop.
	SupportedLanguages []string `json:"supported_languages" mapstructure:"supported_languages"`
}

// LimitsConfig bounds the orchestrator and its validation stages.
type LimitsConfig struct {
	MaxTurns              int `json:"max_turns" mapstructure:"max_turns"`
	MaxQueueSize          int `json:"max_queue_size" mapstructure:"max_queue_size"`
	MaxGuardrailQueueSize int `json:"max_guardrail_queue_size" mapstructure:"max_guardrail_queue_size"`
	MaxShieldQueueSize    int `json:"max_shield_queue_size" mapstructure:"max_shield_queue_size"`
	LRUCacheSize          int `json:"lru_cache_size" mapstructure:"lru_cache_size"`
}

// ThinkTagsConfig is the start/end tag pair delimiting a model's reasoning
// trace inside raw output.
type ThinkTagsConfig struct {
	Start string `json:"start" mapstructure:"start"`
	End   string `json:"end" mapstructure:"end"`
}

// ModelConfig describes the chat-completion endpoint and its transport budget.
type ModelConfig struct {
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	ChatPath string `json:"chat_path" mapstructure:"chat_path"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Name     string `json:"name" mapstructure:"name"`
	Provider string `json:"provider" mapstructure:"provider"` // http, openai, anthropic

	TimeoutTotal   time.Duration `json:"timeout_total" mapstructure:"timeout_total"`
	TimeoutConnect time.Duration `json:"timeout_connect" mapstructure:"timeout_connect"`
	TimeoutRead    time.Duration `json:"timeout_read" mapstructure:"timeout_read"`

	MaxKeepaliveConns int `json:"max_keepalive_conns" mapstructure:"max_keepalive_conns"`
	MaxConns          int `json:"max_conns" mapstructure:"max_conns"`

	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// ModerationConfig configures the built-in guardrail/shield validators.
type ModerationConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	BlockedKeywords []string `json:"blocked_keywords" mapstructure:"blocked_keywords"`
	BlockedPatterns []string `json:"blocked_patterns" mapstructure:"blocked_patterns"`
	MaxInputLength  int      `json:"max_input_length" mapstructure:"max_input_length"`
}

// TracingConfig holds span sampling configuration.
type TracingConfig struct {
	// SampleRatio is the fraction of new traces to sample, 0 to 1.
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxTurns:              10,
			MaxQueueSize:          64,
			MaxGuardrailQueueSize: 16,
			MaxShieldQueueSize:    16,
			LRUCacheSize:          128,
		},
		ThinkTags: ThinkTagsConfig{
			Start: "<think>",
			End:   "</think>",
		},
		Model: ModelConfig{
			BaseURL:           "http://localhost:11434",
			ChatPath:          "/api/chat",
			Name:              "deepseek-r1",
			Provider:          "http",
			TimeoutTotal:      120 * time.Second,
			TimeoutConnect:    30 * time.Second,
			TimeoutRead:       90 * time.Second,
			MaxKeepaliveConns: 5,
			MaxConns:          10,
			Temperature:       0.7,
		},
		Moderation: ModerationConfig{
			Enabled:        true,
			MaxInputLength: 32768,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
		SupportedLanguages: []string{"en"},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Limits.MaxTurns <= 0 {
		return fmt.Errorf("limits.max_turns must be positive")
	}
	if c.Limits.MaxQueueSize <= 0 {
		return fmt.Errorf("limits.max_queue_size must be positive")
	}
	if c.Limits.MaxGuardrailQueueSize <= 0 {
		return fmt.Errorf("limits.max_guardrail_queue_size must be positive")
	}
	if c.Limits.MaxShieldQueueSize <= 0 {
		return fmt.Errorf("limits.max_shield_queue_size must be positive")
	}
	if c.Limits.LRUCacheSize <= 0 {
		return fmt.Errorf("limits.lru_cache_size must be positive")
	}

	if c.ThinkTags.Start == "" || c.ThinkTags.End == "" {
		return fmt.Errorf("think_tags.start and think_tags.end are required")
	}
	if c.ThinkTags.Start == c.ThinkTags.End {
		return fmt.Errorf("think_tags.start and think_tags.end must differ")
	}

	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	switch c.Model.Provider {
	case "", "http", "openai", "anthropic":
	default:
		return fmt.Errorf("model.provider must be one of: http, openai, anthropic (got %s)", c.Model.Provider)
	}
	if c.Model.TimeoutTotal <= 0 || c.Model.TimeoutConnect <= 0 || c.Model.TimeoutRead <= 0 {
		return fmt.Errorf("model timeouts must be positive")
	}
	if c.Model.MaxConns <= 0 {
		return fmt.Errorf("model.max_conns must be positive")
	}
	if c.Model.MaxKeepaliveConns > c.Model.MaxConns {
		return fmt.Errorf("model.max_keepalive_conns cannot exceed model.max_conns")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2")
	}
	if c.Model.MaxTokens < 0 {
		return fmt.Errorf("model.max_tokens cannot be negative")
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	return nil
}
