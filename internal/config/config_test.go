package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.Limits.MaxTurns)
	assert.Equal(t, 64, cfg.Limits.MaxQueueSize)
	assert.Equal(t, 16, cfg.Limits.MaxGuardrailQueueSize)
	assert.Equal(t, 16, cfg.Limits.MaxShieldQueueSize)
	assert.Equal(t, 128, cfg.Limits.LRUCacheSize)
	assert.Equal(t, "<think>", cfg.ThinkTags.Start)
	assert.Equal(t, "</think>", cfg.ThinkTags.End)
	assert.Equal(t, "/api/chat", cfg.Model.ChatPath)
	assert.Equal(t, 5, cfg.Model.MaxKeepaliveConns)
	assert.Equal(t, 10, cfg.Model.MaxConns)
	assert.Equal(t, 120*time.Second, cfg.Model.TimeoutTotal)
	assert.Equal(t, 30*time.Second, cfg.Model.TimeoutConnect)
	assert.Equal(t, 90*time.Second, cfg.Model.TimeoutRead)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate_Limits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxTurns = 0
	assert.ErrorContains(t, cfg.Validate(), "max_turns")

	cfg = DefaultConfig()
	cfg.Limits.MaxQueueSize = -1
	assert.ErrorContains(t, cfg.Validate(), "max_queue_size")

	cfg = DefaultConfig()
	cfg.Limits.LRUCacheSize = 0
	assert.ErrorContains(t, cfg.Validate(), "lru_cache_size")
}

func TestValidate_ThinkTags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThinkTags.End = ""
	assert.ErrorContains(t, cfg.Validate(), "think_tags")

	cfg = DefaultConfig()
	cfg.ThinkTags.Start = "<t>"
	cfg.ThinkTags.End = "<t>"
	assert.ErrorContains(t, cfg.Validate(), "must differ")
}

func TestValidate_Model(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.BaseURL = ""
	assert.ErrorContains(t, cfg.Validate(), "base_url")

	cfg = DefaultConfig()
	cfg.Model.Provider = "cohere"
	assert.ErrorContains(t, cfg.Validate(), "provider")

	cfg = DefaultConfig()
	cfg.Model.MaxKeepaliveConns = 20
	cfg.Model.MaxConns = 10
	assert.ErrorContains(t, cfg.Validate(), "max_keepalive_conns")

	cfg = DefaultConfig()
	cfg.Model.TimeoutRead = 0
	assert.ErrorContains(t, cfg.Validate(), "timeouts")

	cfg = DefaultConfig()
	cfg.Model.Temperature = 2.5
	assert.ErrorContains(t, cfg.Validate(), "temperature")

	cfg = DefaultConfig()
	cfg.Model.MaxTokens = -1
	assert.ErrorContains(t, cfg.Validate(), "max_tokens")

	cfg = DefaultConfig()
	cfg.Tracing.SampleRatio = 1.5
	assert.ErrorContains(t, cfg.Validate(), "sample_ratio")
}

func TestString(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.String()
	assert.Contains(t, s, "max_turns")
	assert.Contains(t, s, "think_tags")
}
