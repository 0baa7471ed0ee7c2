package modelclient

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/halim/warden/internal/config"
)

// NewCompleter creates a completer based on the configured provider
func NewCompleter(cfg config.ModelConfig, logger zerolog.Logger) (Completer, error) {
	switch cfg.Provider {
	case "http", "":
		return NewHTTPClient(cfg, logger), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}
