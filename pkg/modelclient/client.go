// Package modelclient talks to a chat-completion endpoint. The primary
// implementation is a plain HTTP client with a bounded connection pool and
// tiered timeouts; OpenAI- and Anthropic-SDK implementations sit behind the
// same Completer interface.
//
// The client performs no retries. Transport failures surface to the caller
// as ErrTimeout or ErrConnection; retry policy belongs to the orchestrator.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/halim/warden/internal/config"
	"github.com/halim/warden/internal/observability"
	"github.com/rs/zerolog"
)

// Message is one chat message in a request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a normalized chat-completion call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage is the token accounting a provider reports for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Completion is the raw text a provider returned, with usage when the
// provider reports it.
type Completion struct {
	Text  string
	Usage Usage
}

// Completer is the provider-neutral completion interface.
type Completer interface {
	Provider() string
	Complete(ctx context.Context, req Request) (Completion, error)
}

// HTTPClient posts chat requests to a configured endpoint. The connection
// pool is bounded so concurrent orchestrators cannot exhaust local sockets.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPClient builds the client from model configuration.
func NewHTTPClient(cfg config.ModelConfig, logger zerolog.Logger) *HTTPClient {
	observability.EnsureRegistered()

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.TimeoutConnect,
		}).DialContext,
		MaxIdleConns:          cfg.MaxKeepaliveConns,
		MaxIdleConnsPerHost:   cfg.MaxKeepaliveConns,
		MaxConnsPerHost:       cfg.MaxConns,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.TimeoutRead,
	}

	return &HTTPClient{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + cfg.ChatPath,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Transport: transport, Timeout: cfg.TimeoutTotal},
		logger:     logger.With().Str("component", "modelclient").Logger(),
	}
}

// Provider returns the provider name
func (c *HTTPClient) Provider() string {
	return "http"
}

type chatRequestBody struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// chatResponseBody accepts both Ollama-style and OpenAI-style payloads.
type chatResponseBody struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Complete sends one chat-completion request and returns the raw model text.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Completion, error) {
	body, err := json.Marshal(chatRequestBody{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		classified := classifyTransportError(err)
		status := "connection_error"
		if errors.Is(classified, ErrTimeout) {
			status = "timeout"
		}
		observability.RecordClientRequest(status, time.Since(start))
		c.logger.Warn().Err(err).Str("status", status).Msg("Model request failed")
		return Completion{}, classified
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		observability.RecordClientRequest("http_error", time.Since(start))
		return Completion{}, fmt.Errorf("model endpoint returned status %d: %s", resp.StatusCode, string(payload))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		classified := classifyTransportError(err)
		observability.RecordClientRequest("read_error", time.Since(start))
		return Completion{}, classified
	}

	observability.RecordClientRequest("success", time.Since(start))
	return parseCompletion(data)
}

func parseCompletion(data []byte) (Completion, error) {
	var body chatResponseBody
	if err := json.Unmarshal(data, &body); err != nil {
		return Completion{}, fmt.Errorf("failed to decode model response: %w", err)
	}

	out := Completion{}

	switch {
	case body.Message != nil:
		out.Text = body.Message.Content
	case len(body.Choices) > 0:
		choice := body.Choices[0]
		if choice.Message.Content != "" {
			out.Text = choice.Message.Content
		} else if choice.Message.Refusal != "" {
			out.Text = choice.Message.Refusal
		}
	default:
		return Completion{}, fmt.Errorf("model response carried no message")
	}

	if body.Usage != nil {
		out.Usage = Usage{
			InputTokens:  body.Usage.PromptTokens,
			OutputTokens: body.Usage.CompletionTokens,
			TotalTokens:  body.Usage.TotalTokens,
		}
	} else if body.PromptEvalCount > 0 || body.EvalCount > 0 {
		out.Usage = Usage{
			InputTokens:  body.PromptEvalCount,
			OutputTokens: body.EvalCount,
			TotalTokens:  body.PromptEvalCount + body.EvalCount,
		}
	}

	return out, nil
}
