package ai

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/asterhq/aster/internal/profile"
	coacherr "github.com/asterhq/aster/server/internal/errors"
)

// Config holds the model provider configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	MaxRetries int
	Timeout    time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://api.openai.com/v1",
		APIKey:     "",
		ChatModel:  "gpt-4o-mini",
		MaxRetries: 3,
		Timeout:    30 * time.Second,
	}
}

// Provider talks to an OpenAI-compatible chat completion endpoint.
type Provider struct {
	client *openai.Client
	config *Config
}

// NewProvider creates a new model provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	// Apply defaults for unset values
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// NewProviderFromProfile creates a provider from the server profile.
func NewProviderFromProfile(p *profile.Profile) (*Provider, error) {
	cfg := DefaultConfig()
	if p.ModelBaseURL != "" {
		cfg.BaseURL = p.ModelBaseURL
	}
	cfg.APIKey = p.ModelAPIKey
	if p.ModelName != "" {
		cfg.ChatModel = p.ModelName
	}
	return NewProvider(cfg)
}

// ModelName returns the configured chat model identifier.
func (p *Provider) ModelName() string {
	return p.config.ChatModel
}

// StartChat opens a new chat seeded with the given system prompt.
func (p *Provider) StartChat(systemPrompt string, tools []ToolDefinition) Chat {
	return newChatSession(p, systemPrompt, tools)
}

// Validate checks the provider configuration.
func (p *Provider) Validate() error {
	if p.config.APIKey == "" {
		return coacherr.ModelUnavailable("model API key is required, set ASTER_MODEL_API_KEY", nil)
	}
	slog.Info("model provider configured",
		"base_url", p.config.BaseURL,
		"chat_model", p.config.ChatModel)
	return nil
}

// complete performs one chat completion with retries and maps failures onto
// the coaching error taxonomy.
func (p *Provider) complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error) {
	var result openai.ChatCompletionMessage
	err := p.doWithRetry(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model:    p.config.ChatModel,
			Messages: messages,
		}
		if len(tools) > 0 {
			req.Tools = tools
		}

		resp, err := p.client.CreateChatCompletion(reqCtx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return coacherr.ModelError("empty chat response", nil)
		}
		result = resp.Choices[0].Message
		return nil
	})
	if err != nil {
		return openai.ChatCompletionMessage{}, classifyModelError(err)
	}

	return result, nil
}

// doWithRetry executes a function with exponential backoff retry.
func (p *Provider) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if !isRetryable(err) {
				return err
			}
			if attempt < p.config.MaxRetries-1 {
				waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				slog.Debug("model request failed, retrying",
					"attempt", attempt+1,
					"wait_time", waitTime,
					"error", err)
				select {
				case <-time.After(waitTime):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}

// isRetryable reports whether a completion error is worth another attempt.
// Rate limits, server-side failures, and transport errors retry; malformed
// requests and bad credentials do not.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	if coacherr.IsCode(err, coacherr.ErrCodeModelError) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// classifyModelError maps a raw completion failure onto the error taxonomy.
func classifyModelError(err error) error {
	if cErr, ok := err.(*coacherr.CoachError); ok {
		return cErr
	}
	if errors.Is(err, context.Canceled) {
		return coacherr.ContextCanceled(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return coacherr.Timeout("model request timed out")
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return coacherr.ModelUnavailable("model provider unavailable", err)
		}
		return coacherr.ModelError("model request rejected", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return coacherr.ModelUnavailable("model provider unreachable", err)
	}

	return coacherr.ModelUnavailable("model request failed", err)
}
