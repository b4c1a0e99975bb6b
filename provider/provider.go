package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/trackon/budgetd/models"
	openai_provider "github.com/trackon/budgetd/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	ExtractQuery(ctx context.Context, query string) (models.Extraction, error)
	Summarize(ctx context.Context, query string, state json.RawMessage) (string, error)
}

// Config is the provider slice of the application configuration.
type Config struct {
	Type        string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg Config) (Provider, error) {
	switch Client(cfg.Type) {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai api key not set")
		}
		return openai_provider.NewOpenAIClient(
			cfg.APIKey,
			cfg.Model,
			cfg.Temperature,
			cfg.MaxTokens,
			cfg.Timeout,
		), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
