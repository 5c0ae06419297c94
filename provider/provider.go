package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/mohammad-safakhou/researcher/config"
	openai_provider "github.com/mohammad-safakhou/researcher/provider/openai"
)

// ErrNotConfigured is returned when no API key is available. Callers treat it
// as degraded mode rather than a start-up failure.
var ErrNotConfigured = errors.New("llm provider not configured")

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
)

// Completer turns a prompt into text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Embedder turns texts into vectors, one per input.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Completer
	Embedder
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	switch Client(cfg.Provider) {
	case OpenAI, "":
		return openai_provider.NewOpenAIClient(openai_provider.Options{
			APIKey:          cfg.APIKey,
			BaseURL:         cfg.BaseURL,
			CompletionModel: cfg.Model,
			EmbeddingModel:  cfg.EmbeddingModel,
			Temperature:     cfg.Temperature,
			MaxTokens:       cfg.MaxTokens,
			Timeout:         cfg.Timeout,
		}), nil
	default:
		return nil, errors.New("unsupported LLM provider: " + cfg.Provider)
	}
}
