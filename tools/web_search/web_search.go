package web_search

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/researcher/models"
	"github.com/mohammad-safakhou/researcher/tools/web_search/brave"
	"github.com/mohammad-safakhou/researcher/tools/web_search/serper"
	"github.com/mohammad-safakhou/researcher/utils"
)

type WebSearcher interface {
	Search(ctx context.Context, q string, k int) ([]models.Source, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported web search provider")
	ErrMissingAPIKey       = errors.New("web search api key not set")
)

// NewWebSearcher builds the searcher for provider. endpoint overrides the
// provider's public URL when non-empty.
func NewWebSearcher(provider Provider, apiKey, endpoint string, client *utils.HTTPClient) (WebSearcher, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey, Endpoint: endpoint, Client: client}, nil
	case BraveProvider, "":
		return brave.Search{ApiKey: apiKey, Endpoint: endpoint, Client: client}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
