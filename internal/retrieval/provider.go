package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/researcher/models"
)

// ErrTimeout is reported when a provider exceeds its wall-clock budget.
var ErrTimeout = errors.New("provider timed out")

// Searcher is a single retrieval backend.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]models.Source, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string, limit int) ([]models.Source, error)

func (f SearcherFunc) Search(ctx context.Context, query string, limit int) ([]models.Source, error) {
	return f(ctx, query, limit)
}

// Enricher replaces a source's content with a fuller rendition, used for deep
// searches. It returns the source unchanged when it cannot do better.
type Enricher interface {
	Enrich(ctx context.Context, src models.Source) models.Source
}

// Provider registers a Searcher under a tag.
type Provider struct {
	Tag      models.ProviderTag
	Searcher Searcher
	// Timeout bounds a single call even when the searcher ignores its context.
	// Zero leaves the call bounded only by the caller's context.
	Timeout time.Duration
}
