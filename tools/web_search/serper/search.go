package serper

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/researcher/internal/helpers"
	"github.com/mohammad-safakhou/researcher/models"
	"github.com/mohammad-safakhou/researcher/utils"
)

const defaultEndpoint = "https://google.serper.dev/search"

type Search struct {
	ApiKey   string
	Endpoint string
	Client   *utils.HTTPClient
}

func (s Search) Search(ctx context.Context, q string, k int) ([]models.Source, error) {
	// https://serper.dev/ docs
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	client := s.Client
	if client == nil {
		client = utils.NewHTTPClient(0, 0, 0)
	}
	payload := map[string]any{"q": q, "num": k}
	headers := map[string]string{"X-API-KEY": s.ApiKey}

	var raw map[string]any
	if err := client.DoJSON(ctx, http.MethodPost, endpoint, headers, payload, &raw); err != nil {
		return nil, fmt.Errorf("serper search: %w", err)
	}

	var out []models.Source
	if items, ok := raw["organic"].([]any); ok {
		for _, it := range items {
			if len(out) >= k {
				break
			}
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, models.Source{
				Type:    models.ProviderWeb,
				Title:   helpers.PlainText(utils.Str(m["title"])),
				Source:  helpers.SourceURL(utils.Str(m["link"])),
				Content: helpers.PlainText(utils.Str(m["snippet"])),
			})
		}
	}
	return out, nil
}
