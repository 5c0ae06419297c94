package brave

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/researcher/internal/helpers"
	"github.com/mohammad-safakhou/researcher/models"
	"github.com/mohammad-safakhou/researcher/utils"
)

const defaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

type Search struct {
	ApiKey   string
	Endpoint string
	Client   *utils.HTTPClient
}

func (s Search) Search(ctx context.Context, q string, k int) ([]models.Source, error) {
	// https://api.search.brave.com/app/documentation/web-search
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	client := s.Client
	if client == nil {
		client = utils.NewHTTPClient(0, 0, 0)
	}
	url := fmt.Sprintf("%s?q=%s&count=%d", endpoint, utils.UrlQuery(q), k)
	headers := map[string]string{"X-Subscription-Token": s.ApiKey}

	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := client.DoJSON(ctx, http.MethodGet, url, headers, nil, &raw); err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	var out []models.Source
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, models.Source{
			Type:    models.ProviderWeb,
			Title:   helpers.PlainText(r.Title),
			Source:  helpers.SourceURL(r.URL),
			Content: helpers.PlainText(r.Snippet),
		})
	}
	return out, nil
}
