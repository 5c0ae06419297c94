package wikipedia

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/researcher/models"
	"github.com/mohammad-safakhou/researcher/utils"
)

// ExtractChars bounds page extracts returned as source content.
const ExtractChars = 500

// Client searches an encyclopedia through the MediaWiki action API.
type Client struct {
	Endpoint  string // defaults to https://<lang>.wikipedia.org/w/api.php
	Language  string
	UserAgent string
	HTTP      *utils.HTTPClient
}

func New(endpoint, language, userAgent string, client *utils.HTTPClient) *Client {
	if language == "" {
		language = "en"
	}
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.wikipedia.org/w/api.php", language)
	}
	if client == nil {
		client = utils.NewHTTPClient(0, 0, 0)
	}
	return &Client{Endpoint: endpoint, Language: language, UserAgent: userAgent, HTTP: client}
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title  string `json:"title"`
			PageID int    `json:"pageid"`
		} `json:"search"`
	} `json:"query"`
}

type pagesResponse struct {
	Query struct {
		Pages map[string]struct {
			PageID  int    `json:"pageid"`
			Title   string `json:"title"`
			Extract string `json:"extract"`
			FullURL string `json:"fullurl"`
		} `json:"pages"`
	} `json:"query"`
}

// Search finds up to k pages for q and returns their intro extracts in
// search-rank order. Pages without an extract are skipped.
func (c *Client) Search(ctx context.Context, q string, k int) ([]models.Source, error) {
	if k <= 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", q)
	params.Set("srlimit", strconv.Itoa(k))
	params.Set("format", "json")
	params.Set("utf8", "1")

	var sr searchResponse
	if err := c.HTTP.DoJSON(ctx, http.MethodGet, c.Endpoint+"?"+params.Encode(), c.headers(), nil, &sr); err != nil {
		return nil, fmt.Errorf("wikipedia search: %w", err)
	}
	if len(sr.Query.Search) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(sr.Query.Search))
	for _, hit := range sr.Query.Search {
		ids = append(ids, strconv.Itoa(hit.PageID))
	}
	params = url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts|info")
	params.Set("inprop", "url")
	params.Set("exintro", "1")
	params.Set("explaintext", "1")
	params.Set("pageids", strings.Join(ids, "|"))
	params.Set("format", "json")

	var pr pagesResponse
	if err := c.HTTP.DoJSON(ctx, http.MethodGet, c.Endpoint+"?"+params.Encode(), c.headers(), nil, &pr); err != nil {
		return nil, fmt.Errorf("wikipedia extracts: %w", err)
	}

	var out []models.Source
	for _, id := range ids {
		page, ok := pr.Query.Pages[id]
		if !ok || strings.TrimSpace(page.Extract) == "" {
			continue
		}
		link := page.FullURL
		if link == "" {
			link = fmt.Sprintf("https://%s.wikipedia.org/wiki/%s", c.Language, url.PathEscape(strings.ReplaceAll(page.Title, " ", "_")))
		}
		out = append(out, models.Source{
			Type:    models.ProviderWikipedia,
			Title:   page.Title,
			Source:  link,
			Content: utils.Ellipsize(strings.TrimSpace(page.Extract), ExtractChars),
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (c *Client) headers() map[string]string {
	if c.UserAgent == "" {
		return nil
	}
	return map[string]string{"User-Agent": c.UserAgent}
}
