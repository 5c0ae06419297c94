package readable

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/researcher/tools/web_fetch/models"
)

// Extract runs readability over raw HTML and bounds the text to maxChars runes.
func Extract(pageURL, html string, maxChars int, started time.Time) models.Result {
	sum := sha1.Sum([]byte(html))
	res := models.Result{
		URL:      pageURL,
		HTMLHash: hex.EncodeToString(sum[:]),
		Status:   200,
	}
	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(pageURL))
	if err == nil {
		text := strings.TrimSpace(article.TextContent)
		if r := []rune(text); maxChars > 0 && len(r) > maxChars {
			text = string(r[:maxChars])
		}
		res.Title = strings.TrimSpace(article.Title)
		res.Byline = strings.TrimSpace(article.Byline)
		res.SiteName = strings.TrimSpace(article.SiteName)
		res.Text = text
	}
	res.RenderMS = int(time.Since(started) / time.Millisecond)
	return res
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
