package web_fetch

import (
	"context"
	"errors"
	"time"

	researchmodels "github.com/mohammad-safakhou/researcher/models"
	"github.com/mohammad-safakhou/researcher/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/researcher/tools/web_fetch/httpfetch"
	"github.com/mohammad-safakhou/researcher/tools/web_fetch/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout   = 15 * time.Second
	MaxCharsDefault  = 20000
	DefaultUserAgent = "researcher/1.0"
)

var ErrUnsupportedFetcher = errors.New("unsupported fetcher type")

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	HTTPFetcherType     FetcherType = "http"
	ChromedpFetcherType FetcherType = "chromedp"
)

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int, userAgent string) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	switch fetcherType {
	case HTTPFetcherType, "":
		return httpfetch.Fetch{Timeout: timeout, MaxChars: maxChars, UserAgent: userAgent}, nil
	case ChromedpFetcherType:
		return chromedp.Fetch{Timeout: timeout, MaxChars: maxChars, UserAgent: userAgent}, nil
	default:
		return nil, ErrUnsupportedFetcher
	}
}

// Enricher swaps a search snippet for the readable text of the linked page.
// Any fetch failure keeps the snippet.
type Enricher struct {
	Fetcher WebFetcher
	log     *logrus.Entry
}

func NewEnricher(f WebFetcher) *Enricher {
	return &Enricher{Fetcher: f, log: logrus.WithField("component", "web_fetch")}
}

func (e *Enricher) Enrich(ctx context.Context, src researchmodels.Source) researchmodels.Source {
	if src.Source == "" {
		return src
	}
	res, err := e.Fetcher.Exec(ctx, src.Source)
	if err != nil || !res.OK() {
		e.log.WithError(err).WithField("url", src.Source).Debug("page fetch failed, keeping snippet")
		return src
	}
	src.Content = res.Text
	if src.Title == "" {
		src.Title = res.Title
	}
	return src
}
