package web_search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammad-safakhou/researcher/models"
)

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "brave-key" {
			t.Errorf("missing subscription token")
		}
		if r.URL.Query().Get("q") != "solar power" || r.URL.Query().Get("count") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"A","url":"https://a.example?utm_source=brave","description":"<strong>alpha</strong>"},
			{"title":"B","url":"https://b.example","description":"beta"},
			{"title":"C","url":"https://c.example","description":"gamma"}]}}`))
	}))
	defer srv.Close()

	s, err := NewWebSearcher(BraveProvider, "brave-key", srv.URL, nil)
	if err != nil {
		t.Fatalf("new searcher: %v", err)
	}
	got, err := s.Search(context.Background(), "solar power", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Type != models.ProviderWeb || got[0].Source != "https://a.example/" || got[0].Content != "alpha" {
		t.Fatalf("unexpected first result %+v", got[0])
	}
}

func TestSerperSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-API-KEY") != "serper-key" {
			t.Errorf("unexpected request %s %v", r.Method, r.Header)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["q"] != "grid storage" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = w.Write([]byte(`{"organic":[{"title":"T","link":"https://t.example","snippet":"s"}]}`))
	}))
	defer srv.Close()

	s, err := NewWebSearcher(SerperProvider, "serper-key", srv.URL, nil)
	if err != nil {
		t.Fatalf("new searcher: %v", err)
	}
	got, err := s.Search(context.Background(), "grid storage", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Title != "T" || got[0].Source != "https://t.example/" {
		t.Fatalf("unexpected results %+v", got)
	}
}

func TestSearchPropagatesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s, _ := NewWebSearcher(BraveProvider, "k", srv.URL, nil)
	if _, err := s.Search(context.Background(), "q", 2); err == nil {
		t.Fatalf("expected error from rate limited backend")
	}
}

func TestNewWebSearcherValidation(t *testing.T) {
	if _, err := NewWebSearcher(BraveProvider, "", "", nil); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := NewWebSearcher("bing", "k", "", nil); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}
