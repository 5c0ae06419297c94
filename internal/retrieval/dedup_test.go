package retrieval

import (
	"strings"
	"testing"

	"github.com/mohammad-safakhou/researcher/models"
)

func src(tag models.ProviderTag, title, content string) models.Source {
	return models.Source{Type: tag, Title: title, Content: content}
}

func TestDeduplicateSharedPrefix(t *testing.T) {
	prefix := strings.Repeat("a", FingerprintRunes)
	kb := []models.Source{src(models.ProviderKnowledgeBase, "kb", prefix+" internal notes")}
	web := []models.Source{
		src(models.ProviderWeb, "web-dup", prefix+" something else entirely"),
		src(models.ProviderWeb, "web-unique", "b"+prefix),
	}

	got := Deduplicate(0, kb, web)
	if len(got) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(got))
	}
	if got[0].Title != "kb" || got[1].Title != "web-unique" {
		t.Fatalf("unexpected order: %q, %q", got[0].Title, got[1].Title)
	}
}

func TestDeduplicateDiffersInsidePrefix(t *testing.T) {
	a := strings.Repeat("x", 99) + "1"
	b := strings.Repeat("x", 99) + "2"
	got := Deduplicate(10, []models.Source{src(models.ProviderWeb, "a", a), src(models.ProviderWeb, "b", b)})
	if len(got) != 2 {
		t.Fatalf("expected both sources to survive, got %d", len(got))
	}
}

func TestDeduplicateCap(t *testing.T) {
	var group []models.Source
	for i := 0; i < 20; i++ {
		group = append(group, src(models.ProviderWeb, "t", strings.Repeat(string(rune('a'+i)), 5)))
	}
	if got := Deduplicate(0, group); len(got) != DefaultMaxSources {
		t.Fatalf("expected default cap %d, got %d", DefaultMaxSources, len(got))
	}
	if got := Deduplicate(3, group); len(got) != 3 {
		t.Fatalf("expected cap 3, got %d", len(got))
	}
}

func TestDeduplicateEmpty(t *testing.T) {
	if got := Deduplicate(5); len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}

func TestFingerprintRuneBoundary(t *testing.T) {
	base := strings.Repeat("é", FingerprintRunes)
	if Fingerprint(base+"tail one") != Fingerprint(base+"tail two") {
		t.Fatalf("expected identical fingerprints for identical rune prefixes")
	}
	if Fingerprint("short") == Fingerprint("short!") {
		t.Fatalf("expected different fingerprints for different short content")
	}
}
