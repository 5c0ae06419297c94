package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	plainOnce   sync.Once
	plainPolicy *bluemonday.Policy
)

func stripPolicy() *bluemonday.Policy {
	plainOnce.Do(func() {
		plainPolicy = bluemonday.StrictPolicy()
	})
	return plainPolicy
}

// PlainText removes markup from a provider snippet, decodes entities and
// collapses whitespace. Search APIs highlight matches with tags such as
// <strong> or <span class="searchmatch">.
func PlainText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if strings.ContainsAny(s, "<>") {
		s = stripPolicy().Sanitize(s)
	}
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
