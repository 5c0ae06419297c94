package retrieval

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/mohammad-safakhou/researcher/models"
)

const (
	// DefaultMaxSources caps a deduplicated result list when no limit is given.
	DefaultMaxSources = 15
	// FingerprintRunes is how much leading content identifies a source.
	FingerprintRunes = 100
)

// Fingerprint hashes the first FingerprintRunes runes of content. Two sources
// sharing that prefix are duplicates.
func Fingerprint(content string) string {
	r := []rune(content)
	if len(r) > FingerprintRunes {
		r = r[:FingerprintRunes]
	}
	sum := sha1.Sum([]byte(string(r)))
	return hex.EncodeToString(sum[:])
}

// Deduplicate flattens groups in the order given, keeps the first source for
// every fingerprint and truncates the result to limit (DefaultMaxSources when
// limit <= 0). Relative order is preserved.
func Deduplicate(limit int, groups ...[]models.Source) []models.Source {
	if limit <= 0 {
		limit = DefaultMaxSources
	}
	seen := make(map[string]struct{})
	out := make([]models.Source, 0, limit)
	for _, group := range groups {
		for _, src := range group {
			fp := Fingerprint(src.Content)
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			out = append(out, src)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}
