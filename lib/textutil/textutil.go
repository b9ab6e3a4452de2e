package textutil

import (
	"strings"
	"unicode"
)

// NormalizeName lowercases name and strips every whitespace rune, so
// "府中 試験場" and "府中試験場" compare equal.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)
}

// MatchName reports the first matcher that is contained in name, after
// both sides are normalized. The matcher is returned as given.
func MatchName(name string, matchers []string) (string, bool) {
	name = NormalizeName(name)
	for _, m := range matchers {
		normalized := NormalizeName(m)
		if normalized == "" {
			continue
		}
		if strings.Contains(name, normalized) {
			return m, true
		}
	}
	return "", false
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
