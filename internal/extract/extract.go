// Package extract pulls normalized Agora references out of raw message
// text: wikilinks ([[like this]]) and hashtags (#likethis). Malformed
// markup never errors, it simply does not match.
package extract

import (
	"regexp"
	"sort"
	"strings"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	// Mastodon delivers hashtags as HTML: #<span>tag</span>. Plain #tag is
	// matched too so Telegram and catch-up text work the same way.
	hashtagHTMLRe  = regexp.MustCompile(`(?i)#<span>(\w+)</span>`)
	hashtagPlainRe = regexp.MustCompile(`(?i)(?:^|\s)#(\w+)`)

	punctReplacer = strings.NewReplacer(",", " ", "'", " ", ";", " ", ":", " ")
	spaceRunRe    = regexp.MustCompile(`\s+`)
)

// Normalize converts a raw wikilink or hashtag body into its entity form:
// case-folded, surrounding space trimmed, punctuation collapsed to hyphens.
// "Foo Bar" and "foo  bar" normalize to the same entity "foo-bar".
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = punctReplacer.Replace(s)
	s = strings.TrimSpace(s)
	return spaceRunRe.ReplaceAllString(s, "-")
}

// NodeKey collapses a hierarchical entity to its leaf path segment, the key
// the ledger stores it under. "go/cat-tournament" becomes "cat-tournament".
// This is deliberately lossy.
func NodeKey(entity string) string {
	if idx := strings.LastIndex(entity, "/"); idx >= 0 {
		return entity[idx+1:]
	}
	return entity
}

// Wikilinks returns the normalized, deduplicated, case-insensitively sorted
// wikilink entities in text. Empty wikilinks ([[]]) are dropped.
func Wikilinks(text string) []string {
	var raw []string
	for _, m := range wikilinkRe.FindAllStringSubmatch(text, -1) {
		raw = append(raw, m[1])
	}
	return uniq(raw)
}

// Hashtags returns the normalized, deduplicated, case-insensitively sorted
// hashtag entities in text, matching both plain and Mastodon-HTML forms.
func Hashtags(text string) []string {
	var raw []string
	for _, m := range hashtagHTMLRe.FindAllStringSubmatch(text, -1) {
		raw = append(raw, m[1])
	}
	for _, m := range hashtagPlainRe.FindAllStringSubmatch(text, -1) {
		raw = append(raw, m[1])
	}
	return uniq(raw)
}

// HasWikilink reports whether text contains at least one wikilink.
func HasWikilink(text string) bool { return wikilinkRe.MatchString(text) }

// HasHashtag reports whether text contains at least one hashtag.
func HasHashtag(text string) bool {
	return hashtagHTMLRe.MatchString(text) || hashtagPlainRe.MatchString(text)
}

// uniq normalizes, deduplicates, and sorts case-insensitively. Insertion
// order is irrelevant; determinism is what matters for stable reply text.
func uniq(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, r := range raw {
		e := Normalize(r)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}
