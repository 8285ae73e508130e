package search

import (
	"strings"
	"unicode"
)

const snippetLength = 240

// buildSnippet returns a short window of chunk text centered on the first
// query-term match, falling back to the chunk's opening characters.
func buildSnippet(text, query string) string {
	if len(text) <= snippetLength {
		return text
	}

	lower := strings.ToLower(text)
	idx := -1
	for _, term := range strings.Fields(strings.ToLower(query)) {
		term = strings.TrimFunc(term, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len(term) < 3 {
			continue
		}
		if i := strings.Index(lower, term); i >= 0 && (idx == -1 || i < idx) {
			idx = i
		}
	}

	start := 0
	if idx > snippetLength/2 {
		start = idx - snippetLength/2
	}
	end := start + snippetLength
	if end > len(text) {
		end = len(text)
		if end-snippetLength > 0 {
			start = end - snippetLength
		} else {
			start = 0
		}
	}

	snippet := strings.TrimSpace(text[start:end])
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(text) {
		snippet += "…"
	}
	return snippet
}
