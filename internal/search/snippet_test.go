package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSnippet_ShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short text", buildSnippet("short text", "query"))
}

func TestBuildSnippet_CentersOnMatch(t *testing.T) {
	text := strings.Repeat("padding ", 100) + "governance framework details" + strings.Repeat(" trailing", 100)
	got := buildSnippet(text, "governance rules")
	assert.Contains(t, got, "governance")
	assert.LessOrEqual(t, len(got), snippetLength+10)
}

func TestBuildSnippet_NoMatchUsesOpening(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor ", 50)
	got := buildSnippet(text, "zzzzz")
	assert.True(t, strings.HasPrefix(got, "lorem"))
}
