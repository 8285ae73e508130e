package chunking

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionology/docqa/internal/domain"
)

func TestDispatch_InvalidMethod(t *testing.T) {
	_, err := Dispatch("text", 42, 1, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidChunkMethod)

	_, err = Dispatch("text", 0, 1, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidChunkMethod)
}

func TestDispatch_ClauseMethodRejected(t *testing.T) {
	_, err := Dispatch("text", domain.MethodClause, 1, Options{})
	require.Error(t, err)
	var derr *domain.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrCodeInvalidOperation, derr.Code)
}

func TestDispatch_EmptyText(t *testing.T) {
	chunks, err := Dispatch("   ", domain.MethodFixedSize, 1, Options{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestDispatch_NeverZeroChunks(t *testing.T) {
	for m := domain.MethodFixedSize; m <= domain.MethodAdaptive; m++ {
		chunks, err := Dispatch("short text", m, 1, Options{})
		require.NoError(t, err, "method %d", m)
		assert.NotEmpty(t, chunks, "method %d", m)
		for _, c := range chunks {
			assert.Equal(t, m, c.Method)
			assert.NotEmpty(t, c.Hash)
		}
	}
}

func TestFixedSize_Overlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 30)
	chunks := fixedSize(text, 100, 20)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		assert.True(t, strings.HasPrefix(chunks[i], prev[len(prev)-20:]))
	}
}

func TestDispatch_DenseDocumentSizing(t *testing.T) {
	text := strings.Repeat("Sentence with enough words to count. ", 400)
	require.Greater(t, len(text), denseCharThreshold)

	dense, err := Dispatch(text, domain.MethodFixedSize, 1, Options{})
	require.NoError(t, err)
	sparse := fixedSize(text, defaultChunkSize, defaultOverlap)
	assert.Less(t, len(dense), len(sparse))
}

func TestMergeUnits(t *testing.T) {
	units := []string{"aaaa", "bbbb", "cccc", "dddd"}
	merged := mergeUnits(units, 10, " ")
	require.Len(t, merged, 2)
	assert.Equal(t, "aaaa bbbb", merged[0])
	assert.Equal(t, "cccc dddd", merged[1])
}

func TestKeywordMerge_BoundaryOnKeyword(t *testing.T) {
	text := "First point here. However the rule changes. Second point here. Third point here."
	chunks := keywordMerge(text, 1000)
	require.Greater(t, len(chunks), 1)
	assert.Contains(t, strings.ToLower(chunks[0]), "however")
}

func TestSlidingWindow(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := slidingWindow(text, 100, 50)
	require.Len(t, chunks, 4)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[3], 100)
}

func TestRecursiveSplit_RespectsMaxSize(t *testing.T) {
	paras := make([]string, 8)
	for i := range paras {
		paras[i] = strings.Repeat("word ", 100)
	}
	text := strings.Join(paras, "\n\n")

	chunks := recursiveSplit(text, 600)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 600)
	}
}

func TestRecursiveSplit_MultibyteSafe(t *testing.T) {
	// One unbroken run so the split falls through to character halving.
	text := strings.Repeat("§µж", 400)

	chunks := recursiveSplit(text, 100)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestTopicSplit_HeaderBoundaries(t *testing.T) {
	text := "# Introduction\n" + strings.Repeat("intro text line\n", 10) +
		"# Methods\n" + strings.Repeat("methods text line\n", 10)

	chunks := topicSplit(text, 2000)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0], "# Introduction")
	assert.Contains(t, chunks[1], "# Methods")
}

func TestAdaptiveMerge_WidensForLongSentences(t *testing.T) {
	long := strings.Repeat(strings.Repeat("word ", 40)+"end. ", 10)
	short := strings.Repeat("Tiny one. ", 200)

	assert.Greater(t, avgSentenceLength(long), 100)
	assert.Less(t, avgSentenceLength(short), 100)

	// Long-sentence text gets the widened budget, so fewer merge boundaries.
	wide := adaptiveMerge(long, 1000)
	base := mergeUnits(splitSentences(long), 1000, " ")
	assert.LessOrEqual(t, len(wide), len(base))
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One here. Two here! Three here? Four")
	assert.Len(t, got, 4)
}
