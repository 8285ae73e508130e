package rerank

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionology/docqa/internal/domain"
)

type stubScorer struct {
	scores []float64
	err    error
	calls  int
	sizes  []int
}

func (s *stubScorer) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	s.calls++
	s.sizes = append(s.sizes, len(passages))
	if s.err != nil {
		return nil, s.err
	}
	out := make([]float64, len(passages))
	copy(out, s.scores[:len(passages)])
	s.scores = s.scores[len(passages):]
	return out, nil
}

func makeCandidates(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{
			Chunk: domain.Chunk{ID: int64(i + 1), Text: fmt.Sprintf("passage %d", i+1)},
			Score: 1.0 - float64(i)*0.01,
		}
	}
	return out
}

func TestRerank_ReordersByScore(t *testing.T) {
	scorer := &stubScorer{scores: []float64{0.1, 0.9, 0.5}}
	r := New(scorer, Options{TopR: 3})

	out := r.Rerank(context.Background(), "q", makeCandidates(3))
	require.Len(t, out, 3)
	assert.Equal(t, int64(2), out[0].Chunk.ID)
	assert.Equal(t, int64(3), out[1].Chunk.ID)
	assert.Equal(t, int64(1), out[2].Chunk.ID)
	assert.Equal(t, 0.9, out[0].Score)
}

func TestRerank_FallbackOnError(t *testing.T) {
	scorer := &stubScorer{err: errors.New("service down")}
	r := New(scorer, Options{TopR: 2})

	in := makeCandidates(3)
	out := r.Rerank(context.Background(), "q", in)
	require.Len(t, out, 2)
	assert.Equal(t, in[0].Chunk.ID, out[0].Chunk.ID)
	assert.Equal(t, in[1].Chunk.ID, out[1].Chunk.ID)
}

func TestRerank_NoScorerKeepsOrder(t *testing.T) {
	r := New(nil, Options{TopR: 2})
	in := makeCandidates(5)
	out := r.Rerank(context.Background(), "q", in)
	require.Len(t, out, 2)
	assert.Equal(t, in[0].Chunk.ID, out[0].Chunk.ID)
}

func TestRerank_Batching(t *testing.T) {
	scores := make([]float64, 20)
	for i := range scores {
		scores[i] = float64(i)
	}
	scorer := &stubScorer{scores: scores}
	r := New(scorer, Options{BatchSize: 16, TopR: 10})

	out := r.Rerank(context.Background(), "q", makeCandidates(20))
	assert.Equal(t, 2, scorer.calls)
	assert.Equal(t, []int{16, 4}, scorer.sizes)
	assert.Len(t, out, 10)
}

func TestRerank_TruncatesPassages(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	var gotLen int
	scorer := scorerFunc(func(_ context.Context, _ string, passages []string) ([]float64, error) {
		gotLen = len(passages[0])
		return []float64{1}, nil
	})
	r := New(scorer, Options{MaxChars: 2000, TopR: 1})

	r.Rerank(context.Background(), "q", []Candidate{{Chunk: domain.Chunk{ID: 1, Text: string(long)}}})
	assert.Equal(t, 2000, gotLen)
}

func TestRerank_TruncationMultibyteSafe(t *testing.T) {
	long := strings.Repeat("ж", 3000)
	var got string
	scorer := scorerFunc(func(_ context.Context, _ string, passages []string) ([]float64, error) {
		got = passages[0]
		return []float64{1}, nil
	})
	r := New(scorer, Options{MaxChars: 2000, TopR: 1})

	r.Rerank(context.Background(), "q", []Candidate{{Chunk: domain.Chunk{ID: 1, Text: long}}})
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("ж", 2000), got)
}

type scorerFunc func(ctx context.Context, query string, passages []string) ([]float64, error)

func (f scorerFunc) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	return f(ctx, query, passages)
}

func TestHTTPScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"scores": [0.8, 0.2]}`)
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL)
	scores, err := s.Score(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.8, 0.2}, scores)
}

func TestHTTPScorer_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL)
	_, err := s.Score(context.Background(), "q", []string{"a"})
	assert.Error(t, err)
}

func TestHTTPScorer_ScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"scores": [0.8]}`)
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL)
	_, err := s.Score(context.Background(), "q", []string{"a", "b"})
	assert.Error(t, err)
}
