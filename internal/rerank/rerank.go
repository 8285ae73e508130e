package rerank

import (
	"context"
	"log"
	"sort"

	"github.com/ionology/docqa/internal/domain"
)

const (
	// DefaultBatchSize is how many (query, passage) pairs go to the scorer per call.
	DefaultBatchSize = 16
	// DefaultMaxChars truncates passages before scoring.
	DefaultMaxChars = 2000
	// DefaultTopR is how many results survive reranking.
	DefaultTopR = 10
)

// Scorer scores (query, passage) pairs. Higher means more relevant.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Candidate pairs a chunk with its pre-rerank fused score.
type Candidate struct {
	Chunk domain.Chunk
	Score float64
}

// Reranker reorders retrieval candidates with a cross-encoder scorer. Scoring
// failures fall back to the original order so retrieval never breaks when the
// rerank service is down.
type Reranker struct {
	scorer    Scorer
	batchSize int
	maxChars  int
	topR      int
}

type Options struct {
	BatchSize int
	MaxChars  int
	TopR      int
}

func New(scorer Scorer, opts Options) *Reranker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.TopR <= 0 {
		opts.TopR = DefaultTopR
	}
	return &Reranker{
		scorer:    scorer,
		batchSize: opts.BatchSize,
		maxChars:  opts.MaxChars,
		topR:      opts.TopR,
	}
}

// Rerank scores candidates against the query and returns the top R by
// cross-encoder score. With no scorer configured, or on any scoring error,
// the input order is preserved and truncated to R.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	if r.scorer == nil {
		return truncate(candidates, r.topR)
	}

	scores := make([]float64, 0, len(candidates))
	for start := 0; start < len(candidates); start += r.batchSize {
		end := start + r.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		passages := make([]string, 0, end-start)
		for _, c := range candidates[start:end] {
			passages = append(passages, truncateText(c.Chunk.Text, r.maxChars))
		}

		batchScores, err := r.scorer.Score(ctx, query, passages)
		if err != nil || len(batchScores) != len(passages) {
			log.Printf("rerank: scorer failed, keeping fused order: %v", err)
			return truncate(candidates, r.topR)
		}
		scores = append(scores, batchScores...)
	}

	reranked := make([]Candidate, len(candidates))
	copy(reranked, candidates)
	for i := range reranked {
		reranked[i].Score = scores[i]
	}
	sort.SliceStable(reranked, func(i, j int) bool { return reranked[i].Score > reranked[j].Score })

	return truncate(reranked, r.topR)
}

func truncate(candidates []Candidate, n int) []Candidate {
	if len(candidates) > n {
		return candidates[:n]
	}
	return candidates
}

func truncateText(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
