package search

import (
	"context"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ionology/docqa/internal/domain"
	"github.com/ionology/docqa/internal/repository"
	"github.com/ionology/docqa/internal/rerank"
)

// Search modes reported to callers.
const (
	ModeHybrid         = "hybrid"
	ModeHybridReranked = "hybrid-reranked"
	ModeSectionDirect  = "section-direct"
	ModeDegraded       = "degraded"
)

const (
	defaultTopK     = 20
	defaultLimit    = 10
	maxLimit        = 50
	cacheTTL        = 5 * time.Minute
	cacheSize       = 512
	directBaseScore = 0.99
	directScoreStep = 0.01

	wordPunctuation = ".,;:!?\"'()[]{}"
)

var (
	sectionRefRE = regexp.MustCompile(`\b(\d+(?:[._]\d+)+)\b`)
	sectionAskRE = regexp.MustCompile(`(?i)\b(?:go\s+to|show)\s+(?:section|clause|article)\s+\d+(?:[._]\d+)+\b`)
)

// fillerWords are ignored when counting how much of a query is not the
// section reference itself.
var fillerWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"do": {}, "does": {}, "did": {}, "what": {}, "which": {}, "where": {},
	"me": {}, "my": {}, "i": {}, "it": {}, "this": {}, "that": {},
	"of": {}, "in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "from": {},
	"with": {}, "about": {}, "and": {}, "or": {}, "please": {},
	"say": {}, "says": {}, "said": {}, "tell": {}, "show": {}, "go": {},
	"see": {}, "open": {}, "explain": {},
	"section": {}, "sections": {}, "clause": {}, "clauses": {},
	"article": {}, "articles": {}, "chapter": {}, "paragraph": {},
}

// Embedder turns a query into a vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher runs nearest-neighbor search over indexed chunks.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, limit int) ([]repository.SemanticResult, error)
}

// LexicalSearcher runs full-text search and exact section lookups.
type LexicalSearcher interface {
	LexicalSearch(ctx context.Context, query string, limit int) ([]repository.LexicalResult, error)
	GetBySection(ctx context.Context, sectionID string) ([]*domain.Chunk, error)
}

// Reranker reorders fused candidates.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []rerank.Candidate) []rerank.Candidate
}

// SearchLogger records completed searches for evaluation.
type SearchLogger interface {
	CreateSearchLog(ctx context.Context, entry repository.SearchLogEntry) (int64, error)
}

// Result is one retrieved chunk with its final score.
type Result struct {
	Chunk   domain.Chunk
	Score   float64
	Snippet string
}

// Response is the outcome of one retrieval call.
type Response struct {
	Mode      string
	Degraded  bool
	Reranked  bool
	SemWeight float64
	LexWeight float64
	LatencyMs int64
	Results   []Result
}

// Options tunes retrieval behavior.
type Options struct {
	TopKVec   int
	TopKLex   int
	SemWeight float64
	LexWeight float64
}

// Service implements hybrid retrieval: concurrent semantic and lexical
// branches fused by weighted score, with a direct-section bypass and a
// degraded lexical-fallback mode when the vector side is unavailable.
type Service struct {
	embedder Embedder
	vectors  VectorSearcher
	lexical  LexicalSearcher
	reranker Reranker
	logs     SearchLogger

	topKVec   int
	topKLex   int
	semWeight float64
	lexWeight float64

	embedCache  *ttlCache
	resultCache *ttlCache
}

func NewService(embedder Embedder, vectors VectorSearcher, lexical LexicalSearcher, reranker Reranker, logs SearchLogger, opts Options) *Service {
	if opts.TopKVec <= 0 {
		opts.TopKVec = defaultTopK
	}
	if opts.TopKLex <= 0 {
		opts.TopKLex = defaultTopK
	}
	if opts.SemWeight <= 0 {
		opts.SemWeight = 0.6
	}
	if opts.LexWeight <= 0 {
		opts.LexWeight = 0.4
	}
	return &Service{
		embedder:    embedder,
		vectors:     vectors,
		lexical:     lexical,
		reranker:    reranker,
		logs:        logs,
		topKVec:     opts.TopKVec,
		topKLex:     opts.TopKLex,
		semWeight:   opts.SemWeight,
		lexWeight:   opts.LexWeight,
		embedCache:  newTTLCache(cacheSize, cacheTTL),
		resultCache: newTTLCache(cacheSize, cacheTTL),
	}
}

// InvalidateCaches drops cached embeddings and results. Called after any
// ingestion completes so new content is immediately visible.
func (s *Service) InvalidateCaches() {
	s.embedCache.Purge()
	s.resultCache.Purge()
}

// Search retrieves up to limit chunks for a query. Queries that ask for a
// section directly bypass retrieval and return that section's chunks.
func (s *Service) Search(ctx context.Context, query string, limit int) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	start := time.Now()
	cacheKey := strconv.Itoa(limit) + "|" + query

	if cached, ok := s.resultCache.Get(cacheKey); ok {
		hit := *cached.(*Response)
		hit.LatencyMs = time.Since(start).Milliseconds()
		return &hit, nil
	}

	var resp *Response
	var err error
	if sectionID := SectionBypassRef(query); sectionID != "" {
		resp, err = s.searchSection(ctx, sectionID)
		if err != nil {
			return nil, err
		}
	}
	if resp == nil || len(resp.Results) == 0 {
		resp, err = s.searchHybrid(ctx, query)
		if err != nil {
			return nil, err
		}
	}

	if len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	resp.SemWeight = s.semWeight
	resp.LexWeight = s.lexWeight
	resp.LatencyMs = time.Since(start).Milliseconds()

	s.resultCache.Set(cacheKey, resp)
	s.logSearch(ctx, query, resp, time.Since(start))
	return resp, nil
}

// ExtractSectionRef returns the first section-id-shaped token in the query,
// normalized to dotted form, or "".
func ExtractSectionRef(query string) string {
	m := sectionRefRE.FindString(query)
	if m == "" {
		return ""
	}
	return strings.ReplaceAll(m, "_", ".")
}

// SectionBypassRef returns the section id when the query is a direct section
// request: "go to"/"show" phrasing, or a dotted number with at most two other
// meaningful words. A question that merely mentions a section id, or a
// decimal figure in running text, returns "".
func SectionBypassRef(query string) string {
	ref := ExtractSectionRef(query)
	if ref == "" {
		return ""
	}
	if sectionAskRE.MatchString(query) {
		return ref
	}
	if meaningfulWordCount(query) <= 2 {
		return ref
	}
	return ""
}

// meaningfulWordCount counts query words that are neither section references
// nor filler.
func meaningfulWordCount(query string) int {
	count := 0
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, wordPunctuation)
		if w == "" || sectionRefRE.MatchString(w) {
			continue
		}
		if _, ok := fillerWords[w]; ok {
			continue
		}
		count++
	}
	return count
}

// searchSection performs the direct-section bypass: exact lookup by section
// id, falling back to the parent section when the exact id has no chunks.
// Scores start near 1.0 and decrease to preserve chunk order downstream.
func (s *Service) searchSection(ctx context.Context, sectionID string) (*Response, error) {
	chunks, err := s.lexical.GetBySection(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		if parent := parentSection(sectionID); parent != "" {
			chunks, err = s.lexical.GetBySection(ctx, parent)
			if err != nil {
				return nil, err
			}
		}
	}

	resp := &Response{Mode: ModeSectionDirect}
	for i, c := range chunks {
		score := directBaseScore - float64(i)*directScoreStep
		if score < 0 {
			score = 0
		}
		resp.Results = append(resp.Results, Result{
			Chunk:   *c,
			Score:   score,
			Snippet: buildSnippet(c.Text, sectionID),
		})
	}
	return resp, nil
}

func parentSection(sectionID string) string {
	idx := strings.LastIndex(sectionID, ".")
	if idx <= 0 {
		return ""
	}
	return sectionID[:idx]
}

type fusedCandidate struct {
	chunk    domain.Chunk
	semantic float64
	lexical  float64
	inSem    bool
	inLex    bool
}

func (s *Service) searchHybrid(ctx context.Context, query string) (*Response, error) {
	var (
		wg         sync.WaitGroup
		semResults []repository.SemanticResult
		lexResults []repository.LexicalResult
		semErr     error
		lexErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		semResults, semErr = s.searchSemantic(ctx, query)
	}()
	go func() {
		defer wg.Done()
		lexResults, lexErr = s.lexical.LexicalSearch(ctx, query, s.topKLex)
	}()
	wg.Wait()

	degraded := false
	if semErr != nil {
		// The lexical branch carries the search alone.
		log.Printf("search: semantic branch failed, degrading to lexical results: %v", semErr)
		degraded = true
		semResults = nil
	}
	if lexErr != nil {
		if degraded {
			return nil, lexErr
		}
		log.Printf("search: lexical branch failed, continuing with semantic only: %v", lexErr)
		lexResults = nil
	}

	fused := make(map[int64]*fusedCandidate)
	for _, r := range semResults {
		fused[r.Chunk.ID] = &fusedCandidate{chunk: r.Chunk, semantic: clamp01(r.Score), inSem: true}
	}
	for _, r := range lexResults {
		if f, ok := fused[r.Chunk.ID]; ok {
			f.lexical = clamp01(r.Score)
			f.inLex = true
			continue
		}
		fused[r.Chunk.ID] = &fusedCandidate{chunk: r.Chunk, lexical: clamp01(r.Score), inLex: true}
	}

	candidates := make([]rerank.Candidate, 0, len(fused))
	for _, f := range fused {
		candidates = append(candidates, rerank.Candidate{
			Chunk: f.chunk,
			Score: s.semWeight*f.semantic + s.lexWeight*f.lexical,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Chunk.ID < candidates[j].Chunk.ID
	})

	reranked := false
	if s.reranker != nil && len(candidates) > 0 {
		candidates = s.reranker.Rerank(ctx, query, candidates)
		reranked = true
	}

	mode := ModeHybrid
	if reranked {
		mode = ModeHybridReranked
	}
	if degraded {
		mode = ModeDegraded
	}
	resp := &Response{Mode: mode, Degraded: degraded, Reranked: reranked}
	for _, c := range candidates {
		resp.Results = append(resp.Results, Result{
			Chunk:   c.Chunk,
			Score:   c.Score,
			Snippet: buildSnippet(c.Chunk.Text, query),
		})
	}
	return resp, nil
}

func (s *Service) searchSemantic(ctx context.Context, query string) ([]repository.SemanticResult, error) {
	if s.embedder == nil || s.vectors == nil {
		return nil, domain.ErrVectorStoreDown
	}

	var embedding []float32
	if cached, ok := s.embedCache.Get(query); ok {
		embedding = cached.([]float32)
	} else {
		var err error
		embedding, err = s.embedder.GenerateEmbedding(ctx, query)
		if err != nil {
			return nil, err
		}
		s.embedCache.Set(query, embedding)
	}

	return s.vectors.Search(ctx, embedding, s.topKVec)
}

func (s *Service) logSearch(ctx context.Context, query string, resp *Response, took time.Duration) {
	if s.logs == nil {
		return
	}
	entry := repository.SearchLogEntry{
		Query:       query,
		Mode:        resp.Mode,
		ResultCount: len(resp.Results),
		Reranked:    resp.Reranked,
		Degraded:    resp.Degraded,
		DurationMs:  took.Milliseconds(),
	}
	if resp.Mode == ModeSectionDirect {
		entry.SectionID = ExtractSectionRef(query)
	}
	for _, r := range resp.Results {
		entry.ChunkIDs = append(entry.ChunkIDs, r.Chunk.ID)
	}
	if _, err := s.logs.CreateSearchLog(ctx, entry); err != nil {
		log.Printf("search: failed to write search log: %v", err)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
