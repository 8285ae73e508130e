package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ionology/docqa/internal/api"
	"github.com/ionology/docqa/internal/search"
)

type SearchService interface {
	Search(ctx context.Context, query string, limit int) (*search.Response, error)
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type SearchResultResponse struct {
	ChunkID    int64   `json:"chunk_id"`
	DocID      int64   `json:"doc_id"`
	Method     int     `json:"method"`
	SectionID  string  `json:"section_id,omitempty"`
	Title      string  `json:"title,omitempty"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
	SearchType string  `json:"search_type"`
	PageFrom   *int    `json:"page_from,omitempty"`
	PageTo     *int    `json:"page_to,omitempty"`
}

type FusionWeights struct {
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
}

type SearchResponse struct {
	SearchType    string                  `json:"search_type"`
	Degraded      bool                    `json:"degraded"`
	Reranked      bool                    `json:"reranked"`
	FusionWeights FusionWeights           `json:"fusion_weights"`
	LatencyMs     int64                   `json:"latency_ms"`
	Results       []*SearchResultResponse `json:"results"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := h.svc.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	results := make([]*SearchResultResponse, len(resp.Results))
	for i, res := range resp.Results {
		results[i] = &SearchResultResponse{
			ChunkID:    res.Chunk.ID,
			DocID:      res.Chunk.DocID,
			Method:     res.Chunk.Method,
			SectionID:  res.Chunk.SectionID,
			Title:      res.Chunk.Title,
			Snippet:    res.Snippet,
			Score:      res.Score,
			SearchType: resp.Mode,
			PageFrom:   res.Chunk.PageFrom,
			PageTo:     res.Chunk.PageTo,
		}
	}

	api.Success(w, http.StatusOK, SearchResponse{
		SearchType:    resp.Mode,
		Degraded:      resp.Degraded,
		Reranked:      resp.Reranked,
		FusionWeights: FusionWeights{Semantic: resp.SemWeight, Lexical: resp.LexWeight},
		LatencyMs:     resp.LatencyMs,
		Results:       results,
	})
}
