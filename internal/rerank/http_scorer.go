package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPScorer calls an external cross-encoder scoring service. The service
// takes {"query": ..., "passages": [...]} and returns {"scores": [...]} with
// one score per passage.
type HTTPScorer struct {
	url    string
	client *http.Client
}

func NewHTTPScorer(url string) *HTTPScorer {
	return &HTTPScorer{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type scoreRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

func (s *HTTPScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	body, err := json.Marshal(scoreRequest{Query: query, Passages: passages})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank service returned status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Scores) != len(passages) {
		return nil, fmt.Errorf("rerank service returned %d scores for %d passages", len(out.Scores), len(passages))
	}
	return out.Scores, nil
}
