package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ionology/docqa/internal/api"
	"github.com/ionology/docqa/internal/chat"
)

type ChatService interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
}

type ChatHandler struct {
	svc ChatService
}

func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type ChatCitationResponse struct {
	Index     int     `json:"index"`
	DocID     int64   `json:"doc_id"`
	ChunkID   int64   `json:"chunk_id"`
	SectionID string  `json:"section_id,omitempty"`
	Title     string  `json:"title,omitempty"`
	PageFrom  *int    `json:"page_from,omitempty"`
	PageTo    *int    `json:"page_to,omitempty"`
	Text      string  `json:"text"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

type ChatResponse struct {
	SessionID  string                  `json:"session_id"`
	Answer     string                  `json:"answer"`
	SearchType string                  `json:"search_type"`
	Degraded   bool                    `json:"degraded"`
	LatencyMs  int64                   `json:"latency_ms"`
	Citations  []*ChatCitationResponse `json:"citations"`
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := h.svc.Chat(r.Context(), chat.Request{
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	citations := make([]*ChatCitationResponse, len(resp.Sources))
	for i, src := range resp.Sources {
		citations[i] = &ChatCitationResponse{
			Index:     src.Index,
			DocID:     src.DocID,
			ChunkID:   src.ChunkID,
			SectionID: src.SectionID,
			Title:     src.Title,
			PageFrom:  src.PageFrom,
			PageTo:    src.PageTo,
			Text:      src.Text,
			Snippet:   src.Snippet,
			Score:     src.Score,
		}
	}

	api.Success(w, http.StatusOK, ChatResponse{
		SessionID:  resp.SessionID,
		Answer:     resp.Answer,
		SearchType: resp.Mode,
		Degraded:   resp.Degraded,
		LatencyMs:  resp.LatencyMs,
		Citations:  citations,
	})
}
