package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ionology/docqa/internal/api"
)

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Capabilities reports which optional components are configured.
type Capabilities struct {
	Embeddings  bool
	AnswerModel bool
	Reranker    bool
	S3Storage   bool
}

type HealthHandler struct {
	db   Pinger
	caps Capabilities
}

func NewHealthHandler(db Pinger, caps Capabilities) *HealthHandler {
	return &HealthHandler{db: db, caps: caps}
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Health reports overall status and per-component availability. Only the
// database is load-bearing; missing optional components degrade features
// without failing the check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]string{
		"database":     "ok",
		"embeddings":   configured(h.caps.Embeddings),
		"answer_model": configured(h.caps.AnswerModel),
		"reranker":     configured(h.caps.Reranker),
		"storage":      storageKind(h.caps.S3Storage),
	}

	status := http.StatusOK
	overall := "ok"
	if h.db == nil || h.db.Ping(ctx) != nil {
		components["database"] = "down"
		overall = "degraded"
		status = http.StatusServiceUnavailable
	}

	api.Success(w, status, HealthResponse{Status: overall, Components: components})
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not_configured"
}

func storageKind(s3 bool) string {
	if s3 {
		return "s3"
	}
	return "local"
}
