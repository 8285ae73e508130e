package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ionology/docqa/internal/api"
	"github.com/ionology/docqa/internal/domain"
	"github.com/ionology/docqa/internal/pagination"
	"github.com/ionology/docqa/internal/service"
)

type DocumentService interface {
	Upload(ctx context.Context, input service.UploadInput) (*domain.Document, bool, error)
	Get(ctx context.Context, id int64) (*domain.Document, error)
	List(ctx context.Context, cursor string, limit int) (*pagination.PageResult[*domain.Document], error)
	Delete(ctx context.Context, id int64) error
	Enqueue(ctx context.Context, docID int64, method int) (*domain.Ingestion, error)
	Job(ctx context.Context, id int64) (*domain.Ingestion, error)
	Jobs(ctx context.Context, docID int64) ([]*domain.Ingestion, error)
}

type DocumentHandler struct {
	svc DocumentService
}

func NewDocumentHandler(svc DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type DocumentResponse struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Mime      string `json:"mime"`
	Bytes     int64  `json:"bytes"`
	SHA256    string `json:"sha256"`
	CreatedAt string `json:"created_at"`
}

type DocumentListResponse struct {
	Items   []*DocumentResponse `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"has_more"`
}

type IngestRequest struct {
	Method int `json:"method"`
}

type IngestionResponse struct {
	ID         int64  `json:"id"`
	DocID      int64  `json:"doc_id"`
	Method     int    `json:"method"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Retries    int    `json:"retries"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:        d.ID,
		Title:     d.Title,
		Mime:      d.Mime,
		Bytes:     d.Bytes,
		SHA256:    d.SHA256,
		CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func ingestionToResponse(job *domain.Ingestion) *IngestionResponse {
	resp := &IngestionResponse{
		ID:        job.ID,
		DocID:     job.DocID,
		Method:    job.Method,
		Status:    string(job.Status),
		Error:     job.Error,
		Retries:   job.Retries,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// Upload accepts a multipart form with a single "file" field. Identical
// content dedups to the existing document and returns 200 instead of 201.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	doc, created, err := h.svc.Upload(r.Context(), service.UploadInput{
		Filename: header.Filename,
		Mime:     header.Header.Get("Content-Type"),
		Data:     data,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	api.Success(w, status, documentToResponse(doc))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := h.svc.List(r.Context(), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*DocumentResponse, len(page.Items))
	for i, d := range page.Items {
		items[i] = documentToResponse(d)
	}
	api.Success(w, http.StatusOK, DocumentListResponse{
		Items:   items,
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	doc, err := h.svc.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, documentToResponse(doc))
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusNoContent, nil)
}

// Ingest queues an ingestion job for the document. Scanned PDFs come back
// already terminal in blocked_scanned_pdf.
func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.svc.Enqueue(r.Context(), id, req.Method)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusAccepted, ingestionToResponse(job))
}

func (h *DocumentHandler) ListIngestions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	jobs, err := h.svc.Jobs(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*IngestionResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = ingestionToResponse(job)
	}
	api.Success(w, http.StatusOK, responses)
}

// GetIngestion reports the status of one ingestion job.
func (h *DocumentHandler) GetIngestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.svc.Job(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, ingestionToResponse(job))
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		api.Error(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
