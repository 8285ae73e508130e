package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ionology/docqa/internal/domain"
	"github.com/ionology/docqa/internal/pagination"
	"github.com/ionology/docqa/internal/service"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Upload(ctx context.Context, input service.UploadInput) (*domain.Document, bool, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.Document), args.Bool(1), args.Error(2)
}

func (m *MockDocumentService) Get(ctx context.Context, id int64) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) List(ctx context.Context, cursor string, limit int) (*pagination.PageResult[*domain.Document], error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagination.PageResult[*domain.Document]), args.Error(1)
}

func (m *MockDocumentService) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentService) Enqueue(ctx context.Context, docID int64, method int) (*domain.Ingestion, error) {
	args := m.Called(ctx, docID, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Ingestion), args.Error(1)
}

func (m *MockDocumentService) Job(ctx context.Context, id int64) (*domain.Ingestion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Ingestion), args.Error(1)
}

func (m *MockDocumentService) Jobs(ctx context.Context, docID int64) ([]*domain.Ingestion, error) {
	args := m.Called(ctx, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Ingestion), args.Error(1)
}

func requestWithID(method, target, param, value string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(param, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestDocumentHandler_Upload_Created(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	doc := &domain.Document{ID: 1, Title: "notes.txt", Mime: domain.MimeText, Bytes: 4, SHA256: "abc"}
	mockSvc.On("Upload", mock.Anything, mock.MatchedBy(func(input service.UploadInput) bool {
		return input.Filename == "notes.txt" && string(input.Data) == "body"
	})).Return(doc, true, nil)

	buf, contentType := multipartBody(t, "notes.txt", []byte("body"))
	req := httptest.NewRequest(http.MethodPost, "/documents", buf)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "notes.txt", data["title"])
	mockSvc.AssertExpectations(t)
}

func TestDocumentHandler_Upload_Deduped(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	doc := &domain.Document{ID: 1, Title: "old.txt", Mime: domain.MimeText}
	mockSvc.On("Upload", mock.Anything, mock.Anything).Return(doc, false, nil)

	buf, contentType := multipartBody(t, "new.txt", []byte("same"))
	req := httptest.NewRequest(http.MethodPost, "/documents", buf)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDocumentHandler_Upload_MissingFile(t *testing.T) {
	handler := NewDocumentHandler(new(MockDocumentService))

	req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader([]byte("not multipart")))
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_List_PassesCursorAndLimit(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	page := &pagination.PageResult[*domain.Document]{
		Items:   []*domain.Document{{ID: 2, Title: "b.txt", Mime: domain.MimeText}},
		Cursor:  "next-cursor",
		HasMore: true,
	}
	mockSvc.On("List", mock.Anything, "abc", 5).Return(page, nil)

	req := httptest.NewRequest(http.MethodGet, "/documents?cursor=abc&limit=5", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "next-cursor", data["cursor"])
	assert.Equal(t, true, data["has_more"])
	items := data["items"].([]interface{})
	require.Len(t, items, 1)
	mockSvc.AssertExpectations(t)
}

func TestDocumentHandler_List_InvalidCursor(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	mockSvc.On("List", mock.Anything, "garbage", 0).
		Return(nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid cursor"))

	req := httptest.NewRequest(http.MethodGet, "/documents?cursor=garbage", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_Get_NotFound(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	mockSvc.On("Get", mock.Anything, int64(7)).Return(nil, domain.ErrDocumentNotFound)

	req := requestWithID(http.MethodGet, "/documents/7", "id", "7", nil)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentHandler_Get_InvalidID(t *testing.T) {
	handler := NewDocumentHandler(new(MockDocumentService))

	req := requestWithID(http.MethodGet, "/documents/abc", "id", "abc", nil)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_Ingest_Accepted(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	job := &domain.Ingestion{ID: 3, DocID: 1, Method: 9, Status: domain.IngestionStatusQueued}
	mockSvc.On("Enqueue", mock.Anything, int64(1), 9).Return(job, nil)

	req := requestWithID(http.MethodPost, "/documents/1/ingest", "id", "1", []byte(`{"method":9}`))
	w := httptest.NewRecorder()

	handler.Ingest(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "queued", data["status"])
	mockSvc.AssertExpectations(t)
}

func TestDocumentHandler_Ingest_ScannedPDFBlocked(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	job := &domain.Ingestion{
		ID: 4, DocID: 2, Method: 1,
		Status: domain.IngestionStatusBlockedScannedPDF,
		Error:  domain.ErrScannedPDF.Error(),
	}
	mockSvc.On("Enqueue", mock.Anything, int64(2), 1).Return(job, nil)

	req := requestWithID(http.MethodPost, "/documents/2/ingest", "id", "2", []byte(`{"method":1}`))
	w := httptest.NewRecorder()

	handler.Ingest(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "blocked_scanned_pdf", data["status"])
}

func TestDocumentHandler_Ingest_Conflict(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	mockSvc.On("Enqueue", mock.Anything, int64(1), 1).Return(nil, domain.ErrIngestionInProgress)

	req := requestWithID(http.MethodPost, "/documents/1/ingest", "id", "1", []byte(`{"method":1}`))
	w := httptest.NewRecorder()

	handler.Ingest(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDocumentHandler_GetIngestion(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	job := &domain.Ingestion{ID: 5, DocID: 1, Method: 9, Status: domain.IngestionStatusEmbedding, Retries: 1}
	mockSvc.On("Job", mock.Anything, int64(5)).Return(job, nil)

	req := requestWithID(http.MethodGet, "/ingestions/5", "id", "5", nil)
	w := httptest.NewRecorder()

	handler.GetIngestion(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "embedding", data["status"])
	assert.Equal(t, float64(1), data["retries"])
}

func TestDocumentHandler_Delete(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	mockSvc.On("Delete", mock.Anything, int64(1)).Return(nil)

	req := requestWithID(http.MethodDelete, "/documents/1", "id", "1", nil)
	w := httptest.NewRecorder()

	handler.Delete(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockSvc.AssertExpectations(t)
}
