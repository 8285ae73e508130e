package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ionology/docqa/internal/domain"
	"github.com/ionology/docqa/internal/extract"
	"github.com/ionology/docqa/internal/pagination"
	"github.com/ionology/docqa/internal/storage"
)

// DocumentRepo is the slice of the document repository the service needs.
type DocumentRepo interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id int64) (*domain.Document, error)
	GetBySHA256(ctx context.Context, sha string) (*domain.Document, error)
	ListPage(ctx context.Context, before *time.Time, beforeID int64, limit int) ([]*domain.Document, error)
	Delete(ctx context.Context, id int64) error
}

// IngestionRepo creates and reads ingestion jobs.
type IngestionRepo interface {
	Create(ctx context.Context, job *domain.Ingestion) error
	GetByID(ctx context.Context, id int64) (*domain.Ingestion, error)
	ListByDoc(ctx context.Context, docID int64) ([]*domain.Ingestion, error)
}

// DocumentService handles uploads and job creation: content-addressed dedup,
// blob persistence, and the scanned-PDF pre-queue check.
type DocumentService struct {
	docs  DocumentRepo
	jobs  IngestionRepo
	blobs storage.BlobStore
}

func NewDocumentService(docs DocumentRepo, jobs IngestionRepo, blobs storage.BlobStore) *DocumentService {
	return &DocumentService{docs: docs, jobs: jobs, blobs: blobs}
}

// UploadInput carries one uploaded file.
type UploadInput struct {
	Filename string
	Mime     string
	Data     []byte
}

// Upload stores a document. Identical bytes dedup to the existing document;
// the bool reports whether a new record was created.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*domain.Document, bool, error) {
	if len(input.Data) == 0 {
		return nil, false, domain.NewDomainError(domain.ErrCodeValidation, "uploaded file is empty")
	}

	mime := input.Mime
	if mime == "" || mime == "application/octet-stream" {
		mime = mimeFromFilename(input.Filename)
	}
	if !domain.IsSupportedMime(mime) {
		return nil, false, domain.ErrUnsupportedMime
	}

	sum := sha256.Sum256(input.Data)
	sha := hex.EncodeToString(sum[:])

	if existing, err := s.docs.GetBySHA256(ctx, sha); err == nil {
		return existing, false, nil
	} else if err != domain.ErrDocumentNotFound {
		return nil, false, err
	}

	if err := s.blobs.Put(ctx, sha, input.Data, mime); err != nil {
		return nil, false, fmt.Errorf("failed to store document blob: %w", err)
	}

	doc := &domain.Document{
		Title:  input.Filename,
		Mime:   mime,
		Bytes:  int64(len(input.Data)),
		SHA256: sha,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (s *DocumentService) Get(ctx context.Context, id int64) (*domain.Document, error) {
	return s.docs.GetByID(ctx, id)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// List returns one page of documents, newest first, with an opaque cursor
// for the next page.
func (s *DocumentService) List(ctx context.Context, cursor string, limit int) (*pagination.PageResult[*domain.Document], error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid cursor")
	}

	var before *time.Time
	var beforeID int64
	if decoded != nil {
		id, err := strconv.ParseInt(decoded.LastID, 10, 64)
		if err != nil {
			return nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid cursor")
		}
		before = &decoded.Timestamp
		beforeID = id
	}

	docs, err := s.docs.ListPage(ctx, before, beforeID, limit)
	if err != nil {
		return nil, err
	}

	next := pagination.CreateNextCursor(docs, limit,
		func(d *domain.Document) string { return strconv.FormatInt(d.ID, 10) },
		func(d *domain.Document) time.Time { return d.CreatedAt },
	)
	return &pagination.PageResult[*domain.Document]{
		Items:   docs,
		Cursor:  next,
		HasMore: next != "",
	}, nil
}

// Delete removes the document row (chunks and jobs cascade) and its blob.
// Blob removal is best-effort since the row is the source of truth.
func (s *DocumentService) Delete(ctx context.Context, id int64) error {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, doc.SHA256); err != nil {
		log.Printf("service: failed to delete blob %s: %v", doc.SHA256, err)
	}
	return nil
}

// Enqueue creates an ingestion job for a document and method. Image-only PDFs
// never enter the queue: the job is created directly in blocked_scanned_pdf.
func (s *DocumentService) Enqueue(ctx context.Context, docID int64, method int) (*domain.Ingestion, error) {
	if method < domain.MethodFixedSize || method > domain.MethodClause {
		return nil, domain.ErrInvalidChunkMethod
	}

	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}

	job := &domain.Ingestion{DocID: doc.ID, Method: method}
	if doc.Mime == domain.MimePDF {
		blocked, err := s.scannedCheck(ctx, doc)
		if err != nil {
			return nil, err
		}
		if blocked {
			job.Status = domain.IngestionStatusBlockedScannedPDF
			job.Error = domain.ErrScannedPDF.Error()
		}
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Job returns one ingestion job by id.
func (s *DocumentService) Job(ctx context.Context, id int64) (*domain.Ingestion, error) {
	return s.jobs.GetByID(ctx, id)
}

// Jobs lists a document's ingestion jobs, newest first.
func (s *DocumentService) Jobs(ctx context.Context, docID int64) ([]*domain.Ingestion, error) {
	if _, err := s.docs.GetByID(ctx, docID); err != nil {
		return nil, err
	}
	return s.jobs.ListByDoc(ctx, docID)
}

// scannedCheck extracts page text and reports whether the PDF looks
// image-only. Extraction failures do not block the queue; the pipeline
// reports them with full context during the extracting stage.
func (s *DocumentService) scannedCheck(ctx context.Context, doc *domain.Document) (bool, error) {
	data, err := s.blobs.Get(ctx, doc.SHA256)
	if err != nil {
		return false, fmt.Errorf("failed to read document blob: %w", err)
	}

	extraction, err := extract.New().Extract(data, doc.Mime)
	if err != nil {
		if err == domain.ErrScannedPDF {
			return true, nil
		}
		return false, nil
	}
	return extract.IsScanned(extraction.Pages), nil
}

func mimeFromFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return domain.MimePDF
	case ".docx":
		return domain.MimeDocx
	case ".md", ".markdown":
		return domain.MimeMarkdown
	case ".txt":
		return domain.MimeText
	}
	return ""
}
