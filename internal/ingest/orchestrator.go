package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ionology/docqa/internal/chunking"
	"github.com/ionology/docqa/internal/domain"
	"github.com/ionology/docqa/internal/repository"
	"github.com/ionology/docqa/internal/telemetry"
)

// MaxRetries is the retry budget for a job before it fails terminally.
const MaxRetries = 3

// Embedding batch sizing. Dense documents go one chunk at a time so memory
// stays bounded between batches.
const (
	embedBatchSize  = 32
	denseChunkCount = 500
	denseCharCount  = 1_000_000
)

// JobStore is the persistence surface the pipeline needs for job state.
type JobStore interface {
	Transition(ctx context.Context, id int64, from, to domain.IngestionStatus, errMsg string) error
	Requeue(ctx context.Context, id int64, errMsg string) error
}

// DocumentStore loads document metadata.
type DocumentStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Document, error)
}

// BlobStore fetches raw document bytes by content hash.
type BlobStore interface {
	Get(ctx context.Context, sha256 string) ([]byte, error)
}

// Extractor turns raw bytes into text.
type Extractor interface {
	Extract(data []byte, mime string) (*domain.Extraction, error)
}

// Embedder embeds chunk texts in order.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// TxRunner commits chunk replacement and embedding writes atomically.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos repository.TxRepositories) error) error
}

// CacheInvalidator is notified after a successful indexing pass.
type CacheInvalidator interface {
	InvalidateCaches()
}

// Orchestrator runs one claimed job through the pipeline:
// extracting -> chunking -> embedding -> indexing -> done, with each
// transition committed before the next stage starts.
type Orchestrator struct {
	jobs      JobStore
	docs      DocumentStore
	blobs     BlobStore
	extractor Extractor
	embedder  Embedder
	tx        TxRunner
	clause    *chunking.ClauseChunker
	memory    *MemoryGuard
	caches    CacheInvalidator
}

func NewOrchestrator(
	jobs JobStore,
	docs DocumentStore,
	blobs BlobStore,
	extractor Extractor,
	embedder Embedder,
	tx TxRunner,
	clause *chunking.ClauseChunker,
	memory *MemoryGuard,
	caches CacheInvalidator,
) *Orchestrator {
	return &Orchestrator{
		jobs:      jobs,
		docs:      docs,
		blobs:     blobs,
		extractor: extractor,
		embedder:  embedder,
		tx:        tx,
		clause:    clause,
		memory:    memory,
		caches:    caches,
	}
}

// Process takes a job already claimed into extracting and drives it to a
// terminal or requeued state. The returned error is informational; job state
// is always persisted before returning.
func (o *Orchestrator) Process(ctx context.Context, job *domain.Ingestion) error {
	ctx, span := telemetry.StartSpan(ctx, "ingest.process", telemetry.SpanAttributes{
		DocID:  job.DocID,
		JobID:  job.ID,
		Method: job.Method,
	})
	defer span.End()

	extraction, err := o.extract(ctx, job)
	if err != nil {
		return o.handleFailure(ctx, job, domain.IngestionStatusExtracting, err)
	}

	if err := o.jobs.Transition(ctx, job.ID, domain.IngestionStatusExtracting, domain.IngestionStatusChunking, ""); err != nil {
		return err
	}

	chunks, err := o.chunk(extraction, job)
	if err != nil {
		return o.handleFailure(ctx, job, domain.IngestionStatusChunking, err)
	}

	if err := o.jobs.Transition(ctx, job.ID, domain.IngestionStatusChunking, domain.IngestionStatusEmbedding, ""); err != nil {
		return err
	}

	embeddings, err := o.embed(ctx, chunks)
	if err != nil {
		return o.handleFailure(ctx, job, domain.IngestionStatusEmbedding, err)
	}

	if err := o.jobs.Transition(ctx, job.ID, domain.IngestionStatusEmbedding, domain.IngestionStatusIndexing, ""); err != nil {
		return err
	}

	if err := o.index(ctx, job, chunks, embeddings); err != nil {
		return o.handleFailure(ctx, job, domain.IngestionStatusIndexing, err)
	}

	if err := o.jobs.Transition(ctx, job.ID, domain.IngestionStatusIndexing, domain.IngestionStatusDone, ""); err != nil {
		return err
	}

	if o.caches != nil {
		o.caches.InvalidateCaches()
	}

	log.Printf("ingest: job %d done, doc=%d method=%d chunks=%d", job.ID, job.DocID, job.Method, len(chunks))
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, job *domain.Ingestion) (*domain.Extraction, error) {
	doc, err := o.docs.GetByID(ctx, job.DocID)
	if err != nil {
		return nil, err
	}
	data, err := o.blobs.Get(ctx, doc.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to load document content: %w", err)
	}
	return o.extractor.Extract(data, doc.Mime)
}

func (o *Orchestrator) chunk(extraction *domain.Extraction, job *domain.Ingestion) ([]domain.Chunk, error) {
	if job.Method == domain.MethodClause {
		chunks := o.clause.ChunkDocument(extraction.Text, job.DocID, extraction.Pages)
		if len(chunks) == 0 {
			return nil, domain.ErrEmptyDocument
		}
		return chunks, nil
	}

	chunks, err := chunking.Dispatch(extraction.Text, job.Method, job.DocID, chunking.Options{})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, domain.ErrEmptyDocument
	}
	chunking.AssignPages(chunks, extraction.Pages)
	return chunks, nil
}

// embed generates embeddings in adaptive batches, checking the memory
// ceiling before each batch.
func (o *Orchestrator) embed(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	if o.embedder == nil {
		return nil, domain.ErrMissingAPIKey
	}

	texts := make([]string, len(chunks))
	totalChars := 0
	for i, c := range chunks {
		texts[i] = c.Text
		totalChars += len(c.Text)
	}

	batch := embedBatchFor(len(chunks), totalChars)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batch {
		if o.memory != nil {
			if err := o.memory.Check(); err != nil {
				return nil, err
			}
		}
		end := start + batch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := o.embedder.GenerateEmbeddings(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedBatchFor sizes embedding batches to the document's shape: dense
// documents (by chunk count or total characters) go chunk by chunk, large
// ones get a quarter batch, the rest a full batch.
func embedBatchFor(chunkCount, totalChars int) int {
	switch {
	case chunkCount >= denseChunkCount || totalChars >= denseCharCount:
		return 1
	case chunkCount >= denseChunkCount/2 || totalChars >= denseCharCount/2:
		return embedBatchSize / 4
	default:
		return embedBatchSize
	}
}

// index replaces the (document, method) chunk set and writes embeddings in a
// single transaction, making re-ingestion idempotent.
func (o *Orchestrator) index(ctx context.Context, job *domain.Ingestion, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count %d does not match chunk count %d", len(embeddings), len(chunks))
	}
	return o.tx.WithTx(ctx, func(repos repository.TxRepositories) error {
		if err := repos.Chunks.ReplaceChunks(ctx, job.DocID, job.Method, chunks); err != nil {
			return err
		}
		ids := make([]int64, len(chunks))
		for i := range chunks {
			ids[i] = chunks[i].ID
		}
		return repos.Vectors.UpsertEmbeddings(ctx, ids, embeddings)
	})
}

// handleFailure routes errors: content and validation problems fail the job
// terminally, everything else requeues until the retry budget is spent.
func (o *Orchestrator) handleFailure(ctx context.Context, job *domain.Ingestion, from domain.IngestionStatus, jobErr error) error {
	log.Printf("ingest: job %d failed in %s: %v", job.ID, from, jobErr)
	telemetry.CaptureError(ctx, jobErr)

	if isTerminalFailure(jobErr) {
		if err := o.jobs.Transition(ctx, job.ID, from, domain.IngestionStatusFailed, jobErr.Error()); err != nil {
			return err
		}
		return jobErr
	}

	if job.Retries+1 >= MaxRetries {
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := o.jobs.Transition(ctx, job.ID, from, domain.IngestionStatusFailed, errMsg); err != nil {
			return err
		}
		return jobErr
	}

	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := o.jobs.Requeue(ctx, job.ID, errMsg); err != nil {
		return err
	}
	return jobErr
}

func isTerminalFailure(err error) bool {
	var derr *domain.DomainError
	if !errors.As(err, &derr) {
		return false
	}
	switch derr.Code {
	case domain.ErrCodeContent, domain.ErrCodeValidation, domain.ErrCodeNotFound,
		domain.ErrCodeMissingCredentials, domain.ErrCodeInvalidCredentials:
		return true
	}
	return false
}
