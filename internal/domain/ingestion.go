package domain

import "time"

// IngestionStatus is the state of an ingestion job.
type IngestionStatus string

const (
	IngestionStatusQueued     IngestionStatus = "queued"
	IngestionStatusExtracting IngestionStatus = "extracting"
	IngestionStatusChunking   IngestionStatus = "chunking"
	IngestionStatusEmbedding  IngestionStatus = "embedding"
	IngestionStatusIndexing   IngestionStatus = "indexing"
	IngestionStatusDone       IngestionStatus = "done"
	IngestionStatusFailed     IngestionStatus = "failed"

	// IngestionStatusBlockedScannedPDF is assigned at upload time, before the
	// job ever enters the queue, when the PDF looks image-only.
	IngestionStatusBlockedScannedPDF IngestionStatus = "blocked_scanned_pdf"
)

// IsTerminal reports whether a job in this status will never transition again.
func (s IngestionStatus) IsTerminal() bool {
	switch s {
	case IngestionStatusDone, IngestionStatusFailed, IngestionStatusBlockedScannedPDF:
		return true
	}
	return false
}

// CanTransition reports whether the pipeline may move a job from s to next.
// The forward chain is queued→extracting→chunking→embedding→indexing→done;
// failed is reachable from any non-terminal state.
func (s IngestionStatus) CanTransition(next IngestionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == IngestionStatusFailed {
		return true
	}
	switch s {
	case IngestionStatusQueued:
		return next == IngestionStatusExtracting
	case IngestionStatusExtracting:
		return next == IngestionStatusChunking
	case IngestionStatusChunking:
		return next == IngestionStatusEmbedding
	case IngestionStatusEmbedding:
		return next == IngestionStatusIndexing
	case IngestionStatusIndexing:
		return next == IngestionStatusDone
	}
	return false
}

// Ingestion is one attempt to take a document from raw bytes to fully
// indexed chunks.
type Ingestion struct {
	ID         int64
	DocID      int64
	Method     int
	Status     IngestionStatus
	Error      string
	Retries    int
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}
