package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ionology/docqa/internal/domain"
)

const ingestionColumns = `id, doc_id, method, status, error, retries, started_at, finished_at, created_at`

const defaultRetryCooldown = 60 * time.Second

type IngestionRepository struct {
	db            dbtx
	retryCooldown time.Duration
}

func NewIngestionRepository(pool *pgxpool.Pool) *IngestionRepository {
	return &IngestionRepository{db: pool, retryCooldown: defaultRetryCooldown}
}

func NewIngestionRepositoryWithTx(tx pgx.Tx) *IngestionRepository {
	return &IngestionRepository{db: tx, retryCooldown: defaultRetryCooldown}
}

// WithRetryCooldown overrides how long a requeued job waits before it is
// claimable again.
func (r *IngestionRepository) WithRetryCooldown(d time.Duration) *IngestionRepository {
	r.retryCooldown = d
	return r
}

// Create inserts a new job. An active job for the same (document, method)
// pair blocks creation.
func (r *IngestionRepository) Create(ctx context.Context, job *domain.Ingestion) error {
	active, err := r.ActiveExists(ctx, job.DocID, job.Method)
	if err != nil {
		return err
	}
	if active {
		return domain.ErrIngestionInProgress
	}

	if job.Status == "" {
		job.Status = domain.IngestionStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return r.db.QueryRow(ctx,
		`INSERT INTO ingestions (doc_id, method, status, error, retries, started_at, finished_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		job.DocID, job.Method, job.Status, nullableString(job.Error),
		job.Retries, job.StartedAt, job.FinishedAt, job.CreatedAt,
	).Scan(&job.ID)
}

func (r *IngestionRepository) GetByID(ctx context.Context, id int64) (*domain.Ingestion, error) {
	var job domain.Ingestion
	if err := scanIngestion(r.db.QueryRow(ctx,
		`SELECT `+ingestionColumns+` FROM ingestions WHERE id = $1`, id,
	), &job); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIngestionNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *IngestionRepository) ListByDoc(ctx context.Context, docID int64) ([]*domain.Ingestion, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ingestionColumns+`
		 FROM ingestions WHERE doc_id = $1 ORDER BY created_at DESC`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Ingestion
	for rows.Next() {
		var job domain.Ingestion
		if err := scanIngestion(rows, &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// ActiveExists reports whether a non-terminal job exists for the pair.
func (r *IngestionRepository) ActiveExists(ctx context.Context, docID int64, method int) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM ingestions
			WHERE doc_id = $1 AND method = $2
			  AND status NOT IN ($3, $4, $5)
		 )`,
		docID, method,
		domain.IngestionStatusDone, domain.IngestionStatusFailed, domain.IngestionStatusBlockedScannedPDF,
	).Scan(&exists)
	return exists, err
}

// ClaimNext atomically moves the oldest queued job to extracting and returns
// it. Returns nil when the queue is empty. SKIP LOCKED makes concurrent
// schedulers safe.
func (r *IngestionRepository) ClaimNext(ctx context.Context) (*domain.Ingestion, error) {
	var job domain.Ingestion
	err := scanIngestion(r.db.QueryRow(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM ingestions
			 WHERE status = $1
			   AND (not_before IS NULL OR not_before <= NOW())
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT 1
		 )
		 UPDATE ingestions
		 SET status = $2,
		     error = NULL,
		     started_at = NOW()
		 FROM cte
		 WHERE ingestions.id = cte.id
		 RETURNING `+qualifiedIngestionColumns(),
		domain.IngestionStatusQueued, domain.IngestionStatusExtracting,
	), &job)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Transition moves a job from one status to the next, guarded so a stale
// writer cannot clobber a concurrent transition. Terminal statuses get a
// finished_at stamp.
func (r *IngestionRepository) Transition(ctx context.Context, id int64, from, to domain.IngestionStatus, errMsg string) error {
	if !from.CanTransition(to) {
		return domain.ErrInvalidIngestionStatus
	}

	var finishedAt *time.Time
	if to.IsTerminal() {
		now := time.Now().UTC()
		finishedAt = &now
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE ingestions
		 SET status = $1, error = $2, finished_at = $3
		 WHERE id = $4 AND status = $5`,
		to, nullableString(errMsg), finishedAt, id, from,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrIngestionNotFound
	}
	return nil
}

// Requeue puts a failed-in-flight job back in the queue with the retry
// counter bumped, the last error recorded, and a cool-down before the next
// attempt.
func (r *IngestionRepository) Requeue(ctx context.Context, id int64, errMsg string) error {
	notBefore := time.Now().UTC().Add(r.retryCooldown)
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE ingestions
		 SET status = $1, retries = retries + 1, error = $2, started_at = NULL, not_before = $3
		 WHERE id = $4`,
		domain.IngestionStatusQueued, nullableString(errMsg), notBefore, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrIngestionNotFound
	}
	return nil
}

// DemoteStuck requeues jobs that have sat in an in-flight status longer than
// olderThan, and returns how many were demoted.
func (r *IngestionRepository) DemoteStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE ingestions
		 SET status = $1, retries = retries + 1, error = 'demoted: job stuck', started_at = NULL
		 WHERE status IN ($2, $3, $4, $5) AND started_at < $6`,
		domain.IngestionStatusQueued,
		domain.IngestionStatusExtracting, domain.IngestionStatusChunking,
		domain.IngestionStatusEmbedding, domain.IngestionStatusIndexing,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

// CountQueued reports how many jobs are waiting in the queue.
func (r *IngestionRepository) CountQueued(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM ingestions WHERE status = $1`,
		domain.IngestionStatusQueued,
	).Scan(&count)
	return count, err
}

func qualifiedIngestionColumns() string {
	return `ingestions.id, ingestions.doc_id, ingestions.method, ingestions.status,
	        ingestions.error, ingestions.retries, ingestions.started_at,
	        ingestions.finished_at, ingestions.created_at`
}

func scanIngestion(row pgx.Row, job *domain.Ingestion) error {
	var errMsg pgtype.Text
	err := row.Scan(
		&job.ID, &job.DocID, &job.Method, &job.Status, &errMsg,
		&job.Retries, &job.StartedAt, &job.FinishedAt, &job.CreatedAt,
	)
	if err != nil {
		return err
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return nil
}
