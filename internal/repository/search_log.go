package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SearchLogEntry captures one search for evaluation/feedback loops.
type SearchLogEntry struct {
	Query       string
	Mode        string
	SectionID   string
	ChunkIDs    []int64
	ResultCount int
	Reranked    bool
	Degraded    bool
	DurationMs  int64
	CreatedAt   time.Time
}

// SearchLogRepository stores search logs for evaluation/feedback loops.
type SearchLogRepository struct {
	pool *pgxpool.Pool
}

func NewSearchLogRepository(pool *pgxpool.Pool) *SearchLogRepository {
	return &SearchLogRepository{pool: pool}
}

func (r *SearchLogRepository) CreateSearchLog(ctx context.Context, entry SearchLogEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	resultsJSON, _ := json.Marshal(entry.ChunkIDs)

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO search_logs (query, mode, section_id, results, result_count, reranked, degraded, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		entry.Query,
		entry.Mode,
		nullableString(entry.SectionID),
		resultsJSON,
		entry.ResultCount,
		entry.Reranked,
		entry.Degraded,
		entry.DurationMs,
		entry.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}
