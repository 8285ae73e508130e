package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ionology/docqa/internal/domain"
)

const chunkColumns = `id, doc_id, method, text, text_norm, hash, tokens, page_from, page_to,
	section_id, section_id_alias, title, parent_titles, level, list_items, has_supporting_docs, created_at`

// ChunkRepository handles persistence of chunk records and lexical search.
// Embeddings live on the same rows but are managed by the vector repository.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// ReplaceChunks deletes existing chunks for a (document, method) pair and
// inserts the new set, assigning ids in order. Running inside a transaction
// makes re-ingestion idempotent.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, docID int64, method int, chunks []domain.Chunk) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM chunks WHERE doc_id = $1 AND method = $2`, docID, method)
	if err != nil {
		return err
	}

	for i := range chunks {
		c := &chunks[i]
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		err := r.db.QueryRow(ctx,
			`INSERT INTO chunks
				(doc_id, method, text, text_norm, hash, tokens, page_from, page_to,
				 section_id, section_id_alias, title, parent_titles, level, list_items, has_supporting_docs, created_at)
			 VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			 RETURNING id`,
			c.DocID,
			c.Method,
			c.Text,
			c.TextNorm,
			c.Hash,
			c.Tokens,
			c.PageFrom,
			c.PageTo,
			nullableString(c.SectionID),
			nullableString(c.SectionIDAlias),
			nullableString(c.Title),
			c.ParentTitles,
			c.Level,
			c.ListItems,
			c.HasSupportingDocs,
			createdAt,
		).Scan(&c.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *ChunkRepository) GetByIDs(ctx context.Context, ids []int64) ([]*domain.Chunk, error) {
	if len(ids) == 0 {
		return []*domain.Chunk{}, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// GetBySection returns clause chunks whose section id (or its underscore
// alias) matches exactly, newest ingestion first.
func (r *ChunkRepository) GetBySection(ctx context.Context, sectionID string) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`
		 FROM chunks
		 WHERE section_id = $1 OR section_id_alias = $1
		 ORDER BY created_at DESC, id ASC`,
		sectionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (r *ChunkRepository) CountByDoc(ctx context.Context, docID int64, method int) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE doc_id = $1 AND method = $2`,
		docID, method,
	).Scan(&count)
	return count, err
}

// LexicalResult is one full-text match with its raw ts_rank score.
type LexicalResult struct {
	Chunk domain.Chunk
	Score float64
}

// LexicalSearch runs Postgres full-text search over chunk text and returns
// matches ranked by ts_rank.
func (r *ChunkRepository) LexicalSearch(ctx context.Context, query string, limit int) ([]LexicalResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`,
		        ts_rank(tsv, plainto_tsquery('english', $1)) AS score
		 FROM chunks
		 WHERE tsv @@ plainto_tsquery('english', $1)
		 ORDER BY score DESC
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LexicalResult
	for rows.Next() {
		var res LexicalResult
		if err := scanChunkWithScore(rows, &res.Chunk, &res.Score); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func scanChunkRows(rows pgx.Rows) ([]*domain.Chunk, error) {
	var chunks []*domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := scanChunk(rows, &c); err != nil {
			return nil, err
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func scanChunk(row pgx.Row, c *domain.Chunk) error {
	var sectionID, sectionAlias, title *string
	err := row.Scan(
		&c.ID, &c.DocID, &c.Method, &c.Text, &c.TextNorm, &c.Hash, &c.Tokens,
		&c.PageFrom, &c.PageTo,
		&sectionID, &sectionAlias, &title, &c.ParentTitles, &c.Level,
		&c.ListItems, &c.HasSupportingDocs, &c.CreatedAt,
	)
	if err != nil {
		return err
	}
	if sectionID != nil {
		c.SectionID = *sectionID
	}
	if sectionAlias != nil {
		c.SectionIDAlias = *sectionAlias
	}
	if title != nil {
		c.Title = *title
	}
	return nil
}

func scanChunkWithScore(row pgx.Row, c *domain.Chunk, score *float64) error {
	var sectionID, sectionAlias, title *string
	err := row.Scan(
		&c.ID, &c.DocID, &c.Method, &c.Text, &c.TextNorm, &c.Hash, &c.Tokens,
		&c.PageFrom, &c.PageTo,
		&sectionID, &sectionAlias, &title, &c.ParentTitles, &c.Level,
		&c.ListItems, &c.HasSupportingDocs, &c.CreatedAt,
		score,
	)
	if err != nil {
		return err
	}
	if sectionID != nil {
		c.SectionID = *sectionID
	}
	if sectionAlias != nil {
		c.SectionIDAlias = *sectionAlias
	}
	if title != nil {
		c.Title = *title
	}
	return nil
}
