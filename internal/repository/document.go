package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ionology/docqa/internal/domain"
)

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return r.db.QueryRow(ctx,
		`INSERT INTO documents (title, mime, bytes, sha256, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		d.Title, d.Mime, d.Bytes, d.SHA256, d.CreatedAt,
	).Scan(&d.ID)
}

func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	var d domain.Document
	err := r.db.QueryRow(ctx,
		`SELECT id, title, mime, bytes, sha256, created_at
		 FROM documents WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.Title, &d.Mime, &d.Bytes, &d.SHA256, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return &d, nil
}

// GetBySHA256 finds an existing document with identical content, used for
// upload dedup.
func (r *DocumentRepository) GetBySHA256(ctx context.Context, sha string) (*domain.Document, error) {
	var d domain.Document
	err := r.db.QueryRow(ctx,
		`SELECT id, title, mime, bytes, sha256, created_at
		 FROM documents WHERE sha256 = $1`,
		sha,
	).Scan(&d.ID, &d.Title, &d.Mime, &d.Bytes, &d.SHA256, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListPage returns documents newest-first, starting strictly after the
// (created_at, id) cursor position when one is given.
func (r *DocumentRepository) ListPage(ctx context.Context, before *time.Time, beforeID int64, limit int) ([]*domain.Document, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if before != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, title, mime, bytes, sha256, created_at
			 FROM documents
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			*before, beforeID, limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, title, mime, bytes, sha256, created_at
			 FROM documents ORDER BY created_at DESC, id DESC LIMIT $1`,
			limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Mime, &d.Bytes, &d.SHA256, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

// ListAfterID pages through documents in id order, for resumable batch work.
func (r *DocumentRepository) ListAfterID(ctx context.Context, afterID int64, limit int) ([]*domain.Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, mime, bytes, sha256, created_at
		 FROM documents WHERE id > $1 ORDER BY id ASC LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Mime, &d.Bytes, &d.SHA256, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

// Delete removes a document; chunks and ingestion jobs go with it via
// ON DELETE CASCADE.
func (r *DocumentRepository) Delete(ctx context.Context, id int64) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}
