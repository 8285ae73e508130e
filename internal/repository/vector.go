package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ionology/docqa/internal/domain"
)

// VectorRepository manages chunk embeddings and nearest-neighbor search over
// the pgvector column on the chunks table.
type VectorRepository struct {
	db dbtx
}

func NewVectorRepository(pool *pgxpool.Pool) *VectorRepository {
	return &VectorRepository{db: pool}
}

func NewVectorRepositoryWithTx(tx pgx.Tx) *VectorRepository {
	return &VectorRepository{db: tx}
}

// UpsertEmbeddings writes embeddings onto existing chunk rows. Lengths of
// chunkIDs and embeddings must match.
func (r *VectorRepository) UpsertEmbeddings(ctx context.Context, chunkIDs []int64, embeddings [][]float32) error {
	for i, id := range chunkIDs {
		_, err := r.db.Exec(ctx,
			`UPDATE chunks SET embedding = $1 WHERE id = $2`,
			pgvector.NewVector(embeddings[i]), id,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteByDocMethod clears embeddings for a (document, method) pair. Chunk
// rows themselves are replaced separately.
func (r *VectorRepository) DeleteByDocMethod(ctx context.Context, docID int64, method int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE chunks SET embedding = NULL WHERE doc_id = $1 AND method = $2`,
		docID, method,
	)
	return err
}

// SemanticResult is one nearest-neighbor match with its similarity score.
type SemanticResult struct {
	Chunk domain.Chunk
	Score float64
}

// Search returns the chunks nearest to the query embedding by cosine
// distance, scored as 1/(1+distance) so scores fall in (0, 1].
func (r *VectorRepository) Search(ctx context.Context, embedding []float32, limit int) ([]SemanticResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`,
		        1.0 / (1.0 + (embedding <=> $1)) AS score
		 FROM chunks
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SemanticResult
	for rows.Next() {
		var res SemanticResult
		if err := scanChunkWithScore(rows, &res.Chunk, &res.Score); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
