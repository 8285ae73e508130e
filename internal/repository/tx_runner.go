package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRepositories bundles the repositories that participate in a transaction.
type TxRepositories struct {
	Documents  *DocumentRepository
	Chunks     *ChunkRepository
	Vectors    *VectorRepository
	Ingestions *IngestionRepository
}

// TxRunner provides transactional repositories using a pgx pool.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}

	repos := newTxRepos(tx)
	if err := fn(repos); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

func newTxRepos(tx pgx.Tx) TxRepositories {
	return TxRepositories{
		Documents:  NewDocumentRepositoryWithTx(tx),
		Chunks:     NewChunkRepositoryWithTx(tx),
		Vectors:    NewVectorRepositoryWithTx(tx),
		Ingestions: NewIngestionRepositoryWithTx(tx),
	}
}
