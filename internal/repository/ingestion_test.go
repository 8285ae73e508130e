//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionology/docqa/internal/domain"
	"github.com/ionology/docqa/internal/testutil"
)

func createTestDoc(ctx context.Context, t *testing.T, repo *DocumentRepository, sha string) *domain.Document {
	d := &domain.Document{Title: "doc.pdf", Mime: domain.MimePDF, Bytes: 100, SHA256: sha}
	require.NoError(t, repo.Create(ctx, d))
	return d
}

func TestIngestionRepository_CreateBlocksDuplicateActive(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	repo := NewIngestionRepository(pool)
	doc := createTestDoc(ctx, t, docRepo, "ing-1")

	job := &domain.Ingestion{DocID: doc.ID, Method: domain.MethodClause}
	require.NoError(t, repo.Create(ctx, job))
	assert.Equal(t, domain.IngestionStatusQueued, job.Status)

	dup := &domain.Ingestion{DocID: doc.ID, Method: domain.MethodClause}
	assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrIngestionInProgress)

	// A different method is fine.
	other := &domain.Ingestion{DocID: doc.ID, Method: domain.MethodFixedSize}
	assert.NoError(t, repo.Create(ctx, other))
}

func TestIngestionRepository_ClaimNext(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	repo := NewIngestionRepository(pool)
	doc := createTestDoc(ctx, t, docRepo, "ing-2")

	claimed, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	job := &domain.Ingestion{DocID: doc.ID, Method: domain.MethodClause}
	require.NoError(t, repo.Create(ctx, job))

	claimed, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, domain.IngestionStatusExtracting, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)

	// Queue is drained: the claimed job is no longer queued.
	again, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestIngestionRepository_TransitionGuards(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	repo := NewIngestionRepository(pool)
	doc := createTestDoc(ctx, t, docRepo, "ing-3")

	job := &domain.Ingestion{DocID: doc.ID, Method: domain.MethodClause}
	require.NoError(t, repo.Create(ctx, job))

	// Skipping a stage is rejected before touching the database.
	err := repo.Transition(ctx, job.ID, domain.IngestionStatusQueued, domain.IngestionStatusChunking, "")
	assert.ErrorIs(t, err, domain.ErrInvalidIngestionStatus)

	// A transition whose from-status is stale affects no rows.
	err = repo.Transition(ctx, job.ID, domain.IngestionStatusExtracting, domain.IngestionStatusChunking, "")
	assert.ErrorIs(t, err, domain.ErrIngestionNotFound)

	require.NoError(t, repo.Transition(ctx, job.ID, domain.IngestionStatusQueued, domain.IngestionStatusExtracting, ""))
	require.NoError(t, repo.Transition(ctx, job.ID, domain.IngestionStatusExtracting, domain.IngestionStatusFailed, "boom"))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestionStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.NotNil(t, got.FinishedAt)
}

func TestIngestionRepository_RequeueAndDemoteStuck(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	repo := NewIngestionRepository(pool).WithRetryCooldown(0)
	doc := createTestDoc(ctx, t, docRepo, "ing-4")

	job := &domain.Ingestion{DocID: doc.ID, Method: domain.MethodClause}
	require.NoError(t, repo.Create(ctx, job))

	claimed, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, repo.Requeue(ctx, claimed.ID, "transient failure"))
	got, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestionStatusQueued, got.Status)
	assert.Equal(t, 1, got.Retries)
	assert.Equal(t, "transient failure", got.Error)

	// Claim again, then demote it as stuck with a zero threshold.
	claimed, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	n, err := repo.DemoteStuck(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestionStatusQueued, got.Status)
	assert.Equal(t, 2, got.Retries)

	queued, err := repo.CountQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
}

func TestIngestionRepository_RequeueCooldownDelaysClaim(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	repo := NewIngestionRepository(pool)
	doc := createTestDoc(ctx, t, docRepo, "ing-5")

	job := &domain.Ingestion{DocID: doc.ID, Method: domain.MethodClause}
	require.NoError(t, repo.Create(ctx, job))

	claimed, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.Requeue(ctx, claimed.ID, "transient failure"))

	// Queued again, but the default cool-down keeps it unclaimable.
	got, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestionStatusQueued, got.Status)

	claimed, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}
