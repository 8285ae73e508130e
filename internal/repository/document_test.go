//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionology/docqa/internal/domain"
	"github.com/ionology/docqa/internal/testutil"
)

func TestDocumentRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := &domain.Document{
		Title:  "standard.pdf",
		Mime:   domain.MimePDF,
		Bytes:  1024,
		SHA256: "abc123def456",
	}
	require.NoError(t, repo.Create(ctx, d))
	require.NotZero(t, d.ID)

	got, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Title, got.Title)
	assert.Equal(t, d.Mime, got.Mime)
	assert.Equal(t, d.SHA256, got.SHA256)
}

func TestDocumentRepository_GetBySHA256(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := &domain.Document{Title: "a.txt", Mime: domain.MimeText, Bytes: 10, SHA256: "dedupe-hash"}
	require.NoError(t, repo.Create(ctx, d))

	got, err := repo.GetBySHA256(ctx, "dedupe-hash")
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	_, err = repo.GetBySHA256(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_ListPage(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		d := &domain.Document{
			Title:     fmt.Sprintf("doc-%d.txt", i),
			Mime:      domain.MimeText,
			Bytes:     int64(i),
			SHA256:    fmt.Sprintf("hash-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(ctx, d))
	}

	first, err := repo.ListPage(ctx, nil, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "doc-4.txt", first[0].Title)
	assert.Equal(t, "doc-2.txt", first[2].Title)

	last := first[len(first)-1]
	second, err := repo.ListPage(ctx, &last.CreatedAt, last.ID, 3)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "doc-1.txt", second[0].Title)
	assert.Equal(t, "doc-0.txt", second[1].Title)
}

func TestDocumentRepository_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	chunkRepo := NewChunkRepository(pool)

	d := &domain.Document{Title: "b.txt", Mime: domain.MimeText, Bytes: 10, SHA256: "cascade-hash"}
	require.NoError(t, docRepo.Create(ctx, d))

	chunk := domain.Chunk{DocID: d.ID, Method: domain.MethodFixedSize, Text: "body"}
	chunk.Finalize()
	require.NoError(t, chunkRepo.ReplaceChunks(ctx, d.ID, domain.MethodFixedSize, []domain.Chunk{chunk}))

	require.NoError(t, docRepo.Delete(ctx, d.ID))

	count, err := chunkRepo.CountByDoc(ctx, d.ID, domain.MethodFixedSize)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, docRepo.Delete(ctx, d.ID), domain.ErrDocumentNotFound)
}
