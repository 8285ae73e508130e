package admin

import (
	"context"
	"fmt"
	"log"

	openaiapi "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/ionology/docqa/internal/chunking"
	"github.com/ionology/docqa/internal/config"
	"github.com/ionology/docqa/internal/database"
	"github.com/ionology/docqa/internal/domain"
	"github.com/ionology/docqa/internal/extract"
	"github.com/ionology/docqa/internal/openai"
	"github.com/ionology/docqa/internal/repository"
)

const backfillPageSize = 50

// BackfillCmd returns the backfill command, which re-chunks existing
// documents with the clause-aware chunker and rebuilds their embeddings.
func BackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-chunk existing documents with the clause-aware chunker",
		Long: "Re-extract, re-chunk (method 9), and re-embed every document. " +
			"Resumable: pass --from-id with the last document id printed by a previous run.",
		RunE: runBackfill,
	}

	cmd.Flags().Int64("from-id", 0, "Resume after this document id")
	cmd.Flags().Bool("dry-run", false, "Chunk and report counts without writing anything")

	return cmd
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fromID, _ := cmd.Flags().GetInt64("from-id")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if !dryRun && !cfg.HasOpenAI() {
		return fmt.Errorf("backfill needs an embedding provider; set DOCQA_OPENAI_API_KEY or use --dry-run")
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	docRepo := repository.NewDocumentRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	var embedder *openai.Client
	if cfg.HasOpenAI() {
		embedder = openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			EmbeddingModel:      openaiapi.EmbeddingModel(cfg.EmbeddingModel),
			EmbeddingDimensions: cfg.EmbedDim,
		})
	}

	chunker := chunking.NewClauseChunker(cfg.ChunkTargetTokens, cfg.ChunkOverlapTokens, chunking.NewTokenCounter())
	extractor := extract.New()

	var processed, failed int
	lastID := fromID
	for {
		docs, err := docRepo.ListAfterID(ctx, lastID, backfillPageSize)
		if err != nil {
			return fmt.Errorf("failed to list documents after id %d: %w", lastID, err)
		}
		if len(docs) == 0 {
			break
		}

		for _, doc := range docs {
			lastID = doc.ID
			if err := backfillDocument(ctx, doc, blobs, extractor, chunker, embedder, txRunner, dryRun); err != nil {
				log.Printf("backfill: doc %d (%s) failed: %v", doc.ID, doc.Title, err)
				failed++
				continue
			}
			processed++
		}
	}

	log.Printf("backfill complete: %d processed, %d failed, last id %d", processed, failed, lastID)
	return nil
}

func backfillDocument(
	ctx context.Context,
	doc *domain.Document,
	blobs blobGetter,
	extractor *extract.Extractor,
	chunker *chunking.ClauseChunker,
	embedder *openai.Client,
	txRunner *repository.TxRunner,
	dryRun bool,
) error {
	data, err := blobs.Get(ctx, doc.SHA256)
	if err != nil {
		return fmt.Errorf("failed to load blob: %w", err)
	}

	extraction, err := extractor.Extract(data, doc.Mime)
	if err != nil {
		return err
	}

	chunks := chunker.ChunkDocument(extraction.Text, doc.ID, extraction.Pages)
	if len(chunks) == 0 {
		return domain.ErrEmptyDocument
	}

	if dryRun {
		log.Printf("backfill: doc %d (%s) would produce %d clause chunks", doc.ID, doc.Title, len(chunks))
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed: %w", err)
	}

	err = txRunner.WithTx(ctx, func(repos repository.TxRepositories) error {
		if err := repos.Chunks.ReplaceChunks(ctx, doc.ID, domain.MethodClause, chunks); err != nil {
			return err
		}
		ids := make([]int64, len(chunks))
		for i := range chunks {
			ids[i] = chunks[i].ID
		}
		return repos.Vectors.UpsertEmbeddings(ctx, ids, embeddings)
	})
	if err != nil {
		return err
	}

	log.Printf("backfill: doc %d (%s) indexed with %d clause chunks", doc.ID, doc.Title, len(chunks))
	return nil
}

type blobGetter interface {
	Get(ctx context.Context, sha256 string) ([]byte, error)
}
