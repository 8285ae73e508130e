package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	openaiapi "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/ionology/docqa/internal/api/handlers"
	"github.com/ionology/docqa/internal/chat"
	"github.com/ionology/docqa/internal/chunking"
	"github.com/ionology/docqa/internal/config"
	"github.com/ionology/docqa/internal/database"
	"github.com/ionology/docqa/internal/extract"
	"github.com/ionology/docqa/internal/ingest"
	"github.com/ionology/docqa/internal/llm"
	"github.com/ionology/docqa/internal/openai"
	"github.com/ionology/docqa/internal/repository"
	"github.com/ionology/docqa/internal/rerank"
	"github.com/ionology/docqa/internal/search"
	"github.com/ionology/docqa/internal/server"
	"github.com/ionology/docqa/internal/service"
	"github.com/ionology/docqa/internal/storage"
	"github.com/ionology/docqa/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the document QA API server and the ingestion scheduler",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-scheduler", false, "Serve the API without the background ingestion scheduler")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	docRepo := repository.NewDocumentRepository(pool)
	ingestionRepo := repository.NewIngestionRepository(pool).
		WithRetryCooldown(time.Duration(cfg.RetryCooldownSecs) * time.Second)
	chunkRepo := repository.NewChunkRepository(pool)
	vectorRepo := repository.NewVectorRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	searchLogRepo := repository.NewSearchLogRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	var openaiClient *openai.Client
	if cfg.HasOpenAI() {
		openaiClient = openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			EmbeddingModel:      openaiapi.EmbeddingModel(cfg.EmbeddingModel),
			EmbeddingDimensions: cfg.EmbedDim,
		})
		log.Printf("embedding provider configured (model %s, dim %d)", cfg.EmbeddingModel, cfg.EmbedDim)
	}

	answerer := llm.NewClient(llm.Config{
		APIKey:  cfg.AnswerAPIKey,
		BaseURL: cfg.AnswerBaseURL,
		Model:   cfg.AnswerModel,
	})

	var reranker search.Reranker
	if cfg.HasRerank() {
		reranker = rerank.New(rerank.NewHTTPScorer(cfg.RerankURL), rerank.Options{
			BatchSize: cfg.RerankBatch,
			MaxChars:  cfg.RerankMaxChars,
			TopR:      cfg.RerankTopR,
		})
		log.Printf("reranker configured at %s", cfg.RerankURL)
	}

	var queryEmbedder search.Embedder
	if openaiClient != nil {
		queryEmbedder = openaiClient
	}
	searchSvc := search.NewService(queryEmbedder, vectorRepo, chunkRepo, reranker, searchLogRepo, search.Options{
		TopKVec:   cfg.TopKVec,
		TopKLex:   cfg.TopKLex,
		SemWeight: cfg.FuseSemWeight,
		LexWeight: cfg.FuseLexWeight,
	})

	chatSvc := chat.NewService(chatRepo, searchSvc, answerer)
	docSvc := service.NewDocumentService(docRepo, ingestionRepo, blobs)

	var scheduler *ingest.Scheduler
	noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
	if !noScheduler {
		clause := chunking.NewClauseChunker(cfg.ChunkTargetTokens, cfg.ChunkOverlapTokens, chunking.NewTokenCounter())
		memory := ingest.NewMemoryGuard(cfg.MemoryCeilingMB)

		var chunkEmbedder ingest.Embedder
		if openaiClient != nil {
			chunkEmbedder = openaiClient
		}
		orchestrator := ingest.NewOrchestrator(
			ingestionRepo, docRepo, blobs, extract.New(), chunkEmbedder,
			txRunner, clause, memory, searchSvc,
		)

		scheduler = ingest.NewScheduler(ingestionRepo, orchestrator, searchSvc, memory, ingest.SchedulerOptions{
			PollInterval:    time.Duration(cfg.PollIntervalSecs) * time.Second,
			MaxPollInterval: time.Duration(cfg.PollMaxIntervalSecs) * time.Second,
			JobTimeout:      time.Duration(cfg.JobTimeoutSecs) * time.Second,
			StuckTimeout:    time.Duration(cfg.StuckJobTimeoutSecs) * time.Second,
			ReclaimInterval: time.Duration(cfg.ReclaimIntervalSecs) * time.Second,
		})
		go scheduler.Start(ctx)
		log.Println("ingestion scheduler started")
	}

	routerCfg := server.RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(docSvc),
		SearchHandler:   handlers.NewSearchHandler(searchSvc),
		ChatHandler:     handlers.NewChatHandler(chatSvc),
		HealthHandler: handlers.NewHealthHandler(pool, handlers.Capabilities{
			Embeddings:  cfg.HasOpenAI(),
			AnswerModel: cfg.HasAnswerModel(),
			Reranker:    cfg.HasRerank(),
			S3Storage:   cfg.HasS3(),
		}),
		MaxBodyBytes: int64(cfg.MaxUploadMB) * 1024 * 1024,
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	if cfg.HasS3() {
		s3Store, err := storage.NewS3Store(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 store: %w", err)
		}
		if err := s3Store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStore(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create local store: %w", err)
	}
	log.Printf("using local document storage at %s", cfg.StoragePath)
	return localStore, nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
