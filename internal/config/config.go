package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// Blob storage for uploaded documents; falls back to local disk when unset.
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"docqa-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	StoragePath string `envconfig:"STORAGE_PATH" default:"./uploads"`

	MaxUploadMB int `envconfig:"MAX_UPLOAD_MB" default:"20"`

	// Embedding provider (OpenAI-compatible).
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbedDim       int    `envconfig:"EMBED_DIM" default:"1536"`

	// Answer synthesis model (OpenAI-compatible endpoint, e.g. DeepSeek).
	AnswerAPIKey  string `envconfig:"ANSWER_API_KEY"`
	AnswerBaseURL string `envconfig:"ANSWER_BASE_URL" default:"https://api.deepseek.com/v1"`
	AnswerModel   string `envconfig:"ANSWER_MODEL" default:"deepseek-chat"`

	// Cross-encoder rerank endpoint.
	RerankURL      string `envconfig:"RERANK_URL"`
	RerankTopR     int    `envconfig:"RERANK_TOP_R" default:"10"`
	RerankMaxChars int    `envconfig:"RERANK_MAX_CHARS" default:"2000"`
	RerankBatch    int    `envconfig:"RERANK_BATCH" default:"16"`

	// Retrieval fusion.
	TopKVec       int     `envconfig:"TOPK_VEC" default:"20"`
	TopKLex       int     `envconfig:"TOPK_LEX" default:"20"`
	FuseSemWeight float64 `envconfig:"FUSE_SEM_WEIGHT" default:"0.6"`
	FuseLexWeight float64 `envconfig:"FUSE_LEX_WEIGHT" default:"0.4"`

	// Clause chunker.
	ChunkTargetTokens  int `envconfig:"CHUNK_TARGET_TOKENS" default:"400"`
	ChunkOverlapTokens int `envconfig:"CHUNK_OVERLAP_TOKENS" default:"50"`

	// Scheduler and ingestion.
	PollIntervalSecs    int `envconfig:"POLL_INTERVAL_SECS" default:"5"`
	PollMaxIntervalSecs int `envconfig:"POLL_MAX_INTERVAL_SECS" default:"60"`
	JobTimeoutSecs      int `envconfig:"JOB_TIMEOUT_SECS" default:"300"`
	RetryCooldownSecs   int `envconfig:"RETRY_COOLDOWN_SECS" default:"60"`
	StuckJobTimeoutSecs int `envconfig:"STUCK_JOB_TIMEOUT_SECS" default:"600"`
	ReclaimIntervalSecs int `envconfig:"RECLAIM_INTERVAL_SECS" default:"600"`
	MemoryCeilingMB     int `envconfig:"MEMORY_CEILING_MB" default:"1024"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("DOCQA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasAnswerModel() bool {
	return c.AnswerAPIKey != ""
}

func (c *Config) HasRerank() bool {
	return c.RerankURL != ""
}
