package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ionology/docqa/internal/api/handlers"
	"github.com/ionology/docqa/internal/api/middleware"
)

type RouterConfig struct {
	DocumentHandler *handlers.DocumentHandler
	SearchHandler   *handlers.SearchHandler
	ChatHandler     *handlers.ChatHandler
	HealthHandler   *handlers.HealthHandler

	// MaxBodyBytes bounds request bodies; uploads dominate, so the default
	// is sized for documents rather than JSON.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes int64 = 50 * 1024 * 1024

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBody))

	r.Get("/health", cfg.HealthHandler.Health)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", cfg.DocumentHandler.Upload)
		r.Get("/", cfg.DocumentHandler.List)
		r.Get("/{id}", cfg.DocumentHandler.Get)
		r.Delete("/{id}", cfg.DocumentHandler.Delete)
		r.Post("/{id}/ingest", cfg.DocumentHandler.Ingest)
		r.Get("/{id}/ingestions", cfg.DocumentHandler.ListIngestions)
	})

	r.Get("/ingestions/{id}", cfg.DocumentHandler.GetIngestion)

	r.Post("/search", cfg.SearchHandler.Search)
	r.Post("/chat", cfg.ChatHandler.Chat)

	return r
}
