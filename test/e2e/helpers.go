//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ionology/docqa/internal/api/handlers"
	"github.com/ionology/docqa/internal/chat"
	"github.com/ionology/docqa/internal/chunking"
	"github.com/ionology/docqa/internal/extract"
	"github.com/ionology/docqa/internal/ingest"
	"github.com/ionology/docqa/internal/llm"
	"github.com/ionology/docqa/internal/repository"
	"github.com/ionology/docqa/internal/search"
	"github.com/ionology/docqa/internal/server"
	"github.com/ionology/docqa/internal/service"
	"github.com/ionology/docqa/internal/storage"
	"github.com/ionology/docqa/internal/testutil"
)

const embeddingDim = 1536

// TestEnv holds all resources needed for E2E tests: a pgvector container,
// an in-process server, and a running ingestion scheduler.
type TestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	Scheduler    *ingest.Scheduler
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// stubEmbedder produces deterministic vectors so the full pipeline and
// hybrid search run without an external embedding provider.
type stubEmbedder struct{}

func (stubEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	return stubVector(text), nil
}

func (stubEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = stubVector(t)
	}
	return out, nil
}

func stubVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, embeddingDim)
	for i := range v {
		v[i] = float32(sum[i%len(sum)]) / 255.0
	}
	return v
}

// SetupEnv starts the container, runs migrations, and boots the server with
// local blob storage, a stub embedder, and no answer model configured.
func SetupEnv(t *testing.T) *TestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}

	docRepo := repository.NewDocumentRepository(pool)
	ingestionRepo := repository.NewIngestionRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	vectorRepo := repository.NewVectorRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	searchLogRepo := repository.NewSearchLogRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	embedder := stubEmbedder{}
	searchSvc := search.NewService(embedder, vectorRepo, chunkRepo, nil, searchLogRepo, search.Options{})
	chatSvc := chat.NewService(chatRepo, searchSvc, llm.NewClient(llm.Config{}))
	docSvc := service.NewDocumentService(docRepo, ingestionRepo, blobs)

	clause := chunking.NewClauseChunker(0, 0, chunking.NewTokenCounter())
	orchestrator := ingest.NewOrchestrator(
		ingestionRepo, docRepo, blobs, extract.New(), embedder,
		txRunner, clause, nil, searchSvc,
	)
	scheduler := ingest.NewScheduler(ingestionRepo, orchestrator, searchSvc, nil, ingest.SchedulerOptions{
		PollInterval:    100 * time.Millisecond,
		MaxPollInterval: 500 * time.Millisecond,
		JobTimeout:      30 * time.Second,
		StuckTimeout:    time.Minute,
	})
	go scheduler.Start(ctx)

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	cfg := server.RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(docSvc),
		SearchHandler:   handlers.NewSearchHandler(searchSvc),
		ChatHandler:     handlers.NewChatHandler(chatSvc),
		HealthHandler:   handlers.NewHealthHandler(pool, handlers.Capabilities{Embeddings: true}),
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.NewRouter(cfg),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return &TestEnv{
		T:         t,
		Ctx:       ctx,
		PostgresC: pgC,
		Pool:      pool,
		Scheduler: scheduler,
		ServerURL: serverURL,
		ServerCloser: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		},
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources.
func (e *TestEnv) Cleanup() {
	if e.Scheduler != nil {
		e.Scheduler.Stop()
	}
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse is the standard envelope plus the HTTP status it arrived with.
type APIResponse struct {
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
	StatusCode int             `json:"-"`
}

// Get performs a GET request.
func (e *TestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

// Post performs a POST request with a JSON body.
func (e *TestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

// Delete performs a DELETE request.
func (e *TestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil)
}

func (e *TestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return readResponse(resp)
}

// UploadDocument uploads content as a multipart file upload.
func (e *TestEnv) UploadDocument(filename string, content []byte) (*APIResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", e.ServerURL+"/documents", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return readResponse(resp)
}

func readResponse(resp *http.Response) (*APIResponse, error) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := &APIResponse{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusNoContent {
		return apiResp, nil
	}
	if err := json.Unmarshal(respBody, apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}
	return apiResp, nil
}

// WaitForIngestion polls an ingestion job until it reaches a terminal status.
func (e *TestEnv) WaitForIngestion(jobID int64, timeout time.Duration) string {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := e.Get(fmt.Sprintf("/ingestions/%d", jobID))
		if err == nil {
			var job struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			}
			if json.Unmarshal(resp.Data, &job) == nil {
				switch job.Status {
				case "done", "failed", "blocked_scanned_pdf":
					if job.Error != "" {
						e.T.Logf("job %d finished %s: %s", jobID, job.Status, job.Error)
					}
					return job.Status
				}
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	e.T.Fatalf("ingestion %d did not finish within %v", jobID, timeout)
	return ""
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
