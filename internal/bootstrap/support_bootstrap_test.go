package bootstrap

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"support_server/adapter/out/persistence"
	"support_server/adapter/out/provider"
	"support_server/adapter/out/vectordb"
	"support_server/config"
	"support_server/core/domain"
	"support_server/core/service/knowledge"
	"support_server/core/service/triage"
	"support_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Environment:        "development",
		LogLevel:           "error",
		EmbeddingProvider:  "hash",
		KnowledgeBackend:   "memory",
		ChunkSize:          1000,
		ChunkOverlap:       200,
		DefaultSearchLimit: 5,
		PollEnabled:        true,
		PollInterval:       time.Minute,
		PollBatchSize:      10,
		PollTimeout:        time.Minute,
		ProcessedTTL:       time.Hour,
		NotifyTimeout:      time.Second,
		StreamRequests:     "support:requests",
		StreamForms:        "support:forms",
		ConsumerGroup:      "support-workers",
		ConsumerName:       "test",
		AnswerWorkers:      1,
		AnalyticsCacheTTL:  time.Minute,
	}
}

func TestNewDependencies_LocalFallbacks(t *testing.T) {
	deps, cleanup, err := NewDependencies(context.Background(), localConfig())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.DB)
	assert.Nil(t, deps.Redis)
	assert.IsType(t, &vectordb.MemoryIndex{}, deps.Index)
	assert.IsType(t, &knowledge.HashEmbedder{}, deps.Embedder)
	assert.NotNil(t, deps.Engine)
	assert.NotNil(t, deps.Intake)
	assert.NotNil(t, deps.Knowledge)
	assert.NotNil(t, deps.Reports)
	assert.Nil(t, deps.Answers, "no answer generator without an API key")
	assert.Empty(t, deps.MessageSources())
}

func TestNewDependencies_ProductionRequiresDatabase(t *testing.T) {
	cfg := localConfig()
	cfg.Environment = "production"
	cfg.JWTSecret = "secret"

	_, _, err := NewDependencies(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestFallbackNotifier(t *testing.T) {
	cfg := localConfig()
	assert.IsType(t, &provider.LogNotifier{}, fallbackNotifier(cfg))

	cfg.Environment = "production"
	assert.Nil(t, fallbackNotifier(cfg))
}

func TestProductionWithoutMailboxNeverCloses(t *testing.T) {
	cfg := localConfig()
	cfg.Environment = "production"
	repo := persistence.NewMemoryRequestRepository()
	engine := triage.NewEngine(repo, fallbackNotifier(cfg))
	ctx := context.Background()

	req, err := engine.Create(ctx, &domain.Draft{Email: "client@plant.ru", GeneratedAnswer: "Ответ"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusOperatorReview, req.Status)

	_, err = engine.Approve(ctx, req.ID, "op-1")
	assert.True(t, apperr.IsCode(err, apperr.CodeDependencyError))
	_, err = engine.Send(ctx, req.ID, "op-1")
	assert.True(t, apperr.IsCode(err, apperr.CodeDependencyError))

	stored, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOperatorReview, stored.Status)
	assert.Nil(t, stored.RespondedAt)
}

func TestNewDependencies_PgvectorRequiresDatabase(t *testing.T) {
	cfg := localConfig()
	cfg.KnowledgeBackend = "pgvector"

	_, _, err := NewDependencies(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewWorker_NothingToRun(t *testing.T) {
	cfg := localConfig()
	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	w := NewWorker(cfg, deps)
	assert.Nil(t, w.poller)
	assert.Nil(t, w.consumer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestNewAPI_Routes(t *testing.T) {
	cfg := localConfig()
	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app := NewAPI(ctx, cfg, deps)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := json.Marshal(map[string]any{
		"email":     "client@example.com",
		"full_name": "Иван Петров",
		"category":  "ремонт",
		"is_form":   true,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/requests/pending", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/requests/pending", nil)
	req.Header.Set("X-Operator-ID", "op-1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	req.Header.Set("X-Operator-ID", "op-1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
