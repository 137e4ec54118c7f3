package http

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"support_server/adapter/out/persistence"
	"support_server/adapter/out/vectordb"
	"support_server/core/domain"
	"support_server/core/service/extraction"
	"support_server/core/service/intake"
	"support_server/core/service/knowledge"
	"support_server/core/service/report"
	"support_server/core/service/triage"
	"support_server/infra/middleware"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, to+"|"+body)
	return nil
}

type textPDF struct{}

func (textPDF) Extract(ctx context.Context, data []byte) (string, int, error) {
	return string(data), 1, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

type testServer struct {
	app      *fiber.App
	notifier *recordingNotifier
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	notifier := &recordingNotifier{}
	repo := persistence.NewMemoryRequestRepository()
	engine := triage.NewEngine(repo, notifier)
	intakeSvc := intake.NewService(extraction.NewExtractor(), engine)
	kb := knowledge.NewService(vectordb.NewMemoryIndex(domain.EmbeddingDimension), knowledge.NewHashEmbedder(),
		knowledge.NewChunker(1000, 200), textPDF{}, knowledge.WithDocumentRepository(persistence.NewMemoryDocumentRepository()))

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
	app.Use(middleware.RequestID())
	api := app.Group("/api/v1")

	requests := NewRequestHandler(engine, intakeSvc)
	requests.RegisterPublic(api)
	api.Use(middleware.JWTAuth(middleware.AuthConfig{Secret: testSecret}))
	requests.Register(api)
	NewKnowledgeHandler(kb).Register(api)
	NewAnalyticsHandler(report.NewService(repo)).Register(api)

	token, err := middleware.IssueToken(testSecret, "op-1", "operator", time.Hour)
	require.NoError(t, err)
	return &testServer{app: app, notifier: notifier, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string, auth bool) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func (s *testServer) doJSON(t *testing.T, method, path string, payload any, auth bool) (int, envelope) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	return s.do(t, method, path, body, fiber.MIMEApplicationJSON, auth)
}

func submit(t *testing.T, s *testServer) domain.Request {
	t.Helper()
	status, env := s.doJSON(t, http.MethodPost, "/api/v1/requests", map[string]any{
		"email":         "client@example.com",
		"full_name":     "Иван Петров",
		"device_type":   "Термометр",
		"serial_number": "SN-1",
		"category":      "ремонт",
		"is_form":       true,
	}, false)
	require.Equal(t, http.StatusCreated, status)
	var req domain.Request
	require.NoError(t, json.Unmarshal(env.Data, &req))
	return req
}

func TestSubmit_IsPublic(t *testing.T) {
	s := newTestServer(t)
	req := submit(t, s)

	assert.Equal(t, domain.StatusOperatorReview, req.Status)
	assert.Equal(t, domain.CategoryRepair, req.Category)
	assert.Equal(t, domain.SourceAPI, req.Source)
	assert.True(t, req.IsForm)
}

func TestSubmit_RequiresEmail(t *testing.T) {
	s := newTestServer(t)
	status, env := s.doJSON(t, http.MethodPost, "/api/v1/requests", map[string]any{"subject": "no email"}, false)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.Success)
}

func TestOperatorRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t)
	status, env := s.doJSON(t, http.MethodGet, "/api/v1/requests/pending", nil, false)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/requests/pending", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpdateThenSend(t *testing.T) {
	s := newTestServer(t)
	created := submit(t, s)
	path := "/api/v1/requests/" + created.ID.String()

	status, env := s.doJSON(t, http.MethodPut, path, map[string]string{
		"operator_answer": "Привезите прибор в сервис.",
		"operator_notes":  "звонил",
	}, true)
	require.Equal(t, http.StatusOK, status)
	var updated domain.Request
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "op-1", updated.OperatorID)

	status, env = s.doJSON(t, http.MethodPost, path+"/send", nil, true)
	require.Equal(t, http.StatusOK, status)
	var sent domain.Request
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, domain.StatusClosed, sent.Status)
	assert.Equal(t, []string{"client@example.com|Привезите прибор в сервис."}, s.notifier.sent)

	status, env = s.doJSON(t, http.MethodPost, path+"/approve", nil, true)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_STATE", env.Error.Code)

	status, env = s.doJSON(t, http.MethodGet, "/api/v1/requests/mine", nil, true)
	require.Equal(t, http.StatusOK, status)
	var mine []domain.Request
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	assert.Len(t, mine, 1)
}

func TestGet_Errors(t *testing.T) {
	s := newTestServer(t)

	status, env := s.doJSON(t, http.MethodGet, "/api/v1/requests/not-a-uuid", nil, true)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INPUT_ERROR", env.Error.Code)

	status, env = s.doJSON(t, http.MethodGet, "/api/v1/requests/00000000-0000-0000-0000-000000000001", nil, true)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	status, _ = s.doJSON(t, http.MethodGet, "/api/v1/requests?status=BOGUS", nil, true)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRelatedAndRaw_NotConfigured(t *testing.T) {
	s := newTestServer(t)
	created := submit(t, s)

	status, _ := s.doJSON(t, http.MethodGet, "/api/v1/requests/"+created.ID.String()+"/related", nil, true)
	assert.Equal(t, http.StatusNotImplemented, status)
	status, _ = s.doJSON(t, http.MethodGet, "/api/v1/requests/"+created.ID.String()+"/raw", nil, true)
	assert.Equal(t, http.StatusNotImplemented, status)
}

func TestListAndStats(t *testing.T) {
	s := newTestServer(t)
	submit(t, s)
	submit(t, s)

	status, env := s.doJSON(t, http.MethodGet, "/api/v1/requests/pending?limit=1", nil, true)
	require.Equal(t, http.StatusOK, status)
	var page []domain.Request
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page, 1)

	status, env = s.doJSON(t, http.MethodGet, "/api/v1/requests/stats", nil, true)
	require.Equal(t, http.StatusOK, status)
	var stats domain.RequestStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(2), stats.ByStatus[domain.StatusOperatorReview])

	status, _ = s.doJSON(t, http.MethodGet, "/api/v1/analytics/dashboard?days=7", nil, true)
	assert.Equal(t, http.StatusOK, status)
}

func TestKnowledgeLifecycle(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "manual.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte(strings.Repeat("Калибровка термометра выполняется ежегодно. ", 40)))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("category", "Technical"))
	require.NoError(t, mw.WriteField("tags", "калибровка, термометр"))
	require.NoError(t, mw.Close())

	status, env := s.do(t, http.MethodPost, "/api/v1/knowledge/documents", &buf, mw.FormDataContentType(), true)
	require.Equal(t, http.StatusCreated, status)
	var uploaded domain.UploadResult
	require.NoError(t, json.Unmarshal(env.Data, &uploaded))
	assert.Equal(t, "manual.pdf", uploaded.Filename)
	assert.Greater(t, uploaded.ChunkCount, 1)

	status, env = s.doJSON(t, http.MethodPost, "/api/v1/knowledge/search", map[string]any{
		"query": "калибровка термометра", "limit": 2,
	}, true)
	require.Equal(t, http.StatusOK, status)
	var hits []domain.SearchResult
	require.NoError(t, json.Unmarshal(env.Data, &hits))
	require.NotEmpty(t, hits)
	assert.Equal(t, uploaded.DocumentID, hits[0].DocumentID)

	status, env = s.doJSON(t, http.MethodGet, "/api/v1/knowledge/documents", nil, true)
	require.Equal(t, http.StatusOK, status)
	var docs []domain.KnowledgeDocument
	require.NoError(t, json.Unmarshal(env.Data, &docs))
	require.Len(t, docs, 1)
	assert.ElementsMatch(t, []string{"калибровка", "термометр"}, docs[0].Tags)

	status, _ = s.doJSON(t, http.MethodDelete, "/api/v1/knowledge/documents/"+uploaded.DocumentID, nil, true)
	assert.Equal(t, http.StatusNoContent, status)

	status, env = s.doJSON(t, http.MethodDelete, "/api/v1/knowledge/documents/"+uploaded.DocumentID, nil, true)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestKnowledgeUpload_MissingFile(t *testing.T) {
	s := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("category", "Technical"))
	require.NoError(t, mw.Close())

	status, env := s.do(t, http.MethodPost, "/api/v1/knowledge/documents", &buf, mw.FormDataContentType(), true)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "MISSING_FIELD", env.Error.Code)
}
