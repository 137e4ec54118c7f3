// Package vectordb implements the similarity index on Qdrant, pgvector or process memory.
package vectordb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"support_server/core/port/out"
	"support_server/pkg/httputil"
	"support_server/pkg/logger"
	"support_server/pkg/resilience"

	"github.com/goccy/go-json"
)

const (
	DefaultCollection = "knowledge_base"
	scrollPageLimit   = 1000
	maxErrorBody      = 512
)

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// QdrantIndex talks to the Qdrant REST API. Vectors use cosine distance.
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	http       *http.Client
	breaker    *resilience.Breaker
	ensured    atomic.Bool
	log        *logger.Logger
}

var _ out.SimilarityIndex = (*QdrantIndex)(nil)

// StatusError is a non-2xx Qdrant response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func NewQdrantIndex(cfg QdrantConfig) *QdrantIndex {
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breakerCfg := resilience.DefaultBreakerConfig("qdrant")
	breakerCfg.Excluded = isClientError

	return &QdrantIndex{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		apiKey:     cfg.APIKey,
		collection: collection,
		dimension:  cfg.Dimension,
		http:       httputil.NewClient(httputil.VectorStoreClientConfig(timeout)),
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerConfig("qdrant")),
		log:        logger.WithField("component", "qdrant"),
	}
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantCondition struct {
	Key   string      `json:"key"`
	Match qdrantMatch `json:"match"`
}

type qdrantMatch struct {
	Value string `json:"value"`
}

func toFilter(f out.IndexFilter) *qdrantFilter {
	return &qdrantFilter{Must: []qdrantCondition{{Key: f.Key, Match: qdrantMatch{Value: f.Value}}}}
}

type qdrantPoint struct {
	ID      any            `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Score   float64        `json:"score,omitempty"`
}

func (p qdrantPoint) id() string {
	switch v := p.ID.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

// EnsureCollection creates the collection when Qdrant reports it missing.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	if q.ensured.Load() {
		return nil
	}
	path := q.collectionPath("")

	exists := true
	err := q.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		if isNotFound(err) {
			exists = false
		} else {
			return err
		}
	}

	if !exists {
		body := map[string]any{
			"vectors": map[string]any{"size": q.dimension, "distance": "Cosine"},
		}
		err := q.do(ctx, http.MethodPut, path, body, nil)
		switch {
		case err == nil:
			q.log.Info("Created collection %s (dimension %d)", q.collection, q.dimension)
		case isAlreadyExists(err):
			q.log.Debug("Collection %s created concurrently", q.collection)
		default:
			return err
		}
	}
	q.ensured.Store(true)
	return nil
}

// Upsert writes all points in one request and waits for them to be applied.
func (q *QdrantIndex) Upsert(ctx context.Context, points []out.IndexPoint) error {
	if len(points) == 0 {
		return nil
	}
	body := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: make([]qdrantPoint, 0, len(points))}
	for _, p := range points {
		body.Points = append(body.Points, qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}
	return q.do(ctx, http.MethodPut, q.collectionPath("/points?wait=true"), body, nil)
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, limit int, filter *out.IndexFilter) ([]out.ScoredPoint, error) {
	if limit < 1 {
		limit = 1
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		body["filter"] = toFilter(*filter)
	}

	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionPath("/points/search"), body, &resp); err != nil {
		return nil, err
	}

	hits := make([]out.ScoredPoint, 0, len(resp.Result))
	for _, p := range resp.Result {
		hits = append(hits, out.ScoredPoint{ID: p.id(), Score: p.Score, Payload: p.Payload})
	}
	return hits, nil
}

// Scroll returns every point with its payload and without vectors, reading pageSize
// points per request and following next_page_offset until Qdrant reports no more.
func (q *QdrantIndex) Scroll(ctx context.Context, pageSize int) ([]out.IndexPoint, error) {
	if pageSize <= 0 {
		pageSize = scrollPageLimit
	}

	var (
		points []out.IndexPoint
		offset any
	)
	for {
		body := map[string]any{
			"limit":        pageSize,
			"with_payload": true,
			"with_vector":  false,
		}
		if offset != nil {
			body["offset"] = offset
		}

		var resp struct {
			Result struct {
				Points         []qdrantPoint `json:"points"`
				NextPageOffset any           `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := q.do(ctx, http.MethodPost, q.collectionPath("/points/scroll"), body, &resp); err != nil {
			return nil, err
		}

		for _, p := range resp.Result.Points {
			points = append(points, out.IndexPoint{ID: p.id(), Payload: p.Payload})
		}
		offset = resp.Result.NextPageOffset
		if offset == nil || len(resp.Result.Points) == 0 {
			return points, nil
		}
	}
}

func (q *QdrantIndex) DeleteByFilter(ctx context.Context, filter out.IndexFilter) error {
	body := map[string]any{"filter": toFilter(filter)}
	return q.do(ctx, http.MethodPost, q.collectionPath("/points/delete?wait=true"), body, nil)
}

// Ping reports whether Qdrant answers at all.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	return q.do(ctx, http.MethodGet, "/collections", nil, nil)
}

func (q *QdrantIndex) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(q.collection) + suffix
}

func (q *QdrantIndex) do(ctx context.Context, method, path string, body, dest any) error {
	err := q.breaker.Execute(func() error {
		return q.send(ctx, method, path, body, dest)
	})
	if isNotFound(err) {
		q.ensured.Store(false)
	}
	return err
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// isAlreadyExists matches the answer to creating a collection that another process just created.
func isAlreadyExists(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusConflict ||
		(se.Status == http.StatusBadRequest && strings.Contains(strings.ToLower(se.Body), "already exists"))
}

// isClientError keeps 4xx answers (missing collection, bad request) out of the breaker counts.
// 429 still counts.
func isClientError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 400 && se.Status < 500 && se.Status != http.StatusTooManyRequests
	}
	return false
}

func (q *QdrantIndex) send(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode qdrant request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read qdrant response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(data)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: msg}
	}
	if dest == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	return nil
}
