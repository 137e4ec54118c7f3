package vectordb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"support_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	method string
	path   string
	body   map[string]any
	apiKey string
}

type fakeQdrant struct {
	mu      sync.Mutex
	calls   []recordedCall
	created bool
	reply   map[string]string
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	if len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{r.Method, r.URL.RequestURI(), body, r.Header.Get("api-key")})
	created := f.created
	if r.Method == http.MethodPut && r.URL.Path == "/collections/kb" {
		f.created = true
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodGet && r.URL.Path == "/collections/kb" && !created {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection kb doesn't exist!"}}`))
		return
	}
	if reply, ok := f.reply[r.URL.Path]; ok {
		_, _ = w.Write([]byte(reply))
		return
	}
	_, _ = w.Write([]byte(`{"result":true,"status":"ok"}`))
}

func (f *fakeQdrant) last() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newQdrant(t *testing.T, fake *fakeQdrant) *QdrantIndex {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewQdrantIndex(QdrantConfig{URL: srv.URL + "/", APIKey: "secret", Collection: "kb", Dimension: 3})
}

func TestQdrant_EnsureCollectionCreatesOnce(t *testing.T) {
	fake := &fakeQdrant{}
	q := newQdrant(t, fake)
	ctx := context.Background()

	require.NoError(t, q.EnsureCollection(ctx))
	require.NoError(t, q.EnsureCollection(ctx))

	require.Len(t, fake.calls, 2)
	assert.Equal(t, http.MethodGet, fake.calls[0].method)
	create := fake.calls[1]
	assert.Equal(t, http.MethodPut, create.method)
	assert.Equal(t, "/collections/kb", create.path)
	assert.Equal(t, "secret", create.apiKey)
	assert.Equal(t, map[string]any{"size": float64(3), "distance": "Cosine"}, create.body["vectors"])
}

func TestQdrant_Upsert(t *testing.T) {
	fake := &fakeQdrant{}
	q := newQdrant(t, fake)

	err := q.Upsert(context.Background(), []out.IndexPoint{
		{ID: "p1", Vector: []float32{1, 0, 0}, Payload: map[string]any{"document_id": "d1"}},
		{ID: "p2", Vector: []float32{0, 1, 0}, Payload: map[string]any{"document_id": "d1"}},
	})
	require.NoError(t, err)

	call := fake.last()
	assert.Equal(t, http.MethodPut, call.method)
	assert.Equal(t, "/collections/kb/points?wait=true", call.path)
	points, ok := call.body["points"].([]any)
	require.True(t, ok)
	assert.Len(t, points, 2)
}

func TestQdrant_SearchWithFilter(t *testing.T) {
	fake := &fakeQdrant{reply: map[string]string{
		"/collections/kb/points/search": `{"result":[{"id":"p1","score":0.91,"payload":{"document_id":"d1","chunk_index":0}},{"id":7,"score":0.5,"payload":{}}],"status":"ok"}`,
	}}
	q := newQdrant(t, fake)

	hits, err := q.Search(context.Background(), []float32{1, 0, 0}, 0, &out.IndexFilter{Key: "category", Value: "Billing"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "p1", hits[0].ID)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-9)
	assert.Equal(t, "d1", hits[0].Payload["document_id"])
	assert.Equal(t, "7", hits[1].ID)

	call := fake.last()
	assert.Equal(t, float64(1), call.body["limit"])
	assert.Equal(t, true, call.body["with_payload"])
	assert.Equal(t, map[string]any{
		"must": []any{map[string]any{"key": "category", "match": map[string]any{"value": "Billing"}}},
	}, call.body["filter"])
}

func TestQdrant_ScrollFollowsNextPageOffset(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		calls = append(calls, body)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if body["offset"] == nil {
			_, _ = w.Write([]byte(`{"result":{"points":[{"id":"a","payload":{"document_id":"d1"}}],"next_page_offset":"b"},"status":"ok"}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":{"points":[{"id":"b","payload":{"document_id":"d2"}}],"next_page_offset":null},"status":"ok"}`))
	}))
	defer srv.Close()
	q := NewQdrantIndex(QdrantConfig{URL: srv.URL, Collection: "kb", Dimension: 3})

	points, err := q.Scroll(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "a", points[0].ID)
	assert.Equal(t, "d2", points[1].Payload["document_id"])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.Equal(t, float64(1), calls[0]["limit"])
	assert.Equal(t, false, calls[0]["with_vector"])
	assert.Nil(t, calls[0]["offset"])
	assert.Equal(t, "b", calls[1]["offset"])
}

func TestQdrant_ScrollDefaultPageSize(t *testing.T) {
	fake := &fakeQdrant{reply: map[string]string{
		"/collections/kb/points/scroll": `{"result":{"points":[{"id":"a","payload":{"document_id":"d1"}},{"id":"b","payload":{"document_id":"d2"}}],"next_page_offset":null},"status":"ok"}`,
	}}
	q := newQdrant(t, fake)

	points, err := q.Scroll(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Len(t, fake.calls, 1)
	assert.Equal(t, float64(1000), fake.last().body["limit"])
}

func TestQdrant_DeleteByFilter(t *testing.T) {
	fake := &fakeQdrant{}
	q := newQdrant(t, fake)

	require.NoError(t, q.DeleteByFilter(context.Background(), out.IndexFilter{Key: "document_id", Value: "d1"}))

	call := fake.last()
	assert.Equal(t, "/collections/kb/points/delete?wait=true", call.path)
	assert.NotNil(t, call.body["filter"])
}

func TestQdrant_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":{"error":"boom"}}`))
	}))
	defer srv.Close()
	q := NewQdrantIndex(QdrantConfig{URL: srv.URL, Collection: "kb", Dimension: 3})

	err := q.DeleteByFilter(context.Background(), out.IndexFilter{Key: "document_id", Value: "d1"})
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Status)
	assert.Contains(t, se.Body, "boom")
}

func TestQdrant_EnsureCollectionToleratesConcurrentCreate(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"conflict", http.StatusConflict, `{"status":{"error":"Wrong input: Collection kb already exists!"}}`},
		{"bad request already exists", http.StatusBadRequest, `{"status":{"error":"Wrong input: Collection kb already exists!"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var puts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.Method {
				case http.MethodGet:
					w.WriteHeader(http.StatusNotFound)
					_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection kb doesn't exist!"}}`))
				case http.MethodPut:
					puts.Add(1)
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				}
			}))
			defer srv.Close()
			q := NewQdrantIndex(QdrantConfig{URL: srv.URL, Collection: "kb", Dimension: 3})

			require.NoError(t, q.EnsureCollection(context.Background()))
			require.NoError(t, q.EnsureCollection(context.Background()))
			assert.Equal(t, int32(1), puts.Load())
		})
	}
}

func TestQdrant_EnsureCollectionCreateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":{"error":"Wrong input: vector size must be positive"}}`))
	}))
	defer srv.Close()
	q := NewQdrantIndex(QdrantConfig{URL: srv.URL, Collection: "kb", Dimension: 0})

	err := q.EnsureCollection(context.Background())
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
}

func TestQdrant_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
	}))
	defer srv.Close()
	q := NewQdrantIndex(QdrantConfig{URL: srv.URL, Collection: "kb", Dimension: 3})

	for i := 0; i < 20; i++ {
		err := q.DeleteByFilter(context.Background(), out.IndexFilter{Key: "document_id", Value: "d1"})
		var se *StatusError
		require.ErrorAs(t, err, &se, "call %d", i)
		assert.Equal(t, http.StatusNotFound, se.Status)
	}
	assert.Equal(t, int32(20), hits.Load())
}
