package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"support_server/core/domain"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Dimension: 3})
}

func TestGenerateAnswer(t *testing.T) {
	var prompt string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModel, body.Model)
		require.Len(t, body.Messages, 2)
		prompt = body.Messages[1].Content

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  Замените предохранитель.  "},"finish_reason":"stop"}]}`))
	})

	answer, err := c.GenerateAnswer(context.Background(), "Прибор не включается", []domain.SearchResult{
		{Title: "manual", Filename: "manual.pdf", Content: "Проверьте предохранитель."},
	})
	require.NoError(t, err)
	assert.Equal(t, "Замените предохранитель.", answer)
	assert.True(t, strings.Contains(prompt, "Проверьте предохранитель."))
	assert.True(t, strings.Contains(prompt, "Прибор не включается"))
}

func TestEmbed(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(3), body["dimensions"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small"}`))
	})

	vec, err := c.Embed(context.Background(), "калибровка")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, c.Dimension())
}

func TestCompleteWithSystem_NoChoices(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[]}`))
	})

	_, err := c.CompleteWithSystem(context.Background(), "s", "u")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
