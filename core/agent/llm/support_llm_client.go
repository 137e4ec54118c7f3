// Package llm talks to an OpenAI-compatible chat and embedding API.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"support_server/pkg/httputil"
	"support_server/pkg/resilience"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
	defaultMaxTokens      = 1024
	defaultTimeout        = 60 * time.Second
)

var ErrEmptyResponse = errors.New("llm returned no choices")

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	dimension      int
	maxTokens      int
	temperature    float32
	timeout        time.Duration
	breaker        *resilience.Breaker
}

type ClientConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Dimension      int
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = httputil.NewClient(httputil.OpenAIClientConfig(0))

	c := &Client{
		client:         openai.NewClientWithConfig(oc),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimension:      cfg.Dimension,
		maxTokens:      cfg.MaxTokens,
		temperature:    float32(cfg.Temperature),
		timeout:        cfg.Timeout,
		breaker:        resilience.NewBreaker(resilience.DefaultBreakerConfig("openai")),
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.embeddingModel == "" {
		c.embeddingModel = DefaultEmbeddingModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

func (c *Client) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := resilience.Call(c.breaker, func() (openai.ChatCompletionResponse, error) {
		return c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
		})
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Embed returns the embedding of text. When a dimension is configured the API is asked for
// vectors of that size.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := resilience.Call(c.breaker, func() (openai.EmbeddingResponse, error) {
		return c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model:      openai.EmbeddingModel(c.embeddingModel),
			Input:      []string{text},
			Dimensions: c.dimension,
		})
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) Dimension() int {
	return c.dimension
}
