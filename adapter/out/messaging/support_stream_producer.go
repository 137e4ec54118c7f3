// Package messaging carries requests and form submissions over Redis Streams.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"support_server/core/domain"
	"support_server/core/port/out"
)

const (
	DefaultRequestStream = "support:requests"
	DefaultFormStream    = "support:forms"

	dataField = "data"

	// Streams are trimmed approximately so old entries do not accumulate forever.
	defaultMaxLen = 100000
)

// RequestEvent is the payload published for every persisted request.
type RequestEvent struct {
	RequestID  uuid.UUID              `json:"request_id"`
	Status     domain.RequestStatus   `json:"status"`
	Category   domain.RequestCategory `json:"category"`
	Email      string                 `json:"email"`
	Subject    string                 `json:"subject"`
	Confidence float64                `json:"confidence"`
	IsForm     bool                   `json:"is_form"`
	Source     string                 `json:"source,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NewRequestEvent captures the fields downstream consumers route on.
func NewRequestEvent(req *domain.Request) RequestEvent {
	return RequestEvent{
		RequestID:  req.ID,
		Status:     req.Status,
		Category:   req.Category,
		Email:      req.Email,
		Subject:    req.Subject,
		Confidence: req.Confidence,
		IsForm:     req.IsForm,
		Source:     req.Source,
		CreatedAt:  req.CreatedAt,
	}
}

// RedisProducer publishes JSON jobs to Redis Streams.
type RedisProducer struct {
	client        *redis.Client
	requestStream string
	formStream    string
	maxLen        int64
}

func NewRedisProducer(client *redis.Client, requestStream, formStream string) *RedisProducer {
	if requestStream == "" {
		requestStream = DefaultRequestStream
	}
	if formStream == "" {
		formStream = DefaultFormStream
	}
	return &RedisProducer{
		client:        client,
		requestStream: requestStream,
		formStream:    formStream,
		maxLen:        defaultMaxLen,
	}
}

// PublishRequest announces a persisted request keyed by its id.
func (p *RedisProducer) PublishRequest(ctx context.Context, req *domain.Request) error {
	if req == nil {
		return fmt.Errorf("publish request: nil request")
	}
	_, err := p.publish(ctx, p.requestStream, NewRequestEvent(req), map[string]any{
		"request_id": req.ID.String(),
	})
	return err
}

// EnqueueForm puts a structured form submission on the form queue and returns the stream id.
func (p *RedisProducer) EnqueueForm(ctx context.Context, sub FormSubmission) (string, error) {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	return p.publish(ctx, p.formStream, sub, nil)
}

// publish writes the job JSON under the "data" field plus optional flat fields.
func (p *RedisProducer) publish(ctx context.Context, stream string, job any, extra map[string]any) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	values := map[string]any{dataField: string(data)}
	for k, v := range extra {
		values[k] = v
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return id, nil
}

// messageData returns the JSON payload of a stream entry.
func messageData(msg redis.XMessage) ([]byte, error) {
	data, ok := msg.Values[dataField]
	if !ok {
		return nil, fmt.Errorf("invalid message format: missing data field")
	}
	s, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("invalid message format: data is not a string")
	}
	return []byte(s), nil
}

// createGroup creates a consumer group starting at the beginning of the stream.
func createGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

var _ out.RequestPublisher = (*RedisProducer)(nil)
