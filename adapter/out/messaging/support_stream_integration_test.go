//go:build integration

package messaging_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support_server/adapter/out/messaging"
	"support_server/core/domain"
	"support_server/infra/database"
	"support_server/internal/testutil"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()
	client, err := database.NewRedis(ctx, testutil.StartRedis(ctx, t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestFormSource_FetchAck(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()
	producer := messaging.NewRedisProducer(client, "", "test:forms")
	source := messaging.NewFormSource(client, messaging.FormSourceConfig{Stream: "test:forms", Group: "g", Consumer: "c1"})

	msgs, err := source.Fetch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	for _, email := range []string{"a@example.com", "b@example.com"} {
		_, err := producer.EnqueueForm(ctx, messaging.FormSubmission{Draft: domain.Draft{Email: email, Subject: "Ремонт"}})
		require.NoError(t, err)
	}

	msgs, err = source.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a@example.com", msgs[0].From)
	assert.True(t, msgs[0].Draft.IsForm)

	// Only the first is acknowledged; the second is redelivered on the next fetch.
	require.NoError(t, source.Ack(ctx, msgs[0]))

	again, err := source.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "b@example.com", again[0].From)
	require.NoError(t, source.Ack(ctx, again[0]))

	empty, err := source.Fetch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFormSource_DeadLettersMalformed(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "test:forms", Values: map[string]any{"data": "{broken"}}).Err())

	source := messaging.NewFormSource(client, messaging.FormSourceConfig{Stream: "test:forms", Group: "g", Consumer: "c1"})
	msgs, err := source.Fetch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	n, err := client.XLen(ctx, messaging.DeadLetterStream("test:forms")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConsumer_HandlesPublishedRequests(t *testing.T) {
	client := newRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	producer := messaging.NewRedisProducer(client, "test:requests", "")

	var mu sync.Mutex
	seen := map[uuid.UUID]bool{}
	done := make(chan struct{})
	var once sync.Once
	handler := messaging.JobHandlerFunc(func(ctx context.Context, stream string, data []byte) error {
		var ev messaging.RequestEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		seen[ev.RequestID] = true
		if len(seen) == 3 {
			once.Do(func() { close(done) })
		}
		return nil
	})

	consumer := messaging.NewConsumer(client, &messaging.ConsumerConfig{
		Group:    "answers",
		Consumer: "w1",
		Streams:  []string{"test:requests"},
		Handler:  handler,
		Logger:   zerolog.Nop(),
		Block:    200 * time.Millisecond,
		Workers:  2,
	})
	go func() { _ = consumer.Run(ctx) }()

	for i := 0; i < 3; i++ {
		req := &domain.Request{ID: uuid.New(), Status: domain.StatusOperatorReview, CreatedAt: time.Now()}
		require.NoError(t, producer.PublishRequest(ctx, req))
	}

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("consumer did not handle all requests")
	}

	require.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, "test:requests", "answers").Result()
		return err == nil && pending.Count == 0
	}, 10*time.Second, 100*time.Millisecond)
}
