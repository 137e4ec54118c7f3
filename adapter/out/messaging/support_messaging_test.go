package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support_server/core/domain"
	"support_server/pkg/cache"
)

func TestProcessedStore(t *testing.T) {
	ctx := context.Background()
	store := NewProcessedStore(cache.NewMemoryCache(), time.Hour)

	done, err := store.IsProcessed(ctx, domain.SourceMailbox, "m-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, store.MarkProcessed(ctx, domain.SourceMailbox, "m-1"))
	require.NoError(t, store.MarkProcessed(ctx, domain.SourceMailbox, "m-1"))

	done, err = store.IsProcessed(ctx, domain.SourceMailbox, "m-1")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = store.IsProcessed(ctx, domain.SourceForm, "m-1")
	require.NoError(t, err)
	assert.False(t, done, "ids are scoped per source")
}

func TestToInboundMessage(t *testing.T) {
	sub := FormSubmission{
		SubmissionID: "web-42",
		SubmittedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Draft: domain.Draft{
			Email:          "client@example.com",
			Organization:   "ООО Ромашка",
			Category:       domain.CategoryRepair,
			Subject:        "Ремонт",
			Body:           "Не включается",
			AttachmentName: "photo.jpg",
			Attachment:     []byte{0xff, 0xd8},
		},
	}
	data, err := json.Marshal(sub)
	require.NoError(t, err)

	msg, err := toInboundMessage(redis.XMessage{ID: "1-0", Values: map[string]any{dataField: string(data)}})
	require.NoError(t, err)

	assert.Equal(t, "web-42", msg.ID)
	assert.Equal(t, "1-0", msg.AckToken)
	assert.Equal(t, domain.SourceForm, msg.Source)
	assert.Equal(t, "client@example.com", msg.From)
	assert.Equal(t, sub.SubmittedAt, msg.ReceivedAt)
	require.NotNil(t, msg.Draft)
	assert.True(t, msg.Draft.IsForm)
	assert.Equal(t, "ООО Ромашка", msg.Draft.Organization)
	assert.Equal(t, []byte{0xff, 0xd8}, msg.Attachment)
}

func TestToInboundMessage_FallsBackToStreamID(t *testing.T) {
	msg, err := toInboundMessage(redis.XMessage{ID: "7-1", Values: map[string]any{dataField: `{"email":"a@b.c"}`}})
	require.NoError(t, err)
	assert.Equal(t, "7-1", msg.ID)
}

func TestToInboundMessage_Malformed(t *testing.T) {
	_, err := toInboundMessage(redis.XMessage{ID: "1-0", Values: map[string]any{}})
	assert.Error(t, err)

	_, err = toInboundMessage(redis.XMessage{ID: "1-0", Values: map[string]any{dataField: "{not json"}})
	assert.Error(t, err)
}

func TestNewRequestEvent(t *testing.T) {
	req := &domain.Request{
		Email:      "client@example.com",
		Category:   domain.CategoryWarranty,
		Status:     domain.StatusOperatorReview,
		Confidence: 0.55,
		Source:     domain.SourceMailbox,
	}
	ev := NewRequestEvent(req)
	assert.Equal(t, req.ID, ev.RequestID)
	assert.Equal(t, domain.StatusOperatorReview, ev.Status)
	assert.Equal(t, domain.CategoryWarranty, ev.Category)
	assert.Equal(t, domain.SourceMailbox, ev.Source)
}
