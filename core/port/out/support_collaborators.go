package out

import (
	"context"
	"time"

	"support_server/core/domain"

	"github.com/google/uuid"
)

// Notifier sends a plain-text message to a customer. Synchronous, may fail.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// RequestPublisher hands persisted requests to downstream consumers.
type RequestPublisher interface {
	PublishRequest(ctx context.Context, req *domain.Request) error
}

// MessageSource yields raw inbound messages. Ack marks a message consumed.
type MessageSource interface {
	Name() string
	Fetch(ctx context.Context, limit int) ([]*domain.InboundMessage, error)
	Ack(ctx context.Context, msg *domain.InboundMessage) error
}

// ProcessedStore remembers source messages that already produced a request.
type ProcessedStore interface {
	IsProcessed(ctx context.Context, source, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, source, messageID string) error
}

// ArchivedMessage is the raw form of an ingested message.
type ArchivedMessage struct {
	RequestID      string    `json:"request_id" bson:"request_id"`
	Source         string    `json:"source" bson:"source"`
	MessageID      string    `json:"message_id" bson:"message_id"`
	From           string    `json:"from" bson:"from"`
	Subject        string    `json:"subject" bson:"subject"`
	Body           string    `json:"body" bson:"body"`
	AttachmentName string    `json:"attachment_name,omitempty" bson:"attachment_name,omitempty"`
	AttachmentSize int       `json:"attachment_size,omitempty" bson:"attachment_size,omitempty"`
	ReceivedAt     time.Time `json:"received_at" bson:"received_at"`
	ArchivedAt     time.Time `json:"archived_at" bson:"archived_at"`
}

// RawMessageArchive stores raw inbound messages for audit.
type RawMessageArchive interface {
	Archive(ctx context.Context, requestID uuid.UUID, msg *domain.InboundMessage) error
	Get(ctx context.Context, requestID uuid.UUID) (*ArchivedMessage, error)
}

// CustomerGraph links requests to customers, organizations and devices.
type CustomerGraph interface {
	RecordRequest(ctx context.Context, req *domain.Request) error
	RelatedRequestIDs(ctx context.Context, req *domain.Request, limit int) ([]string, error)
}

// OperatorAlerter tells operators that a request waits for review.
type OperatorAlerter interface {
	AlertReview(ctx context.Context, req *domain.Request) error
}

// AnswerGenerator drafts a customer answer grounded on knowledge base hits.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, hits []domain.SearchResult) (string, error)
}

// Cache stores JSON values with a TTL.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
