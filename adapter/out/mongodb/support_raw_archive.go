package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"support_server/core/domain"
	"support_server/core/port/out"
)

const (
	collectionRawMessages = "raw_messages"

	// Bodies larger than this are stored gzip-compressed.
	compressionThreshold = 1024

	DefaultRetention = 180 * 24 * time.Hour
)

// RawArchiveAdapter keeps the raw form of every ingested message next to its request id.
type RawArchiveAdapter struct {
	collection *mongo.Collection
	retention  time.Duration
	now        func() time.Time
}

func NewRawArchiveAdapter(db *mongo.Database, retention time.Duration) *RawArchiveAdapter {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RawArchiveAdapter{
		collection: db.Collection(collectionRawMessages),
		retention:  retention,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the lookup and TTL indexes.
func (a *RawArchiveAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "request_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "source", Value: 1}, {Key: "message_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type rawMessageDocument struct {
	RequestID      string    `bson:"request_id"`
	Source         string    `bson:"source"`
	MessageID      string    `bson:"message_id"`
	From           string    `bson:"from"`
	Subject        string    `bson:"subject"`
	Body           []byte    `bson:"body"`
	IsCompressed   bool      `bson:"is_compressed"`
	OriginalSize   int       `bson:"original_size"`
	AttachmentName string    `bson:"attachment_name,omitempty"`
	AttachmentSize int       `bson:"attachment_size,omitempty"`
	ReceivedAt     time.Time `bson:"received_at"`
	ArchivedAt     time.Time `bson:"archived_at"`
	ExpiresAt      time.Time `bson:"expires_at"`
}

// Archive upserts the raw message for requestID. Attachment bytes are not archived.
func (a *RawArchiveAdapter) Archive(ctx context.Context, requestID uuid.UUID, msg *domain.InboundMessage) error {
	if msg == nil {
		return errors.New("archive: nil message")
	}
	doc, err := a.toDocument(requestID, msg)
	if err != nil {
		return fmt.Errorf("failed to convert message to document: %w", err)
	}

	filter := bson.M{"request_id": doc.RequestID}
	if _, err := a.collection.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to archive raw message: %w", err)
	}
	return nil
}

// Get returns out.ErrNotFound when nothing was archived for requestID.
func (a *RawArchiveAdapter) Get(ctx context.Context, requestID uuid.UUID) (*out.ArchivedMessage, error) {
	var doc rawMessageDocument
	err := a.collection.FindOne(ctx, bson.M{"request_id": requestID.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, out.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get raw message: %w", err)
	}
	return toArchived(&doc)
}

func (a *RawArchiveAdapter) toDocument(requestID uuid.UUID, msg *domain.InboundMessage) (*rawMessageDocument, error) {
	now := a.now()
	body := []byte(msg.Body)
	doc := &rawMessageDocument{
		RequestID:      requestID.String(),
		Source:         msg.Source,
		MessageID:      msg.ID,
		From:           msg.From,
		Subject:        msg.Subject,
		Body:           body,
		OriginalSize:   len(body),
		AttachmentName: msg.AttachmentName,
		AttachmentSize: len(msg.Attachment),
		ReceivedAt:     msg.ReceivedAt,
		ArchivedAt:     now,
		ExpiresAt:      now.Add(a.retention),
	}
	if len(body) > compressionThreshold {
		compressed, err := compress(body)
		if err != nil {
			return nil, err
		}
		doc.Body = compressed
		doc.IsCompressed = true
	}
	return doc, nil
}

func toArchived(doc *rawMessageDocument) (*out.ArchivedMessage, error) {
	body := doc.Body
	if doc.IsCompressed {
		var err error
		if body, err = decompress(body); err != nil {
			return nil, fmt.Errorf("failed to decompress body: %w", err)
		}
	}
	return &out.ArchivedMessage{
		RequestID:      doc.RequestID,
		Source:         doc.Source,
		MessageID:      doc.MessageID,
		From:           doc.From,
		Subject:        doc.Subject,
		Body:           string(body),
		AttachmentName: doc.AttachmentName,
		AttachmentSize: doc.AttachmentSize,
		ReceivedAt:     doc.ReceivedAt,
		ArchivedAt:     doc.ArchivedAt,
	}, nil
}

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

var _ out.RawMessageArchive = (*RawArchiveAdapter)(nil)
