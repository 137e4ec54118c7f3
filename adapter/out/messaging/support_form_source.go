package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"support_server/core/domain"
	"support_server/core/port/out"
	"support_server/pkg/logger"
)

// FormSubmission is a structured request posted by the public web form.
type FormSubmission struct {
	SubmissionID string    `json:"submission_id,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
	domain.Draft
}

// FormSourceConfig configures the form queue reader.
type FormSourceConfig struct {
	Stream   string
	Group    string
	Consumer string
	// MaxRetries is how often a pending submission is redelivered before it is dead-lettered.
	MaxRetries int
	// ClaimIdle is how long another consumer's pending entry must sit before it is taken over.
	ClaimIdle time.Duration
}

// FormSource reads form submissions from a Redis stream consumer group.
type FormSource struct {
	client *redis.Client
	cfg    FormSourceConfig
	log    *logger.Logger

	mu      sync.Mutex
	grouped bool
}

func NewFormSource(client *redis.Client, cfg FormSourceConfig) *FormSource {
	if cfg.Stream == "" {
		cfg.Stream = DefaultFormStream
	}
	if cfg.Group == "" {
		cfg.Group = "support-intake"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "intake"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 5 * time.Minute
	}
	return &FormSource{
		client: client,
		cfg:    cfg,
		log:    logger.WithField("component", "form_source").WithField("stream", cfg.Stream),
	}
}

func (s *FormSource) Name() string {
	return domain.SourceForm
}

// Fetch returns up to limit submissions: redelivered pending entries first, then new ones.
func (s *FormSource) Fetch(ctx context.Context, limit int) ([]*domain.InboundMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := s.ensureGroup(ctx); err != nil {
		return nil, err
	}

	entries, err := s.reclaim(ctx, limit)
	if err != nil {
		return nil, err
	}

	if remaining := limit - len(entries); remaining > 0 {
		fresh, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			Streams:  []string{s.cfg.Stream, ">"},
			Count:    int64(remaining),
			Block:    -1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read form stream: %w", err)
		}
		for _, st := range fresh {
			entries = append(entries, st.Messages...)
		}
	}

	msgs := make([]*domain.InboundMessage, 0, len(entries))
	for _, entry := range entries {
		msg, err := toInboundMessage(entry)
		if err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("Dropping malformed form submission %s", entry.ID)
			s.discard(ctx, entry)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Ack removes the submission from the group's pending list.
func (s *FormSource) Ack(ctx context.Context, msg *domain.InboundMessage) error {
	if msg == nil || msg.AckToken == "" {
		return fmt.Errorf("ack form submission: missing stream id")
	}
	return s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, msg.AckToken).Err()
}

func (s *FormSource) ensureGroup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grouped {
		return nil
	}
	if err := createGroup(ctx, s.client, s.cfg.Stream, s.cfg.Group); err != nil {
		return fmt.Errorf("create form consumer group: %w", err)
	}
	s.grouped = true
	return nil
}

// reclaim takes over pending entries owned by this consumer, or idle ones owned by others.
func (s *FormSource) reclaim(ctx context.Context, limit int) ([]redis.XMessage, error) {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.cfg.Stream,
		Group:  s.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  int64(limit),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pending form submissions: %w", err)
	}

	var ids []string
	for _, p := range pending {
		if p.Consumer != s.cfg.Consumer && p.Idle < s.cfg.ClaimIdle {
			continue
		}
		if int(p.RetryCount) >= s.cfg.MaxRetries {
			s.log.WithContext(ctx).Warn("Form submission %s exceeded %d deliveries, moving to DLQ", p.ID, s.cfg.MaxRetries)
			s.deadLetterByID(ctx, p.ID)
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Messages: ids,
	}).Result()
}

func (s *FormSource) deadLetterByID(ctx context.Context, id string) {
	entries, err := s.client.XRange(ctx, s.cfg.Stream, id, id).Result()
	if err != nil || len(entries) == 0 {
		s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, id)
		return
	}
	s.discard(ctx, entries[0])
}

func (s *FormSource) discard(ctx context.Context, entry redis.XMessage) {
	if err := deadLetter(ctx, s.client, s.cfg.Stream, s.cfg.Group, s.cfg.Consumer, entry); err != nil {
		s.log.WithContext(ctx).WithError(err).Error("Failed to dead-letter form submission %s", entry.ID)
	}
	if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, entry.ID).Err(); err != nil {
		s.log.WithContext(ctx).WithError(err).Error("Failed to ack form submission %s", entry.ID)
	}
}

func toInboundMessage(entry redis.XMessage) (*domain.InboundMessage, error) {
	data, err := messageData(entry)
	if err != nil {
		return nil, err
	}

	var sub FormSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decode form submission: %w", err)
	}

	id := sub.SubmissionID
	if id == "" {
		id = entry.ID
	}
	draft := sub.Draft
	draft.IsForm = true

	return &domain.InboundMessage{
		ID:             id,
		Source:         domain.SourceForm,
		From:           draft.Email,
		Subject:        draft.Subject,
		Body:           draft.Body,
		AttachmentName: draft.AttachmentName,
		Attachment:     draft.Attachment,
		ReceivedAt:     sub.SubmittedAt,
		Draft:          &draft,
		AckToken:       entry.ID,
	}, nil
}

var _ out.MessageSource = (*FormSource)(nil)
