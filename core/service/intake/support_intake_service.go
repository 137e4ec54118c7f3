// Package intake turns inbound messages and form submissions into triaged requests and fans
// the result out to the auxiliary stores.
package intake

import (
	"context"
	"errors"
	"strings"

	"support_server/core/domain"
	"support_server/core/port/out"
	"support_server/core/service/extraction"
	"support_server/core/service/triage"
	"support_server/pkg/logger"
)

// ErrAlreadyProcessed is returned for a message that produced a request before.
var ErrAlreadyProcessed = errors.New("message already processed")

type Service struct {
	extractor *extraction.Extractor
	engine    *triage.Engine
	processed out.ProcessedStore
	publisher out.RequestPublisher
	archive   out.RawMessageArchive
	graph     out.CustomerGraph
	alerter   out.OperatorAlerter
	log       *logger.Logger
}

type Option func(*Service)

func WithProcessedStore(store out.ProcessedStore) Option {
	return func(s *Service) { s.processed = store }
}

func WithPublisher(p out.RequestPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithArchive(a out.RawMessageArchive) Option {
	return func(s *Service) { s.archive = a }
}

func WithGraph(g out.CustomerGraph) Option {
	return func(s *Service) { s.graph = g }
}

func WithAlerter(a out.OperatorAlerter) Option {
	return func(s *Service) { s.alerter = a }
}

func NewService(extractor *extraction.Extractor, engine *triage.Engine, opts ...Option) *Service {
	s := &Service{
		extractor: extractor,
		engine:    engine,
		log:       logger.WithField("component", "intake"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest converts one inbound message into a request. A non-nil request means it was
// persisted, even when an error is returned alongside it.
func (s *Service) Ingest(ctx context.Context, msg *domain.InboundMessage) (*domain.Request, error) {
	if s.processed != nil && msg.ID != "" {
		done, err := s.processed.IsProcessed(ctx, msg.Source, msg.ID)
		if err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("Processed-message lookup failed for %s/%s", msg.Source, msg.ID)
		} else if done {
			return nil, ErrAlreadyProcessed
		}
	}

	draft := s.draftFor(msg)
	req, err := s.engine.Create(ctx, draft)
	if req == nil {
		return nil, err
	}

	if s.processed != nil && msg.ID != "" {
		if markErr := s.processed.MarkProcessed(ctx, msg.Source, msg.ID); markErr != nil {
			s.log.WithContext(ctx).WithError(markErr).Warn("Failed to mark %s/%s processed", msg.Source, msg.ID)
		}
	}
	s.fanOut(ctx, req, msg)
	return req, err
}

// Submit creates a request from an already structured form submission.
func (s *Service) Submit(ctx context.Context, draft *domain.Draft) (*domain.Request, error) {
	if draft != nil {
		if draft.Source == "" {
			draft.Source = domain.SourceAPI
		}
		if draft.Category == "" {
			draft.Category = extraction.Classify(draft.Subject, draft.Body)
		}
	}
	req, err := s.engine.Create(ctx, draft)
	if req == nil {
		return nil, err
	}
	s.fanOut(ctx, req, nil)
	return req, err
}

func (s *Service) draftFor(msg *domain.InboundMessage) *domain.Draft {
	if msg.Draft == nil {
		return s.extractor.ExtractMessage(msg)
	}

	d := *msg.Draft
	d.IsForm = true
	d.Source = msg.Source
	d.SourceMessageID = msg.ID
	if strings.TrimSpace(d.Email) == "" {
		d.Email = s.extractor.Extract(msg.Subject, msg.Body, msg.From).Email
	}
	if d.Subject == "" {
		d.Subject = msg.Subject
	}
	if d.Body == "" {
		d.Body = msg.Body
	}
	if d.Category == "" {
		d.Category = extraction.Classify(d.Subject, d.Body)
	}
	return &d
}

// fanOut runs the best-effort side effects of a new request. Failures are logged only.
func (s *Service) fanOut(ctx context.Context, req *domain.Request, msg *domain.InboundMessage) {
	log := s.log.WithContext(ctx).WithField("request_id", req.ID.String())

	if s.publisher != nil {
		if err := s.publisher.PublishRequest(ctx, req); err != nil {
			log.WithError(err).Warn("Failed to publish request")
		}
	}
	if s.archive != nil && msg != nil {
		if err := s.archive.Archive(ctx, req.ID, msg); err != nil {
			log.WithError(err).Warn("Failed to archive raw message")
		}
	}
	if s.graph != nil {
		if err := s.graph.RecordRequest(ctx, req); err != nil {
			log.WithError(err).Warn("Failed to record request in customer graph")
		}
	}
	if s.alerter != nil && req.Status == domain.StatusOperatorReview {
		if err := s.alerter.AlertReview(ctx, req); err != nil {
			log.WithError(err).Warn("Failed to alert operators")
		}
	}
}
