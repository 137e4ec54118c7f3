// Package triage owns the request lifecycle: confidence-gated routing at creation and the
// operator actions that close a request.
package triage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"support_server/core/domain"
	"support_server/core/port/out"
	"support_server/pkg/apperr"
	"support_server/pkg/logger"

	"github.com/google/uuid"
)

const (
	// DefaultConfidence applies when a draft carries no score. It sits below the threshold,
	// so unscored input goes to an operator.
	DefaultConfidence = 0.55

	// AutoResolveThreshold is inclusive on the auto-resolve side.
	AutoResolveThreshold = 0.60

	DefaultAnswer  = "Здравствуйте! Спасибо за обращение. Ваш запрос получен, мы подготовили рекомендации и скоро свяжемся с вами."
	DefaultSubject = "Обращение по продукции"
	NotifySubject  = "Ответ по вашему обращению"

	defaultNotifyTimeout = 30 * time.Second
)

// Engine drives request state transitions. Every transition into CLOSED notifies the customer
// first and is written only if the notification succeeded.
type Engine struct {
	repo          out.RequestRepository
	notifier      out.Notifier
	notifyTimeout time.Duration
	now           func() time.Time
	log           *logger.Logger
}

type Option func(*Engine)

func WithNotifyTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.notifyTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(repo out.RequestRepository, notifier out.Notifier, opts ...Option) *Engine {
	e := &Engine{
		repo:          repo,
		notifier:      notifier,
		notifyTimeout: defaultNotifyTimeout,
		now:           func() time.Time { return time.Now().UTC() },
		log:           logger.WithField("component", "triage"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpdateCommand carries an operator edit.
type UpdateCommand = domain.OperatorEdit

// Create persists a request built from draft and routes it by confidence. A request at or
// above the threshold is closed right away; if that notification fails the request stays
// AI_GENERATED and is returned together with the error.
func (e *Engine) Create(ctx context.Context, draft *domain.Draft) (*domain.Request, error) {
	if draft == nil {
		return nil, apperr.MissingField("draft")
	}
	if strings.TrimSpace(draft.Email) == "" {
		return nil, apperr.MissingField("email")
	}

	req := e.buildRequest(draft)

	if req.Confidence >= AutoResolveThreshold {
		req.Status = domain.StatusAIGenerated
		if strings.TrimSpace(req.OperatorAnswer) == "" {
			req.OperatorAnswer = req.GeneratedAnswer
		}
		if err := e.repo.Create(ctx, req); err != nil {
			return nil, apperr.DatabaseError("create request", err)
		}

		closed, err := e.close(ctx, req.ID, func(r *domain.Request) (string, error) {
			return r.GeneratedAnswer, nil
		})
		if err != nil {
			e.log.WithContext(ctx).WithError(err).
				WithField("request_id", req.ID.String()).
				Warn("Auto-close failed, request left as %s", req.Status)
			return req, err
		}
		e.log.WithContext(ctx).WithField("request_id", req.ID.String()).
			Info("Request auto-resolved (confidence %.2f)", req.Confidence)
		return closed, nil
	}

	req.Status = domain.StatusOperatorReview
	if err := e.repo.Create(ctx, req); err != nil {
		return nil, apperr.DatabaseError("create request", err)
	}
	e.log.WithContext(ctx).WithField("request_id", req.ID.String()).
		Info("Request routed to operator review (confidence %.2f)", req.Confidence)
	return req, nil
}

func (e *Engine) buildRequest(d *domain.Draft) *domain.Request {
	confidence := DefaultConfidence
	if d.Confidence != nil && !math.IsNaN(*d.Confidence) {
		confidence = math.Max(0, math.Min(1, *d.Confidence))
	}

	answer := strings.TrimSpace(d.GeneratedAnswer)
	if answer == "" {
		answer = DefaultAnswer
	}

	subject := strings.TrimSpace(d.Subject)
	if subject == "" {
		subject = strings.TrimSpace(d.Project)
	}
	if subject == "" {
		subject = DefaultSubject
	}

	body := d.Body
	if strings.TrimSpace(body) == "" {
		body = summarize(d)
	}

	category := d.Category
	if category == "" {
		category = domain.CategoryOther
	}

	now := e.now()
	return &domain.Request{
		ID:              uuid.New(),
		Email:           strings.TrimSpace(d.Email),
		Organization:    d.Organization,
		FullName:        d.FullName,
		Phone:           d.Phone,
		DeviceType:      d.DeviceType,
		SerialNumber:    d.SerialNumber,
		Category:        category,
		Project:         d.Project,
		INN:             d.INN,
		CountryRegion:   d.CountryRegion,
		AttachmentName:  d.AttachmentName,
		Attachment:      d.Attachment,
		Subject:         subject,
		Body:            body,
		GeneratedAnswer: answer,
		OperatorAnswer:  d.OperatorAnswer,
		Confidence:      confidence,
		Status:          domain.StatusNew,
		IsForm:          d.IsForm,
		Source:          d.Source,
		SourceMessageID: d.SourceMessageID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func summarize(d *domain.Draft) string {
	orNA := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "Не указано"
		}
		return s
	}
	return fmt.Sprintf("Клиент: %s, организация: %s, тип прибора: %s, серийный номер: %s",
		orNA(d.FullName), orNA(d.Organization), orNA(d.DeviceType), orNA(d.SerialNumber))
}

// Approve closes a request with the operator's answer, defaulting it to the generated one.
func (e *Engine) Approve(ctx context.Context, id uuid.UUID, operatorID string) (*domain.Request, error) {
	return e.close(ctx, id, func(r *domain.Request) (string, error) {
		if r.Status != domain.StatusOperatorReview && r.Status != domain.StatusAIGenerated {
			return "", apperr.InvalidState(fmt.Sprintf("cannot approve request in status %s", r.Status))
		}
		r.OperatorID = operatorID
		if strings.TrimSpace(r.OperatorAnswer) == "" {
			r.OperatorAnswer = r.GeneratedAnswer
		}
		return r.OperatorAnswer, nil
	})
}

// Update records an operator edit and puts the request back into operator review.
func (e *Engine) Update(ctx context.Context, id uuid.UUID, cmd UpdateCommand) (*domain.Request, error) {
	updated, err := e.repo.UpdateWithLock(ctx, id, func(r *domain.Request) error {
		if r.Status.IsTerminal() {
			return apperr.InvalidState("request is already closed")
		}
		r.OperatorAnswer = cmd.OperatorAnswer
		r.OperatorNotes = cmd.OperatorNotes
		r.OperatorID = cmd.OperatorID
		r.Status = domain.StatusOperatorReview
		r.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return nil, e.mapError(err, "update request")
	}
	return updated, nil
}

// Send delivers the operator answer, or the generated one, and closes the request.
func (e *Engine) Send(ctx context.Context, id uuid.UUID, operatorID string) (*domain.Request, error) {
	return e.close(ctx, id, func(r *domain.Request) (string, error) {
		if operatorID != "" {
			r.OperatorID = operatorID
		}
		answer := r.OutgoingAnswer()
		if strings.TrimSpace(answer) == "" {
			return "", apperr.Input("request has no answer to send")
		}
		return answer, nil
	})
}

// SuggestAnswer stores a downstream-generated answer on an open request without changing its
// status. An operator answer that still mirrors the previous suggestion follows along.
func (e *Engine) SuggestAnswer(ctx context.Context, id uuid.UUID, answer string, confidence *float64) (*domain.Request, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, apperr.Input("answer is empty")
	}
	updated, err := e.repo.UpdateWithLock(ctx, id, func(r *domain.Request) error {
		if r.Status.IsTerminal() {
			return apperr.InvalidState("request is already closed")
		}
		if r.OperatorAnswer == "" || r.OperatorAnswer == r.GeneratedAnswer {
			r.OperatorAnswer = answer
		}
		r.GeneratedAnswer = answer
		if confidence != nil && !math.IsNaN(*confidence) {
			r.Confidence = math.Max(0, math.Min(1, *confidence))
		}
		r.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return nil, e.mapError(err, "suggest answer")
	}
	return updated, nil
}

// close runs the auto-close side effect under the repository lock: resolve the answer,
// notify, then mark CLOSED. Any failure leaves the stored request untouched.
func (e *Engine) close(ctx context.Context, id uuid.UUID, resolve func(r *domain.Request) (string, error)) (*domain.Request, error) {
	closed, err := e.repo.UpdateWithLock(ctx, id, func(r *domain.Request) error {
		if r.Status.IsTerminal() {
			return apperr.InvalidState("request is already closed")
		}
		answer, err := resolve(r)
		if err != nil {
			return err
		}
		if err := e.notify(ctx, r.Email, answer); err != nil {
			return err
		}
		now := e.now()
		r.Status = domain.StatusClosed
		r.RespondedAt = &now
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, e.mapError(err, "close request")
	}
	return closed, nil
}

func (e *Engine) notify(ctx context.Context, to, answer string) error {
	if e.notifier == nil {
		return apperr.Dependency("notifier", errors.New("no notifier configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
	defer cancel()

	if err := e.notifier.Send(ctx, to, NotifySubject, answer); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Dependency("notifier", fmt.Errorf("send timed out after %s: %w", e.notifyTimeout, err))
		}
		return apperr.Dependency("notifier", err)
	}
	return nil
}

func (e *Engine) mapError(err error, op string) error {
	switch {
	case errors.Is(err, out.ErrNotFound):
		return apperr.NotFound("request")
	case apperr.IsAppError(err):
		return err
	default:
		return apperr.DatabaseError(op, err)
	}
}

// Get returns a request by id.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	req, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, e.mapError(err, "get request")
	}
	return req, nil
}
