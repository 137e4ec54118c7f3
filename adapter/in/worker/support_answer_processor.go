package worker

import (
	"context"

	"support_server/adapter/out/messaging"
	"support_server/core/domain"
	"support_server/pkg/apperr"
	"support_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// AnswerSuggester drafts and stores an answer for a request.
type AnswerSuggester interface {
	Suggest(ctx context.Context, id uuid.UUID) (*domain.Request, error)
}

// AnswerProcessor handles request events from the requests stream. Only events for
// requests in operator review trigger answer generation.
type AnswerProcessor struct {
	answers AnswerSuggester
	log     *logger.Logger
}

func NewAnswerProcessor(answers AnswerSuggester) *AnswerProcessor {
	return &AnswerProcessor{
		answers: answers,
		log:     logger.WithField("component", "answer_processor"),
	}
}

var _ messaging.JobHandler = (*AnswerProcessor)(nil)

// Handle returns an error only for failures worth retrying. Malformed events and requests
// that no longer exist are dropped.
func (p *AnswerProcessor) Handle(ctx context.Context, stream string, data []byte) error {
	var event messaging.RequestEvent
	if err := json.Unmarshal(data, &event); err != nil {
		p.log.WithError(err).WithField("stream", stream).Warn("Dropping malformed request event")
		return nil
	}
	if event.Status != domain.StatusOperatorReview || event.RequestID == uuid.Nil {
		return nil
	}

	log := p.log.WithField("request_id", event.RequestID.String())
	req, err := p.answers.Suggest(ctx, event.RequestID)
	switch {
	case apperr.IsCode(err, apperr.CodeNotFound), apperr.IsCode(err, apperr.CodeInvalidState):
		log.WithError(err).Info("Request no longer needs an answer")
		return nil
	case err != nil:
		log.WithError(err).Warn("Answer generation failed")
		return err
	}
	log.Debug("Answer suggested (status %s)", req.Status)
	return nil
}
