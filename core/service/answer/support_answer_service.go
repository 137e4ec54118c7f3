// Package answer drafts knowledge-grounded answers for requests waiting on an operator.
package answer

import (
	"context"
	"strings"

	"support_server/core/domain"
	"support_server/core/port/out"
	"support_server/core/service/triage"
	"support_server/pkg/apperr"
	"support_server/pkg/logger"

	"github.com/google/uuid"
)

const (
	DefaultMaxContext = 4000
	DefaultHitLimit   = 5
)

// Searcher is the retrieval side of the knowledge base.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, category string) ([]domain.SearchResult, error)
}

type Service struct {
	engine     *triage.Engine
	searcher   Searcher
	generator  out.AnswerGenerator
	maxContext int
	hitLimit   int
	log        *logger.Logger
}

func NewService(engine *triage.Engine, searcher Searcher, generator out.AnswerGenerator) *Service {
	return &Service{
		engine:     engine,
		searcher:   searcher,
		generator:  generator,
		maxContext: DefaultMaxContext,
		hitLimit:   DefaultHitLimit,
		log:        logger.WithField("component", "answer"),
	}
}

// Suggest drafts an answer for an OPERATOR_REVIEW request and stores it. Requests in any
// other status are returned untouched.
func (s *Service) Suggest(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	req, err := s.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusOperatorReview {
		return req, nil
	}

	question := strings.TrimSpace(req.Subject + "\n\n" + req.Body)
	hits, err := s.searcher.Search(ctx, question, s.hitLimit, "")
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("Knowledge search failed for request %s, answering without context", id)
		hits = nil
	}
	hits = FitContext(hits, s.maxContext)

	answer, err := s.generator.GenerateAnswer(ctx, question, hits)
	if err != nil {
		return nil, apperr.Dependency("answer generator", err)
	}
	if strings.TrimSpace(answer) == "" {
		return req, nil
	}
	return s.engine.SuggestAnswer(ctx, id, answer, nil)
}

// FitContext keeps hits in rank order until their combined content reaches limit characters.
// The hit crossing the limit is truncated.
func FitContext(hits []domain.SearchResult, limit int) []domain.SearchResult {
	var result []domain.SearchResult
	remaining := limit
	for _, h := range hits {
		if remaining <= 0 {
			break
		}
		runes := []rune(h.Content)
		if len(runes) > remaining {
			h.Content = string(runes[:remaining])
		}
		remaining -= len([]rune(h.Content))
		result = append(result, h)
	}
	return result
}
