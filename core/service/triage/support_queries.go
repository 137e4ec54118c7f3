package triage

import (
	"context"

	"support_server/core/domain"
)

const maxListLimit = 500

// List returns requests matching filter, newest first.
func (e *Engine) List(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, error) {
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	reqs, err := e.repo.List(ctx, filter)
	if err != nil {
		return nil, e.mapError(err, "list requests")
	}
	return reqs, nil
}

// ListPending returns requests still waiting for an operator.
func (e *Engine) ListPending(ctx context.Context) ([]*domain.Request, error) {
	return e.List(ctx, domain.RequestFilter{
		Statuses: []domain.RequestStatus{domain.StatusNew, domain.StatusOperatorReview},
	})
}

func (e *Engine) ListClosed(ctx context.Context) ([]*domain.Request, error) {
	return e.List(ctx, domain.RequestFilter{Statuses: []domain.RequestStatus{domain.StatusClosed}})
}

func (e *Engine) ListByOperator(ctx context.Context, operatorID string) ([]*domain.Request, error) {
	return e.List(ctx, domain.RequestFilter{OperatorID: operatorID})
}

// ListRecent returns requests created within the last days.
func (e *Engine) ListRecent(ctx context.Context, days int) ([]*domain.Request, error) {
	if days < 1 {
		days = 1
	}
	from := e.now().AddDate(0, 0, -days)
	return e.List(ctx, domain.RequestFilter{From: &from})
}

// Stats counts requests per status and per category. Every status and category is present.
func (e *Engine) Stats(ctx context.Context) (*domain.RequestStats, error) {
	rows, err := e.repo.CountByCategoryAndStatus(ctx)
	if err != nil {
		return nil, e.mapError(err, "count requests")
	}

	stats := &domain.RequestStats{
		ByStatus:   make(map[domain.RequestStatus]int64, len(domain.AllStatuses)),
		ByCategory: make(map[domain.RequestCategory]int64, len(domain.AllCategories)),
	}
	for _, s := range domain.AllStatuses {
		stats.ByStatus[s] = 0
	}
	for _, c := range domain.AllCategories {
		stats.ByCategory[c] = 0
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] += row.Total
		stats.ByCategory[row.Category] += row.Total
	}
	return stats, nil
}
