package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"support_server/core/domain"
	"support_server/core/port/out"

	"github.com/google/uuid"
)

// MemoryRequestRepository is an in-process RequestRepository used by tests and local runs.
type MemoryRequestRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*domain.Request
}

var _ out.RequestRepository = (*MemoryRequestRepository)(nil)

func NewMemoryRequestRepository() *MemoryRequestRepository {
	return &MemoryRequestRepository{items: make(map[uuid.UUID]*domain.Request)}
}

func (r *MemoryRequestRepository) Create(ctx context.Context, req *domain.Request) error {
	if req == nil || req.ID == uuid.Nil {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[req.ID]; exists {
		return ErrDuplicate
	}
	r.items[req.ID] = req.Clone()
	return nil
}

func (r *MemoryRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return req.Clone(), nil
}

// UpdateWithLock holds the write lock while fn runs, so concurrent readers see either the
// previous or the fully updated request.
func (r *MemoryRequestRepository) UpdateWithLock(ctx context.Context, id uuid.UUID, fn func(req *domain.Request) error) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	r.items[id] = working.Clone()
	return working, nil
}

func (r *MemoryRequestRepository) List(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Request
	for _, req := range r.items {
		if matches(req, filter) {
			result = append(result, req.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*domain.Request{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *MemoryRequestRepository) Count(ctx context.Context, filter domain.RequestFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, req := range r.items {
		if matches(req, filter) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRequestRepository) CountByCategoryAndStatus(ctx context.Context) ([]domain.CategoryStatusCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type key struct {
		c domain.RequestCategory
		s domain.RequestStatus
	}
	counts := make(map[key]int64)
	for _, req := range r.items {
		counts[key{req.Category, req.Status}]++
	}

	result := make([]domain.CategoryStatusCount, 0, len(counts))
	for k, v := range counts {
		result = append(result, domain.CategoryStatusCount{Category: k.c, Status: k.s, Total: v})
	}
	return result, nil
}

func (r *MemoryRequestRepository) CountDailyFrom(ctx context.Context, from time.Time) ([]domain.DailyCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[time.Time]int64)
	for _, req := range r.items {
		if req.CreatedAt.Before(from) {
			continue
		}
		counts[truncateDay(req.CreatedAt)]++
	}

	result := make([]domain.DailyCount, 0, len(counts))
	for day, total := range counts {
		result = append(result, domain.DailyCount{Day: day, Total: total})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Day.Before(result[j].Day) })
	return result, nil
}

func (r *MemoryRequestRepository) CountClosedByAnswer(ctx context.Context) (int64, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var approved, edited int64
	for _, req := range r.items {
		if req.Status != domain.StatusClosed {
			continue
		}
		if req.OperatorAnswer == "" || req.OperatorAnswer == req.GeneratedAnswer {
			approved++
		} else {
			edited++
		}
	}
	return approved, edited, nil
}

func matches(req *domain.Request, f domain.RequestFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if req.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Category != "" && req.Category != f.Category {
		return false
	}
	if f.OperatorID != "" && req.OperatorID != f.OperatorID {
		return false
	}
	if f.From != nil && req.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !req.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
