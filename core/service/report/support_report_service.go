package report

import (
	"context"
	"math"
	"strconv"
	"time"

	"support_server/core/domain"
	"support_server/core/port/out"
	"support_server/pkg/apperr"
	"support_server/pkg/logger"
)

const (
	MinDays     = 1
	MaxDays     = 365
	DefaultDays = 30

	dayFormat = "02.01"
)

type Service struct {
	repo     out.RequestRepository
	cache    out.Cache
	cacheTTL time.Duration
	now      func() time.Time
	log      *logger.Logger
}

type Option func(*Service)

// WithCache enables caching of dashboard results for ttl.
func WithCache(cache out.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo out.RequestRepository, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
		log:  logger.WithField("component", "report"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type counters struct {
	total   int64
	pending int64
}

// Dashboard aggregates persisted requests over the last days, including today.
func (s *Service) Dashboard(ctx context.Context, days int) (*domain.DashboardAnalytics, error) {
	days = ClampDays(days)
	key := "analytics:dashboard:" + strconv.Itoa(days)

	if s.cache != nil {
		var cached domain.DashboardAnalytics
		found, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.log.WithError(err).Warn("Dashboard cache read failed")
		} else if found {
			return &cached, nil
		}
	}

	result, err := s.build(ctx, days)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.SetJSON(ctx, key, result, s.cacheTTL); err != nil {
			s.log.WithError(err).Warn("Dashboard cache write failed")
		}
	}
	return result, nil
}

// ClampDays bounds a requested window to [MinDays, MaxDays].
func ClampDays(days int) int {
	if days < MinDays {
		return MinDays
	}
	if days > MaxDays {
		return MaxDays
	}
	return days
}

func (s *Service) build(ctx context.Context, days int) (*domain.DashboardAnalytics, error) {
	grouped, err := s.repo.CountByCategoryAndStatus(ctx)
	if err != nil {
		return nil, apperr.DatabaseError("count requests", err)
	}
	closedApproved, edited, err := s.repo.CountClosedByAnswer(ctx)
	if err != nil {
		return nil, apperr.DatabaseError("count closed requests", err)
	}

	byCategory := make(map[domain.RequestCategory]*counters, len(domain.AllCategories))
	for _, c := range domain.AllCategories {
		byCategory[c] = &counters{}
	}

	var total, pending, autoAnswered int64
	for _, row := range grouped {
		category := row.Category
		if _, ok := byCategory[category]; !ok {
			category = domain.CategoryOther
		}
		c := byCategory[category]
		c.total += row.Total
		total += row.Total

		switch {
		case row.Status.IsPending():
			c.pending += row.Total
			pending += row.Total
		case row.Status == domain.StatusAIGenerated:
			autoAnswered += row.Total
		}
	}
	approved := closedApproved + autoAnswered

	series, err := s.timeSeries(ctx, days)
	if err != nil {
		return nil, err
	}

	result := &domain.DashboardAnalytics{
		Summary: domain.AnalyticsSummary{
			Total:    total,
			Pending:  pending,
			Approved: approved,
			Edited:   edited,
		},
		ByCategory: []domain.NameValue{},
		ByStatus: []domain.NameValue{
			{Name: "Pending", Value: pending},
			{Name: "Approved", Value: approved},
			{Name: "Edited", Value: edited},
		},
		TimeSeries:        series,
		DetailsByCategory: []domain.CategoryDetail{},
	}

	for _, category := range domain.AllCategories {
		c := byCategory[category]
		if c.total == 0 {
			continue
		}
		processed := c.total - c.pending
		result.ByCategory = append(result.ByCategory, domain.NameValue{Name: category.Label(), Value: c.total})
		result.DetailsByCategory = append(result.DetailsByCategory, domain.CategoryDetail{
			Category:       category.Label(),
			Total:          c.total,
			Pending:        c.pending,
			Processed:      processed,
			ProcessingRate: processingRate(processed, c.total),
		})
	}
	return result, nil
}

func (s *Service) timeSeries(ctx context.Context, days int) ([]domain.DailyPoint, error) {
	now := s.now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -(days - 1))

	rows, err := s.repo.CountDailyFrom(ctx, start)
	if err != nil {
		return nil, apperr.DatabaseError("count daily requests", err)
	}
	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.Day.UTC().Format(time.DateOnly)] += row.Total
	}

	points := make([]domain.DailyPoint, 0, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		points = append(points, domain.DailyPoint{
			Date:     day.Format(dayFormat),
			Requests: totals[day.Format(time.DateOnly)],
		})
	}
	return points, nil
}

// processingRate is a percentage rounded to one decimal.
func processingRate(processed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(processed)/float64(total)*1000) / 10
}
