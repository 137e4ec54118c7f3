// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"errors"
	"time"

	"support_server/core/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when the id is unknown.
var ErrNotFound = errors.New("not found")

// RequestRepository persists customer requests.
type RequestRepository interface {
	Create(ctx context.Context, req *domain.Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error)

	// UpdateWithLock loads the request under an exclusive lock, applies fn and stores the
	// result. If fn returns an error nothing is written and the error is returned as is.
	UpdateWithLock(ctx context.Context, id uuid.UUID, fn func(req *domain.Request) error) (*domain.Request, error)

	List(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, error)
	Count(ctx context.Context, filter domain.RequestFilter) (int64, error)

	// Reporting
	CountByCategoryAndStatus(ctx context.Context) ([]domain.CategoryStatusCount, error)
	CountDailyFrom(ctx context.Context, from time.Time) ([]domain.DailyCount, error)
	CountClosedByAnswer(ctx context.Context) (approved int64, edited int64, err error)
}

// KnowledgeDocumentRepository persists document metadata next to the similarity index.
type KnowledgeDocumentRepository interface {
	Save(ctx context.Context, doc *domain.KnowledgeDocument) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error)
	Delete(ctx context.Context, id string) error
}
