package in

import (
	"context"

	"support_server/core/domain"

	"github.com/google/uuid"
)

// RequestService is the operator-facing side of the triage workflow.
type RequestService interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Request, error)
	List(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, error)
	ListPending(ctx context.Context) ([]*domain.Request, error)
	ListClosed(ctx context.Context) ([]*domain.Request, error)
	ListByOperator(ctx context.Context, operatorID string) ([]*domain.Request, error)
	Stats(ctx context.Context) (*domain.RequestStats, error)

	Approve(ctx context.Context, id uuid.UUID, operatorID string) (*domain.Request, error)
	Update(ctx context.Context, id uuid.UUID, edit domain.OperatorEdit) (*domain.Request, error)
	Send(ctx context.Context, id uuid.UUID, operatorID string) (*domain.Request, error)
}

// IntakeService creates requests from already structured submissions.
type IntakeService interface {
	Submit(ctx context.Context, draft *domain.Draft) (*domain.Request, error)
}

// UploadDocument describes a knowledge document to ingest.
type UploadDocument struct {
	Filename string
	Data     []byte
	Category string
	Tags     []string
}

type KnowledgeService interface {
	Upload(ctx context.Context, doc UploadDocument) (*domain.UploadResult, error)
	Search(ctx context.Context, query string, limit int, category string) ([]domain.SearchResult, error)
	ListDocuments(ctx context.Context) ([]*domain.KnowledgeDocument, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Categories() []string
}

type AnalyticsService interface {
	Dashboard(ctx context.Context, days int) (*domain.DashboardAnalytics, error)
}
