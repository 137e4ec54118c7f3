package intake

import (
	"context"
	"errors"
	"sync"
	"testing"

	"support_server/adapter/out/persistence"
	"support_server/core/domain"
	"support_server/core/port/out"
	"support_server/core/service/extraction"
	"support_server/core/service/triage"
	"support_server/pkg/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNotifier struct{ err error }

func (n *stubNotifier) Send(ctx context.Context, to, subject, body string) error { return n.err }

type memoryProcessed struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryProcessed) IsProcessed(ctx context.Context, source, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[source+"/"+id], nil
}

func (m *memoryProcessed) MarkProcessed(ctx context.Context, source, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[source+"/"+id] = true
	return nil
}

type recorder struct {
	mu        sync.Mutex
	published []uuid.UUID
	archived  []uuid.UUID
	graphed   []uuid.UUID
	alerted   []uuid.UUID
	fail      bool
}

func (r *recorder) add(list *[]uuid.UUID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*list = append(*list, id)
	if r.fail {
		return errors.New("unavailable")
	}
	return nil
}

func (r *recorder) PublishRequest(ctx context.Context, req *domain.Request) error {
	return r.add(&r.published, req.ID)
}

func (r *recorder) Archive(ctx context.Context, id uuid.UUID, msg *domain.InboundMessage) error {
	return r.add(&r.archived, id)
}

func (r *recorder) Get(ctx context.Context, id uuid.UUID) (*out.ArchivedMessage, error) {
	return nil, out.ErrNotFound
}

func (r *recorder) RecordRequest(ctx context.Context, req *domain.Request) error {
	return r.add(&r.graphed, req.ID)
}

func (r *recorder) RelatedRequestIDs(ctx context.Context, req *domain.Request, limit int) ([]string, error) {
	return nil, nil
}

func (r *recorder) AlertReview(ctx context.Context, req *domain.Request) error {
	return r.add(&r.alerted, req.ID)
}

func newTestService(notifier *stubNotifier, rec *recorder) (*Service, *persistence.MemoryRequestRepository, *memoryProcessed) {
	repo := persistence.NewMemoryRequestRepository()
	processed := &memoryProcessed{seen: map[string]bool{}}
	svc := NewService(
		extraction.NewExtractor(),
		triage.NewEngine(repo, notifier),
		WithProcessedStore(processed),
		WithPublisher(rec),
		WithArchive(rec),
		WithGraph(rec),
		WithAlerter(rec),
	)
	return svc, repo, processed
}

func mailboxMessage(id string) *domain.InboundMessage {
	return &domain.InboundMessage{
		ID:      id,
		Source:  domain.SourceMailbox,
		From:    "Иван Петров <ivan@factory.ru>",
		Subject: "Ремонт прибора",
		Body:    "Организация: ООО Завод\nСерийный номер: SN-100\nПрибор не включается.",
	}
}

func TestIngest_MailboxMessage(t *testing.T) {
	rec := &recorder{}
	svc, repo, processed := newTestService(&stubNotifier{}, rec)
	ctx := context.Background()

	req, err := svc.Ingest(ctx, mailboxMessage("m-1"))
	require.NoError(t, err)
	require.NotNil(t, req)

	assert.Equal(t, "ivan@factory.ru", req.Email)
	assert.Equal(t, "ООО Завод", req.Organization)
	assert.Equal(t, "SN-100", req.SerialNumber)
	assert.Equal(t, domain.CategoryRepair, req.Category)
	assert.Equal(t, domain.StatusOperatorReview, req.Status)
	assert.Equal(t, "m-1", req.SourceMessageID)

	stored, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, stored.ID)

	assert.True(t, processed.seen["mailbox/m-1"])
	assert.Equal(t, []uuid.UUID{req.ID}, rec.published)
	assert.Equal(t, []uuid.UUID{req.ID}, rec.archived)
	assert.Equal(t, []uuid.UUID{req.ID}, rec.graphed)
	assert.Equal(t, []uuid.UUID{req.ID}, rec.alerted)
}

func TestIngest_SkipsProcessedMessage(t *testing.T) {
	svc, repo, _ := newTestService(&stubNotifier{}, &recorder{})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, mailboxMessage("m-2"))
	require.NoError(t, err)

	req, err := svc.Ingest(ctx, mailboxMessage("m-2"))
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Nil(t, req)

	n, err := repo.Count(ctx, domain.RequestFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIngest_SideEffectFailuresDoNotFail(t *testing.T) {
	rec := &recorder{fail: true}
	svc, _, _ := newTestService(&stubNotifier{}, rec)

	req, err := svc.Ingest(context.Background(), mailboxMessage("m-3"))
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Len(t, rec.published, 1)
	assert.Len(t, rec.alerted, 1)
}

func TestIngest_FormDraftAutoResolves(t *testing.T) {
	rec := &recorder{}
	svc, _, _ := newTestService(&stubNotifier{}, rec)
	confidence := 0.9

	req, err := svc.Ingest(context.Background(), &domain.InboundMessage{
		ID:     "f-1",
		Source: domain.SourceForm,
		Draft: &domain.Draft{
			Email:           "buyer@example.org",
			Organization:    "НИИ",
			Body:            "Нужна консультация",
			Confidence:      &confidence,
			GeneratedAnswer: "Спасибо, ответ во вложении.",
		},
	})
	require.NoError(t, err)

	assert.True(t, req.IsForm)
	assert.Equal(t, domain.StatusClosed, req.Status)
	assert.Equal(t, domain.CategoryConsultation, req.Category)
	assert.Empty(t, rec.alerted)
	assert.Len(t, rec.archived, 1)
}

func TestIngest_NotifierFailureStillPersists(t *testing.T) {
	rec := &recorder{}
	svc, _, processed := newTestService(&stubNotifier{err: errors.New("smtp down")}, rec)
	confidence := 0.95

	req, err := svc.Ingest(context.Background(), &domain.InboundMessage{
		ID:     "f-2",
		Source: domain.SourceForm,
		Draft:  &domain.Draft{Email: "a@b.c", Confidence: &confidence},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeDependencyError))
	require.NotNil(t, req)
	assert.Equal(t, domain.StatusAIGenerated, req.Status)
	assert.True(t, processed.seen["form/f-2"])
}

func TestSubmit(t *testing.T) {
	rec := &recorder{}
	svc, _, _ := newTestService(&stubNotifier{}, rec)

	req, err := svc.Submit(context.Background(), &domain.Draft{Email: "client@example.com", Subject: "Гарантия", IsForm: true})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceAPI, req.Source)
	assert.Equal(t, domain.CategoryWarranty, req.Category)
	assert.Empty(t, rec.archived)
	assert.Len(t, rec.published, 1)

	_, err = svc.Submit(context.Background(), &domain.Draft{})
	assert.True(t, apperr.IsCode(err, apperr.CodeMissingField))
}
