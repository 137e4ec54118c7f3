package persistence

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"support_server/core/domain"
	"support_server/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DocumentAdapter stores knowledge document metadata.
type DocumentAdapter struct {
	db *sqlx.DB
}

var _ out.KnowledgeDocumentRepository = (*DocumentAdapter)(nil)

func NewDocumentAdapter(db *sqlx.DB) *DocumentAdapter {
	return &DocumentAdapter{db: db}
}

type documentRow struct {
	ID         string         `db:"id"`
	Filename   string         `db:"filename"`
	Title      string         `db:"title"`
	Category   string         `db:"category"`
	Tags       pq.StringArray `db:"tags"`
	PageCount  int            `db:"page_count"`
	ChunkCount int            `db:"chunk_count"`
	ObjectKey  string         `db:"object_key"`
	UploadedAt sql.NullTime   `db:"uploaded_at"`
}

func (a *DocumentAdapter) Save(ctx context.Context, doc *domain.KnowledgeDocument) error {
	row := documentRow{
		ID:         doc.ID,
		Filename:   doc.Filename,
		Title:      doc.Title,
		Category:   doc.Category,
		Tags:       pq.StringArray(doc.Tags),
		PageCount:  doc.PageCount,
		ChunkCount: doc.ChunkCount,
		ObjectKey:  doc.ObjectKey,
	}
	if row.Tags == nil {
		row.Tags = pq.StringArray{}
	}
	if doc.UploadedAt != nil {
		row.UploadedAt = sql.NullTime{Time: *doc.UploadedAt, Valid: true}
	}

	_, err := a.db.NamedExecContext(ctx, `
		INSERT INTO knowledge_documents
			(id, filename, title, category, tags, page_count, chunk_count, object_key, uploaded_at)
		VALUES
			(:id, :filename, :title, :category, :tags, :page_count, :chunk_count, :object_key, :uploaded_at)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename, title = EXCLUDED.title, category = EXCLUDED.category,
			tags = EXCLUDED.tags, page_count = EXCLUDED.page_count, chunk_count = EXCLUDED.chunk_count,
			object_key = EXCLUDED.object_key, uploaded_at = EXCLUDED.uploaded_at`, row)
	return err
}

func (a *DocumentAdapter) GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	var row documentRow
	err := a.db.GetContext(ctx, &row, `
		SELECT id, filename, title, category, tags, page_count, chunk_count, object_key, uploaded_at
		FROM knowledge_documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	doc := &domain.KnowledgeDocument{
		ID:         row.ID,
		Filename:   row.Filename,
		Title:      row.Title,
		Category:   row.Category,
		Tags:       []string(row.Tags),
		PageCount:  row.PageCount,
		ChunkCount: row.ChunkCount,
		ObjectKey:  row.ObjectKey,
	}
	if row.UploadedAt.Valid {
		t := row.UploadedAt.Time.UTC()
		doc.UploadedAt = &t
	}
	return doc, nil
}

func (a *DocumentAdapter) Delete(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM knowledge_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryDocumentRepository keeps document metadata in process memory.
type MemoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]domain.KnowledgeDocument
}

var _ out.KnowledgeDocumentRepository = (*MemoryDocumentRepository)(nil)

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{docs: make(map[string]domain.KnowledgeDocument)}
}

func (m *MemoryDocumentRepository) Save(ctx context.Context, doc *domain.KnowledgeDocument) error {
	c := *doc
	c.Tags = append([]string{}, doc.Tags...)
	if doc.UploadedAt != nil {
		t := *doc.UploadedAt
		c.UploadedAt = &t
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = c
	return nil
}

func (m *MemoryDocumentRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	doc.Tags = append([]string{}, doc.Tags...)
	return &doc, nil
}

func (m *MemoryDocumentRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}
