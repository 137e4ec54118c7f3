// Package knowledge implements the knowledge base: document ingestion into a similarity
// index and semantic retrieval over it.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"support_server/core/domain"
	in "support_server/core/port/in"
	"support_server/core/port/out"
	"support_server/pkg/apperr"
	"support_server/pkg/logger"

	"github.com/google/uuid"
)

const (
	DefaultFilename    = "document.pdf"
	DefaultSearchLimit = 5
	scrollPageSize     = 1000
)

// Payload keys stored with every chunk.
const (
	keyChunkID    = "chunk_id"
	keyDocumentID = "document_id"
	keyFilename   = "filename"
	keyTitle      = "title"
	keyContent    = "content"
	keyChunkIndex = "chunk_index"
	keyCategory   = "category"
	keyPageCount  = "page_count"
	keyUploadedAt = "uploaded_at"
	keyTags       = "tags"
)

// UploadCommand describes a document to ingest.
type UploadCommand = in.UploadDocument

type Service struct {
	index        out.SimilarityIndex
	embedder     out.Embedder
	chunker      *Chunker
	pdf          out.PDFExtractor
	docs         out.KnowledgeDocumentRepository
	objects      out.ObjectStore
	defaultLimit int
	now          func() time.Time
	log          *logger.Logger
}

type Option func(*Service)

func WithDocumentRepository(repo out.KnowledgeDocumentRepository) Option {
	return func(s *Service) { s.docs = repo }
}

func WithObjectStore(store out.ObjectStore) Option {
	return func(s *Service) { s.objects = store }
}

func WithDefaultLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.defaultLimit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(index out.SimilarityIndex, embedder out.Embedder, chunker *Chunker, pdf out.PDFExtractor, opts ...Option) *Service {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	s := &Service{
		index:        index,
		embedder:     embedder,
		chunker:      chunker,
		pdf:          pdf,
		defaultLimit: DefaultSearchLimit,
		now:          func() time.Time { return time.Now().UTC() },
		log:          logger.WithField("component", "knowledge"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Categories lists the document categories offered to uploaders.
func (s *Service) Categories() []string {
	return append([]string(nil), domain.KnowledgeCategories...)
}

func (s *Service) ensureCollection(ctx context.Context) error {
	if err := s.index.EnsureCollection(ctx); err != nil {
		return apperr.Dependency("similarity index", err)
	}
	return nil
}

// Upload extracts, chunks and embeds a PDF and writes all chunks to the index in one batch.
func (s *Service) Upload(ctx context.Context, cmd UploadCommand) (*domain.UploadResult, error) {
	if len(cmd.Data) == 0 {
		return nil, apperr.Input("file is empty")
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	text, pages, err := s.pdf.Extract(ctx, cmd.Data)
	if err != nil {
		return nil, apperr.InputWithError("cannot read PDF", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Input("no extractable text found in document")
	}

	chunks := s.chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil, apperr.Input("no extractable text found in document")
	}

	filename := strings.TrimSpace(cmd.Filename)
	if filename == "" {
		filename = DefaultFilename
	}
	filename = filepath.Base(filename)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	category := strings.TrimSpace(cmd.Category)
	if category == "" {
		category = domain.DefaultDocumentCategory
	}
	tags := cleanTags(cmd.Tags)

	docID := uuid.NewString()
	uploadedAt := s.now()

	points := make([]out.IndexPoint, 0, len(chunks))
	for i, chunk := range chunks {
		vec, err := s.embedder.Embed(ctx, chunk)
		if err != nil {
			return nil, apperr.Dependency("embedder", err)
		}
		points = append(points, out.IndexPoint{
			ID:     uuid.NewString(),
			Vector: vec,
			Payload: map[string]any{
				keyChunkID:    domain.ChunkID(docID, i),
				keyDocumentID: docID,
				keyFilename:   filename,
				keyTitle:      title,
				keyContent:    chunk,
				keyChunkIndex: i,
				keyCategory:   category,
				keyPageCount:  pages,
				keyUploadedAt: uploadedAt.Format(time.RFC3339),
				keyTags:       tags,
			},
		})
	}

	if err := s.index.Upsert(ctx, points); err != nil {
		return nil, apperr.Dependency("similarity index", err)
	}

	doc := &domain.KnowledgeDocument{
		ID:         docID,
		Filename:   filename,
		Title:      title,
		Category:   category,
		Tags:       tags,
		PageCount:  pages,
		ChunkCount: len(chunks),
		UploadedAt: &uploadedAt,
	}
	s.storeOriginal(ctx, doc, cmd.Data)

	if s.docs != nil {
		if err := s.docs.Save(ctx, doc); err != nil {
			if delErr := s.index.DeleteByFilter(ctx, out.IndexFilter{Key: keyDocumentID, Value: docID}); delErr != nil {
				s.log.WithError(delErr).Error("Failed to roll back chunks of document %s", docID)
			}
			return nil, apperr.DatabaseError("save document", err)
		}
	}

	s.log.WithFields(map[string]any{
		"document_id": docID,
		"chunks":      len(chunks),
		"pages":       pages,
	}).Info("Document %s indexed", filename)

	return &domain.UploadResult{
		DocumentID: docID,
		Filename:   filename,
		Title:      title,
		PageCount:  pages,
		ChunkCount: len(chunks),
	}, nil
}

func (s *Service) storeOriginal(ctx context.Context, doc *domain.KnowledgeDocument, data []byte) {
	if s.objects == nil {
		return
	}
	key := fmt.Sprintf("documents/%s/%s", doc.ID, doc.Filename)
	if err := s.objects.Put(ctx, key, data, "application/pdf"); err != nil {
		s.log.WithError(err).Warn("Failed to store original of document %s", doc.ID)
		return
	}
	doc.ObjectKey = key
}

// Search embeds query and returns hits in index rank order.
func (s *Service) Search(ctx context.Context, query string, limit int, category string) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Input("query is empty")
	}
	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit < 1 {
		limit = 1
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.Dependency("embedder", err)
	}

	var filter *out.IndexFilter
	if category = strings.TrimSpace(category); category != "" {
		filter = &out.IndexFilter{Key: keyCategory, Value: category}
	}

	hits, err := s.index.Search(ctx, vec, limit, filter)
	if err != nil {
		return nil, apperr.Dependency("similarity index", err)
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, hit := range hits {
		p := hit.Payload
		results = append(results, domain.SearchResult{
			DocumentID: payloadString(p, keyDocumentID),
			Filename:   payloadString(p, keyFilename),
			Title:      payloadString(p, keyTitle),
			Content:    payloadString(p, keyContent),
			ChunkIndex: payloadInt(p, keyChunkIndex),
			Category:   payloadString(p, keyCategory),
			Tags:       payloadStrings(p, keyTags),
			Score:      hit.Score,
		})
	}
	return results, nil
}

// ListDocuments groups stored chunks by document, newest upload first. Documents without an
// upload time sort last.
func (s *Service) ListDocuments(ctx context.Context) ([]*domain.KnowledgeDocument, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	points, err := s.index.Scroll(ctx, scrollPageSize)
	if err != nil {
		return nil, apperr.Dependency("similarity index", err)
	}

	byID := make(map[string]*domain.KnowledgeDocument)
	var docs []*domain.KnowledgeDocument
	for _, pt := range points {
		docID := payloadString(pt.Payload, keyDocumentID)
		if docID == "" {
			continue
		}
		if doc, ok := byID[docID]; ok {
			doc.ChunkCount++
			continue
		}
		category := payloadString(pt.Payload, keyCategory)
		if category == "" {
			category = domain.DefaultDocumentCategory
		}
		doc := &domain.KnowledgeDocument{
			ID:         docID,
			Filename:   payloadString(pt.Payload, keyFilename),
			Title:      payloadString(pt.Payload, keyTitle),
			Category:   category,
			Tags:       payloadStrings(pt.Payload, keyTags),
			PageCount:  payloadInt(pt.Payload, keyPageCount),
			UploadedAt: payloadTime(pt.Payload, keyUploadedAt),
			ChunkCount: 1,
		}
		byID[docID] = doc
		docs = append(docs, doc)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i].UploadedAt, docs[j].UploadedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return docs, nil
}

// DeleteDocument removes every chunk of a document in one filtered delete.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return apperr.MissingField("document_id")
	}

	var doc *domain.KnowledgeDocument
	if s.docs != nil {
		found, err := s.docs.GetByID(ctx, documentID)
		switch {
		case errors.Is(err, out.ErrNotFound):
			return apperr.NotFound("document")
		case err != nil:
			return apperr.DatabaseError("get document", err)
		}
		doc = found
	}

	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	if err := s.index.DeleteByFilter(ctx, out.IndexFilter{Key: keyDocumentID, Value: documentID}); err != nil {
		return apperr.Dependency("similarity index", err)
	}

	if doc != nil {
		if doc.ObjectKey != "" && s.objects != nil {
			if err := s.objects.Delete(ctx, doc.ObjectKey); err != nil {
				s.log.WithError(err).Warn("Failed to delete original of document %s", documentID)
			}
		}
		if err := s.docs.Delete(ctx, documentID); err != nil && !errors.Is(err, out.ErrNotFound) {
			return apperr.DatabaseError("delete document", err)
		}
	}

	s.log.WithField("document_id", documentID).Info("Document deleted")
	return nil
}

func cleanTags(tags []string) []string {
	result := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			result = append(result, t)
		}
	}
	return result
}
