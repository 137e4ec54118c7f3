package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"support_server/adapter/out/persistence"
	"support_server/adapter/out/vectordb"
	"support_server/core/domain"
	"support_server/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePDF treats the uploaded bytes as the document text.
type fakePDF struct {
	pages int
	err   error
}

func (f *fakePDF) Extract(ctx context.Context, data []byte) (string, int, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	return string(data), f.pages, nil
}

type fakeObjectStore struct {
	objects map[string][]byte
}

func (s *fakeObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.objects[key] = data
	return nil
}

func (s *fakeObjectStore) Delete(ctx context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, *vectordb.MemoryIndex) {
	t.Helper()
	index := vectordb.NewMemoryIndex(domain.EmbeddingDimension)
	clock := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})}, opts...)
	svc := NewService(index, NewHashEmbedder(), NewChunker(1000, 200), &fakePDF{pages: 3}, opts...)
	return svc, index
}

func TestUpload_ChunksAndIndexes(t *testing.T) {
	svc, index := newTestService(t)
	ctx := context.Background()

	result, err := svc.Upload(ctx, UploadCommand{
		Filename: "manual.pdf",
		Data:     []byte(strings.Repeat("a", 2500)),
		Category: "Technical",
		Tags:     []string{" sensor ", "", "calibration"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.DocumentID)
	assert.Equal(t, "manual.pdf", result.Filename)
	assert.Equal(t, "manual", result.Title)
	assert.Equal(t, 3, result.PageCount)
	assert.Equal(t, 3, result.ChunkCount)
	assert.Equal(t, 3, index.Len())

	points, err := index.Scroll(ctx, 10)
	require.NoError(t, err)
	for i, p := range points {
		assert.Equal(t, domain.ChunkID(result.DocumentID, i), p.Payload["chunk_id"])
		assert.Equal(t, i, p.Payload["chunk_index"])
		assert.Equal(t, "Technical", p.Payload["category"])
		assert.Equal(t, []string{"sensor", "calibration"}, p.Payload["tags"])
		assert.Len(t, p.Vector, domain.EmbeddingDimension)
	}
}

func TestUpload_Defaults(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.Upload(context.Background(), UploadCommand{Data: []byte("Короткий документ.")})
	require.NoError(t, err)
	assert.Equal(t, DefaultFilename, result.Filename)
	assert.Equal(t, "document", result.Title)
	assert.Equal(t, 1, result.ChunkCount)

	docs, err := svc.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, domain.DefaultDocumentCategory, docs[0].Category)
	assert.Empty(t, docs[0].Tags)
}

func TestUpload_RejectsUnusableInput(t *testing.T) {
	ctx := context.Background()

	svc, index := newTestService(t)
	_, err := svc.Upload(ctx, UploadCommand{Filename: "empty.pdf"})
	assert.True(t, apperr.IsCode(err, apperr.CodeInputError))

	_, err = svc.Upload(ctx, UploadCommand{Filename: "blank.pdf", Data: []byte("  \n ")})
	assert.True(t, apperr.IsCode(err, apperr.CodeInputError))

	broken := NewService(index, NewHashEmbedder(), nil, &fakePDF{err: errors.New("malformed xref")})
	_, err = broken.Upload(ctx, UploadCommand{Filename: "broken.pdf", Data: []byte("%PDF")})
	assert.True(t, apperr.IsCode(err, apperr.CodeInputError))

	assert.Zero(t, index.Len())
}

func TestSearch_CategoryFilterAndLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, UploadCommand{Filename: "tech.pdf", Data: []byte(strings.Repeat("t", 2500)), Category: "Technical"})
	require.NoError(t, err)
	_, err = svc.Upload(ctx, UploadCommand{Filename: "bill.pdf", Data: []byte("Оплата по счету."), Category: "Billing"})
	require.NoError(t, err)

	hits, err := svc.Search(ctx, "оплата", 10, "Billing")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "bill.pdf", hits[0].Filename)
	assert.Equal(t, "Оплата по счету.", hits[0].Content)

	hits, err = svc.Search(ctx, "что угодно", -3, "")
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = svc.Search(ctx, "что угодно", 2, "")
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestSearch_ExactTextRanksFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, UploadCommand{Filename: "a.pdf", Data: []byte("Первый документ.")})
	require.NoError(t, err)
	_, err = svc.Upload(ctx, UploadCommand{Filename: "b.pdf", Data: []byte("Второй документ.")})
	require.NoError(t, err)

	hits, err := svc.Search(ctx, "Второй документ.", 2, "")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "b.pdf", hits[0].Filename)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)
}

func TestSearch_EmptyQuery(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Search(context.Background(), "   ", 5, "")
	assert.True(t, apperr.IsCode(err, apperr.CodeInputError))
}

func TestListDocuments_GroupsAndOrders(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Upload(ctx, UploadCommand{Filename: "first.pdf", Data: []byte(strings.Repeat("a", 2500))})
	require.NoError(t, err)
	second, err := svc.Upload(ctx, UploadCommand{Filename: "second.pdf", Data: []byte("Один фрагмент.")})
	require.NoError(t, err)

	docs, err := svc.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, second.DocumentID, docs[0].ID)
	assert.Equal(t, 1, docs[0].ChunkCount)
	assert.Equal(t, first.DocumentID, docs[1].ID)
	assert.Equal(t, 3, docs[1].ChunkCount)
	assert.Equal(t, 3, docs[1].PageCount)
	require.NotNil(t, docs[1].UploadedAt)
}

func TestDeleteDocument_RemovesOnlyThatDocument(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{}}
	svc, index := newTestService(t, WithObjectStore(store))
	ctx := context.Background()

	keep, err := svc.Upload(ctx, UploadCommand{Filename: "keep.pdf", Data: []byte(strings.Repeat("k", 2500))})
	require.NoError(t, err)
	drop, err := svc.Upload(ctx, UploadCommand{Filename: "drop.pdf", Data: []byte(strings.Repeat("d", 2500))})
	require.NoError(t, err)
	assert.Len(t, store.objects, 2)

	require.NoError(t, svc.DeleteDocument(ctx, drop.DocumentID))
	assert.Equal(t, 3, index.Len())

	docs, err := svc.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, keep.DocumentID, docs[0].ID)

	hits, err := svc.Search(ctx, strings.Repeat("d", 1000), 10, "")
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, keep.DocumentID, h.DocumentID)
	}
}

func TestDeleteDocument_MissingID(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.DeleteDocument(context.Background(), " ")
	assert.True(t, apperr.IsCode(err, apperr.CodeMissingField))
}

func TestCategories(t *testing.T) {
	svc, _ := newTestService(t)

	cats := svc.Categories()
	assert.Contains(t, cats, "General")
	assert.Contains(t, cats, "Legal")

	cats[0] = "changed"
	assert.Equal(t, "General", svc.Categories()[0])
}

func TestDeleteDocument_UnknownWithMetadataStore(t *testing.T) {
	docs := persistence.NewMemoryDocumentRepository()
	svc, _ := newTestService(t, WithDocumentRepository(docs))
	ctx := context.Background()

	result, err := svc.Upload(ctx, UploadCommand{Filename: "spec.pdf", Data: []byte("Технические данные."), Tags: []string{"ТД"}})
	require.NoError(t, err)

	saved, err := docs.GetByID(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ТД"}, saved.Tags)
	assert.Equal(t, 1, saved.ChunkCount)

	err = svc.DeleteDocument(ctx, "does-not-exist")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	require.NoError(t, svc.DeleteDocument(ctx, result.DocumentID))
	_, err = docs.GetByID(ctx, result.DocumentID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}
