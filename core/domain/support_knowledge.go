package domain

import (
	"strconv"
	"time"
)

// EmbeddingDimension is the length of every stored and query vector.
const EmbeddingDimension = 384

// DefaultDocumentCategory is used when an upload names no category.
const DefaultDocumentCategory = "General"

// KnowledgeCategories are the document categories offered to uploaders.
var KnowledgeCategories = []string{"General", "Technical", "Billing", "Account", "Product", "Legal"}

// KnowledgeChunk is a retrievable segment of a source document.
type KnowledgeChunk struct {
	PointID    string     `json:"point_id"`
	DocumentID string     `json:"document_id"`
	Filename   string     `json:"filename"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	ChunkIndex int        `json:"chunk_index"`
	Category   string     `json:"category"`
	Tags       []string   `json:"tags"`
	PageCount  int        `json:"page_count"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
	Embedding  []float32  `json:"-"`
}

// ChunkID is the composite identity of a chunk within its document.
func (c *KnowledgeChunk) ChunkID() string {
	return ChunkID(c.DocumentID, c.ChunkIndex)
}

func ChunkID(documentID string, index int) string {
	return documentID + "_chunk_" + strconv.Itoa(index)
}

// KnowledgeDocument is the representative record of an uploaded document.
type KnowledgeDocument struct {
	ID         string     `json:"id" db:"id"`
	Filename   string     `json:"filename" db:"filename"`
	Title      string     `json:"title" db:"title"`
	Category   string     `json:"category" db:"category"`
	Tags       []string   `json:"tags" db:"-"`
	PageCount  int        `json:"page_count" db:"page_count"`
	ChunkCount int        `json:"chunk_count" db:"chunk_count"`
	ObjectKey  string     `json:"object_key,omitempty" db:"object_key"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty" db:"uploaded_at"`
}

// SearchResult is one ranked hit of a knowledge query.
type SearchResult struct {
	DocumentID string   `json:"document_id"`
	Filename   string   `json:"filename"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	ChunkIndex int      `json:"chunk_index"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
	Score      float64  `json:"score"`
}

// UploadResult summarizes an ingested document.
type UploadResult struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Title      string `json:"title"`
	PageCount  int    `json:"page_count"`
	ChunkCount int    `json:"chunk_count"`
}
