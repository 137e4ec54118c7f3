package out

import "context"

// SimilarityIndex is the vector store holding knowledge chunks.
// Implementations: Qdrant REST, pgvector, process memory.
type SimilarityIndex interface {
	// EnsureCollection creates the collection when missing. Concurrent creation must be tolerated.
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []IndexPoint) error
	// Search returns hits in index rank order.
	Search(ctx context.Context, vector []float32, limit int, filter *IndexFilter) ([]ScoredPoint, error)
	// Scroll returns every stored point, fetching pageSize points per round trip.
	Scroll(ctx context.Context, pageSize int) ([]IndexPoint, error)
	DeleteByFilter(ctx context.Context, filter IndexFilter) error
}

// IndexPoint is a stored vector with its payload.
type IndexPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload"`
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// IndexFilter is an exact-match constraint on a payload key.
type IndexFilter struct {
	Key   string
	Value string
}

// Embedder maps text onto a unit vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// PDFExtractor returns the plain text and page count of a PDF.
type PDFExtractor interface {
	Extract(ctx context.Context, data []byte) (text string, pages int, err error)
}

// ObjectStore keeps original uploaded files.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}
