package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"support_server/core/port/out"
)

// MemoryIndex is a process-local SimilarityIndex ranking by cosine similarity.
// Scroll returns points in insertion order.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	order     []string
	points    map[string]out.IndexPoint
}

func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension: dimension,
		points:    make(map[string]out.IndexPoint),
	}
}

func (m *MemoryIndex) EnsureCollection(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryIndex) Upsert(ctx context.Context, points []out.IndexPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range points {
		if m.dimension > 0 && len(p.Vector) != m.dimension {
			return fmt.Errorf("point %s: vector size %d, expected %d", p.ID, len(p.Vector), m.dimension)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		if _, ok := m.points[p.ID]; !ok {
			m.order = append(m.order, p.ID)
		}
		m.points[p.ID] = copyPoint(p)
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, vector []float32, limit int, filter *out.IndexFilter) ([]out.ScoredPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]out.ScoredPoint, 0, len(m.points))
	for _, id := range m.order {
		p := m.points[id]
		if filter != nil && !matchesFilter(p, *filter) {
			continue
		}
		hits = append(hits, out.ScoredPoint{
			ID:      p.ID,
			Score:   cosine(vector, p.Vector),
			Payload: copyPayload(p.Payload),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Scroll returns every point. The page size only matters to remote indexes.
func (m *MemoryIndex) Scroll(ctx context.Context, _ int) ([]out.IndexPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]out.IndexPoint, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, copyPoint(m.points[id]))
	}
	return result, nil
}

func (m *MemoryIndex) DeleteByFilter(ctx context.Context, filter out.IndexFilter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	for _, id := range m.order {
		if matchesFilter(m.points[id], filter) {
			delete(m.points, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return nil
}

// Len reports the number of stored points.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func matchesFilter(p out.IndexPoint, f out.IndexFilter) bool {
	v, ok := p.Payload[f.Key]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func copyPoint(p out.IndexPoint) out.IndexPoint {
	return out.IndexPoint{
		ID:      p.ID,
		Vector:  append([]float32(nil), p.Vector...),
		Payload: copyPayload(p.Payload),
	}
}

func copyPayload(p map[string]any) map[string]any {
	c := make(map[string]any, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}
