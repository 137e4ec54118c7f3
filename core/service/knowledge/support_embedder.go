package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"

	"support_server/core/domain"
	"support_server/core/port/out"
)

// HashEmbedder maps text to a deterministic unit vector drawn from a PRNG seeded with the
// text's hash. It carries no semantics and stands in for a real embedding model.
type HashEmbedder struct {
	dim int
}

var _ out.Embedder = (*HashEmbedder)(nil)

func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{dim: domain.EmbeddingDimension}
}

func (e *HashEmbedder) Dimension() int {
	return e.dim
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	raw := make([]float64, e.dim)
	var sum float64
	for i := range raw {
		v := rng.Float64()*2 - 1
		raw[i] = v
		sum += v * v
	}

	norm := math.Sqrt(sum)
	if norm == 0 {
		norm = 1
	}
	vec := make([]float32, e.dim)
	for i, v := range raw {
		vec[i] = float32(v / norm)
	}
	return vec, nil
}
