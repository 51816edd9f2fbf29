package embedder

import (
	"context"
	"hash/fnv"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// Deterministic avoids network calls by hashing text into a vector. Useful
// for tests and local dev where no embedding provider is configured,
// grounded on internal/infra/uploadask/embedder/deterministic.go.
type Deterministic struct {
	dim int
}

// NewDeterministic constructs the embedder with a fixed output dimension.
func NewDeterministic(dim int) *Deterministic {
	if dim <= 0 {
		dim = 32
	}
	return &Deterministic{dim: dim}
}

// Dimension returns the fixed embedding dimension.
func (e *Deterministic) Dimension() int { return e.dim }

// Embed converts each text into a pseudo-random but stable vector.
func (e *Deterministic) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector := make([]float32, e.dim)
		hash := fnv.New64a()
		_, _ = hash.Write([]byte(text))
		seed := hash.Sum64()
		for j := 0; j < e.dim; j++ {
			seed = seed*1099511628211 + 1469598103934665603
			vector[j] = float32(seed%997) / 997.0
		}
		vectors[i] = vector
	}
	return vectors, nil
}

var _ ingest.Embedder = (*Deterministic)(nil)
