// Package vector persists passages with their embeddings and answers
// similarity and diversity queries over them.
package vector

import "context"

// VectorIndex is a flat ANN structure addressed by slot. Vectors are appended
// in order, so the first vector added is slot 0 and so on.
type VectorIndex interface {
	Add(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Reconstruct(slot int) ([]float32, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// Hit is a single vector search result. Score is the inner product, which is
// the cosine similarity for unit-length vectors.
type Hit struct {
	Slot  int
	Score float64
}
