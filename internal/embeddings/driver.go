// Package embeddings provides the embedding driver abstraction and the
// Gemini driver. A driver turns texts into fixed-dimension vectors,
// batching where the underlying API allows it.
package embeddings

import "context"

// Driver is implemented by embedding backends.
type Driver interface {
	// Kind identifies the backend ("gemini").
	Kind() string

	// Dimensions is the fixed vector length every embedding has.
	Dimensions() int

	// MaxBatchSize is the most texts one upstream request may carry.
	MaxBatchSize() int

	// Embed returns one vector per input text, in input order. A failure
	// anywhere fails the whole call; there are no partial results.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// HealthCheck verifies connectivity and credentials.
	HealthCheck(ctx context.Context) error
}
