package embeddings

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gembridge/gembridge/internal/limiter"
	"github.com/gembridge/gembridge/pkg/models"
)

// BatchClient is the transport slice the Gemini driver needs.
// *gemini.Client satisfies it.
type BatchClient interface {
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float64, error)
}

// GeminiDriver implements Driver on the Generative Language embedding API.
// text-embedding-004 produces 768-dimensional vectors; the batch endpoint
// accepts up to 100 texts per request.
type GeminiDriver struct {
	client    BatchClient
	limiter   *limiter.Limiter
	model     string
	dims      int
	batchSize int
}

// GeminiOption configures the driver.
type GeminiOption func(*GeminiDriver)

// WithBatchSize caps the texts sent per upstream request.
func WithBatchSize(size int) GeminiOption {
	return func(d *GeminiDriver) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

// WithDimensions overrides the expected vector dimension for models other
// than text-embedding-004.
func WithDimensions(dims int) GeminiOption {
	return func(d *GeminiDriver) {
		if dims > 0 {
			d.dims = dims
		}
	}
}

// NewGeminiDriver creates the Gemini embedding driver.
func NewGeminiDriver(client BatchClient, lim *limiter.Limiter, model string, opts ...GeminiOption) *GeminiDriver {
	d := &GeminiDriver{
		client:    client,
		limiter:   lim,
		model:     model,
		dims:      768,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *GeminiDriver) Kind() string      { return "gemini" }
func (d *GeminiDriver) Dimensions() int   { return d.dims }
func (d *GeminiDriver) MaxBatchSize() int { return d.batchSize }

// Embed generates vectors for texts, splitting the input into API-sized
// batches. Any batch failure fails the whole call with a *models.BatchError
// noting which input range broke; order is preserved across batches.
func (d *GeminiDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += d.batchSize {
		end := start + d.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := d.embedOne(ctx, texts[start:end])
		if err != nil {
			log.Warn().
				Int("start", start).
				Int("end", end).
				Err(err).
				Msg("embedding batch failed")
			return nil, &models.BatchError{Start: start, End: end, Err: err}
		}

		for i, v := range batch {
			if len(v) != d.dims {
				return nil, &models.BatchError{
					Start: start,
					End:   end,
					Err:   fmt.Errorf("vector %d has dimension %d, want %d", start+i, len(v), d.dims),
				}
			}
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (d *GeminiDriver) embedOne(ctx context.Context, texts []string) ([][]float64, error) {
	if err := d.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer d.limiter.Release()
	return d.client.EmbedBatch(ctx, d.model, texts)
}

// HealthCheck verifies the API key by embedding a probe string.
func (d *GeminiDriver) HealthCheck(ctx context.Context) error {
	_, err := d.Embed(ctx, []string{"health check"})
	return err
}
