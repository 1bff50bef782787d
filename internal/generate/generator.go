// Package generate implements schema-constrained text generation: prompt
// budgeting, submission, validation, and corrective retry against an
// unreliable generative model.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gembridge/gembridge/internal/limiter"
	"github.com/gembridge/gembridge/internal/schema"
	"github.com/gembridge/gembridge/internal/tokenizer"
	"github.com/gembridge/gembridge/pkg/models"
)

var tracer = otel.Tracer("gembridge")

// CompletionClient is the transport boundary to the generative model.
// *gemini.Client satisfies it; tests substitute scripted fakes.
type CompletionClient interface {
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResult, error)
}

// Generator turns free-form instructions into schema-conformant values.
// It is safe for concurrent use: every call owns its prompt and retry
// state, and the only shared synchronization point is the fair transport
// limiter.
type Generator struct {
	client    CompletionClient
	estimator tokenizer.Estimator
	limiter   *limiter.Limiter

	model           string
	inputBudget     int
	maxAttempts     int
	baseDelay       time.Duration
	maxDelay        time.Duration
	temperature     float64
	topP            float64
	maxOutputTokens int
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxAttempts caps the total submissions per call, transport retries
// and corrective re-prompts combined.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay (doubled each retry) and its ceiling.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(g *Generator) {
		if base > 0 {
			g.baseDelay = base
		}
		if ceiling > 0 {
			g.maxDelay = ceiling
		}
	}
}

// WithInputBudget overrides the model's input token budget.
func WithInputBudget(tokens int) Option {
	return func(g *Generator) {
		if tokens > 0 {
			g.inputBudget = tokens
		}
	}
}

// WithSampling sets temperature and topP for generation requests.
func WithSampling(temperature, topP float64) Option {
	return func(g *Generator) {
		g.temperature = temperature
		g.topP = topP
	}
}

// WithMaxOutputTokens caps the response length requested from the model.
func WithMaxOutputTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxOutputTokens = n
		}
	}
}

// NewGenerator creates a Generator for the given model. inputBudget should
// be the model's context window; gemini.ContextWindow supplies it for known
// model families.
func NewGenerator(client CompletionClient, est tokenizer.Estimator, lim *limiter.Limiter, model string, inputBudget int, opts ...Option) *Generator {
	g := &Generator{
		client:          client,
		estimator:       est,
		limiter:         lim,
		model:           model,
		inputBudget:     inputBudget,
		maxAttempts:     3,
		baseDelay:       500 * time.Millisecond,
		maxDelay:        8 * time.Second,
		temperature:     0.1,
		topP:            0.9,
		maxOutputTokens: 2048,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces a value conforming to desc. Context fragments are
// included oldest first and dropped from the front when the prompt exceeds
// the input budget; instructions and schema are never truncated. On a
// validation failure the next attempt shows the model its own output and
// the specific violation, which converges far faster than blind
// resubmission.
func (g *Generator) Generate(ctx context.Context, instructions string, desc *schema.Descriptor, fragments []models.Fragment) (*models.GenerationResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "generate",
		trace.WithAttributes(
			attribute.String("gembridge.schema", desc.Name),
			attribute.String("gembridge.model", g.model),
		),
	)
	defer span.End()

	basePrompt, err := g.buildPrompt(instructions, desc, fragments)
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.baseDelay
	bo.MaxInterval = g.maxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	prompt := basePrompt
	var usage models.TokenUsage
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		result, err := g.submit(ctx, prompt)
		if err != nil {
			span.AddEvent("transport failure", trace.WithAttributes(attribute.Int("attempt", attempt)))
			log.Warn().
				Str("schema", desc.Name).
				Int("attempt", attempt).
				Err(err).
				Msg("completion attempt failed")

			lastErr = err
			if ctx.Err() != nil {
				return nil, fmt.Errorf("generate %s: %w", desc.Name, ctx.Err())
			}
			terr, ok := err.(*models.TransportError)
			if ok && !terr.Retryable {
				// Bad credentials or a malformed request will not
				// improve with resubmission.
				return nil, &models.GenerationError{ErrKind: models.KindTransportExhausted, Attempts: attempt, Last: err}
			}
			if attempt == g.maxAttempts {
				return nil, &models.GenerationError{ErrKind: models.KindTransportExhausted, Attempts: attempt, Last: err}
			}
			if err := g.wait(ctx, bo.NextBackOff()); err != nil {
				return nil, fmt.Errorf("generate %s: %w", desc.Name, err)
			}
			continue
		}

		usage.Add(g.usageFor(prompt, result))

		value, verr := schema.Validate(result.Text, desc)
		if verr == nil {
			span.SetAttributes(attribute.Int("gembridge.attempts", attempt))
			log.Info().
				Str("schema", desc.Name).
				Int("attempt", attempt).
				Int("total_tokens", usage.TotalTokens).
				Msg("generation ok")

			return &models.GenerationResult{
				Content: value,
				Info: models.GenerationInfo{
					SchemaName: desc.Name,
					Model:      g.model,
					Attempts:   attempt,
					Duration:   time.Since(start),
					Usage:      usage,
				},
			}, nil
		}

		span.AddEvent("validation failure", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("field", verr.Path),
		))
		log.Warn().
			Str("schema", desc.Name).
			Int("attempt", attempt).
			Str("field", verr.Path).
			Str("reason", verr.Reason).
			Msg("response failed validation")

		lastErr = verr
		if attempt == g.maxAttempts {
			break
		}
		prompt = correctivePrompt(basePrompt, result.Text, verr)
	}

	return nil, &models.GenerationError{ErrKind: models.KindValidationExhausted, Attempts: g.maxAttempts, Last: lastErr}
}

// submit performs one transport call under the process-wide limiter. The
// slot is released on every path, including panic and cancellation.
func (g *Generator) submit(ctx context.Context, prompt string) (*models.CompletionResult, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer g.limiter.Release()

	return g.client.Complete(ctx, models.CompletionRequest{
		Model:           g.model,
		Prompt:          prompt,
		Temperature:     g.temperature,
		TopP:            g.topP,
		MaxOutputTokens: g.maxOutputTokens,
	})
}

// wait sleeps for d or returns early when ctx is cancelled, without
// leaking the timer.
func (g *Generator) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// usageFor prefers the provider's usage metadata and falls back to the
// local estimate when the provider omitted it.
func (g *Generator) usageFor(prompt string, result *models.CompletionResult) models.TokenUsage {
	if result.Usage.TotalTokens > 0 {
		return result.Usage
	}
	in := g.estimator.Estimate(prompt)
	out := g.estimator.Estimate(result.Text)
	return models.TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

// ── Prompt Construction ──────────────────────────────────────

// buildPrompt assembles instructions, truncated context, and the schema
// contract. Fails fast with PromptTooLarge when the irreducible portion
// alone exceeds the budget.
func (g *Generator) buildPrompt(instructions string, desc *schema.Descriptor, fragments []models.Fragment) (string, error) {
	contract := fmt.Sprintf(
		"Respond with a single JSON object that matches this schema:\n%s\n\nImportant: Return ONLY the JSON object, no additional text or formatting.",
		desc.PromptJSON(),
	)

	fixed := g.estimator.Estimate(instructions) + g.estimator.Estimate(contract)
	if fixed > g.inputBudget {
		return "", &models.PromptTooLargeError{EstimatedTokens: fixed, Budget: g.inputBudget}
	}

	// Drop oldest fragments until the context fits the remaining budget.
	rendered := make([]string, len(fragments))
	costs := make([]int, len(fragments))
	total := 0
	for i, f := range fragments {
		rendered[i] = f.Role + ": " + f.Content
		costs[i] = g.estimator.Estimate(rendered[i])
		total += costs[i]
	}
	first := 0
	for first < len(fragments) && fixed+total > g.inputBudget {
		total -= costs[first]
		first++
	}
	if first > 0 {
		log.Debug().
			Str("schema", desc.Name).
			Int("dropped_fragments", first).
			Msg("context truncated to fit input budget")
	}

	var b strings.Builder
	b.WriteString(instructions)
	if first < len(fragments) {
		b.WriteString("\n\nConversation so far:\n")
		b.WriteString(strings.Join(rendered[first:], "\n"))
	}
	b.WriteString("\n\n")
	b.WriteString(contract)
	return b.String(), nil
}

// correctivePrompt re-states the original request alongside the failed
// output and the exact violation, steering the model toward a valid result.
func correctivePrompt(basePrompt, previous string, verr *models.ValidationError) string {
	return fmt.Sprintf(
		"%s\n\nYour previous response was not valid.\n\nPrevious response:\n%s\n\nProblem: field %s: %s\n\nReturn a corrected JSON object that matches the schema exactly.",
		basePrompt, previous, verr.Path, verr.Reason,
	)
}
