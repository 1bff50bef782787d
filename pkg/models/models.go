// Package models defines the shared wire and domain types for the GemBridge
// NLP adapter: completion requests/results, token usage, generation metadata,
// moderation labels, and the typed error kinds surfaced to callers.
package models

import "time"

// ── Prompt Context ───────────────────────────────────────────

// Fragment is one prior exchange turn carried as prompt context.
// Fragments are ordered oldest first; the generator drops from the
// front when the prompt exceeds the model's input budget.
type Fragment struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ── Completion Transport ─────────────────────────────────────

// CompletionRequest is a single call to the generative model.
type CompletionRequest struct {
	Model           string  `json:"model"`
	Prompt          string  `json:"prompt"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// CompletionResult is the raw outcome of a successful transport call.
type CompletionResult struct {
	RequestID    string     `json:"request_id"`
	Text         string     `json:"text"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        TokenUsage `json:"usage"`
}

// TokenUsage tracks token consumption for a model call.
// Counts come from the provider's usage metadata when available,
// otherwise from the local estimator.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage across retry attempts.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ── Generation ───────────────────────────────────────────────

// GenerationInfo describes how a structured generation was produced.
// Attempts counts every submission, transport retries and corrective
// re-prompts alike, so callers can see the full cost of the retry loop.
type GenerationInfo struct {
	SchemaName string        `json:"schema_name"`
	Model      string        `json:"model"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
	Usage      TokenUsage    `json:"usage"`
}

// GenerationResult pairs the validated value with its generation metadata.
type GenerationResult struct {
	Content map[string]any `json:"content"`
	Info    GenerationInfo `json:"info"`
}

// ── Moderation ───────────────────────────────────────────────

// ModerationLabel is the fixed classification label set.
type ModerationLabel string

const (
	ModerationSafe    ModerationLabel = "safe"
	ModerationHarmful ModerationLabel = "harmful"
	ModerationSexual  ModerationLabel = "sexual"
	ModerationViolent ModerationLabel = "violent"
	ModerationUnknown ModerationLabel = "unknown"
)

// ModerationResult is a classification outcome. Score is the model's
// confidence in the label, in [0, 1].
type ModerationResult struct {
	Label ModerationLabel `json:"label"`
	Score float64         `json:"score"`
}
