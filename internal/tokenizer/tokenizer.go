// Package tokenizer provides token-count estimation for prompt budgeting.
// The estimate stands in for the real Gemini tokenizer, which is not
// available locally; it only needs to be deterministic and never shrink as
// text grows, so truncation decisions stay stable.
package tokenizer

import "unicode/utf8"

// charsPerToken approximates the ratio observed for Gemini-class models on
// mixed English prose and JSON. Deliberately conservative so budget checks
// err toward truncating context rather than overflowing the model window.
const charsPerToken = 4

// Estimator approximates model token counts for a text.
type Estimator interface {
	Estimate(text string) int
}

// Heuristic is a character-ratio token estimator.
type Heuristic struct{}

// NewHeuristic creates the default estimator.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Estimate returns an approximate token count for text. The result is a
// pure function of rune length, so it is deterministic and monotonically
// non-decreasing as text grows.
func (*Heuristic) Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}
