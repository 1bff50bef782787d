package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the terminal failures of the adapter.
type ErrorKind string

const (
	// KindPromptTooLarge: instructions plus schema alone exceed the
	// model's input budget, so no amount of context truncation helps.
	KindPromptTooLarge ErrorKind = "prompt_too_large"
	// KindTransportExhausted: network, timeout, or quota failures
	// persisted through the full attempt budget.
	KindTransportExhausted ErrorKind = "transport_exhausted"
	// KindValidationExhausted: the model never produced output that
	// satisfied the schema within the attempt budget.
	KindValidationExhausted ErrorKind = "validation_exhausted"
	// KindBatchFailed: an embedding batch failed as a whole.
	KindBatchFailed ErrorKind = "batch_failed"
	// KindConfigurationMissing: required credentials or settings were
	// absent at startup. Fatal before any call is made.
	KindConfigurationMissing ErrorKind = "configuration_missing"
)

// PromptTooLargeError reports a prompt whose irreducible portion does not
// fit the model's input window.
type PromptTooLargeError struct {
	EstimatedTokens int
	Budget          int
}

func (e *PromptTooLargeError) Error() string {
	return fmt.Sprintf("prompt too large: instructions and schema estimate %d tokens, budget is %d", e.EstimatedTokens, e.Budget)
}

// Kind returns KindPromptTooLarge.
func (e *PromptTooLargeError) Kind() ErrorKind { return KindPromptTooLarge }

// TransportError is a single failed transport attempt. Retryable attempts
// are absorbed by the generator's backoff loop; the last one is carried
// inside a GenerationError when the budget runs out.
type TransportError struct {
	RequestID  string
	StatusCode int  // 0 when the request never reached the service
	Quota      bool // 429 / resource exhausted
	Retryable  bool
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Quota:
		return fmt.Sprintf("transport: quota exhausted (status %d): %v", e.StatusCode, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("transport: status %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("transport: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports the first schema violation found in a model
// response. Path is a dotted field path ("address.city") or "<root>" when
// no parseable payload was found at all.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: field %s: %s", e.Path, e.Reason)
}

// GenerationError is the terminal error of a structured generation call,
// carrying the attempt count and the last underlying cause.
type GenerationError struct {
	ErrKind  ErrorKind // KindPromptTooLarge, KindTransportExhausted, or KindValidationExhausted
	Attempts int
	Last     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s) after %d attempt(s): %v", e.ErrKind, e.Attempts, e.Last)
}

func (e *GenerationError) Unwrap() error { return e.Last }

// Kind returns the terminal failure classification.
func (e *GenerationError) Kind() ErrorKind { return e.ErrKind }

// BatchError reports a failed embedding batch. Start and End are the
// half-open input index range of the batch that failed.
type BatchError struct {
	Start int
	End   int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch failed (inputs [%d,%d)): %v", e.Start, e.End, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Kind returns KindBatchFailed.
func (e *BatchError) Kind() ErrorKind { return KindBatchFailed }

// ConfigurationError reports missing or invalid startup configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// Kind returns KindConfigurationMissing.
func (e *ConfigurationError) Kind() ErrorKind { return KindConfigurationMissing }

// KindOf extracts the ErrorKind from any adapter error in the chain.
// Returns "" when the error carries no kind.
func KindOf(err error) ErrorKind {
	var kinded interface{ Kind() ErrorKind }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	return ""
}
