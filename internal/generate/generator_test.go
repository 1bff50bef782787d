package generate_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gembridge/gembridge/internal/generate"
	"github.com/gembridge/gembridge/internal/limiter"
	"github.com/gembridge/gembridge/internal/schema"
	"github.com/gembridge/gembridge/internal/tokenizer"
	"github.com/gembridge/gembridge/pkg/models"
)

// scriptedClient is a fake CompletionClient returning scripted responses.
// The model is non-deterministic in production, so tests drive the retry
// machinery with known outputs instead of asserting on live behavior.
type scriptedClient struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	script  func(call int, req models.CompletionRequest) (*models.CompletionResult, error)
}

func (c *scriptedClient) Complete(_ context.Context, req models.CompletionRequest) (*models.CompletionResult, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.prompts = append(c.prompts, req.Prompt)
	c.mu.Unlock()
	return c.script(call, req)
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func answerSchema(t *testing.T) *schema.Descriptor {
	t.Helper()
	d, err := schema.New("answer", schema.Field{Name: "answer", Type: schema.TypeString, Required: true})
	if err != nil {
		t.Fatalf("New(answer) error = %v", err)
	}
	return d
}

func newGenerator(t *testing.T, client generate.CompletionClient, opts ...generate.Option) *generate.Generator {
	t.Helper()
	base := []generate.Option{
		generate.WithMaxAttempts(3),
		generate.WithBackoff(time.Millisecond, 5*time.Millisecond),
	}
	return generate.NewGenerator(client, tokenizer.NewHeuristic(), limiter.New(4),
		"gemini-1.5-flash", 10000, append(base, opts...)...)
}

func valid(text string) func(int, models.CompletionRequest) (*models.CompletionResult, error) {
	return func(int, models.CompletionRequest) (*models.CompletionResult, error) {
		return &models.CompletionResult{Text: text}, nil
	}
}

func TestGenerateFirstAttemptSuccess(t *testing.T) {
	client := &scriptedClient{script: valid(`{"answer":"hello"}`)}
	gen := newGenerator(t, client)

	result, err := gen.Generate(context.Background(), "Answer the question.", answerSchema(t), nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Content["answer"] != "hello" {
		t.Errorf("answer = %v", result.Content["answer"])
	}
	if result.Info.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Info.Attempts)
	}
	if client.callCount() != 1 {
		t.Errorf("client calls = %d, want 1", client.callCount())
	}
}

func TestGenerateRecoversAfterValidationFailures(t *testing.T) {
	const failFirst = 2
	client := &scriptedClient{script: func(call int, _ models.CompletionRequest) (*models.CompletionResult, error) {
		if call <= failFirst {
			return &models.CompletionResult{Text: `{"wrong":"shape"}`}, nil
		}
		return &models.CompletionResult{Text: `{"answer":"finally"}`}, nil
	}}
	gen := newGenerator(t, client)

	result, err := gen.Generate(context.Background(), "Answer.", answerSchema(t), nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Info.Attempts != failFirst+1 {
		t.Errorf("Attempts = %d, want %d", result.Info.Attempts, failFirst+1)
	}
}

func TestGenerateCorrectivePromptShowsMistake(t *testing.T) {
	client := &scriptedClient{script: func(call int, _ models.CompletionRequest) (*models.CompletionResult, error) {
		if call == 1 {
			return &models.CompletionResult{Text: `{"wrong":"shape"}`}, nil
		}
		return &models.CompletionResult{Text: `{"answer":"ok"}`}, nil
	}}
	gen := newGenerator(t, client)

	if _, err := gen.Generate(context.Background(), "Answer.", answerSchema(t), nil); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(client.prompts) != 2 {
		t.Fatalf("prompts = %d, want 2", len(client.prompts))
	}
	second := client.prompts[1]
	if !strings.Contains(second, `{"wrong":"shape"}`) {
		t.Error("corrective prompt does not include the previous response")
	}
	if !strings.Contains(second, "answer") || !strings.Contains(second, "missing required field") {
		t.Errorf("corrective prompt does not name the violation:\n%s", second)
	}
}

func TestGenerateValidationExhausted(t *testing.T) {
	client := &scriptedClient{script: valid(`not even json`)}
	gen := newGenerator(t, client)

	_, err := gen.Generate(context.Background(), "Answer.", answerSchema(t), nil)
	if err == nil {
		t.Fatal("Generate() succeeded with invalid output")
	}
	var gerr *models.GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("error type = %T, want *models.GenerationError", err)
	}
	if gerr.ErrKind != models.KindValidationExhausted {
		t.Errorf("Kind = %s, want %s", gerr.ErrKind, models.KindValidationExhausted)
	}
	if gerr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", gerr.Attempts)
	}
	if client.callCount() != 3 {
		t.Errorf("client calls = %d, want 3", client.callCount())
	}
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Error("GenerationError does not carry the last ValidationError")
	}
}

func TestGenerateTransportRetryThenSuccess(t *testing.T) {
	client := &scriptedClient{script: func(call int, _ models.CompletionRequest) (*models.CompletionResult, error) {
		if call == 1 {
			return nil, &models.TransportError{StatusCode: 503, Retryable: true, Err: fmt.Errorf("upstream unavailable")}
		}
		return &models.CompletionResult{Text: `{"answer":"ok"}`}, nil
	}}
	gen := newGenerator(t, client)

	result, err := gen.Generate(context.Background(), "Answer.", answerSchema(t), nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Info.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Info.Attempts)
	}
}

func TestGenerateTransportExhausted(t *testing.T) {
	client := &scriptedClient{script: func(int, models.CompletionRequest) (*models.CompletionResult, error) {
		return nil, &models.TransportError{StatusCode: 429, Quota: true, Retryable: true, Err: fmt.Errorf("quota")}
	}}
	gen := newGenerator(t, client)

	_, err := gen.Generate(context.Background(), "Answer.", answerSchema(t), nil)
	var gerr *models.GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("error type = %T, want *models.GenerationError", err)
	}
	if gerr.ErrKind != models.KindTransportExhausted {
		t.Errorf("Kind = %s, want %s", gerr.ErrKind, models.KindTransportExhausted)
	}
	if client.callCount() != 3 {
		t.Errorf("client calls = %d, want 3", client.callCount())
	}
}

func TestGenerateNonRetryableFailsFast(t *testing.T) {
	client := &scriptedClient{script: func(int, models.CompletionRequest) (*models.CompletionResult, error) {
		return nil, &models.TransportError{StatusCode: 401, Err: fmt.Errorf("bad credentials")}
	}}
	gen := newGenerator(t, client)

	_, err := gen.Generate(context.Background(), "Answer.", answerSchema(t), nil)
	var gerr *models.GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("error type = %T, want *models.GenerationError", err)
	}
	if gerr.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", gerr.Attempts)
	}
	if client.callCount() != 1 {
		t.Errorf("client calls = %d, want 1 (no retry on permanent failure)", client.callCount())
	}
}

func TestGeneratePromptTooLarge(t *testing.T) {
	client := &scriptedClient{script: valid(`{"answer":"x"}`)}
	gen := newGenerator(t, client, generate.WithInputBudget(5))

	_, err := gen.Generate(context.Background(), strings.Repeat("long instructions ", 50), answerSchema(t), nil)
	if models.KindOf(err) != models.KindPromptTooLarge {
		t.Fatalf("KindOf(err) = %q, want %q (err = %v)", models.KindOf(err), models.KindPromptTooLarge, err)
	}
	if client.callCount() != 0 {
		t.Errorf("client calls = %d, want 0 (fail fast before transport)", client.callCount())
	}
}

func TestGenerateTruncatesOldestContextFirst(t *testing.T) {
	client := &scriptedClient{script: valid(`{"answer":"x"}`)}
	fragments := []models.Fragment{
		{Role: "user", Content: strings.Repeat("OLDEST ", 60)},
		{Role: "assistant", Content: "NEWEST short reply"},
	}

	// Budget fits instructions + schema + the newest fragment only.
	gen := newGenerator(t, client, generate.WithInputBudget(120))

	if _, err := gen.Generate(context.Background(), "Answer.", answerSchema(t), fragments); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	prompt := client.prompts[0]
	if strings.Contains(prompt, "OLDEST") {
		t.Error("prompt still contains the oldest fragment")
	}
	if !strings.Contains(prompt, "NEWEST short reply") {
		t.Error("prompt dropped the newest fragment")
	}
	if !strings.Contains(prompt, "Answer.") || !strings.Contains(prompt, `"answer"`) {
		t.Error("instructions or schema were truncated")
	}
}

func TestGenerateCancellationReleasesLimiter(t *testing.T) {
	lim := limiter.New(1)

	blocked := &scriptedClient{script: func(int, models.CompletionRequest) (*models.CompletionResult, error) {
		return nil, &models.TransportError{StatusCode: 503, Retryable: true, Err: fmt.Errorf("unavailable")}
	}}
	// Long backoff so cancellation lands mid-retry wait.
	slow := generate.NewGenerator(blocked, tokenizer.NewHeuristic(), lim,
		"gemini-1.5-flash", 10000,
		generate.WithMaxAttempts(5),
		generate.WithBackoff(10*time.Second, 10*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := slow.Generate(ctx, "Answer.", answerSchema(t), nil)
		done <- err
	}()

	// Let the first attempt fail and the backoff wait begin.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Generate() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Generate() did not return after cancellation")
	}

	// The slot must be free: a fresh call on the same limiter completes.
	ok := &scriptedClient{script: valid(`{"answer":"x"}`)}
	fast := generate.NewGenerator(ok, tokenizer.NewHeuristic(), lim, "gemini-1.5-flash", 10000)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if _, err := fast.Generate(ctx2, "Answer.", answerSchema(t), nil); err != nil {
		t.Fatalf("follow-up Generate() blocked or failed: %v", err)
	}
}
