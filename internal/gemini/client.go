// Package gemini is the HTTP transport to the Google Generative Language
// API. It covers the two endpoints the adapter needs — generateContent for
// text generation and batchEmbedContents for embeddings — and classifies
// failures so callers can tell a quota or network fault from a bad response
// body.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gembridge/gembridge/pkg/models"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// Client calls the Generative Language REST API.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithEndpoint sets a custom API base URL (e.g. for proxies or fakes).
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// NewClient creates a Gemini API client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ContextWindow reports the input token budget for a model. The 1.5 and 2.0
// families carry million-token windows; anything unrecognized gets the
// conservative legacy window.
func ContextWindow(model string) int {
	switch {
	case strings.Contains(model, "2.0"):
		return 2097152
	case strings.Contains(model, "1.5"):
		return 1048576
	default:
		return 30720
	}
}

// ── generateContent ──────────────────────────────────────────

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Complete submits one prompt and returns the raw model text. Failures come
// back as *models.TransportError with retryability classified from the HTTP
// status: 429 and 5xx are transient, other 4xx are permanent.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResult, error) {
	requestID := uuid.New().String()

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: &generationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxOutputTokens,
		},
	})
	if err != nil {
		return nil, &models.TransportError{RequestID: requestID, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, req.Model)
	respBody, status, terr := c.post(ctx, requestID, url, body)
	if terr != nil {
		return nil, terr
	}

	var gr generateResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, &models.TransportError{
			RequestID:  requestID,
			StatusCode: status,
			Retryable:  true,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	if gr.Error != nil {
		return nil, classify(requestID, gr.Error.Code, fmt.Errorf("%s: %s", gr.Error.Status, gr.Error.Message))
	}
	if len(gr.Candidates) == 0 {
		return nil, &models.TransportError{
			RequestID:  requestID,
			StatusCode: status,
			Retryable:  true,
			Err:        fmt.Errorf("no candidates returned"),
		}
	}

	var text strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	result := &models.CompletionResult{
		RequestID:    requestID,
		Text:         text.String(),
		FinishReason: gr.Candidates[0].FinishReason,
	}
	if gr.UsageMetadata != nil {
		result.Usage = models.TokenUsage{
			InputTokens:  gr.UsageMetadata.PromptTokenCount,
			OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  gr.UsageMetadata.TotalTokenCount,
		}
	}

	log.Debug().
		Str("request_id", requestID).
		Str("model", req.Model).
		Str("finish_reason", result.FinishReason).
		Int("total_tokens", result.Usage.TotalTokens).
		Msg("completion ok")

	return result, nil
}

// ── batchEmbedContents ───────────────────────────────────────

type embedBatchRequest struct {
	Requests []embedRequest `json:"requests"`
}

type embedRequest struct {
	Model   string  `json:"model"`
	Content content `json:"content"`
}

type embedBatchResponse struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
	Error *apiError `json:"error"`
}

// EmbedBatch embeds every text in one request, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float64, error) {
	requestID := uuid.New().String()

	reqs := make([]embedRequest, len(texts))
	for i, t := range texts {
		reqs[i] = embedRequest{
			Model:   "models/" + model,
			Content: content{Parts: []part{{Text: t}}},
		}
	}
	body, err := json.Marshal(embedBatchRequest{Requests: reqs})
	if err != nil {
		return nil, &models.TransportError{RequestID: requestID, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", c.endpoint, model)
	respBody, status, terr := c.post(ctx, requestID, url, body)
	if terr != nil {
		return nil, terr
	}

	var er embedBatchResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, &models.TransportError{
			RequestID:  requestID,
			StatusCode: status,
			Retryable:  true,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	if er.Error != nil {
		return nil, classify(requestID, er.Error.Code, fmt.Errorf("%s: %s", er.Error.Status, er.Error.Message))
	}
	if len(er.Embeddings) != len(texts) {
		return nil, &models.TransportError{
			RequestID:  requestID,
			StatusCode: status,
			Err:        fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(er.Embeddings)),
		}
	}

	vectors := make([][]float64, len(texts))
	for i, e := range er.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

// ── HTTP plumbing ────────────────────────────────────────────

func (c *Client) post(ctx context.Context, requestID, url string, body []byte) ([]byte, int, *models.TransportError) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, &models.TransportError{RequestID: requestID, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	httpReq.Header.Set("x-request-id", requestID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Network unreachable, DNS failure, or client timeout.
		return nil, 0, &models.TransportError{RequestID: requestID, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &models.TransportError{RequestID: requestID, StatusCode: resp.StatusCode, Retryable: true, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, classify(requestID, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(respBody))))
	}
	return respBody, resp.StatusCode, nil
}

// classify maps an API status code to a TransportError with retryability.
func classify(requestID string, status int, err error) *models.TransportError {
	te := &models.TransportError{RequestID: requestID, StatusCode: status, Err: err}
	switch {
	case status == http.StatusTooManyRequests:
		te.Quota = true
		te.Retryable = true
	case status >= 500:
		te.Retryable = true
	}
	return te
}
