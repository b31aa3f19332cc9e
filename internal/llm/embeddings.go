package llm

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks casematch/internal/llm Embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embedder turns one normalized text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingsClient is a client for an OpenAI-compatible embeddings API.
type EmbeddingsClient struct {
	BaseURL        string
	APIKey         string
	Model          string
	ExpectedSize   int // Expected vector size for validation
	MaxRetries     int // Additional attempts after the first
	RetryBaseDelay time.Duration

	client   *http.Client
	observer CallObserver
}

// Option configures an EmbeddingsClient.
type Option func(*EmbeddingsClient)

// WithHTTPClient overrides the HTTP client (and with it the per-attempt timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *EmbeddingsClient) {
		c.client = hc
	}
}

// WithRetry sets the retry budget and the initial backoff delay.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *EmbeddingsClient) {
		c.MaxRetries = maxRetries
		c.RetryBaseDelay = baseDelay
	}
}

// WithObserver registers the sink that receives one EmbeddingCall per Embed.
func WithObserver(o CallObserver) Option {
	return func(c *EmbeddingsClient) {
		c.observer = o
	}
}

// NewEmbeddingsClient creates a new embeddings client.
// expectedSize is the configured VECTOR_SIZE; every returned vector is validated against it.
func NewEmbeddingsClient(baseURL, apiKey, model string, expectedSize int, opts ...Option) *EmbeddingsClient {
	c := &EmbeddingsClient{
		BaseURL:        baseURL,
		APIKey:         apiKey,
		Model:          model,
		ExpectedSize:   expectedSize,
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
		client:         &http.Client{Timeout: 30 * time.Second},
		observer:       NopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EmbeddingsRequest represents the request payload for embeddings API.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingData represents a single embedding in the response.
type EmbeddingData struct {
	Embedding []float64 `json:"embedding"`
}

// EmbeddingsResponse represents the response from the embeddings API.
type EmbeddingsResponse struct {
	Data []EmbeddingData `json:"data"`
}

// Embed returns the embedding of text.
//
// Transient failures are retried up to MaxRetries more times with exponential
// backoff. The returned error is always an *EmbeddingError, except when ctx is
// canceled or its deadline passes, in which case the context error is returned.
func (c *EmbeddingsClient) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()

	var vec []float32
	attempts, err := RetryWithBackoff(ctx, func(ctx context.Context) error {
		v, err := c.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}, IsRetryable, c.MaxRetries+1, c.RetryBaseDelay)

	err = c.finalize(attempts, err)
	c.observer.ObserveEmbeddingCall(ctx, newEmbeddingCall(c.Model, text, attempts, time.Since(start), err))
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// finalize converts the last attempt's error into the terminal error.
func (c *EmbeddingsClient) finalize(attempts int, err error) error {
	if err == nil {
		return nil
	}
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &EmbeddingError{Kind: KindFatal, Attempts: attempts, Err: err}
	}
	out := *embErr
	out.Attempts = attempts
	if out.Kind == KindTransient {
		out.Kind = KindExhausted
	}
	return &out
}

// embedOnce performs a single HTTP attempt and classifies its failure.
func (c *EmbeddingsClient) embedOnce(ctx context.Context, text string) ([]float32, error) {
	url := fmt.Sprintf("%s/v1/embeddings", c.BaseURL)

	payload := EmbeddingsRequest{
		Model: c.Model,
		Input: []string{text},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fatalError(0, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fatalError(0, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, transientError(0, fmt.Errorf("failed to send request: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
		if isTransientStatus(resp.StatusCode) {
			return nil, transientError(resp.StatusCode, statusErr)
		}
		return nil, fatalError(resp.StatusCode, statusErr)
	}

	var embeddingsResp EmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingsResp); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fatalError(resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}

	if len(embeddingsResp.Data) != 1 {
		return nil, fatalError(resp.StatusCode, fmt.Errorf("expected 1 embedding, got %d", len(embeddingsResp.Data)))
	}

	data := embeddingsResp.Data[0].Embedding
	if len(data) != c.ExpectedSize {
		return nil, fatalError(resp.StatusCode, fmt.Errorf("embedding has size %d, expected %d", len(data), c.ExpectedSize))
	}

	vec := make([]float32, len(data))
	for i, v := range data {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Ping embeds a short probe text once, without retries, to validate the
// provider URL, credential and dimension at startup.
func (c *EmbeddingsClient) Ping(ctx context.Context) error {
	if _, err := c.embedOnce(ctx, "ping"); err != nil {
		return fmt.Errorf("embedding provider check failed: %w", err)
	}
	return nil
}

// isTransientStatus reports whether an HTTP status is worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return code >= 500
}
