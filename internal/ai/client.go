// ABOUTME: HTTP client for the inference endpoint: POST {base}/run/{model} with bearer auth.
// ABOUTME: Retries with retry-go, trips a gobreaker breaker, caches embeddings in ristretto.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/sony/gobreaker/v2"
)

// Default models.
const (
	DefaultTextModel      = "@cf/meta/llama-3.1-8b-instruct"
	DefaultEmbeddingModel = "@cf/baai/bge-base-en-v1.5"
)

const (
	maxResponseBytes = 4 << 20
	embeddingCost    = 1
)

// Config holds the Client settings.
type Config struct {
	BaseURL        string // e.g. https://api.cloudflare.com/client/v4/accounts/{id}/ai
	APIToken       string
	TextModel      string
	EmbeddingModel string
	Timeout        time.Duration
	Attempts       uint
	RetryDelay     time.Duration
	CacheEntries   int64 // max cached embeddings; 0 disables the cache
}

// Client implements Engine over HTTP.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	cache   *ristretto.Cache[string, []float32]
}

var _ Engine = (*Client)(nil)

// statusError is a non-2xx response from the endpoint.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("inference endpoint returned %d: %s", e.code, e.body)
}

// NewClient returns a Client for cfg. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("ai: base url is required")
	}
	if cfg.APIToken == "" {
		return nil, errors.New("ai: api token is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		cfg:  cfg,
		http: httpClient,
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "ai",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Client errors say nothing about endpoint health.
			IsSuccessful: func(err error) bool {
				var se *statusError
				if errors.As(err, &se) {
					return se.code < 500 && se.code != http.StatusTooManyRequests
				}
				return err == nil
			},
		}),
	}

	if cfg.CacheEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
			NumCounters: cfg.CacheEntries * 10,
			MaxCost:     cfg.CacheEntries,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("ai: create embedding cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Close releases the embedding cache.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

type textRequest struct {
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type envelope[T any] struct {
	Result  T    `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type textResult struct {
	Response string `json:"response"`
}

// Generate runs the text model on p and returns the completion.
func (c *Client) Generate(ctx context.Context, p Prompt) (string, error) {
	if len(p.Messages) == 0 {
		return "", errors.New("ai: prompt has no messages")
	}
	raw, err := c.run(ctx, c.cfg.TextModel, textRequest{Messages: p.Messages, MaxTokens: p.MaxTokens})
	if err != nil {
		return "", err
	}
	var env envelope[textResult]
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if !env.Success {
		return "", fmt.Errorf("%w: %s", ErrBadResponse, joinErrors(env.Errors))
	}
	return env.Result.Response, nil
}

type embedRequest struct {
	Text []string `json:"text"`
}

type embedResult struct {
	Shape []int       `json:"shape"`
	Data  [][]float32 `json:"data"`
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("ai: empty embedding input")
	}
	if c.cache != nil {
		if v, ok := c.cache.Get(text); ok {
			return slices.Clone(v), nil
		}
	}

	raw, err := c.run(ctx, c.cfg.EmbeddingModel, embedRequest{Text: []string{text}})
	if err != nil {
		return nil, err
	}
	var env envelope[embedResult]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if !env.Success || len(env.Result.Data) != 1 || len(env.Result.Data[0]) == 0 {
		return nil, fmt.Errorf("%w: unexpected embedding shape %v", ErrBadResponse, env.Result.Shape)
	}
	vec := env.Result.Data[0]

	if c.cache != nil {
		// The cache keeps its own copy; callers may modify what they get.
		c.cache.Set(text, slices.Clone(vec), embeddingCost)
	}
	return vec, nil
}

// run POSTs body to the model endpoint through the breaker and retry loop.
func (c *Client) run(ctx context.Context, model string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ai: marshal request: %w", err)
	}
	url := c.cfg.BaseURL + "/run/" + model

	raw, err := retry.NewWithData[[]byte](
		retry.Context(ctx),
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
	).Do(func() ([]byte, error) {
		return c.breaker.Execute(func() ([]byte, error) {
			return c.post(ctx, url, payload)
		})
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code < 500 && se.code != http.StatusTooManyRequests {
			return nil, fmt.Errorf("ai: %s: %w", model, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, model, err)
	}
	return raw, nil
}

func (c *Client) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &statusError{code: resp.StatusCode, body: snippet}
	}
	return body, nil
}

// retryable reports whether err is worth another attempt: transport errors,
// 429 and 5xx. An open breaker fails fast.
func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return retry.IsRecoverable(err)
}

func joinErrors(errs []struct {
	Message string `json:"message"`
}) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	if len(msgs) == 0 {
		return "success=false"
	}
	return strings.Join(msgs, "; ")
}
