// Package litellm provides an HTTP client for the LiteLLM Proxy: chat
// completions for the classifier and /embeddings for the similarity encoder.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/port/llm"
	"github.com/Strob0t/ModGuard/internal/resilience"
)

var (
	_ llm.Classifier = (*Client)(nil)
	_ llm.Embedder   = (*Client)(nil)
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	MasterKey      string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
	Breaker        *resilience.Breaker
	Retry          resilience.RetryPolicy
}

// Client talks to the LiteLLM Proxy OpenAI-compatible API.
type Client struct {
	baseURL        string
	masterKey      string
	model          string
	embeddingModel string
	httpClient     *http.Client
	breaker        *resilience.Breaker
	retry          resilience.RetryPolicy
}

// NewClient creates a LiteLLM client. A zero Breaker gets a default one.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker("litellm", 5, 30*time.Second)
	}
	retry := opts.Retry
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 200 * time.Millisecond
	}
	return &Client{
		baseURL:        opts.BaseURL,
		masterKey:      opts.MasterKey,
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		httpClient:     &http.Client{Timeout: timeout},
		breaker:        breaker,
		retry:          retry,
	}
}

// ChatMessage is one message of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends the system and user prompt at temperature 0 and returns
// the first choice's content.
func (c *Client) Classify(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.embeddingModel, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/v1/embeddings", body)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	var resp embeddingResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal embedding response: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embed: empty embedding")
	}
	return resp.Data[0].Embedding, nil
}

// Health checks if LiteLLM is healthy.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health/liveliness", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.masterKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.masterKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		case resp.StatusCode >= 400:
			return fmt.Errorf("litellm API error %d: %s: %w", resp.StatusCode, string(data), domain.ErrValidation)
		}

		result = data
		return nil
	}

	if err := resilience.Retry(ctx, c.retry, c.breaker, call); err != nil {
		return nil, err
	}
	return result, nil
}
