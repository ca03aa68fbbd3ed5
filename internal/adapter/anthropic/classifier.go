// Package anthropic implements the classifier port on the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/port/llm"
	"github.com/Strob0t/ModGuard/internal/resilience"
)

var _ llm.Classifier = (*Classifier)(nil)

// Classifier sends moderation prompts to Claude.
type Classifier struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	breaker   *resilience.Breaker
	retry     resilience.RetryPolicy
}

// NewClassifier creates a Classifier. The SDK's own retries are disabled;
// breaker and retry govern transient failures instead.
func NewClassifier(apiKey, model string, maxTokens int64, breaker *resilience.Breaker, retry resilience.RetryPolicy, opts ...option.RequestOption) *Classifier {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	if breaker == nil {
		breaker = resilience.NewBreaker("anthropic", 5, 30*time.Second)
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 200 * time.Millisecond
	}
	return &Classifier{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		breaker:   breaker,
		retry:     retry,
	}
}

func (c *Classifier) Classify(ctx context.Context, system, prompt string) (string, error) {
	var text string
	err := resilience.Retry(ctx, c.retry, c.breaker, func(ctx context.Context) error {
		message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(c.model),
			MaxTokens:   c.maxTokens,
			Temperature: anthropic.Float(0),
			System: []anthropic.TextBlockParam{
				{Text: system, CacheControl: anthropic.NewCacheControlEphemeralParam()},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return classifyError(err)
		}
		for _, block := range message.Content {
			if block.Type == "text" {
				text = block.Text
				return nil
			}
		}
		return fmt.Errorf("no text content in anthropic response: %w", domain.ErrValidation)
	})
	if err != nil {
		return "", fmt.Errorf("anthropic classify: %w", err)
	}
	return text, nil
}

// classifyError marks client errors other than rate limiting as permanent.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", err, domain.ErrValidation)
		}
	}
	return err
}
