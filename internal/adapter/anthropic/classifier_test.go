package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/resilience"
)

func newTestClassifier(url string) *Classifier {
	return NewClassifier("test-key", "claude-3-5-haiku-latest", 512,
		resilience.NewBreaker("anthropic-test", 5, time.Minute),
		resilience.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond},
		option.WithBaseURL(url))
}

func messageResponse(text string) map[string]any {
	return map[string]any{
		"id":          "msg_1",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-3-5-haiku-latest",
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
	}
}

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Model  string `json:"model"`
			System []struct {
				Text string `json:"text"`
			} `json:"system"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "claude-3-5-haiku-latest" || len(body.System) != 1 || body.System[0].Text != "sys" {
			t.Errorf("unexpected request body %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse("VIOLATION: no\nCONFIDENCE: 0.95"))
	}))
	defer srv.Close()

	out, err := newTestClassifier(srv.URL).Classify(context.Background(), "sys", "content")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out != "VIOLATION: no\nCONFIDENCE: 0.95" {
		t.Fatalf("unexpected text %q", out)
	}
}

func TestClassifyBadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	_, err := newTestClassifier(srv.URL).Classify(context.Background(), "sys", "content")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestClassifyRetriesOverload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(529)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(messageResponse("ok"))
	}))
	defer srv.Close()

	out, err := newTestClassifier(srv.URL).Classify(context.Background(), "sys", "content")
	if err != nil || out != "ok" {
		t.Fatalf("expected ok after retry, got %q, %v", out, err)
	}
}
