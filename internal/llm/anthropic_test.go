package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAnthropicGenerate_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"type":"overloaded_error","message":"busy"}}`))
			return
		}
		var payload anthropicPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.System != "sys" || len(payload.Messages) != 1 {
			t.Errorf("unexpected payload %+v", payload)
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"strategy\":\"direct_click\"}"}]}`))
	}))
	defer srv.Close()

	c := newAnthropic("test-key", "test-model", srv.URL, zerolog.Nop())
	c.baseDelay = time.Millisecond

	resp, err := c.Generate(context.Background(), Request{
		System:   "sys",
		Messages: []Message{{Role: "user", Content: "page"}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(resp.Text, "direct_click") {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestAnthropicGenerate_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"bad key"}}`))
	}))
	defer srv.Close()

	c := newAnthropic("k", "m", srv.URL, zerolog.Nop())
	c.baseDelay = time.Millisecond
	_, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("expected auth error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestNewClientWithLogger_UnknownProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "carrier-pigeon")
	if _, err := NewClientWithLogger(zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestAnthropicGenerate_JSONPrefillAndTokenBudget(t *testing.T) {
	seen := make(chan anthropicPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p anthropicPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		seen <- p
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"\"strategy\":\"direct_click\"}"}]}`))
	}))
	defer srv.Close()

	c := newAnthropic("k", "m", srv.URL, zerolog.Nop())
	resp, err := c.Generate(context.Background(), Request{
		Messages:  []Message{{Role: "user", Content: "page"}},
		MaxTokens: 600,
		JSON:      true,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	payload := <-seen
	if payload.MaxTokens != 600 {
		t.Errorf("expected caller budget 600, got %d", payload.MaxTokens)
	}
	if n := len(payload.Messages); n != 2 || payload.Messages[1].Role != "assistant" || payload.Messages[1].Content[0].Text != "{" {
		t.Errorf("expected assistant prefill, got %+v", payload.Messages)
	}
	if resp.Text != `{"strategy":"direct_click"}` {
		t.Errorf("prefill not joined to reply: %q", resp.Text)
	}
}

func TestAnthropicGenerate_DefaultTokenBudget(t *testing.T) {
	seen := make(chan anthropicPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p anthropicPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		seen <- p
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	c := newAnthropic("k", "m", srv.URL, zerolog.Nop())
	resp, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	payload := <-seen
	if payload.MaxTokens != maxTokens || len(payload.Messages) != 1 || resp.Text != "ok" {
		t.Errorf("unexpected payload %+v / text %q", payload, resp.Text)
	}
}
