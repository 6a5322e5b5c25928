package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ppiankov/verity/internal/model"
)

func TestAnthropicProvider_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected path /v1/messages, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected x-api-key header, got %s", r.Header.Get("x-api-key"))
		}

		var req anthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req.System, jsonOnlyInstruction) {
			t.Errorf("Expected JSON instruction in system prompt, got %q", req.System)
		}
		for _, m := range req.Messages {
			if m.Role == "system" {
				t.Error("Expected system prompt outside the message list")
			}
		}

		_, _ = w.Write([]byte(`{"id":"msg_1","model":"claude","content":[{"type":"text","text":"{\"a\":1}"}]}`))
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	out, err := provider.Complete(context.Background(), CompletionRequest{System: "sys", Prompt: "p", JSONMode: true})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != `{"a":1}` {
		t.Errorf("Unexpected completion: %s", out)
	}
}

func TestAnthropicProvider_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer server.Close()

	provider, _ := NewAnthropicProvider(Config{APIKey: "k", BaseURL: server.URL, Timeout: 5})
	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "Overloaded") {
		t.Fatalf("Expected overloaded error, got %v", err)
	}
	if !errors.Is(err, model.ErrTransient) {
		t.Errorf("Expected 503 to be transient, got %v", err)
	}
}

func TestAnthropicProvider_EmbedUnsupported(t *testing.T) {
	provider, _ := NewAnthropicProvider(Config{APIKey: "k"})
	if _, err := provider.Embed(context.Background(), []string{"x"}); !errors.Is(err, ErrEmbeddingsUnsupported) {
		t.Errorf("Expected ErrEmbeddingsUnsupported, got %v", err)
	}
}

func TestAnthropicProvider_MissingKey(t *testing.T) {
	if _, err := NewAnthropicProvider(Config{}); !errors.Is(err, model.ErrMissingCredential) {
		t.Errorf("Expected missing credential error, got %v", err)
	}
}
