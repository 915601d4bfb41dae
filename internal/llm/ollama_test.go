package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ppiankov/groundwork/internal/model"
)

func TestOllamaProvider_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected path /api/chat, got %s", r.URL.Path)
		}
		var req ollamaChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Errorf("Expected stream=false")
		}
		if req.Format != "json" {
			t.Errorf("Expected json format, got %q", req.Format)
		}

		resp := ollamaChatResponse{
			Model:           "llama3.1",
			Message:         ollamaMessage{Role: "assistant", Content: "{}"},
			Done:            true,
			PromptEvalCount: 10,
			EvalCount:       20,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1", Timeout: 5})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Complete(context.Background(), Request{
		Messages: []model.Message{model.User("q")},
		JSONMode: true,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Usage.Total() != 30 {
		t.Errorf("Expected 30 tokens, got %d", resp.Usage.Total())
	}
}

func TestOllamaProvider_Complete_EstimatesMissingCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Content: "a reasonably long answer with several words"},
			Done:    true,
		})
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1", Timeout: 5})
	resp, err := provider.Complete(context.Background(), Request{Messages: []model.Message{model.User("question")}})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Usage.Completion() == 0 || resp.Usage.Prompt() == 0 {
		t.Errorf("Expected estimated counts, got %d/%d", resp.Usage.Prompt(), resp.Usage.Completion())
	}
}

func TestOllamaProvider_CompleteStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":5,"eval_count":2}`,
		}
		_, _ = w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1", Timeout: 5})
	stream, err := provider.CompleteStream(context.Background(), Request{Messages: []model.Message{model.User("q")}})
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}
	defer func() { _ = stream.Close() }()

	text, usage := drain(t, stream)
	if text != "Hello" {
		t.Errorf("Unexpected text: %q", text)
	}
	if usage == nil || usage.Total() != 7 {
		t.Errorf("Unexpected usage: %+v", usage)
	}
}

func TestOllamaProvider_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("Expected path /api/embeddings, got %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"embedding":[0.5,0.25]}`))
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1", Timeout: 5})
	vec, err := provider.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("Unexpected vector: %v", vec)
	}
}

func TestOllamaProvider_RequiresModel(t *testing.T) {
	provider, _ := NewOllamaProvider(Config{})
	if _, err := provider.Complete(context.Background(), Request{}); err == nil {
		t.Error("Expected error without model")
	}
	if _, err := provider.Complete(context.Background(), Request{Style: StyleReasoning}); !errors.Is(err, ErrStyleUnsupported) {
		t.Errorf("Expected ErrStyleUnsupported, got %v", err)
	}
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL})
	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected provider to be available")
	}
}
