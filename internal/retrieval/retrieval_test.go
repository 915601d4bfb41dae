package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupe_KeepsHighestPerDocument(t *testing.T) {
	in := []model.SearchResult{
		{Chunk: "a", Title: "Doc", DocumentID: "d1", Relevance: 0.4},
		{Chunk: "b", Title: "Doc", DocumentID: "d1", Relevance: 0.9},
		{Chunk: "c", Title: "Other", Relevance: 0.5},
		{Chunk: "c", Title: "Other", Relevance: 0.2},
		{Chunk: "d", Title: "Other", Relevance: 0.7},
	}

	out := Dedupe(in)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].Chunk)
	assert.Equal(t, "d", out[1].Chunk)
	assert.Equal(t, "c", out[2].Chunk)
	assert.Equal(t, 0.5, out[2].Relevance)
}

func TestDedupe_FallbackKeyUsesFirst200Chars(t *testing.T) {
	prefix := string(make([]rune, 200))
	in := []model.SearchResult{
		{Chunk: prefix + "tail one", Title: "T", Relevance: 0.1},
		{Chunk: prefix + "tail two", Title: "T", Relevance: 0.3},
	}
	out := Dedupe(in)
	require.Len(t, out, 1)
	assert.Equal(t, 0.3, out[0].Relevance)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestRerank_CosineWithoutEmbeddingsKeepsOrder(t *testing.T) {
	r := NewReranker(nil, RerankerConfig{Enabled: true, Mode: ModeCosine}, nil)
	docs := []model.SearchResult{
		{Chunk: "a", Relevance: 0.2},
		{Chunk: "b", Relevance: 0.9},
		{Chunk: "c", Relevance: 0.5},
	}
	out := r.Rerank(context.Background(), "q1", "query", []float32{1, 0}, docs, 10)
	assert.Equal(t, docs, out)
}

func TestRerank_CosineOrdersByEmbedding(t *testing.T) {
	r := NewReranker(nil, RerankerConfig{Enabled: true, Mode: ModeCosine}, nil)
	docs := []model.SearchResult{
		{Chunk: "far", Embedding: []float32{0, 1}, Relevance: 0.9},
		{Chunk: "near", Embedding: []float32{1, 0.1}, Relevance: 0.1},
		{Chunk: "none", Relevance: 0.5},
	}
	out := r.Rerank(context.Background(), "q1", "query", []float32{1, 0}, docs, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "near", out[0].Chunk)
	assert.Equal(t, "none", out[1].Chunk)
	assert.Equal(t, 0.9, docs[0].Relevance, "input must not be mutated")
}

func TestRerank_DisabledTruncates(t *testing.T) {
	r := NewReranker(nil, RerankerConfig{Enabled: false}, nil)
	docs := []model.SearchResult{{Chunk: "a"}, {Chunk: "b"}, {Chunk: "c"}}
	assert.Len(t, r.Rerank(context.Background(), "", "q", nil, docs, 2), 2)
}

type scoreCompleter struct {
	text  string
	err   error
	calls int
	req   llm.Request
}

func (s *scoreCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.calls++
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.text}, nil
}

func TestRerank_LLMScores(t *testing.T) {
	comp := &scoreCompleter{text: "```json\n{\"1\": 2, \"2\": 9}\n```"}
	r := NewReranker(comp, RerankerConfig{Enabled: true, Mode: ModeLLM, Model: "gpt-4o-mini"}, nil)
	docs := []model.SearchResult{{Chunk: "a"}, {Chunk: "b"}, {Chunk: "c"}}

	out := r.Rerank(context.Background(), "q1", "query", nil, docs, 3)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].Chunk)
	assert.Equal(t, "c", out[1].Chunk, "missing index gets the neutral score")
	assert.Equal(t, 5.0, out[1].Relevance)
	assert.Equal(t, "a", out[2].Chunk)

	assert.Equal(t, "llm_reranker", comp.req.Scenario)
	assert.Equal(t, 200, comp.req.MaxTokens)
	assert.Contains(t, comp.req.Messages[1].Content, "[2] Title: Untitled")
}

func TestRerank_LLMErrorKeepsOrder(t *testing.T) {
	comp := &scoreCompleter{err: errors.New("down")}
	r := NewReranker(comp, RerankerConfig{Enabled: true, Mode: ModeLLM}, nil)
	docs := []model.SearchResult{{Chunk: "a"}, {Chunk: "b"}}
	assert.Equal(t, docs, r.Rerank(context.Background(), "q1", "query", nil, docs, 5))
}

func TestRerank_HybridSkipsLLMForFewCandidates(t *testing.T) {
	comp := &scoreCompleter{text: `{"1": 1}`}
	r := NewReranker(comp, RerankerConfig{Enabled: true, Mode: ModeHybrid}, nil)
	docs := []model.SearchResult{{Chunk: "a"}, {Chunk: "b"}, {Chunk: "c"}}
	r.Rerank(context.Background(), "q1", "query", nil, docs, 5)
	assert.Equal(t, 0, comp.calls)
}

func TestRerank_HybridScoresTopCandidates(t *testing.T) {
	comp := &scoreCompleter{text: `{"4": 10}`}
	r := NewReranker(comp, RerankerConfig{Enabled: true, Mode: ModeHybrid}, nil)
	docs := []model.SearchResult{{Chunk: "a"}, {Chunk: "b"}, {Chunk: "c"}, {Chunk: "d"}, {Chunk: "e"}, {Chunk: "f"}}

	out := r.Rerank(context.Background(), "q1", "query", nil, docs, 2)
	require.Equal(t, 1, comp.calls)
	// top_k+2 = 4 candidates reach the model
	assert.Contains(t, comp.req.Messages[1].Content, "[4] Title")
	assert.NotContains(t, comp.req.Messages[1].Content, "[5] Title")
	require.Len(t, out, 2)
	assert.Equal(t, "d", out[0].Chunk)
}

func TestRerank_UnknownModeKeepsOrder(t *testing.T) {
	r := NewReranker(nil, RerankerConfig{Enabled: true, Mode: "magic"}, nil)
	docs := []model.SearchResult{{Chunk: "a"}, {Chunk: "b"}}
	assert.Equal(t, docs, r.Rerank(context.Background(), "", "q", nil, docs, 5))
}

func TestAzureSearch_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/indexes/kb/docs/search" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2024-07-01" {
			t.Errorf("Unexpected api-version %s", r.URL.Query().Get("api-version"))
		}
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("Missing api-key header")
		}

		var req azureSearchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Search != "reset password" || req.Top != 5 {
			t.Errorf("Unexpected request %+v", req)
		}
		if len(req.VectorQueries) != 1 || req.VectorQueries[0].K != 7 || req.VectorQueries[0].Fields != "text_vector" {
			t.Errorf("Unexpected vector query %+v", req.VectorQueries)
		}

		_, _ = w.Write([]byte(`{"value": [
			{"@search.score": 2.5, "chunk": "Open settings.", "title": "Reset", "parent_id": "p1", "text_vector": [0.1, 0.2]},
			{"@search.score": 1.0, "chunk": "Other", "title": null, "parent_id": null}
		]}`))
	}))
	defer server.Close()

	a, err := NewAzureSearch(AzureConfig{Endpoint: server.URL, Index: "kb", APIKey: "secret"})
	require.NoError(t, err)

	res, err := a.Search(context.Background(), Query{Text: "reset password", Top: 5, KNN: 7, Vector: []float32{1, 0}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "p1", res[0].DocumentID)
	assert.Equal(t, 2.5, res[0].Relevance)
	assert.Equal(t, []float32{0.1, 0.2}, res[0].Embedding)
	assert.Equal(t, "Untitled", res[1].Title)
	assert.Empty(t, res[1].DocumentID)
}

func TestAzureSearch_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": "Forbidden", "message": "bad key"}}`))
	}))
	defer server.Close()

	a, err := NewAzureSearch(AzureConfig{Endpoint: server.URL, Index: "kb", APIKey: "x"})
	require.NoError(t, err)
	_, err = a.Search(context.Background(), Query{Text: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestFileRetriever(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	corpus := `passages:
  - title: Password reset
    document_id: doc-1
    chunk: To reset your password open account settings.
  - title: Billing
    document_id: doc-2
    chunk: Invoices are sent monthly.
  - title: Vectors
    chunk: Embedded passage.
    embedding: [1, 0]
`
	require.NoError(t, os.WriteFile(path, []byte(corpus), 0o644))

	f, err := LoadFileRetriever(path)
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())

	res, err := f.Search(context.Background(), Query{Text: "How do I reset my password?", Top: 5})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "doc-1", res[0].DocumentID)
	assert.Greater(t, res[0].Relevance, 0.0)

	res, err = f.Search(context.Background(), Query{Text: "anything", Vector: []float32{1, 0}, Top: 1})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Vectors", res[0].Title)
}

type flakyRetriever struct {
	fails int
	calls int
}

func (f *flakyRetriever) Search(ctx context.Context, q Query) ([]model.SearchResult, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("unavailable")
	}
	return []model.SearchResult{{Chunk: "ok"}}, nil
}

func TestWithRetry(t *testing.T) {
	inner := &flakyRetriever{fails: 2}
	r := WithRetry(inner, 3, time.Millisecond, nil)
	res, err := r.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.Equal(t, 3, inner.calls)

	inner = &flakyRetriever{fails: 5}
	r = WithRetry(inner, 2, time.Millisecond, nil)
	_, err = r.Search(context.Background(), Query{Text: "q"})
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}
