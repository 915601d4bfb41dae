package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/metrics"
	"github.com/ppiankov/groundwork/internal/model"
)

// Rerank modes
const (
	ModeCosine = "cosine"
	ModeLLM    = "llm"
	ModeHybrid = "hybrid"
)

// neutralScore is assigned to passages the model did not score
const neutralScore = 5.0

// Completer runs a single model call
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// RerankerConfig tunes a Reranker
type RerankerConfig struct {
	Enabled bool
	Mode    string // cosine, llm or hybrid
	Model   string // Model for llm scoring; empty uses the orchestrator default
}

// Reranker reorders passages by relevance to the query. It never fails:
// any error leaves the input order in place.
type Reranker struct {
	completer Completer
	config    RerankerConfig
	log       logging.Logger
}

// NewReranker creates a reranker. completer may be nil, which limits llm and
// hybrid modes to their fallbacks.
func NewReranker(completer Completer, config RerankerConfig, log logging.Logger) *Reranker {
	config.Mode = strings.ToLower(config.Mode)
	if config.Mode == "" {
		config.Mode = ModeCosine
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Reranker{completer: completer, config: config, log: log}
}

// Enabled reports whether reranking is switched on
func (r *Reranker) Enabled() bool {
	return r.config.Enabled
}

// Rerank returns at most topK passages, best first
func (r *Reranker) Rerank(ctx context.Context, queryID, query string, queryVec []float32, docs []model.SearchResult, topK int) []model.SearchResult {
	if len(docs) == 0 {
		return nil
	}
	if topK <= 0 {
		topK = len(docs)
	}
	if !r.config.Enabled {
		return head(docs, topK)
	}

	switch r.config.Mode {
	case ModeCosine:
		return r.cosine(queryVec, docs, topK)
	case ModeLLM:
		return r.llm(ctx, queryID, query, docs, topK)
	case ModeHybrid:
		return r.hybrid(ctx, queryID, query, queryVec, docs, topK)
	default:
		r.log.Warn("rerank", "unknown rerank mode, keeping search order", map[string]interface{}{
			"mode": r.config.Mode,
		})
		return head(docs, topK)
	}
}

// cosine ranks by similarity to the query vector. A passage without an
// embedding keeps its search relevance as its score. When no passage has an
// embedding the search order is kept as is.
func (r *Reranker) cosine(queryVec []float32, docs []model.SearchResult, topK int) []model.SearchResult {
	if len(queryVec) == 0 || !anyEmbedded(docs) {
		return head(docs, topK)
	}

	out := make([]model.SearchResult, len(docs))
	copy(out, docs)
	for i := range out {
		if len(out[i].Embedding) > 0 {
			out[i].Relevance = Cosine(queryVec, out[i].Embedding)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Relevance > out[j].Relevance
	})
	return head(out, topK)
}

func (r *Reranker) llm(ctx context.Context, queryID, query string, docs []model.SearchResult, topK int) []model.SearchResult {
	if r.completer == nil {
		return head(docs, topK)
	}

	resp, err := r.completer.Complete(ctx, llm.Request{
		Messages: []model.Message{
			model.System("You are a relevance scoring assistant. Respond only with valid JSON."),
			model.User(scoringPrompt(query, docs)),
		},
		Model:       r.config.Model,
		Temperature: llm.Temp(0.1),
		MaxTokens:   200,
		QueryID:     queryID,
		Scenario:    "llm_reranker",
	})
	if err != nil {
		r.log.Warn("rerank", "llm scoring failed, keeping search order", map[string]interface{}{
			"query_id": queryID,
			"error":    err.Error(),
		})
		metrics.Fallback("rerank", "llm_error")
		return head(docs, topK)
	}

	scores := parseScores(resp.Text, len(docs))
	out := make([]model.SearchResult, len(docs))
	copy(out, docs)
	for i := range out {
		out[i].Relevance = scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Relevance > out[j].Relevance
	})
	return head(out, topK)
}

// hybrid narrows with cosine to 2*topK, then has the model score the best topK+2
func (r *Reranker) hybrid(ctx context.Context, queryID, query string, queryVec []float32, docs []model.SearchResult, topK int) []model.SearchResult {
	candidates := r.cosine(queryVec, docs, min(topK*2, len(docs)))
	if r.completer == nil || len(candidates) <= 3 {
		return head(candidates, topK)
	}
	return r.llm(ctx, queryID, query, head(candidates, topK+2), topK)
}

func scoringPrompt(query string, docs []model.SearchResult) string {
	var b strings.Builder
	b.WriteString("Score each document's relevance to the query on a scale of 1-10.\n\n")
	fmt.Fprintf(&b, "Query: %q\n\nDocuments:\n", query)
	for i, d := range docs {
		title := d.Title
		if title == "" {
			title = "Untitled"
		}
		chunk := []rune(d.Chunk)
		if len(chunk) > 300 {
			chunk = chunk[:300]
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] Title: %s\n%s", i+1, title, string(chunk))
	}
	b.WriteString("\n\nRespond with ONLY a JSON object mapping document numbers to scores:\n")
	b.WriteString(`{"1": 8, "2": 3, "3": 9}`)
	b.WriteString("\n\nScoring:\n- 9-10: Directly answers the query\n- 7-8: Highly relevant\n")
	b.WriteString("- 5-6: Somewhat relevant\n- 3-4: Minimally relevant\n- 1-2: Not relevant")
	return b.String()
}

// parseScores reads a {"index": score} object. Missing or unreadable entries
// get the neutral score, as does everything when the reply is not JSON.
func parseScores(text string, n int) []float64 {
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = neutralScore
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(text)), &raw); err != nil {
		return scores
	}
	for i := 0; i < n; i++ {
		switch v := raw[strconv.Itoa(i+1)].(type) {
		case float64:
			scores[i] = v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				scores[i] = f
			}
		}
	}
	return scores
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, zero or the lengths differ
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func anyEmbedded(docs []model.SearchResult) bool {
	for _, d := range docs {
		if len(d.Embedding) > 0 {
			return true
		}
	}
	return false
}

func head(docs []model.SearchResult, n int) []model.SearchResult {
	if n >= len(docs) {
		return docs
	}
	return docs[:n]
}
