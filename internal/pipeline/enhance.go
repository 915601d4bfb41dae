package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/groundwork/internal/cache"
	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/metrics"
	"github.com/ppiankov/groundwork/internal/model"
)

const (
	enhanceHistory   = 5
	enhanceMaxTokens = 100
)

const enhancePrompt = "Based on the following conversation history, please generate a concise and informative " +
	"search query that captures the user's intent. The query should be self-contained and not require the " +
	"conversation history to be understood. Focus on the most recent user query and the key entities and " +
	"topics discussed.\n\n"

// Enhancer rewrites a follow-up question into a standalone search query
type Enhancer struct {
	completer Completer
	cache     cache.Cache
	ttl       time.Duration
	log       logging.Logger
}

// NewEnhancer creates an enhancer. c may be nil to disable caching.
func NewEnhancer(completer Completer, c cache.Cache, ttl time.Duration, log logging.Logger) *Enhancer {
	if log == nil {
		log = logging.Nop()
	}
	return &Enhancer{completer: completer, cache: c, ttl: ttl, log: log}
}

// Enhance returns the search query for query given the stored history. Any
// failure or empty output returns query unchanged.
func (e *Enhancer) Enhance(ctx context.Context, queryID, query string, history []model.Message) string {
	if len(history) > enhanceHistory {
		history = history[len(history)-enhanceHistory:]
	}

	var b strings.Builder
	b.WriteString(enhancePrompt)
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "\nGenerate a search query for the last user message: '%s'", query)
	prompt := b.String()

	key := cache.Key("enhance", prompt)
	var cached string
	if cache.GetJSON(e.cache, key, &cached) && cached != "" {
		e.log.Debug("pipeline", "enhanced query from cache", map[string]interface{}{"query_id": queryID})
		return cached
	}

	resp, err := e.completer.Complete(ctx, llm.Request{
		Messages:    []model.Message{model.User(prompt)},
		Temperature: llm.Temp(0.2),
		TopP:        llm.Temp(1.0),
		MaxTokens:   enhanceMaxTokens,
		QueryID:     queryID,
		Scenario:    "query_enhancement",
	})
	if err != nil {
		e.log.Warn("pipeline", "query enhancement failed, using original query", map[string]interface{}{
			"query_id": queryID,
			"error":    err.Error(),
		})
		metrics.Fallback("enhance", "llm_error")
		return query
	}

	enhanced := strings.Trim(strings.TrimSpace(resp.Text), `"'`)
	if enhanced == "" {
		metrics.Fallback("enhance", "empty")
		return query
	}

	if err := cache.SetJSON(e.cache, key, enhanced, e.ttl); err != nil {
		e.log.Warn("pipeline", "failed to cache enhanced query", map[string]interface{}{"error": err.Error()})
	}
	e.log.Info("pipeline", "query enhanced", map[string]interface{}{
		"query_id": queryID,
		"original": query,
		"enhanced": enhanced,
	})
	return enhanced
}
