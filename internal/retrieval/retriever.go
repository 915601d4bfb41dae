// Package retrieval fetches candidate passages and prepares them for the
// context block: deduplication and reranking.
package retrieval

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/model"
)

// Query is one search request
type Query struct {
	Text   string
	Top    int       // Results to return
	KNN    int       // Nearest neighbours considered by the vector leg
	Vector []float32 // Query embedding; nil runs a text-only search
}

// Retriever is the search service contract
type Retriever interface {
	Search(ctx context.Context, q Query) ([]model.SearchResult, error)
}

// Retrying wraps a retriever with a bounded number of attempts
type Retrying struct {
	inner    Retriever
	attempts int
	delay    time.Duration
	log      logging.Logger
}

// WithRetry wraps r so each search is tried up to attempts times
func WithRetry(r Retriever, attempts int, delay time.Duration, log logging.Logger) *Retrying {
	if attempts <= 0 {
		attempts = 1
	}
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Retrying{inner: r, attempts: attempts, delay: delay, log: log}
}

// Search runs the wrapped search, retrying failures with exponential backoff
func (r *Retrying) Search(ctx context.Context, q Query) ([]model.SearchResult, error) {
	var results []model.SearchResult
	err := retry.Do(
		func() error {
			res, err := r.inner.Search(ctx, q)
			if err != nil {
				return err
			}
			results = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(r.attempts)),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.log.Warn("retrieval", "search failed, retrying", map[string]interface{}{
				"attempt": n + 1,
				"error":   err.Error(),
			})
		}),
	)
	return results, err
}
