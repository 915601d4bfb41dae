package store

import (
	"context"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/worker"
)

// Recorder is the write side used by the pipeline
type Recorder interface {
	SaveQuery(ctx context.Context, queryID, sessionID string) error
	SaveQueryDetails(ctx context.Context, d model.QueryDetails) error
	SaveUsage(ctx context.Context, rec model.UsageRecord) error
	SaveEvaluation(ctx context.Context, rec model.EvaluationRecord) error
}

// Nop discards every write; used when storage is disabled
type Nop struct{}

func (Nop) SaveQuery(context.Context, string, string) error { return nil }
func (Nop) SaveQueryDetails(context.Context, model.QueryDetails) error { return nil }
func (Nop) SaveUsage(context.Context, model.UsageRecord) error { return nil }
func (Nop) SaveEvaluation(context.Context, model.EvaluationRecord) error { return nil }

// Async hands every write to a worker pool so persistence never delays a
// turn. Submission never blocks, so background jobs on the same pool may
// record through it. Write failures and dropped writes are logged by the pool.
type Async struct {
	next Recorder
	pool *worker.Pool
}

// NewAsync wraps next
func NewAsync(next Recorder, pool *worker.Pool) *Async {
	return &Async{next: next, pool: pool}
}

func (a *Async) SaveQuery(_ context.Context, queryID, sessionID string) error {
	a.pool.Go("save_query", func(ctx context.Context) error {
		return a.next.SaveQuery(ctx, queryID, sessionID)
	})
	return nil
}

func (a *Async) SaveQueryDetails(_ context.Context, d model.QueryDetails) error {
	a.pool.Go("save_query_details", func(ctx context.Context) error {
		return a.next.SaveQueryDetails(ctx, d)
	})
	return nil
}

func (a *Async) SaveUsage(_ context.Context, rec model.UsageRecord) error {
	a.pool.Go("save_usage", func(ctx context.Context) error {
		return a.next.SaveUsage(ctx, rec)
	})
	return nil
}

func (a *Async) SaveEvaluation(_ context.Context, rec model.EvaluationRecord) error {
	a.pool.Go("save_evaluation", func(ctx context.Context) error {
		return a.next.SaveEvaluation(ctx, rec)
	})
	return nil
}
