// Package completion wraps a provider with retries, pacing, call-style
// fallback, and per-call usage accounting.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/metrics"
	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/worker"
)

// UsageSink receives one record per model call
type UsageSink interface {
	SaveUsage(ctx context.Context, rec model.UsageRecord) error
}

// Config tunes the orchestrator
type Config struct {
	Model       string        // Used when a request leaves Model empty
	MaxAttempts int           // Attempts per call style, including the first
	RetryDelay  time.Duration // Base delay between attempts; doubles each retry
}

// Orchestrator issues model calls on behalf of every pipeline component
type Orchestrator struct {
	provider llm.Provider
	limiter  *worker.Limiter
	sink     UsageSink
	prices   *llm.PriceTable
	log      logging.Logger
	config   Config
	now      func() time.Time
}

// New creates an orchestrator. limiter and sink may be nil.
func New(provider llm.Provider, limiter *worker.Limiter, sink UsageSink, prices *llm.PriceTable, log logging.Logger, config Config) *Orchestrator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 500 * time.Millisecond
	}
	if prices == nil {
		prices = llm.NewPriceTable(nil)
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Orchestrator{
		provider: provider,
		limiter:  limiter,
		sink:     sink,
		prices:   prices,
		log:      log,
		config:   config,
		now:      time.Now,
	}
}

// Model returns the default model name
func (o *Orchestrator) Model() string {
	return o.config.Model
}

// Complete runs one call. A reasoning-style request that fails is retried
// once in the standard style with the same messages and token budget.
func (o *Orchestrator) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	req = o.withDefaults(req)

	if req.Style == llm.StyleReasoning {
		resp, err := o.completeStyle(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		o.log.Warn("completion", "reasoning call failed, falling back to standard", map[string]interface{}{
			"query_id": req.QueryID,
			"scenario": req.Scenario,
			"error":    err.Error(),
		})
		metrics.Fallback("completion", "reasoning_style")
		req.Style = llm.StyleStandard
	}

	return o.completeStyle(ctx, req)
}

func (o *Orchestrator) completeStyle(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var resp *llm.Response
	start := o.now()

	err := retry.Do(
		func() error {
			if err := o.limiter.Wait(ctx, worker.Key(o.provider.Name(), req.Model)); err != nil {
				return retry.Unrecoverable(err)
			}
			r, err := o.provider.Complete(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		o.retryOptions(ctx, req)...,
	)

	if err != nil {
		o.record(ctx, req, nil, callType(req.Style, false), start, false)
		return nil, fmt.Errorf("%s completion (%s): %w", req.Style, req.Scenario, err)
	}

	if resp.Model == "" {
		resp.Model = req.Model
	}
	o.record(ctx, req, resp, resp.CallType, start, true)
	return resp, nil
}

// Stream runs a streaming call, forwarding each text fragment to onChunk.
// A reasoning-style stream that fails before anything was forwarded falls
// back to a standard-style stream. If onChunk returns an error the stream is
// still drained so the full text and usage are known.
func (o *Orchestrator) Stream(ctx context.Context, req llm.Request, onChunk func(string) error) (*llm.Response, error) {
	req = o.withDefaults(req)

	if req.Style == llm.StyleReasoning {
		resp, forwarded, err := o.streamStyle(ctx, req, onChunk)
		if err == nil || forwarded || ctx.Err() != nil {
			return resp, err
		}
		o.log.Warn("completion", "reasoning stream failed, falling back to standard", map[string]interface{}{
			"query_id": req.QueryID,
			"scenario": req.Scenario,
			"error":    err.Error(),
		})
		metrics.Fallback("completion", "reasoning_stream")
		req.Style = llm.StyleStandard
	}

	resp, _, err := o.streamStyle(ctx, req, onChunk)
	return resp, err
}

func (o *Orchestrator) streamStyle(ctx context.Context, req llm.Request, onChunk func(string) error) (*llm.Response, bool, error) {
	start := o.now()
	kind := callType(req.Style, true)

	var stream llm.Stream
	err := retry.Do(
		func() error {
			if err := o.limiter.Wait(ctx, worker.Key(o.provider.Name(), req.Model)); err != nil {
				return retry.Unrecoverable(err)
			}
			s, err := o.provider.CompleteStream(ctx, req)
			if err != nil {
				return err
			}
			stream = s
			return nil
		},
		o.retryOptions(ctx, req)...,
	)
	if err != nil {
		o.record(ctx, req, nil, kind, start, false)
		return nil, false, fmt.Errorf("%s stream (%s): %w", req.Style, req.Scenario, err)
	}
	defer func() { _ = stream.Close() }()

	var text strings.Builder
	var usage *llm.Usage
	forwarded := false
	listening := onChunk != nil

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			partial := &llm.Response{Text: text.String(), Model: req.Model, CallType: kind}
			o.record(ctx, req, partial, kind, start, false)
			return partial, forwarded, fmt.Errorf("%s stream (%s): %w", req.Style, req.Scenario, err)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.Text == "" {
			continue
		}
		text.WriteString(chunk.Text)
		if listening {
			if err := onChunk(chunk.Text); err != nil {
				listening = false
			} else {
				forwarded = true
			}
		}
	}

	resp := &llm.Response{
		Text:     strings.TrimSpace(text.String()),
		Model:    req.Model,
		CallType: kind,
	}
	if usage != nil {
		resp.Usage = *usage
	}
	o.record(ctx, req, resp, kind, start, true)
	return resp, forwarded, nil
}

// Embed returns the embedding of text
func (o *Orchestrator) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := retry.Do(
		func() error {
			v, err := o.provider.Embed(ctx, text)
			if err != nil {
				if errors.Is(err, llm.ErrEmbeddingsUnsupported) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			vec = v
			return nil
		},
		o.retryOptions(ctx, llm.Request{Scenario: "embedding"})...,
	)
	return vec, err
}

func (o *Orchestrator) withDefaults(req llm.Request) llm.Request {
	if req.Model == "" {
		req.Model = o.config.Model
	}
	if req.Style == "" {
		req.Style = llm.StyleStandard
	}
	return req
}

func (o *Orchestrator) retryOptions(ctx context.Context, req llm.Request) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(o.config.MaxAttempts)),
		retry.Delay(o.config.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) &&
				!errors.Is(err, llm.ErrStyleUnsupported) &&
				!errors.Is(err, context.Canceled)
		}),
		retry.OnRetry(func(n uint, err error) {
			o.log.Debug("completion", "retrying model call", map[string]interface{}{
				"attempt":  n + 1,
				"scenario": req.Scenario,
				"error":    err.Error(),
			})
		}),
	}
}

// record builds a usage record for every call outcome, estimating counts
// locally when the provider did not report them
func (o *Orchestrator) record(ctx context.Context, req llm.Request, resp *llm.Response, kind string, start time.Time, ok bool) {
	rec := model.UsageRecord{
		QueryID:   req.QueryID,
		Provider:  o.provider.Name(),
		Model:     req.Model,
		CallType:  kind,
		Scenario:  req.Scenario,
		Succeeded: ok,
		LatencyMS: o.now().Sub(start).Milliseconds(),
		CreatedAt: o.now(),
	}

	usage := llm.Usage{}
	if resp != nil {
		if resp.Model != "" {
			rec.Model = resp.Model
		}
		usage = resp.Usage
		if !usage.Known() && resp.Text != "" {
			usage = llm.NewUsage(llm.EstimateMessages(req.Messages), llm.EstimateTokens(resp.Text))
			rec.Estimated = true
		}
	}

	rec.PromptTokens = usage.Prompt()
	rec.CompletionTokens = usage.Completion()
	rec.TotalTokens = usage.Total()
	rec.PromptCost, rec.CompletionCost, rec.TotalCost = o.prices.Cost(rec.Model, usage)

	metrics.Tokens(rec.Model, rec.PromptTokens, rec.CompletionTokens)
	metrics.Cost(rec.Model, rec.TotalCost)

	if o.sink == nil {
		return
	}
	if err := o.sink.SaveUsage(context.WithoutCancel(ctx), rec); err != nil {
		o.log.Warn("completion", "failed to record usage", map[string]interface{}{
			"query_id": req.QueryID,
			"error":    err.Error(),
		})
	}
}

func callType(style llm.CallStyle, stream bool) string {
	switch {
	case style == llm.StyleReasoning && stream:
		return model.CallResponsesStream
	case style == llm.StyleReasoning:
		return model.CallResponses
	case stream:
		return model.CallChatCompletionsStream
	default:
		return model.CallChatCompletions
	}
}
