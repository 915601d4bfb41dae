// Package groundedness judges whether an answer is supported by the context
// it was generated from. It emits trust verdicts only; style is out of scope.
package groundedness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/groundwork/internal/assemble"
	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/metrics"
	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/policy"
)

const (
	maxSupportContext = 15000 // Context chars sent to the citation-support call
	maxSnippet        = 2000  // Context chars kept in the persisted record
)

// Completer runs a single model call
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// EvaluationSink persists verdicts
type EvaluationSink interface {
	SaveEvaluation(ctx context.Context, rec model.EvaluationRecord) error
}

// Config tunes the evaluator's model calls
type Config struct {
	Model           string
	MaxTokens       int
	Temperature     float64
	EmptyRetries    int           // Extra attempts when the model returns no text
	EmptyRetryDelay time.Duration // Pause before each extra attempt
}

// Input is one answer to judge
type Input struct {
	QueryID string
	Query   string
	Answer  string
	Context string // Assembled context block with <source id> tags
	Persona string
}

// Evaluator is the truth gate
type Evaluator struct {
	completer Completer
	engine    *policy.Engine
	sink      EvaluationSink
	log       logging.Logger
	config    Config
	now       func() time.Time
}

// NewEvaluator creates an evaluator. With a nil completer every verdict
// comes from the citation audit alone. engine nil uses the default policies;
// sink may be nil.
func NewEvaluator(completer Completer, engine *policy.Engine, sink EvaluationSink, log logging.Logger, config Config) *Evaluator {
	if engine == nil {
		engine = policy.NewEngine(nil)
	}
	if log == nil {
		log = logging.Nop()
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 5000
	}
	if config.EmptyRetries < 0 {
		config.EmptyRetries = 0
	}
	if config.EmptyRetryDelay == 0 {
		config.EmptyRetryDelay = 500 * time.Millisecond
	}
	return &Evaluator{
		completer: completer,
		engine:    engine,
		sink:      sink,
		log:       log,
		config:    config,
		now:       time.Now,
	}
}

// DefaultConfig returns the evaluator defaults
func DefaultConfig() Config {
	return Config{
		MaxTokens:       5000,
		Temperature:     0,
		EmptyRetries:    2,
		EmptyRetryDelay: 500 * time.Millisecond,
	}
}

type citationReply struct {
	Supported         bool                     `json:"citation_supported"`
	Score             float64                  `json:"citation_score"`
	UnsupportedClaims []model.UnsupportedClaim `json:"unsupported_claims"`
	EvidenceNotes     []string                 `json:"evidence_notes"`
}

type coverageReply struct {
	QuestionAddressed *bool    `json:"question_addressed"`
	CoverageScore     float64  `json:"coverage_score"`
	IntentFulfillment *bool    `json:"intent_fulfillment"`
	IntentGaps        []string `json:"intent_gaps"`
	ScopeIssues       []string `json:"scope_issues"`
}

// Evaluate judges one answer. It never returns an error: a failed model
// call degrades to the citation-audit verdict.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) *model.EvaluationResult {
	start := e.now()

	if strings.TrimSpace(in.Answer) == "" {
		return &model.EvaluationResult{
			Grounded:          true,
			Score:             1.0,
			Confidence:        1.0,
			QuestionAddressed: true,
			IntentFulfillment: true,
			FailureMode:       model.FailureNone,
			Summary:           "Empty answer - trivially grounded",
		}
	}

	if isEmptyContext(in.Context) {
		res := &model.EvaluationResult{
			Grounded:        false,
			Recommendations: []string{"No context provided - cannot verify claims"},
			FailureMode:     model.FailureRetrieval,
			Summary:         "No context available for evaluation",
		}
		e.finish(ctx, in, res, start)
		return res
	}

	audit := Audit(in.Answer, in.Context)

	if e.completer == nil {
		res := auditOnly(audit, "LLM client not configured - using citation audit only")
		e.finish(ctx, in, res, start)
		return res
	}

	var (
		citation citationReply
		coverage coverageReply
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prompt := citationSupportPrompt + "\n\n## Context\n" + truncate(in.Context, maxSupportContext) +
			"\n\n## Generated Answer\n" + in.Answer
		text, err := e.call(gctx, in.QueryID, "groundedness_citation_support", prompt)
		if err != nil {
			return fmt.Errorf("citation support: %w", err)
		}
		e.parse(text, &citation)
		return nil
	})
	g.Go(func() error {
		prompt := queryCoveragePrompt + "\n\n## User Question\n" + in.Query +
			"\n\n## Generated Answer\n" + in.Answer
		text, err := e.call(gctx, in.QueryID, "groundedness_query_coverage", prompt)
		if err != nil {
			return fmt.Errorf("query coverage: %w", err)
		}
		e.parse(text, &coverage)
		return nil
	})

	if err := g.Wait(); err != nil {
		e.log.Warn("groundedness", "evaluation failed, using citation audit", map[string]interface{}{
			"query_id": in.QueryID,
			"error":    err.Error(),
		})
		metrics.Fallback("groundedness", "llm_error")
		res := auditOnly(audit, "Evaluation failed - using citation audit only")
		e.finish(ctx, in, res, start)
		return res
	}

	decision := e.engine.Decide(
		policy.CitationSignal{Supported: citation.Supported, Score: citation.Score},
		policy.CoverageSignal{Score: coverage.CoverageScore},
		in.Persona,
	)

	var recs []string
	for _, claim := range citation.UnsupportedClaims {
		if claim.Recommendation != "" {
			recs = append(recs, claim.Recommendation)
		}
	}
	recs = append(recs, citation.EvidenceNotes...)

	res := &model.EvaluationResult{
		Grounded:          decision.Grounded,
		Score:             decision.Score,
		Confidence:        citation.Score,
		UnsupportedClaims: citation.UnsupportedClaims,
		Recommendations:   recs,
		QuestionAddressed: boolOr(coverage.QuestionAddressed, true),
		CoverageScore:     coverage.CoverageScore,
		IntentFulfillment: boolOr(coverage.IntentFulfillment, true),
		IntentGaps:        coverage.IntentGaps,
		ScopeIssues:       coverage.ScopeIssues,
		EvidenceNotes:     citation.EvidenceNotes,
		FailureMode:       decision.FailureMode,
		CitationAudit:     &audit,
		Policy:            decision.Policy.Metadata(),
		Summary:           fmt.Sprintf("Policy: %s Mode: %s", decision.Policy.Name, decision.FailureMode),
		Model:             e.config.Model,
	}
	e.finish(ctx, in, res, start)
	return res
}

// call runs one judge call, retrying when the model returns no text. A reply
// that stays empty is returned as "" without error.
func (e *Evaluator) call(ctx context.Context, queryID, scenario, prompt string) (string, error) {
	var text string
	err := retry.Do(
		func() error {
			resp, err := e.completer.Complete(ctx, llm.Request{
				Messages:    []model.Message{model.User(prompt)},
				Model:       e.config.Model,
				Temperature: llm.Temp(e.config.Temperature),
				MaxTokens:   e.config.MaxTokens,
				QueryID:     queryID,
				Scenario:    scenario,
			})
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if strings.TrimSpace(resp.Text) == "" {
				return llm.ErrEmptyCompletion
			}
			text = resp.Text
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.config.EmptyRetries+1)),
		retry.Delay(e.config.EmptyRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.log.Warn("groundedness", "empty judge reply, retrying", map[string]interface{}{
				"attempt":  n + 1,
				"scenario": scenario,
			})
		}),
	)
	if errors.Is(err, llm.ErrEmptyCompletion) {
		return "", nil
	}
	return text, err
}

// parse fills v from a judge reply; anything unreadable leaves v zero
func (e *Evaluator) parse(text string, v interface{}) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(text)), v); err != nil {
		e.log.Warn("groundedness", "unreadable judge reply", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (e *Evaluator) finish(ctx context.Context, in Input, res *model.EvaluationResult, start time.Time) {
	res.Settle()
	res.LatencyMS = e.now().Sub(start).Milliseconds()

	policyName := ""
	if res.Policy != nil {
		policyName = res.Policy.Selected
	}
	metrics.Verdict(string(res.FailureMode), policyName)
	e.log.Info("groundedness", "verdict", map[string]interface{}{
		"query_id":     in.QueryID,
		"grounded":     res.Grounded,
		"score":        res.Score,
		"failure_mode": string(res.FailureMode),
		"policy":       policyName,
		"audit_only":   res.AuditOnly,
	})

	if e.sink == nil {
		return
	}
	rec := model.EvaluationRecord{
		QueryID:        in.QueryID,
		Answer:         in.Answer,
		ContextSnippet: truncate(in.Context, maxSnippet),
		Result:         *res,
		CreatedAt:      e.now(),
	}
	if err := e.sink.SaveEvaluation(context.WithoutCancel(ctx), rec); err != nil {
		e.log.Warn("groundedness", "failed to save evaluation", map[string]interface{}{
			"query_id": in.QueryID,
			"error":    err.Error(),
		})
	}
}

// auditOnly builds a verdict from the deterministic citation audit
func auditOnly(audit model.CitationAudit, note string) *model.EvaluationResult {
	res := &model.EvaluationResult{
		Grounded:          audit.OK,
		Score:             audit.CoverageRatio,
		Confidence:        0.5,
		QuestionAddressed: true,
		IntentFulfillment: true,
		CitationAudit:     &audit,
		Recommendations:   []string{note},
		Summary:           "Citation-only evaluation",
		AuditOnly:         true,
		FailureMode:       model.FailureNone,
	}
	if !audit.OK {
		res.FailureMode = model.FailureRetrieval
	}
	return res
}

func isEmptyContext(sources string) bool {
	trimmed := strings.TrimSpace(sources)
	return trimmed == "" || trimmed == assemble.EmptyContext
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
