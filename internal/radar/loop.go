// Package radar scores an answer on six quality dimensions and rewrites the
// dimensions that fall short. It shapes style only and never judges whether
// a claim is supported.
package radar

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/metrics"
	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/score"
)

const (
	maxEvalResponse   = 2000
	maxEvalContext    = 5000
	maxCorrectContext = 8000
)

// Completer runs a single model call
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Config tunes the loop. Zero values take the defaults.
type Config struct {
	Model               string
	Temperature         *float32 // Correction temperature, nil uses 0.6
	MaxRounds           int
	Verbosity           string // low, medium or high
	ReasoningEffort     string
	UseReasoning        bool             // Send corrections in the reasoning call style
	Thresholds          score.Thresholds // Nil uses the verbosity defaults
	EvalMaxTokens       int
	CorrectionMaxTokens int
}

// Input is one draft to shape
type Input struct {
	QueryID string
	Query   string
	Draft   string
	Context string
}

// Loop evaluates and corrects drafts
type Loop struct {
	completer  Completer
	log        logging.Logger
	config     Config
	thresholds score.Thresholds
}

// New creates a loop
func New(completer Completer, config Config, log logging.Logger) *Loop {
	if config.Temperature == nil {
		config.Temperature = llm.Temp(0.6)
	}
	if config.MaxRounds <= 0 {
		config.MaxRounds = 1
	}
	if config.EvalMaxTokens <= 0 {
		config.EvalMaxTokens = 1500
	}
	if config.CorrectionMaxTokens <= 0 {
		config.CorrectionMaxTokens = 2000
	}
	config.Verbosity = strings.ToLower(config.Verbosity)

	thresholds := score.ForVerbosity(config.Verbosity)
	if config.Thresholds != nil {
		thresholds = config.Thresholds
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Loop{completer: completer, log: log, config: config, thresholds: thresholds}
}

// Thresholds returns the pass thresholds in effect
func (l *Loop) Thresholds() score.Thresholds {
	return l.thresholds
}

// Correct scores the draft and rewrites it for up to MaxRounds rounds. It
// stops early once every dimension passes or a rewrite comes back empty.
func (l *Loop) Correct(ctx context.Context, in Input) *model.RadarResult {
	res := &model.RadarResult{
		FinalResponse: in.Draft,
		OriginalDraft: in.Draft,
	}

	current := in.Draft
	lastPrompt := ""
	for round := 1; round <= l.config.MaxRounds; round++ {
		card, usage := l.evaluate(ctx, in.QueryID, in.Query, current, in.Context)
		res.EvalPromptTokens += usage.Prompt()
		res.EvalCompletionTokens += usage.Completion()
		l.fill(res, card)

		if len(res.FailingDimensions) == 0 {
			l.log.Info("radar", "all dimensions pass", map[string]interface{}{
				"query_id": in.QueryID,
				"round":    round,
			})
			break
		}

		prompt := l.correctionPrompt(in.Query, current, in.Context, res.FailingDimensions, card)
		corrected, usage, err := l.apply(ctx, in.QueryID, prompt)
		res.CorrectionPromptTokens += usage.Prompt()
		res.CorrectionCompletionTokens += usage.Completion()
		if err != nil {
			l.log.Warn("radar", "correction call failed, keeping draft", map[string]interface{}{
				"query_id": in.QueryID,
				"round":    round,
				"error":    err.Error(),
			})
			break
		}
		if strings.TrimSpace(corrected) == "" {
			l.log.Warn("radar", "correction returned empty response, keeping draft", map[string]interface{}{
				"query_id": in.QueryID,
				"round":    round,
			})
			break
		}

		current = corrected
		lastPrompt = prompt
		res.WasCorrected = true
		res.RoundsUsed = round
		l.log.Info("radar", "correction applied", map[string]interface{}{
			"query_id": in.QueryID,
			"round":    round,
			"failing":  res.FailingDimensions,
		})
	}

	res.FinalResponse = current
	if res.WasCorrected {
		res.CorrectionPrompt = lastPrompt
	}
	metrics.Correction(string(model.CorrectionRadar), res.WasCorrected)
	l.log.Info("radar", "loop finished", map[string]interface{}{
		"query_id":     in.QueryID,
		"corrected":    res.WasCorrected,
		"rounds":       res.RoundsUsed,
		"total_tokens": res.TotalTokens(),
	})
	return res
}

// EvaluateOnly scores the draft without rewriting it, for answers that were
// already delivered
func (l *Loop) EvaluateOnly(ctx context.Context, in Input) *model.RadarResult {
	res := &model.RadarResult{
		FinalResponse: in.Draft,
		OriginalDraft: in.Draft,
		EvaluateOnly:  true,
	}
	card, usage := l.evaluate(ctx, in.QueryID, in.Query, in.Draft, in.Context)
	res.EvalPromptTokens = usage.Prompt()
	res.EvalCompletionTokens = usage.Completion()
	l.fill(res, card)

	l.log.Info("radar", "evaluate only", map[string]interface{}{
		"query_id": in.QueryID,
		"failing":  res.FailingDimensions,
	})
	return res
}

func (l *Loop) fill(res *model.RadarResult, card score.Card) {
	res.Scores = card.Scores()
	res.Reasons = card.Reasons()
	res.FailingDimensions = l.thresholds.Failing(res.Scores)
}

// evaluate scores one response. Failures score every dimension neutral.
func (l *Loop) evaluate(ctx context.Context, queryID, query, response, sources string) (score.Card, llm.Usage) {
	if l.completer == nil {
		return score.NeutralCard("Evaluation error: no completer"), llm.Usage{}
	}

	prompt := fmt.Sprintf(evaluationPrompt,
		verbosityEvalContext[l.config.Verbosity],
		query,
		truncate(response, maxEvalResponse),
		truncate(sources, maxEvalContext),
	)
	resp, err := l.completer.Complete(ctx, llm.Request{
		Messages:    []model.Message{model.System(evaluatorSystem), model.User(prompt)},
		Model:       l.config.Model,
		Temperature: llm.Temp(0),
		MaxTokens:   l.config.EvalMaxTokens,
		JSONMode:    true,
		QueryID:     queryID,
		Scenario:    "radar_correction_evaluation",
	})
	if err != nil {
		l.log.Warn("radar", "evaluation failed", map[string]interface{}{
			"query_id": queryID,
			"error":    err.Error(),
		})
		metrics.Fallback("radar", "evaluation_error")
		return score.NeutralCard("Evaluation error: " + err.Error()), llm.Usage{}
	}

	card, err := score.Parse(resp.Text)
	if err != nil {
		l.log.Warn("radar", "unreadable evaluation", map[string]interface{}{
			"query_id": queryID,
			"error":    err.Error(),
		})
		metrics.Fallback("radar", "evaluation_parse")
		return score.NeutralCard("Evaluation error: " + err.Error()), resp.Usage
	}
	return card, resp.Usage
}

func (l *Loop) correctionPrompt(query, draft, sources string, failing []model.Dimension, card score.Card) string {
	verbosity := l.config.Verbosity
	if verbosity == "" {
		verbosity = "medium"
	}
	return fmt.Sprintf(correctionPrompt,
		query,
		draft,
		truncate(sources, maxCorrectContext),
		feedback(failing, card, query),
		verbosityInstructions[verbosity],
		instructions(failing),
	)
}

// apply sends the correction. In the reasoning style the completer falls
// back to the standard style, which uses the correction temperature.
func (l *Loop) apply(ctx context.Context, queryID, prompt string) (string, llm.Usage, error) {
	if l.completer == nil {
		return "", llm.Usage{}, fmt.Errorf("no completer")
	}
	req := llm.Request{
		Messages:    []model.Message{model.User(prompt)},
		Model:       l.config.Model,
		Temperature: l.config.Temperature,
		MaxTokens:   l.config.CorrectionMaxTokens,
		Style:       llm.StyleStandard,
		QueryID:     queryID,
		Scenario:    "radar_correction_apply",
	}
	if l.config.UseReasoning {
		req.Style = llm.StyleReasoning
		req.ReasoningEffort = orDefault(l.config.ReasoningEffort, "medium")
		req.Verbosity = orDefault(l.config.Verbosity, "medium")
	}

	resp, err := l.completer.Complete(ctx, req)
	if err != nil {
		return "", llm.Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
