package groundedness

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/metrics"
	"github.com/ppiankov/groundwork/internal/model"
)

const maxCorrectionContext = 10000

// LoopConfig tunes the groundedness-driven correction loop
type LoopConfig struct {
	Model       string
	MaxRounds   int
	Temperature *float32 // nil uses 0.3
	MaxTokens   int
}

// CorrectionLoop rewrites a draft until the evaluator calls it grounded.
// It predates the RADAR loop and runs only when RADAR is disabled.
type CorrectionLoop struct {
	evaluator *Evaluator
	completer Completer
	log       logging.Logger
	config    LoopConfig
}

// NewCorrectionLoop creates a loop; completer nil disables rewriting
func NewCorrectionLoop(evaluator *Evaluator, completer Completer, log logging.Logger, config LoopConfig) *CorrectionLoop {
	if config.MaxRounds <= 0 {
		config.MaxRounds = 1
	}
	if config.Temperature == nil {
		config.Temperature = llm.Temp(0.3)
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2000
	}
	if log == nil {
		log = logging.Nop()
	}
	return &CorrectionLoop{evaluator: evaluator, completer: completer, log: log, config: config}
}

// Correct evaluates in.Answer and rewrites it for up to MaxRounds rounds.
// A round stops the loop when the verdict is grounded, when the failure is
// a retrieval failure, when there is nothing to act on, or when the rewrite
// comes back empty.
func (l *CorrectionLoop) Correct(ctx context.Context, in Input) *model.LegacyCorrection {
	out := &model.LegacyCorrection{
		FinalResponse: in.Answer,
		OriginalDraft: in.Answer,
	}

	current := in
	for round := 1; round <= l.config.MaxRounds; round++ {
		eval := l.evaluator.Evaluate(ctx, current)
		out.Evaluation = eval

		details := map[string]interface{}{
			"query_id": in.QueryID,
			"round":    round,
			"score":    eval.Score,
			"grounded": eval.Grounded,
		}

		if eval.FailureMode == model.FailureRetrieval {
			l.log.Info("correction", "skipping correction, context does not cover the answer", details)
			break
		}
		if eval.Grounded {
			l.log.Info("correction", "answer is grounded", details)
			break
		}
		if len(eval.UnsupportedClaims) == 0 && len(eval.Recommendations) == 0 {
			l.log.Info("correction", "no recommendations to act on", details)
			break
		}
		if l.completer == nil {
			l.log.Warn("correction", "no completer for correction", details)
			break
		}

		prompt := buildCorrectionPrompt(current, eval)
		resp, err := l.completer.Complete(ctx, llm.Request{
			Messages:    []model.Message{model.User(prompt)},
			Model:       l.config.Model,
			Temperature: l.config.Temperature,
			MaxTokens:   l.config.MaxTokens,
			QueryID:     in.QueryID,
			Scenario:    "correction_loop_apply",
		})
		if err != nil {
			details["error"] = err.Error()
			l.log.Warn("correction", "correction call failed", details)
			break
		}
		if strings.TrimSpace(resp.Text) == "" {
			l.log.Warn("correction", "correction returned empty response, keeping draft", details)
			break
		}

		current.Answer = resp.Text
		out.FinalResponse = resp.Text
		out.WasCorrected = true
		out.CorrectionPrompt = prompt
		out.RoundsUsed = round
		l.log.Info("correction", "correction applied", details)
	}

	metrics.Correction(string(model.CorrectionLegacy), out.WasCorrected)
	return out
}

func buildCorrectionPrompt(in Input, eval *model.EvaluationResult) string {
	var claims strings.Builder
	for i, c := range eval.UnsupportedClaims {
		fmt.Fprintf(&claims, "%d. **Claim**: %s\n", i+1, c.Claim)
		reason := c.Reason
		if reason == "" {
			reason = fmt.Sprintf("Support: %s, Severity: %s", orDefault(c.SupportLevel, "none"), orDefault(c.Severity, "unknown"))
		}
		fmt.Fprintf(&claims, "   **Issue**: %s\n", reason)
		if c.Recommendation != "" {
			fmt.Fprintf(&claims, "   **Fix**: %s\n", c.Recommendation)
		}
	}
	claimsText := claims.String()
	if claimsText == "" {
		claimsText = "(None identified)"
	}

	var recs strings.Builder
	for i, r := range eval.Recommendations {
		fmt.Fprintf(&recs, "%d. %s\n", i+1, r)
	}
	recsText := recs.String()
	if recsText == "" {
		recsText = "(No specific recommendations)"
	}

	return fmt.Sprintf(correctionPrompt,
		truncate(in.Context, maxCorrectionContext),
		in.Query,
		in.Answer,
		eval.Score,
		claimsText,
		recsText,
	)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
