package radar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	mu       sync.Mutex
	evals    []string
	fixes    []string
	evalErr  error
	fixErr   error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	switch req.Scenario {
	case "radar_correction_evaluation":
		if f.evalErr != nil {
			return nil, f.evalErr
		}
		return &llm.Response{Text: pop(&f.evals), Usage: llm.NewUsage(100, 40)}, nil
	case "radar_correction_apply":
		if f.fixErr != nil {
			return nil, f.fixErr
		}
		return &llm.Response{Text: pop(&f.fixes), Usage: llm.NewUsage(300, 120)}, nil
	}
	return nil, fmt.Errorf("unexpected scenario %q", req.Scenario)
}

func (f *fakeCompleter) count(scenario string) int {
	n := 0
	for _, r := range f.requests {
		if r.Scenario == scenario {
			n++
		}
	}
	return n
}

func pop(queue *[]string) string {
	if len(*queue) == 0 {
		return ""
	}
	head := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	return head
}

func verdict(hygiene float64) string {
	return fmt.Sprintf(`{
		"query_resolution": {"score": 0.9, "reason": "direct"},
		"scope_discipline": {"score": 0.9, "reason": "measured"},
		"completeness": {"score": 0.9, "reason": "covers it"},
		"clarity": {"score": 0.9, "reason": "clear"},
		"actionability": {"score": 0.9, "reason": "has steps"},
		"citation_hygiene": {"score": %.2f, "reason": "markers", "formatting_issues": ["[4] has no source", "uses (1) instead of [1]"]}
	}`, hygiene)
}

func input() Input {
	return Input{
		QueryID: "q-7",
		Query:   "How do I reset my password?",
		Draft:   "Open settings (1) and reset [4].",
		Context: `<source id="1">Open settings and choose reset.</source>`,
	}
}

func TestCorrect_SingleFailingDimension(t *testing.T) {
	f := &fakeCompleter{
		evals: []string{verdict(0.5)},
		fixes: []string{"Open settings and choose reset [1]."},
	}
	loop := New(f, Config{Verbosity: "high"}, nil)

	res := loop.Correct(context.Background(), input())

	assert.True(t, res.WasCorrected)
	assert.Equal(t, 1, res.RoundsUsed)
	assert.Equal(t, []model.Dimension{model.DimCitationHygiene}, res.FailingDimensions)
	assert.Equal(t, "Open settings and choose reset [1].", res.FinalResponse)
	assert.Equal(t, input().Draft, res.OriginalDraft)
	assert.Equal(t, 1, f.count("radar_correction_evaluation"))
	assert.Equal(t, 1, f.count("radar_correction_apply"))
	assert.Equal(t, 0.5, res.Scores[model.DimCitationHygiene])
	assert.Equal(t, "markers", res.Reasons[model.DimCitationHygiene])

	assert.Equal(t, 100, res.EvalPromptTokens)
	assert.Equal(t, 40, res.EvalCompletionTokens)
	assert.Equal(t, 300, res.CorrectionPromptTokens)
	assert.Equal(t, 120, res.CorrectionCompletionTokens)
	assert.Equal(t, 560, res.TotalTokens())

	prompt := res.CorrectionPrompt
	assert.Contains(t, prompt, "**Citation Hygiene: 50%**")
	assert.Contains(t, prompt, "- [4] has no source")
	assert.Contains(t, prompt, "**For Citation Hygiene:**")
	assert.Contains(t, prompt, "VERBOSITY: HIGH")
	assert.NotContains(t, prompt, "**For Clarity:**")
}

func TestCorrect_RequestParameters(t *testing.T) {
	f := &fakeCompleter{evals: []string{verdict(0.1)}, fixes: []string{"fixed"}}
	loop := New(f, Config{Model: "gpt-5.2", Verbosity: "low", UseReasoning: true, ReasoningEffort: "high"}, nil)
	loop.Correct(context.Background(), input())

	require.Len(t, f.requests, 2)
	eval := f.requests[0]
	assert.Equal(t, float32(0), *eval.Temperature)
	assert.Equal(t, 1500, eval.MaxTokens)
	assert.True(t, eval.JSONMode)
	assert.Equal(t, model.RoleSystem, eval.Messages[0].Role)
	assert.Contains(t, eval.Messages[1].Content, "Verbosity Context: LOW")
	assert.Equal(t, "q-7", eval.QueryID)

	fix := f.requests[1]
	assert.Equal(t, llm.StyleReasoning, fix.Style)
	assert.Equal(t, "high", fix.ReasoningEffort)
	assert.Equal(t, "low", fix.Verbosity)
	assert.Equal(t, float32(0.6), *fix.Temperature)
	assert.Equal(t, 2000, fix.MaxTokens)
	assert.Equal(t, "gpt-5.2", fix.Model)
}

func TestCorrect_ZeroTemperatureIsKept(t *testing.T) {
	f := &fakeCompleter{evals: []string{verdict(0.1)}, fixes: []string{"fixed"}}
	loop := New(f, Config{Temperature: llm.Temp(0)}, nil)
	loop.Correct(context.Background(), input())

	require.Len(t, f.requests, 2)
	require.NotNil(t, f.requests[1].Temperature)
	assert.Equal(t, float32(0), *f.requests[1].Temperature)
}

func TestCorrect_AllPassSkipsCorrection(t *testing.T) {
	f := &fakeCompleter{evals: []string{verdict(0.95)}}
	res := New(f, Config{}, nil).Correct(context.Background(), input())

	assert.False(t, res.WasCorrected)
	assert.Empty(t, res.FailingDimensions)
	assert.Equal(t, res.OriginalDraft, res.FinalResponse)
	assert.Zero(t, f.count("radar_correction_apply"))
	assert.Empty(t, res.CorrectionPrompt)
}

func TestCorrect_EmptyCorrectionKeepsDraft(t *testing.T) {
	f := &fakeCompleter{evals: []string{verdict(0.2)}, fixes: []string{"  "}}
	res := New(f, Config{MaxRounds: 3}, nil).Correct(context.Background(), input())

	assert.False(t, res.WasCorrected)
	assert.Equal(t, input().Draft, res.FinalResponse)
	assert.Equal(t, 1, f.count("radar_correction_apply"))
	assert.Empty(t, res.CorrectionPrompt)
}

func TestCorrect_CorrectionErrorKeepsDraft(t *testing.T) {
	f := &fakeCompleter{evals: []string{verdict(0.2)}, fixErr: errors.New("timeout")}
	res := New(f, Config{}, nil).Correct(context.Background(), input())

	assert.False(t, res.WasCorrected)
	assert.Equal(t, input().Draft, res.FinalResponse)
}

func TestCorrect_StopsWhenSecondRoundPasses(t *testing.T) {
	f := &fakeCompleter{
		evals: []string{verdict(0.3), verdict(0.9)},
		fixes: []string{"round one", "round two"},
	}
	res := New(f, Config{MaxRounds: 3}, nil).Correct(context.Background(), input())

	assert.True(t, res.WasCorrected)
	assert.Equal(t, 1, res.RoundsUsed)
	assert.Equal(t, "round one", res.FinalResponse)
	assert.Empty(t, res.FailingDimensions)
	assert.Equal(t, 2, f.count("radar_correction_evaluation"))
	assert.Equal(t, 200, res.EvalPromptTokens)
}

func TestCorrect_EvaluationErrorScoresNeutral(t *testing.T) {
	f := &fakeCompleter{evalErr: errors.New("rate limited"), fixes: []string{"rewritten"}}
	loop := New(f, Config{Thresholds: score.Thresholds{model.DimClarity: 0.4}}, nil)

	res := loop.Correct(context.Background(), input())
	for _, d := range model.Dimensions {
		assert.Equal(t, score.Neutral, res.Scores[d])
		assert.Contains(t, res.Reasons[d], "rate limited")
	}
	assert.Empty(t, res.FailingDimensions)
	assert.False(t, res.WasCorrected)
}

func TestCorrect_UnparseableEvaluationScoresNeutral(t *testing.T) {
	f := &fakeCompleter{evals: []string{"sorry"}, fixes: []string{"rewritten"}}
	res := New(f, Config{}, nil).Correct(context.Background(), input())

	assert.Equal(t, score.Neutral, res.Scores[model.DimQueryResolution])
	assert.Len(t, res.FailingDimensions, len(model.Dimensions))
	assert.True(t, res.WasCorrected)
}

func TestEvaluateOnly_NeverRewrites(t *testing.T) {
	f := &fakeCompleter{evals: []string{verdict(0.5)}, fixes: []string{"should not be used"}}
	loop := New(f, Config{}, nil)

	res := loop.EvaluateOnly(context.Background(), input())
	assert.False(t, res.WasCorrected)
	assert.True(t, res.EvaluateOnly)
	assert.Equal(t, input().Draft, res.FinalResponse)
	assert.Equal(t, []model.Dimension{model.DimCitationHygiene}, res.FailingDimensions)
	assert.Zero(t, res.RoundsUsed)
	assert.Zero(t, f.count("radar_correction_apply"))

	// Same verdict as the correcting path
	f2 := &fakeCompleter{evals: []string{verdict(0.5)}, fixes: []string{"x"}}
	corrected := New(f2, Config{}, nil).Correct(context.Background(), input())
	assert.Equal(t, corrected.Scores, res.Scores)
	assert.Equal(t, corrected.Reasons, res.Reasons)
}

func TestNew_ThresholdsFollowVerbosity(t *testing.T) {
	assert.Equal(t, 0.50, New(nil, Config{Verbosity: "low"}, nil).Thresholds()[model.DimCompleteness])
	assert.Equal(t, 0.60, New(nil, Config{Verbosity: "medium"}, nil).Thresholds()[model.DimCompleteness])
	assert.Equal(t, 0.70, New(nil, Config{}, nil).Thresholds()[model.DimCompleteness])

	custom := score.Defaults().Merge(map[string]float64{"citation_hygiene": 0.3})
	assert.Equal(t, 0.3, New(nil, Config{Verbosity: "low", Thresholds: custom}, nil).Thresholds()[model.DimCitationHygiene])
}
