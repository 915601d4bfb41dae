package model

// Dimension is one axis of the quality scorecard
type Dimension string

const (
	DimQueryResolution Dimension = "query_resolution"
	DimScopeDiscipline Dimension = "scope_discipline"
	DimCompleteness    Dimension = "completeness"
	DimClarity         Dimension = "clarity"
	DimActionability   Dimension = "actionability"
	DimCitationHygiene Dimension = "citation_hygiene"
)

// Dimensions lists every scorecard dimension in reporting order
var Dimensions = []Dimension{
	DimQueryResolution,
	DimScopeDiscipline,
	DimCompleteness,
	DimClarity,
	DimActionability,
	DimCitationHygiene,
}

// DimensionScore is the evaluator's verdict on one dimension
type DimensionScore struct {
	Score   float64  `json:"score"`
	Reason  string   `json:"reason,omitempty"`
	Details []string `json:"details,omitempty"` // Dimension-specific findings used to build correction feedback
}

// RadarResult is the outcome of the quality-correction loop
type RadarResult struct {
	FinalResponse     string                `json:"final_response"`
	OriginalDraft     string                `json:"original_draft"`
	WasCorrected      bool                  `json:"was_corrected"`
	EvaluateOnly      bool                  `json:"evaluate_only,omitempty"`
	Scores            map[Dimension]float64 `json:"scores"`
	Reasons           map[Dimension]string  `json:"reasons"`
	FailingDimensions []Dimension           `json:"failing_dimensions"`
	RoundsUsed        int                   `json:"rounds_used"`
	CorrectionPrompt  string                `json:"correction_prompt,omitempty"`

	EvalPromptTokens           int `json:"eval_prompt_tokens"`
	EvalCompletionTokens       int `json:"eval_completion_tokens"`
	CorrectionPromptTokens     int `json:"correction_prompt_tokens"`
	CorrectionCompletionTokens int `json:"correction_completion_tokens"`
}

// TotalTokens sums every token spent by the loop
func (r *RadarResult) TotalTokens() int {
	return r.EvalPromptTokens + r.EvalCompletionTokens + r.CorrectionPromptTokens + r.CorrectionCompletionTokens
}

// LegacyCorrection is the outcome of the groundedness-driven correction loop
type LegacyCorrection struct {
	FinalResponse    string            `json:"final_response"`
	OriginalDraft    string            `json:"original_draft"`
	WasCorrected     bool              `json:"was_corrected"`
	Evaluation       *EvaluationResult `json:"evaluation,omitempty"`
	CorrectionPrompt string            `json:"correction_prompt,omitempty"`
	RoundsUsed       int               `json:"rounds_used"`
}

// CorrectionKind tags which correction loop produced a Correction
type CorrectionKind string

const (
	CorrectionRadar  CorrectionKind = "radar"
	CorrectionLegacy CorrectionKind = "legacy"
)

// Correction holds exactly one of the two loop results, selected by Kind
type Correction struct {
	Kind   CorrectionKind    `json:"kind"`
	Radar  *RadarResult      `json:"radar,omitempty"`
	Legacy *LegacyCorrection `json:"legacy,omitempty"`
}

// WasCorrected reports whether the loop rewrote the draft
func (c *Correction) WasCorrected() bool {
	if c == nil {
		return false
	}
	switch c.Kind {
	case CorrectionRadar:
		return c.Radar != nil && c.Radar.WasCorrected
	case CorrectionLegacy:
		return c.Legacy != nil && c.Legacy.WasCorrected
	}
	return false
}

// FinalResponse returns the loop's output text, or fallback when there is none
func (c *Correction) FinalResponse(fallback string) string {
	if c == nil {
		return fallback
	}
	switch c.Kind {
	case CorrectionRadar:
		if c.Radar != nil && c.Radar.FinalResponse != "" {
			return c.Radar.FinalResponse
		}
	case CorrectionLegacy:
		if c.Legacy != nil && c.Legacy.FinalResponse != "" {
			return c.Legacy.FinalResponse
		}
	}
	return fallback
}
