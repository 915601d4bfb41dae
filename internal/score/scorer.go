// Package score holds the quality scorecard: per-dimension pass thresholds
// and the parsing of evaluator verdicts into dimension scores.
package score

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/model"
)

// Neutral is the score of a dimension the evaluator did not rate
const Neutral = 0.5

// maxDetails caps the findings kept per dimension
const maxDetails = 5

// detailKeys names the list field each dimension reports its findings in
var detailKeys = map[model.Dimension]string{
	model.DimScopeDiscipline: "overreach_examples",
	model.DimCompleteness:    "missing",
	model.DimCitationHygiene: "formatting_issues",
}

// Thresholds maps each dimension to the lowest passing score
type Thresholds map[model.Dimension]float64

// Defaults returns the thresholds for high verbosity
func Defaults() Thresholds {
	return Thresholds{
		model.DimQueryResolution: 0.70,
		model.DimScopeDiscipline: 0.70,
		model.DimCompleteness:    0.70,
		model.DimClarity:         0.60,
		model.DimActionability:   0.65,
		model.DimCitationHygiene: 0.80,
	}
}

// ForVerbosity returns the defaults relaxed for shorter answers. Low
// verbosity lowers completeness and actionability; medium lowers completeness.
func ForVerbosity(verbosity string) Thresholds {
	t := Defaults()
	switch strings.ToLower(verbosity) {
	case "low":
		t[model.DimCompleteness] = 0.50
		t[model.DimActionability] = 0.50
	case "medium":
		t[model.DimCompleteness] = 0.60
	}
	return t
}

// Merge returns a copy of t with overrides applied. Names that are not
// scorecard dimensions are ignored.
func (t Thresholds) Merge(overrides map[string]float64) Thresholds {
	out := make(Thresholds, len(t))
	for d, v := range t {
		out[d] = v
	}
	for name, v := range overrides {
		d := model.Dimension(strings.ToLower(name))
		if isDimension(d) {
			out[d] = v
		}
	}
	return out
}

// Failing returns the dimensions scoring below their threshold, in
// reporting order. An unscored dimension counts as Neutral.
func (t Thresholds) Failing(scores map[model.Dimension]float64) []model.Dimension {
	var failing []model.Dimension
	for _, d := range model.Dimensions {
		threshold, ok := t[d]
		if !ok {
			continue
		}
		s, ok := scores[d]
		if !ok {
			s = Neutral
		}
		if s < threshold {
			failing = append(failing, d)
		}
	}
	return failing
}

// Card is one evaluator verdict across every dimension
type Card map[model.Dimension]model.DimensionScore

// NeutralCard scores every dimension Neutral with the same reason
func NeutralCard(reason string) Card {
	c := make(Card, len(model.Dimensions))
	for _, d := range model.Dimensions {
		c[d] = model.DimensionScore{Score: Neutral, Reason: reason}
	}
	return c
}

// Parse reads an evaluator reply of the form
// {"clarity": {"score": 0.8, "reason": "..."}, ...}. Dimensions missing from
// the reply score Neutral; scores are clamped to [0,1].
func Parse(reply string) (Card, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &raw); err != nil {
		return nil, fmt.Errorf("parse scorecard: %w", err)
	}

	c := make(Card, len(model.Dimensions))
	for _, d := range model.Dimensions {
		entry := model.DimensionScore{Score: Neutral}
		var fields map[string]interface{}
		if msg, ok := raw[string(d)]; ok && json.Unmarshal(msg, &fields) == nil {
			if s, ok := toScore(fields["score"]); ok {
				entry.Score = s
			}
			if reason, ok := fields["reason"].(string); ok {
				entry.Reason = reason
			}
			if key, ok := detailKeys[d]; ok {
				entry.Details = toStrings(fields[key])
			}
		}
		c[d] = entry
	}
	return c, nil
}

// Scores returns the per-dimension scores
func (c Card) Scores() map[model.Dimension]float64 {
	out := make(map[model.Dimension]float64, len(c))
	for d, s := range c {
		out[d] = s.Score
	}
	return out
}

// Reasons returns the per-dimension reasons
func (c Card) Reasons() map[model.Dimension]string {
	out := make(map[model.Dimension]string, len(c))
	for d, s := range c {
		out[d] = s.Reason
	}
	return out
}

func toScore(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return f, true
}

func toStrings(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
			if len(out) == maxDetails {
				break
			}
		}
	}
	return out
}

func isDimension(d model.Dimension) bool {
	for _, known := range model.Dimensions {
		if d == known {
			return true
		}
	}
	return false
}
