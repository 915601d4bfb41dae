package score

import (
	"testing"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForVerbosity(t *testing.T) {
	high := ForVerbosity("high")
	assert.Equal(t, Defaults(), high)
	assert.Equal(t, 0.80, high[model.DimCitationHygiene])

	low := ForVerbosity("LOW")
	assert.Equal(t, 0.50, low[model.DimCompleteness])
	assert.Equal(t, 0.50, low[model.DimActionability])
	assert.Equal(t, 0.70, low[model.DimQueryResolution])

	medium := ForVerbosity("medium")
	assert.Equal(t, 0.60, medium[model.DimCompleteness])
	assert.Equal(t, 0.65, medium[model.DimActionability])
}

func TestMerge_IgnoresUnknownNames(t *testing.T) {
	base := Defaults()
	merged := base.Merge(map[string]float64{
		"citation_hygiene": 0.5,
		"Clarity":          0.9,
		"factual_accuracy": 0.1,
	})

	assert.Equal(t, 0.5, merged[model.DimCitationHygiene])
	assert.Equal(t, 0.9, merged[model.DimClarity])
	assert.Len(t, merged, len(model.Dimensions))
	assert.Equal(t, 0.80, base[model.DimCitationHygiene], "receiver must not change")
}

func TestFailing_ReportingOrder(t *testing.T) {
	scores := map[model.Dimension]float64{
		model.DimCitationHygiene: 0.5,
		model.DimQueryResolution: 0.2,
		model.DimScopeDiscipline: 0.9,
		model.DimCompleteness:    0.9,
		model.DimClarity:         0.9,
		model.DimActionability:   0.9,
	}
	assert.Equal(t,
		[]model.Dimension{model.DimQueryResolution, model.DimCitationHygiene},
		Defaults().Failing(scores))
}

func TestFailing_UnscoredIsNeutral(t *testing.T) {
	// 0.5 misses every default threshold
	assert.Len(t, Defaults().Failing(nil), len(model.Dimensions))

	relaxed := Thresholds{model.DimClarity: 0.5}
	assert.Empty(t, relaxed.Failing(nil))
}

func TestParse(t *testing.T) {
	reply := "```json\n" + `{
		"query_resolution": {"score": 0.9, "reason": "direct"},
		"scope_discipline": {"score": "0.4", "reason": "overclaims", "overreach_examples": ["always works", "", "never fails"]},
		"completeness": {"score": 1.7, "missing": ["a", "b", "c", "d", "e", "f"]},
		"clarity": {"reason": "no score"},
		"citation_hygiene": {"score": 0.5, "formatting_issues": ["[7] dangling"]}
	}` + "\n```"

	card, err := Parse(reply)
	require.NoError(t, err)
	require.Len(t, card, len(model.Dimensions))

	assert.Equal(t, 0.9, card[model.DimQueryResolution].Score)
	assert.Equal(t, "direct", card[model.DimQueryResolution].Reason)
	assert.Equal(t, 0.4, card[model.DimScopeDiscipline].Score)
	assert.Equal(t, []string{"always works", "never fails"}, card[model.DimScopeDiscipline].Details)
	assert.Equal(t, 1.0, card[model.DimCompleteness].Score)
	assert.Len(t, card[model.DimCompleteness].Details, 5)
	assert.Equal(t, Neutral, card[model.DimClarity].Score)
	assert.Equal(t, Neutral, card[model.DimActionability].Score)
	assert.Equal(t, []string{"[7] dangling"}, card[model.DimCitationHygiene].Details)

	assert.Equal(t, "no score", card.Reasons()[model.DimClarity])
	assert.Equal(t, 0.5, card.Scores()[model.DimCitationHygiene])
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("I cannot rate this")
	assert.Error(t, err)
}

func TestNeutralCard(t *testing.T) {
	card := NeutralCard("Evaluation error: timeout")
	for _, d := range model.Dimensions {
		assert.Equal(t, Neutral, card[d].Score)
		assert.Equal(t, "Evaluation error: timeout", card[d].Reason)
	}
}
