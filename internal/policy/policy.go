// Package policy selects how strictly an answer's claims must match its
// sources and turns the two evaluator signals into a grounding verdict.
package policy

import (
	"sort"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/persona"
)

// Policy is a named verification rule set. Trigger bounds decide when it
// applies; the flags describe what it tolerates.
type Policy struct {
	Name        string
	Description string
	Enabled     bool

	MinConfidence    float64
	MaxConfidence    float64
	MinGroundedRatio float64
	MinCoverage      float64 // Query coverage required for a grounded verdict

	AllowParaphrasing      bool
	AllowImplicitInference bool
	RequireDirectCitation  bool
	StrictClaimMatching    bool

	Priority int // Higher is tried first
}

// Matches reports whether the signals fall inside the policy's trigger bounds
func (p Policy) Matches(confidence, groundedRatio float64) bool {
	return p.Enabled &&
		confidence >= p.MinConfidence &&
		confidence <= p.MaxConfidence &&
		groundedRatio >= p.MinGroundedRatio
}

// Metadata describes the policy for evaluation results
func (p Policy) Metadata() *model.PolicyMetadata {
	return &model.PolicyMetadata{
		Selected:               p.Name,
		Description:            p.Description,
		AllowParaphrasing:      p.AllowParaphrasing,
		AllowImplicitInference: p.AllowImplicitInference,
		RequireDirectCitation:  p.RequireDirectCitation,
		StrictClaimMatching:    p.StrictClaimMatching,
		MinConfidence:          p.MinConfidence,
		MinGroundedRatio:       p.MinGroundedRatio,
		MinCoverage:            p.MinCoverage,
	}
}

// Strict matches any signals and is the final fallback
var Strict = Policy{
	Name:                  "strict",
	Description:           "Maximum fidelity - all claims must be directly cited with exact source wording",
	Enabled:               true,
	MaxConfidence:         1.0,
	MinCoverage:           0.70,
	RequireDirectCitation: true,
	StrictClaimMatching:   true,
	Priority:              0,
}

// Defaults returns the built-in policies in declaration order
func Defaults() []Policy {
	return []Policy{
		Strict,
		{
			Name:                  "high_confidence_paraphrasing",
			Description:           "When confidence >= 90%, allow paraphrasing with semantic equivalence",
			Enabled:               true,
			MinConfidence:         0.90,
			MaxConfidence:         1.0,
			MinGroundedRatio:      0.85,
			MinCoverage:           0.70,
			AllowParaphrasing:     true,
			RequireDirectCitation: true,
			Priority:              100,
		},
		{
			Name:                  "semantic_direct",
			Description:           "Allow semantic matches when direct matches exist (75%+ grounded)",
			Enabled:               true,
			MinConfidence:         0.75,
			MaxConfidence:         1.0,
			MinGroundedRatio:      0.75,
			MinCoverage:           0.70,
			AllowParaphrasing:     true,
			RequireDirectCitation: true,
			Priority:              60,
		},
		{
			Name:                   "speculative_examples",
			Description:            "Allow augmented examples and implicit inferences when well-grounded (80%+ confidence, 85%+ grounded)",
			Enabled:                true,
			MinConfidence:          0.80,
			MaxConfidence:          1.0,
			MinGroundedRatio:       0.85,
			MinCoverage:            0.70,
			AllowParaphrasing:      true,
			AllowImplicitInference: true,
			Priority:               80,
		},
		{
			Name:                   "relaxed",
			Description:            "Minimal restrictions for exploratory queries - allow most flexibility",
			Enabled:                true,
			MinConfidence:          0.60,
			MaxConfidence:          1.0,
			MinGroundedRatio:       0.50,
			MinCoverage:            0.70,
			AllowParaphrasing:      true,
			AllowImplicitInference: true,
			Priority:               40,
		},
	}
}

// Engine picks a policy for each verdict. It is immutable after construction.
type Engine struct {
	policies []Policy
}

// NewEngine creates an engine over policies, or the defaults when nil.
// Policies are tried by descending priority; ties keep declaration order.
func NewEngine(policies []Policy) *Engine {
	if policies == nil {
		policies = Defaults()
	}
	sorted := make([]Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &Engine{policies: sorted}
}

// Policies returns the policies in evaluation order
func (e *Engine) Policies() []Policy {
	return append([]Policy(nil), e.policies...)
}

// Select returns the first policy whose bounds hold. The maximum-fidelity
// persona always gets Strict, and Strict is returned when nothing matches.
func (e *Engine) Select(confidence, groundedRatio float64, personaName string) Policy {
	if persona.MaxFidelity(personaName) {
		return Strict
	}
	for _, p := range e.policies {
		if p.Matches(confidence, groundedRatio) {
			return p
		}
	}
	return Strict
}

// CitationSignal is the outcome of the citation-support evaluation
type CitationSignal struct {
	Supported bool
	Score     float64
}

// CoverageSignal is the outcome of the query-coverage evaluation
type CoverageSignal struct {
	Score float64
}

// Decision is the combined grounding verdict
type Decision struct {
	Grounded    bool
	Score       float64
	FailureMode model.FailureMode
	Policy      Policy
}

// Decide combines the two signals under the selected policy. The citation
// score doubles as the confidence signal; the grounded ratio is 1 when the
// citations are supported and 0 otherwise.
func (e *Engine) Decide(citation CitationSignal, coverage CoverageSignal, personaName string) Decision {
	ratio := 0.0
	if citation.Supported {
		ratio = 1.0
	}
	p := e.Select(citation.Score, ratio, personaName)

	covered := coverage.Score >= p.MinCoverage
	d := Decision{
		Grounded: citation.Supported && covered,
		Score:    (citation.Score + coverage.Score) / 2,
		Policy:   p,
	}

	switch {
	case d.Grounded:
		d.FailureMode = model.FailureNone
	case !citation.Supported && covered:
		d.FailureMode = model.FailureRetrieval
	case citation.Supported && !covered:
		d.FailureMode = model.FailureReasoning
	default:
		d.FailureMode = model.FailureMixed
	}
	return d
}
