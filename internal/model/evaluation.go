package model

// FailureMode classifies why an answer was judged ungrounded
type FailureMode string

const (
	FailureNone      FailureMode = "none"      // Grounded
	FailureRetrieval FailureMode = "retrieval" // Context did not cover the question
	FailureReasoning FailureMode = "reasoning" // Context covered it but the answer misused it
	FailureMixed     FailureMode = "mixed"     // Both
)

// UnsupportedClaim is a statement the evaluator could not tie to the context
type UnsupportedClaim struct {
	Claim          string `json:"claim"`
	Reason         string `json:"reason,omitempty"`
	SupportLevel   string `json:"support_level,omitempty"` // none, weak, partial
	Severity       string `json:"severity,omitempty"`      // low, medium, high
	Recommendation string `json:"recommendation,omitempty"`
}

// CitationAudit is the deterministic comparison of cited ids against context ids
type CitationAudit struct {
	CitedIDs         []string `json:"cited_ids"`
	ContextIDs       []string `json:"context_ids"`
	MissingIDs       []string `json:"missing_ids"`        // Cited but absent from the context
	UnusedContextIDs []string `json:"unused_context_ids"` // Present in the context but never cited
	CoverageRatio    float64  `json:"coverage_ratio"`
	HasAnyCitations  bool     `json:"has_any_citations"`
	OK               bool     `json:"ok"`
}

// PolicyMetadata records which grounding policy produced a verdict
type PolicyMetadata struct {
	Selected               string  `json:"selected"`
	Description            string  `json:"description,omitempty"`
	AllowParaphrasing      bool    `json:"allow_paraphrasing"`
	AllowImplicitInference bool    `json:"allow_implicit_inference"`
	RequireDirectCitation  bool    `json:"require_direct_citation"`
	StrictClaimMatching    bool    `json:"strict_claim_matching"`
	MinConfidence          float64 `json:"min_confidence_threshold"`
	MinGroundedRatio       float64 `json:"min_grounded_ratio_threshold"`
	MinCoverage            float64 `json:"min_coverage"`
}

// EvaluationResult is the outcome of a groundedness check.
// A FailureMode other than FailureNone always implies Grounded == false.
type EvaluationResult struct {
	Grounded          bool               `json:"grounded"`
	Score             float64            `json:"score"`
	Confidence        float64            `json:"confidence"`
	UnsupportedClaims []UnsupportedClaim `json:"unsupported_claims"`
	Recommendations   []string           `json:"recommendations"`
	QuestionAddressed bool               `json:"question_addressed"`
	CoverageScore     float64            `json:"coverage_score"`
	IntentFulfillment bool               `json:"intent_fulfillment"`
	IntentGaps        []string           `json:"intent_gaps,omitempty"`
	ScopeIssues       []string           `json:"scope_issues,omitempty"`
	EvidenceNotes     []string           `json:"evidence_notes,omitempty"`
	FailureMode       FailureMode        `json:"failure_mode"`
	CitationAudit     *CitationAudit     `json:"citation_audit,omitempty"`
	Policy            *PolicyMetadata    `json:"policies_applied,omitempty"`
	Summary           string             `json:"summary,omitempty"`
	Model             string             `json:"model,omitempty"`
	LatencyMS         int64              `json:"latency_ms"`
	AuditOnly         bool               `json:"audit_only,omitempty"` // Verdict came from the citation audit alone
}

// Settle forces Grounded and FailureMode into agreement
func (e *EvaluationResult) Settle() {
	if e.FailureMode == "" {
		if e.Grounded {
			e.FailureMode = FailureNone
		} else {
			e.FailureMode = FailureReasoning
		}
	}
	if e.FailureMode != FailureNone {
		e.Grounded = false
	}
}
