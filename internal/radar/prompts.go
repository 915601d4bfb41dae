package radar

import (
	"fmt"
	"strings"

	"github.com/ppiankov/groundwork/internal/model"
)

const evaluatorSystem = "You are an evaluation judge. Output valid JSON only."

const evaluationPrompt = `You are an objective quality evaluator for a RAG (Retrieval-Augmented Generation) system.

IMPORTANT: This is a QUALITY evaluation, not a TRUTH evaluation.
Truth verification (grounding, evidence support) is handled by a separate Groundedness system.
Your job is to evaluate stylistic quality, structure, and appropriateness.
%s
Evaluate this response across 6 quality dimensions on a 0.0-1.0 scale:

## Query
"%s"

## Response to Evaluate
"%s"

## Source Context
%s

## Dimensions to Score

1. **Query Resolution** (0.0-1.0): Does the response directly address and answer the user's question?
   - 1.0 = Directly and completely addresses the query
   - 0.5 = Partially addresses, missing key aspects
   - 0.0 = Does not address the query at all

2. **Scope Discipline** (0.0-1.0): Does the answer avoid unnecessary or overconfident claims beyond what is needed?
   - 1.0 = Appropriately scoped, no overclaiming or overconfidence
   - 0.5 = Some overreach or unnecessary certainty
   - 0.0 = Significant overclaiming or overconfidence

   NOTE: Do NOT judge whether claims are supported by sources (that's Groundedness' job).
   Only evaluate whether the response avoids going beyond what is needed to answer the question.

3. **Completeness** (0.0-1.0): Is the response thorough with necessary steps, details, and caveats?
   - 1.0 = Comprehensive, covers all important aspects
   - 0.5 = Basic coverage, missing some details
   - 0.0 = Incomplete or superficial

   NOTE: Saying "I couldn't find information about X" or "This requires escalation" is NOT a completeness failure.

4. **Clarity** (0.0-1.0): Is the response well-organized and easy to understand?
   - 1.0 = Crystal clear, well-structured
   - 0.5 = Understandable but could be clearer
   - 0.0 = Confusing or poorly organized

5. **Actionability** (0.0-1.0): Does it provide concrete, actionable next steps (if applicable)?
   - 1.0 = Highly actionable with clear steps
   - 0.5 = Some guidance but lacks specificity
   - 0.0 = No actionable content (if expected)

6. **Citation Hygiene** (0.0-1.0): Are citation markers syntactically correct and valid?
   - 1.0 = All [n] references are syntactically correct and match source IDs
   - 0.5 = Some formatting issues or dangling citations
   - 0.0 = Invalid citation syntax or fake citations

   NOTE: Do NOT judge whether citations support claims (that's Groundedness' job).
   Only evaluate formatting and syntactic correctness.

Respond with JSON only:
{
    "query_resolution": {"score": 0.0-1.0, "reason": "brief explanation"},
    "scope_discipline": {"score": 0.0-1.0, "reason": "explanation", "overreach_examples": ["examples of overclaiming if any"]},
    "completeness": {"score": 0.0-1.0, "reason": "explanation", "missing": ["list of missing aspects"]},
    "clarity": {"score": 0.0-1.0, "reason": "explanation"},
    "actionability": {"score": 0.0-1.0, "reason": "explanation"},
    "citation_hygiene": {"score": 0.0-1.0, "reason": "explanation", "formatting_issues": ["list of formatting issues"]}
}
`

var verbosityEvalContext = map[string]string{
	"low": `
## Verbosity Context: LOW
The response was generated with VERBOSITY=LOW. The model was explicitly instructed to be
concise and brief. When scoring, account for the following:
- **Completeness**: A short, focused answer that covers the core question IS complete.
  Do NOT penalize for omitting secondary details, extended explanations, or exhaustive lists.
- **Actionability**: Brief next-step suggestions are sufficient. Do NOT require detailed how-to guides.
- **Clarity**: Conciseness IS a form of clarity. Short bullet points are ideal, not a weakness.
`,
	"medium": `
## Verbosity Context: MEDIUM
The response was generated with VERBOSITY=MEDIUM. Moderate detail is expected.
Score normally but don't require exhaustive coverage of every sub-topic.
`,
}

const correctionPrompt = `You are a helpful, knowledgeable assistant who wants to provide the most accurate AND engaging response possible.

## Original Question
%s

## Your Draft Response
%s

## Source Material
%s

## Quality Assessment

I've analyzed your draft and found some opportunities to improve:

%s

## Your Task: Enhance While Preserving Warmth

Please revise your response to address these issues while MAINTAINING:
- Conversational, friendly tone
- Natural flow and readability
- Helpfulness and clarity
- Appropriate level of detail
%s

### Specific Guidelines

%s

### Critical Rules
1. **Keep what works**: Don't change well-supported, clear sections
2. **Enhance, don't strip**: If removing unsupported claims, replace with helpful alternatives when possible
3. **Cite properly**: Use [n] citations for all factual claims drawn from the sources
4. **Stay warm**: Write like you're helping a colleague, not drafting legal text
5. **Be complete**: Answer the question fully, don't just remove problems
6. **Don't exaggerate corrections**: Make proportional, reasonable improvements. If actionability was low, add a brief next step, don't fabricate a 10-item action plan. Keep the revision as a natural increment, not a dramatic rewrite.

## Output
Provide your REVISED response. Make it better on all fronts: more accurate, clearer, AND more engaging.`

var verbosityInstructions = map[string]string{
	"low": `
- **CRITICAL VERBOSITY CONSTRAINT: LOW**: The user chose "low" verbosity.
  Your revised response MUST be concise and SHORT. Do NOT expand, elaborate, or add new sections.
  Match or reduce the length of the original draft. Cut filler, merge bullets, remove redundancy.`,
	"medium": `
- **VERBOSITY: MEDIUM**: Keep balanced detail. Don't significantly expand beyond the draft length.`,
	"high": `
- **VERBOSITY: HIGH**: You may provide thorough, detailed explanations with full context.`,
}

var dimensionFeedback = map[model.Dimension]string{
	model.DimScopeDiscipline: `**Scope Discipline: %s**
The response contains overclaiming or unnecessary certainty:
%s

Tip: Soften overconfident language. Use "Based on the documentation..." or add caveats like "While not specified, typically..." Don't delete claims, just narrow scope.
`,
	model.DimQueryResolution: `**Query Resolution: %s**
Your response drifted from the core question.
The user specifically asked: "%s"

Tip: Start with a direct answer, then provide supporting details.
`,
	model.DimCompleteness: `**Completeness: %s**
The response is missing some important aspects:
%s

Tip: Cover all key steps and mention important caveats. Note: Saying "I couldn't find information about X" is NOT a completeness failure.
`,
	model.DimClarity: `**Clarity: %s**
The response could be better organized:
- Use bullet points for steps
- Add clear section headers
- Define technical terms

Tip: Imagine explaining this to a colleague over coffee.
`,
	model.DimActionability: `**Actionability: %s**
The response lacks concrete next steps.

Tip: End with specific actions the user can take immediately.
`,
	model.DimCitationHygiene: `**Citation Hygiene: %s**
Citation formatting needs correction:
%s

Tip: Ensure all [n] references are syntactically valid and match actual source IDs. Remove dangling or fake citations.
`,
}

// fallbackDetails fill the detail slot when the evaluator listed nothing
var fallbackDetails = map[model.Dimension]string{
	model.DimScopeDiscipline: "Reduce overclaiming and overconfidence.",
	model.DimCompleteness:    "Add more depth and coverage.",
	model.DimCitationHygiene: "Fix citation formatting and syntax.",
}

var dimensionInstructions = map[model.Dimension]string{
	model.DimScopeDiscipline: `**For Scope Discipline:**
- Soften overconfident language without deleting claims
- Add hedging: "Based on the documentation..." or "Typically..."
- Narrow scope: "For the specific case of X..." instead of universal claims
- Do NOT remove claims that Groundedness has allowed, just adjust certainty
`,
	model.DimQueryResolution: `**For Query Resolution:**
- Lead with a direct answer to the question
- Don't bury the key point in explanations
- If you can't fully answer, say so upfront then provide what you can
`,
	model.DimCompleteness: `**For Completeness:**
- Add any missing steps or details
- Include relevant caveats or edge cases
- Cover the "what next?" if helpful
- Note: "I couldn't find information about X" is a valid answer, not a failure
`,
	model.DimClarity: `**For Clarity:**
- Use bullet points or numbered lists for steps
- Add section headers if the response is long
- Define technical terms briefly
`,
	model.DimActionability: `**For Actionability:**
- End with clear "Next Steps" or "To Do"
- Be specific about what to click, where to go, what to do
`,
	model.DimCitationHygiene: `**For Citation Hygiene:**
- Fix citation syntax: ensure [n] format is used consistently
- Remove dangling citations (numbers with no matching source)
- Ensure citation numbers reference actual source IDs from context
- Do NOT add or remove citations based on claim support, just fix formatting
`,
}

func percent(score float64) string {
	return fmt.Sprintf("%.0f%%", score*100)
}

// feedback renders the assessment block for the failing dimensions
func feedback(failing []model.Dimension, card map[model.Dimension]model.DimensionScore, query string) string {
	parts := make([]string, 0, len(failing))
	for _, d := range failing {
		entry := card[d]
		switch d {
		case model.DimQueryResolution:
			parts = append(parts, fmt.Sprintf(dimensionFeedback[d], percent(entry.Score), query))
		case model.DimClarity, model.DimActionability:
			parts = append(parts, fmt.Sprintf(dimensionFeedback[d], percent(entry.Score)))
		default:
			details := fallbackDetails[d]
			if len(entry.Details) > 0 {
				lines := make([]string, len(entry.Details))
				for i, item := range entry.Details {
					lines[i] = "- " + item
				}
				details = strings.Join(lines, "\n")
			}
			parts = append(parts, fmt.Sprintf(dimensionFeedback[d], percent(entry.Score), details))
		}
	}
	return strings.Join(parts, "\n\n")
}

func instructions(failing []model.Dimension) string {
	parts := make([]string, 0, len(failing))
	for _, d := range failing {
		parts = append(parts, dimensionInstructions[d])
	}
	return strings.Join(parts, "\n")
}
