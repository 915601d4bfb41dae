package groundedness

const citationSupportPrompt = `You are an expert evidence auditor.

You will be given:
- A generated answer
- Source context that was retrieved

Your task:
- Identify all factual claims in the answer
- Determine whether each claim is explicitly supported by the source context

Rules:
- Do NOT evaluate whether the answer addresses the user question
- Do NOT judge usefulness or completeness
- Logical inference is allowed but must be labeled as inferred
- If a claim is not directly or inferentially supported, mark it unsupported

Output valid JSON only.
Output format:
{
  "citation_supported": true,
  "citation_score": 0.0,
  "unsupported_claims": [
    {
      "claim": "string",
      "support_level": "none | partial | inferred",
      "severity": "critical | moderate | minor",
      "recommendation": "string"
    }
  ],
  "evidence_notes": [
    "optional free-text notes about ambiguity or inference"
  ]
}`

const queryCoveragePrompt = `You are an intent and coverage evaluator.

You will be given:
- A user question
- A generated answer

Your task:
- Determine whether the answer addresses what the user asked
- Identify missing parts needed to fully satisfy the intent

Rules:
- Do NOT consider citations or evidence
- Do NOT judge factual correctness
- Focus only on relevance, scope, and completeness

Output valid JSON only.
Output format:
{
  "question_addressed": true,
  "coverage_score": 0.0,
  "intent_fulfillment": true,
  "intent_gaps": [
    "string"
  ],
  "scope_issues": [
    "too broad | too narrow | answered different question"
  ]
}`

const correctionPrompt = `You are a precision editor for a RAG system. Your task is to correct a draft response based on specific issues identified by a fact-checker.

## Context (Source Material)
%s

## Original Question
%s

## Draft Response (Needs Correction)
%s

## Issues Identified by Fact-Checker

### Unsupported Claims (Score: %.2f)
%s

### Recommendations
%s

## Instructions

1. **Remove or Revise**: For each unsupported claim, either:
   - Remove it entirely if there's no source support
   - Revise it to match what the sources actually say
   - Add qualifying language (e.g., "based on general knowledge" or "not found in sources")

2. **Preserve Accuracy**: Keep all supported claims intact.

3. **Maintain Citations**: Ensure all citations [n] reference valid source IDs.

4. **Keep the Response Helpful**: The corrected response should still answer the question as completely as possible using only grounded information.

## Output

Provide the CORRECTED response only. Do not include explanations or meta-commentary about the corrections.`
