package model

import "encoding/json"

// User-facing texts returned when a turn cannot produce a grounded answer
const (
	NoResultsText    = "No relevant information found in the knowledge base."
	GenerationFailed = "I encountered an error while generating the response."
)

// AnswerStatus describes how a turn ended
type AnswerStatus string

const (
	StatusOK        AnswerStatus = "ok"
	StatusNoResults AnswerStatus = "no_results"
	StatusError     AnswerStatus = "error"
)

// Answer is the result of one pipeline turn
type Answer struct {
	QueryID      string            `json:"query_id"`
	Status       AnswerStatus      `json:"status"`
	Text         string            `json:"text"`
	CitedSources []CitedSource     `json:"cited_sources"`
	Evaluation   *EvaluationResult `json:"evaluation"`           // nil when no groundedness check ran
	Correction   *Correction       `json:"correction,omitempty"` // nil when no correction loop ran
	Context      string            `json:"context"`
	Renumbering  map[string]string `json:"renumber_citations,omitempty"` // Context id to displayed id
}

// MarshalJSON renders a missing evaluation as an empty object
func (a Answer) MarshalJSON() ([]byte, error) {
	type plain Answer
	out := struct {
		plain
		Evaluation interface{} `json:"evaluation"`
	}{plain: plain(a), Evaluation: struct{}{}}
	if a.Evaluation != nil {
		out.Evaluation = a.Evaluation
	}
	if out.CitedSources == nil {
		out.CitedSources = []CitedSource{}
	}
	return json.Marshal(out)
}

// StreamEventType tags a streaming event
type StreamEventType string

const (
	EventChunk    StreamEventType = "chunk"    // Text fragment as produced by the model
	EventReplace  StreamEventType = "replace"  // Full text that supersedes everything streamed so far
	EventMetadata StreamEventType = "metadata" // Final event of the stream
)

// StreamEvent is one item of a streaming turn
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Text     string          `json:"text,omitempty"`
	Metadata *StreamMetadata `json:"metadata,omitempty"`
}

// StreamMetadata is the terminal payload of a streaming turn
type StreamMetadata struct {
	QueryID     string            `json:"query_id"`
	Status      AnswerStatus      `json:"status"`
	Sources     []CitedSource     `json:"sources"`
	Evaluation  *EvaluationResult `json:"evaluation,omitempty"`
	Correction  *Correction       `json:"correction,omitempty"`
	Context     string            `json:"context"`
	Renumbering map[string]string `json:"renumber_citations,omitempty"`
	FinalText   string            `json:"final_text"`
	Failed      bool              `json:"failed,omitempty"`
}
