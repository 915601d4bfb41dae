package model

import "time"

// Call types recorded with usage records
const (
	CallChatCompletions       = "chat.completions"
	CallChatCompletionsStream = "chat.completions.stream"
	CallResponses             = "responses"
	CallResponsesStream       = "responses.stream"
)

// UsageRecord is the token and cost accounting of one model call
type UsageRecord struct {
	QueryID          string    `json:"query_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	CallType         string    `json:"call_type"`
	Scenario         string    `json:"scenario"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	PromptCost       float64   `json:"prompt_cost"`
	CompletionCost   float64   `json:"completion_cost"`
	TotalCost        float64   `json:"total_cost"`
	Estimated        bool      `json:"estimated,omitempty"` // Counts were estimated locally, not reported by the provider
	Succeeded        bool      `json:"succeeded"`
	LatencyMS        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// QueryDetails is the per-turn record persisted after an answer is produced
type QueryDetails struct {
	QueryID         string                 `json:"query_id"`
	SessionID       string                 `json:"session_id"`
	UserQuery       string                 `json:"user_query"`
	Response        string                 `json:"response"`
	Status          AnswerStatus           `json:"status"`
	IsFollowUp      bool                   `json:"is_follow_up"`
	Mode            string                 `json:"mode"` // standard or streaming
	Persona         string                 `json:"persona"`
	LatencyMS       int64                  `json:"latency_ms"`
	LLMLatencyMS    int64                  `json:"llm_latency_ms"`
	SearchLatencyMS int64                  `json:"search_latency_ms"`
	RerankLatencyMS int64                  `json:"rerank_latency_ms"`
	Sources         []CitedSource          `json:"sources"`
	Features        map[string]interface{} `json:"features,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// EvaluationRecord is a persisted groundedness verdict
type EvaluationRecord struct {
	QueryID        string           `json:"query_id"`
	Answer         string           `json:"answer"`
	ContextSnippet string           `json:"context_snippet"`
	Result         EvaluationResult `json:"result"`
	CreatedAt      time.Time        `json:"created_at"`
}
