package store

import (
	"time"

	"gorm.io/datatypes"
)

// Query is one user turn
type Query struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	SessionID string    `gorm:"type:varchar(64);index"`
	CreatedAt time.Time `gorm:"index"`
}

func (Query) TableName() string { return "queries" }

// QueryDetail holds the answer and pipeline telemetry of a turn. UserQuery
// and Response pass through the Codec.
type QueryDetail struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	QueryID         string `gorm:"type:varchar(36);index"`
	SessionID       string `gorm:"type:varchar(64);index"`
	UserQuery       string `gorm:"type:text"`
	Response        string `gorm:"type:text"`
	Status          string `gorm:"type:varchar(20)"`
	IsFollowUp      bool
	Mode            string `gorm:"type:varchar(20)"`
	Persona         string `gorm:"type:varchar(50)"`
	LatencyMS       int64
	LLMLatencyMS    int64
	SearchLatencyMS int64
	RerankLatencyMS int64
	Sources         datatypes.JSON
	Features        datatypes.JSON
	CreatedAt       time.Time
}

func (QueryDetail) TableName() string { return "query_details" }

// Usage is the accounting of one model call
type Usage struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	QueryID          string `gorm:"type:varchar(36);index"`
	Provider         string `gorm:"type:varchar(30)"`
	Model            string `gorm:"type:varchar(100);index"`
	CallType         string `gorm:"type:varchar(40)"`
	Scenario         string `gorm:"type:varchar(60)"`
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	PromptCost       float64
	CompletionCost   float64
	TotalCost        float64
	Estimated        bool
	Succeeded        bool
	LatencyMS        int64
	CreatedAt        time.Time
}

func (Usage) TableName() string { return "llm_usage" }

// Evaluation is a persisted groundedness verdict
type Evaluation struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	QueryID           string `gorm:"type:varchar(36);index"`
	Answer            string `gorm:"type:text"`
	ContextSnippet    string `gorm:"type:text"`
	Grounded          bool
	Score             float64
	Confidence        float64
	FailureMode       string `gorm:"type:varchar(20);index"`
	UnsupportedClaims datatypes.JSON
	Recommendations   datatypes.JSON
	IntentFulfillment bool
	IntentGaps        datatypes.JSON
	Summary           string `gorm:"type:text"`
	CitationAudit     datatypes.JSON
	PoliciesApplied   datatypes.JSON
	AuditOnly         bool
	Model             string `gorm:"type:varchar(100)"`
	LatencyMS         int64
	CreatedAt         time.Time
}

func (Evaluation) TableName() string { return "groundedness_evaluations" }
