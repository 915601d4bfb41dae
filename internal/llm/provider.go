package llm

import (
	"context"
	"errors"
	"io"

	"github.com/ppiankov/groundwork/internal/model"
)

var (
	// ErrStyleUnsupported is returned when a provider cannot serve the requested call style
	ErrStyleUnsupported = errors.New("call style not supported by provider")

	// ErrEmbeddingsUnsupported is returned by providers without an embeddings endpoint
	ErrEmbeddingsUnsupported = errors.New("embeddings not supported by provider")

	// ErrEmptyCompletion is returned when the model produced no text
	ErrEmptyCompletion = errors.New("empty completion")
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete runs a single non-streaming call
	Complete(ctx context.Context, req Request) (*Response, error)

	// CompleteStream opens a streaming call; the caller must Close the stream
	CompleteStream(ctx context.Context, req Request) (Stream, error)

	// Embed returns the embedding vector of text
	Embed(ctx context.Context, text string) ([]float32, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CallStyle selects the request shape sent to the provider
type CallStyle string

const (
	StyleStandard  CallStyle = "standard"  // Plain chat completion
	StyleReasoning CallStyle = "reasoning" // Reasoning effort plus verbosity control
)

// Request describes one model call
type Request struct {
	Messages         []model.Message
	Model            string
	Temperature      *float32 // nil leaves the provider default
	TopP             *float32
	MaxTokens        int
	PresencePenalty  float32
	FrequencyPenalty float32
	ReasoningEffort  string // low, medium, high; reasoning style only
	Verbosity        string // low, medium, high; reasoning style only
	Style            CallStyle
	JSONMode         bool

	// Accounting metadata, not sent to the provider
	QueryID  string
	Scenario string
}

// Usage reports token counts; a nil field means the provider did not say
type Usage struct {
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
}

// NewUsage builds a fully populated Usage
func NewUsage(prompt, completion int) Usage {
	total := prompt + completion
	return Usage{PromptTokens: &prompt, CompletionTokens: &completion, TotalTokens: &total}
}

// Known reports whether the provider returned counts
func (u Usage) Known() bool {
	return u.PromptTokens != nil || u.CompletionTokens != nil || u.TotalTokens != nil
}

// Prompt returns the prompt count, or 0
func (u Usage) Prompt() int { return deref(u.PromptTokens) }

// Completion returns the completion count, or 0
func (u Usage) Completion() int { return deref(u.CompletionTokens) }

// Total returns the total count, deriving it from the parts when missing
func (u Usage) Total() int {
	if u.TotalTokens != nil {
		return *u.TotalTokens
	}
	return u.Prompt() + u.Completion()
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// Response is the outcome of a completed call
type Response struct {
	Text     string
	Usage    Usage
	Model    string
	CallType string // One of the model.Call* constants
}

// Chunk is one streamed fragment; Usage is set on the terminal chunk when known
type Chunk struct {
	Text  string
	Usage *Usage
}

// Stream yields chunks until Recv returns io.EOF
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// EOF is re-exported so callers need not import io just to end a stream loop
var EOF = io.EOF

// Temp returns a pointer to v for Request.Temperature and Request.TopP
func Temp(v float64) *float32 {
	f := float32(v)
	return &f
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama"
	Provider string

	// Model name (provider-specific)
	Model string

	// EmbeddingModel used by Embed
	EmbeddingModel string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, Azure OpenAI gateways)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation when the request leaves it unset
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Timeout:        60,
		MaxTokens:      1000,
	}
}

func (c Config) maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1000
}

func (c Config) model(req Request, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return fallback
}
