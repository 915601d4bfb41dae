package model

import "time"

// Config is the full runtime configuration of groundwork
type Config struct {
	LLM       LLMConfig             `yaml:"llm" mapstructure:"llm"`
	Retrieval RetrievalConfig       `yaml:"retrieval" mapstructure:"retrieval"`
	Pipeline  PipelineConfig        `yaml:"pipeline" mapstructure:"pipeline"`
	Session   SessionConfig         `yaml:"session" mapstructure:"session"`
	Storage   StorageConfig         `yaml:"storage" mapstructure:"storage"`
	Cache     CacheConfig           `yaml:"cache" mapstructure:"cache"`
	Logging   LoggingConfig         `yaml:"logging" mapstructure:"logging"`
	Pricing   map[string]PriceEntry `yaml:"pricing,omitempty" mapstructure:"pricing"` // Per-model overrides, USD per million tokens
}

// LLMConfig selects and tunes the language model provider
type LLMConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model             string  `yaml:"model" mapstructure:"model"`
	EmbeddingModel    string  `yaml:"embedding_model" mapstructure:"embedding_model"`
	APIKey            string  `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL           string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"` // 0 disables pacing
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	HTTPProxy         string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy           string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// RetrievalConfig selects the search backend
type RetrievalConfig struct {
	Backend        string `yaml:"backend" mapstructure:"backend"` // azure or file
	Endpoint       string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	Index          string `yaml:"index,omitempty" mapstructure:"index"`
	APIKey         string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	APIVersion     string `yaml:"api_version" mapstructure:"api_version"`
	VectorField    string `yaml:"vector_field" mapstructure:"vector_field"`
	CorpusPath     string `yaml:"corpus_path,omitempty" mapstructure:"corpus_path"`
	MaxAttempts    int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// PipelineConfig tunes the answer pipeline independently of persona
type PipelineConfig struct {
	Persona                string                 `yaml:"persona" mapstructure:"persona"`
	PersonaOverrides       map[string]interface{} `yaml:"persona_overrides,omitempty" mapstructure:"persona_overrides"` // Applied on top of the persona
	StrictConfig           bool                   `yaml:"strict_config" mapstructure:"strict_config"`                   // Error findings abort start-up
	SystemPrompt           string                 `yaml:"system_prompt" mapstructure:"system_prompt"`
	MaxHistoryTurns        int                    `yaml:"max_history_turns" mapstructure:"max_history_turns"`
	ImplicitCitationMinLen int                    `yaml:"implicit_citation_min_len" mapstructure:"implicit_citation_min_len"`
	BackgroundWorkers      int                    `yaml:"background_workers" mapstructure:"background_workers"`
	Summarization          SummarizationConfig    `yaml:"summarization" mapstructure:"summarization"`
	Reranker               RerankerConfig         `yaml:"reranker" mapstructure:"reranker"`
}

// SummarizationConfig controls history condensation
type SummarizationConfig struct {
	Enabled          bool    `yaml:"enabled" mapstructure:"enabled"`
	MaxSummaryTokens int     `yaml:"max_summary_tokens" mapstructure:"max_summary_tokens"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature"`
}

// RerankerConfig controls passage reranking
type RerankerConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Mode    string `yaml:"mode" mapstructure:"mode"` // cosine, llm, hybrid
	Model   string `yaml:"model,omitempty" mapstructure:"model"`
	TopK    int    `yaml:"top_k" mapstructure:"top_k"`
}

// SessionConfig selects where conversation state lives between turns
type SessionConfig struct {
	Backend  string        `yaml:"backend" mapstructure:"backend"` // memory or redis
	RedisURL string        `yaml:"redis_url,omitempty" mapstructure:"redis_url"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// StorageConfig selects the persistence database
type StorageConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres or none
	DSN           string `yaml:"dsn" mapstructure:"dsn"`
	EncryptionKey string `yaml:"encryption_key,omitempty" mapstructure:"encryption_key"` // Empty stores text fields in the clear
}

// CacheConfig controls the enhancement and embedding caches
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	File       string `yaml:"file" mapstructure:"file"`
	Level      string `yaml:"level" mapstructure:"level"`
	Production bool   `yaml:"production" mapstructure:"production"`
}

// PriceEntry is a per-model rate in USD per million tokens
type PriceEntry struct {
	Prompt     float64 `yaml:"prompt" mapstructure:"prompt"`
	Completion float64 `yaml:"completion" mapstructure:"completion"`
}

// DefaultSystemPrompt is used when neither the persona nor the config supplies one
const DefaultSystemPrompt = `You are a knowledge base assistant. Answer only from the material inside <context>. ` +
	`Cite every statement with the bracketed id of the source it came from, for example [1]. ` +
	`If the context does not contain the answer, say so plainly.`

// DefaultConfig returns the built-in configuration
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			TimeoutSeconds: 60,
			MaxAttempts:    3,
			Burst:          1,
		},
		Retrieval: RetrievalConfig{
			Backend:        "file",
			APIVersion:     "2024-07-01",
			VectorField:    "text_vector",
			MaxAttempts:    3,
			TimeoutSeconds: 30,
		},
		Pipeline: PipelineConfig{
			Persona:                "explorer",
			SystemPrompt:           DefaultSystemPrompt,
			MaxHistoryTurns:        5,
			ImplicitCitationMinLen: 30,
			BackgroundWorkers:      4,
			Summarization: SummarizationConfig{
				Enabled:          true,
				MaxSummaryTokens: 800,
				Temperature:      0.3,
			},
			Reranker: RerankerConfig{
				Enabled: true,
				Mode:    "hybrid",
				TopK:    10,
			},
		},
		Session: SessionConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "groundwork.db",
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".groundwork/cache",
			MemoryTTL: time.Hour,
			DiskTTL:   24 * time.Hour,
		},
		Logging: LoggingConfig{
			File:  "logs/groundwork.log",
			Level: "info",
		},
	}
}
