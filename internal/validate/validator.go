// Package validate checks a resolved configuration before the pipeline starts.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/persona"
)

// Level is the severity of a finding
type Level string

const (
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Finding is one problem found in the configuration
type Finding struct {
	Level   Level  `json:"level"`
	Key     string `json:"key"`
	Message string `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s %s: %s", f.Level, f.Key, f.Message)
}

// Findings is the result of a check
type Findings []Finding

// HasErrors reports whether any finding is error-level
func (fs Findings) HasErrors() bool {
	for _, f := range fs {
		if f.Level == LevelError {
			return true
		}
	}
	return false
}

// Err joins the error-level findings, or returns nil when there are none
func (fs Findings) Err() error {
	var errs []error
	for _, f := range fs {
		if f.Level == LevelError {
			errs = append(errs, errors.New(f.Key+": "+f.Message))
		}
	}
	return errors.Join(errs...)
}

var (
	providers      = []string{"openai", "anthropic", "ollama"}
	backends       = []string{"azure", "file"}
	rerankModes    = []string{"cosine", "llm", "hybrid"}
	drivers        = []string{"sqlite", "postgres", "none"}
	sessionKinds   = []string{"memory", "redis"}
	levels         = []string{"low", "medium", "high"}
	selfCorrect    = []string{persona.SelfCorrectOn, persona.SelfCorrectEvaluateOnly, persona.SelfCorrectOff}
	promptModes    = []string{"override", "append"}
	minSecretBytes = 16
)

type checker struct {
	findings Findings
}

func (c *checker) warn(key, format string, args ...interface{}) {
	c.findings = append(c.findings, Finding{Level: LevelWarn, Key: key, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) fail(key, format string, args ...interface{}) {
	c.findings = append(c.findings, Finding{Level: LevelError, Key: key, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) oneOf(key, value string, allowed []string) {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return
		}
	}
	c.fail(key, "%q is not one of %s", value, strings.Join(allowed, ", "))
}

func (c *checker) unit(key string, v float64) {
	if v < 0 || v > 1 {
		c.fail(key, "%.2f is outside [0,1]", v)
	}
}

// Check validates cfg, including the persona it selects with its overrides
// applied. Findings come back in section order.
func Check(cfg model.Config) Findings {
	c := &checker{}

	checkLLM(c, cfg.LLM)
	checkRetrieval(c, cfg.Retrieval)
	checkPipeline(c, cfg.Pipeline)
	checkStorage(c, cfg.Storage)
	checkSession(c, cfg.Session)

	if _, err := zapcore.ParseLevel(cfg.Logging.Level); cfg.Logging.Level != "" && err != nil {
		c.warn("logging.level", "%q is not a log level, using info", cfg.Logging.Level)
	}
	for name, p := range cfg.Pricing {
		if p.Prompt < 0 || p.Completion < 0 {
			c.fail("pricing."+name, "prices must not be negative")
		}
	}
	return c.findings
}

func checkLLM(c *checker, cfg model.LLMConfig) {
	c.oneOf("llm.provider", cfg.Provider, providers)
	if cfg.Model == "" {
		c.fail("llm.model", "a model is required")
	}
	if cfg.APIKey == "" && !strings.EqualFold(cfg.Provider, "ollama") {
		c.warn("llm.api_key", "no API key set for %s", cfg.Provider)
	}
	if cfg.MaxAttempts < 1 {
		c.fail("llm.max_attempts", "must be at least 1")
	}
	if cfg.TimeoutSeconds <= 0 {
		c.fail("llm.timeout_seconds", "must be positive")
	}
	if cfg.RequestsPerSecond < 0 {
		c.fail("llm.requests_per_second", "must not be negative")
	}
	if cfg.RequestsPerSecond > 0 && cfg.Burst < 1 {
		c.warn("llm.burst", "burst below 1 with pacing enabled, using 1")
	}
}

func checkRetrieval(c *checker, cfg model.RetrievalConfig) {
	c.oneOf("retrieval.backend", cfg.Backend, backends)
	switch strings.ToLower(cfg.Backend) {
	case "azure":
		if cfg.Endpoint == "" {
			c.fail("retrieval.endpoint", "required for the azure backend")
		}
		if cfg.Index == "" {
			c.fail("retrieval.index", "required for the azure backend")
		}
		if cfg.APIKey == "" {
			c.warn("retrieval.api_key", "no search key set")
		}
	case "file":
		if cfg.CorpusPath == "" {
			c.fail("retrieval.corpus_path", "required for the file backend")
		}
	}
	if cfg.MaxAttempts < 1 {
		c.fail("retrieval.max_attempts", "must be at least 1")
	}
}

func checkPipeline(c *checker, cfg model.PipelineConfig) {
	if _, ok := persona.Lookup(cfg.Persona); !ok {
		c.warn("pipeline.persona", "unknown persona %q, using %s", cfg.Persona, persona.Explorer)
	}
	if cfg.MaxHistoryTurns < 0 {
		c.fail("pipeline.max_history_turns", "must not be negative")
	}
	if cfg.ImplicitCitationMinLen < 0 {
		c.fail("pipeline.implicit_citation_min_len", "must not be negative")
	}
	if cfg.BackgroundWorkers < 1 {
		c.warn("pipeline.background_workers", "below 1, using 1")
	}
	if t := cfg.Summarization.Temperature; t < 0 || t > 2 {
		c.fail("pipeline.summarization.temperature", "%.2f is outside [0,2]", t)
	}
	if cfg.Reranker.Enabled {
		c.oneOf("pipeline.reranker.mode", cfg.Reranker.Mode, rerankModes)
		if cfg.Reranker.TopK < 1 {
			c.fail("pipeline.reranker.top_k", "must be at least 1")
		}
	}

	_, settings := persona.Resolve(cfg.Persona, cfg.PersonaOverrides)
	checkPersona(c, settings)
}

func checkPersona(c *checker, s persona.Settings) {
	key := func(k string) string { return "pipeline.persona_overrides." + k }

	if v := s.String(persona.KeyReasoningEffort, ""); v != "" {
		c.oneOf(key(persona.KeyReasoningEffort), v, levels)
	}
	if v := s.String(persona.KeyVerbosity, ""); v != "" {
		c.oneOf(key(persona.KeyVerbosity), v, levels)
	}
	if v := s.String(persona.KeySelfCorrectMode, ""); v != "" {
		c.oneOf(key(persona.KeySelfCorrectMode), v, selfCorrect)
	}
	if v := s.String(persona.KeySystemPromptMode, ""); v != "" {
		c.oneOf(key(persona.KeySystemPromptMode), v, promptModes)
	}
	for _, k := range []string{persona.KeyTemperature, persona.KeyRadarTemperature} {
		if t := s.Float(k, 0); t < 0 || t > 2 {
			c.fail(key(k), "%.2f is outside [0,2]", t)
		}
	}
	if p := s.Float(persona.KeyTopP, 1); p < 0 || p > 1 {
		c.fail(key(persona.KeyTopP), "%.2f is outside [0,1]", p)
	}
	for _, k := range []string{persona.KeyMaxContextChunks, persona.KeyMaxTokens, persona.KeySearchTop} {
		if n := s.Int(k, 1); n < 1 {
			c.fail(key(k), "must be at least 1")
		}
	}

	known := make(map[string]bool, len(model.Dimensions))
	for _, d := range model.Dimensions {
		known[string(d)] = true
	}
	thresholds := s.Floats(persona.KeyRadarThresholds)
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := thresholds[name]
		k := key(persona.KeyRadarThresholds) + "." + name
		if !known[strings.ToLower(name)] {
			c.warn(k, "unknown dimension, ignored")
			continue
		}
		c.unit(k, v)
	}
}

func checkStorage(c *checker, cfg model.StorageConfig) {
	c.oneOf("storage.driver", cfg.Driver, drivers)
	if cfg.Driver != "none" && cfg.DSN == "" {
		c.fail("storage.dsn", "required for the %s driver", cfg.Driver)
	}
	if cfg.EncryptionKey != "" && len(cfg.EncryptionKey) < minSecretBytes {
		c.warn("storage.encryption_key", "shorter than %d bytes", minSecretBytes)
	}
}

func checkSession(c *checker, cfg model.SessionConfig) {
	c.oneOf("session.backend", cfg.Backend, sessionKinds)
	if strings.EqualFold(cfg.Backend, "redis") && cfg.RedisURL == "" {
		c.fail("session.redis_url", "required for the redis backend")
	}
	if cfg.TTL < 0 {
		c.fail("session.ttl", "must not be negative")
	}
}
