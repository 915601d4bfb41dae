// Package persona holds the named option bags that tune each pipeline stage.
package persona

import (
	"sort"
	"strings"
)

// Built-in persona names
const (
	Explorer     = "explorer"
	Intermediate = "intermediate"
	BalancedPlus = "balanced_plus"
	Scientist    = "scientist"
)

// Option keys read by the pipeline
const (
	KeySearchTop              = "search_top"
	KeySearchKNN              = "search_knn"
	KeyEnableQueryEnhancement = "enable_query_enhancement"
	KeyEnableReranker         = "enable_reranker"
	KeyMaxContextChunks       = "max_context_chunks"
	KeyMaxTokens              = "max_tokens"
	KeyTemperature            = "temperature"
	KeyTopP                   = "top_p"
	KeyUseResponsesAPI        = "use_responses_api"
	KeyReasoningEffort        = "reasoning_effort"
	KeyVerbosity              = "verbosity"
	KeySystemPrompt           = "system_prompt"
	KeySystemPromptMode       = "system_prompt_mode" // Override or Append
	KeyCustomPrompt           = "custom_prompt"

	KeyEnableRadar      = "enable_radar_correction"
	KeyRadarTemperature = "radar_temperature"
	KeyRadarMaxRounds   = "radar_max_rounds"
	KeyRadarThresholds  = "radar_thresholds"
	KeySelfCorrectMode  = "self_correct_mode" // true, evaluate_only or false

	KeyGroundednessCheck   = "enable_groundedness_check"
	KeyAsyncGroundedness   = "async_groundedness_check"
	KeyCorrectionLoop      = "enable_correction_loop"
	KeyCorrectionMaxRounds = "correction_max_rounds"
)

// Self-correction modes
const (
	SelfCorrectOn           = "true"
	SelfCorrectEvaluateOnly = "evaluate_only"
	SelfCorrectOff          = "false"
)

// Settings is an opaque option bag; readers supply their own defaults
type Settings map[string]interface{}

// Bool returns the boolean at key, or def when missing or mistyped
func (s Settings) Bool(key string, def bool) bool {
	switch v := s[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0":
			return false
		}
	}
	return def
}

// Int returns the integer at key, or def when missing or mistyped
func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Float returns the number at key, or def when missing or mistyped
func (s Settings) Float(key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// String returns the string at key, or def when missing or empty.
// Booleans are rendered as "true" or "false".
func (s Settings) String(key, def string) string {
	switch v := s[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case bool:
		if v {
			return "true"
		}
		return "false"
	}
	return def
}

// Floats returns a name-to-number map stored at key
func (s Settings) Floats(key string) map[string]float64 {
	out := make(map[string]float64)
	switch v := s[key].(type) {
	case map[string]float64:
		for k, f := range v {
			out[k] = f
		}
	case map[string]interface{}:
		for k, raw := range v {
			if f, ok := number(raw); ok {
				out[k] = f
			}
		}
	}
	return out
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Merge returns a copy of s with overrides applied on top
func (s Settings) Merge(overrides Settings) Settings {
	out := make(Settings, len(s)+len(overrides))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Lookup returns a copy of the named built-in persona
func Lookup(name string) (Settings, bool) {
	base, ok := builtins[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return base.Merge(nil), true
}

// Resolve returns the named persona with overrides applied.
// Unknown names resolve to the explorer persona.
func Resolve(name string, overrides Settings) (string, Settings) {
	key := strings.ToLower(name)
	base, ok := builtins[key]
	if !ok {
		key = Explorer
		base = builtins[Explorer]
	}
	return key, base.Merge(overrides)
}

// Names lists the built-in personas
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaxFidelity reports whether the persona demands the strict grounding policy
func MaxFidelity(name string) bool {
	return strings.ToLower(name) == Scientist
}
