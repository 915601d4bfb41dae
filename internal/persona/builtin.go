package persona

const guidedPrompt = `You are a knowledge base assistant. Answer strictly from the material inside <context>.
Cite each statement with the bracketed id of its source, for example [1] or [2].
Lead with the direct answer, then supporting detail. If the context does not cover the question, say so.`

const scientistPrompt = `You are a meticulous research assistant. Use only the material inside <context>.
Every factual sentence must carry a bracketed citation such as [1]. Never infer beyond what the sources state.
Point out gaps or contradictions between sources explicitly. If the context is insufficient, say exactly what is missing.`

var builtins = map[string]Settings{
	Explorer: {
		KeySearchTop:              50,
		KeySearchKNN:              50,
		KeyEnableQueryEnhancement: false,
		KeyEnableReranker:         false,
		KeyMaxContextChunks:       3,
		KeyMaxTokens:              800,
		KeyTemperature:            0.3,
		KeyUseResponsesAPI:        true,
		KeyReasoningEffort:        "low",
		KeyVerbosity:              "low",
		KeyEnableRadar:            false,
		KeySelfCorrectMode:        SelfCorrectOff,
		KeyGroundednessCheck:      false,
		KeyCorrectionLoop:         false,
	},
	Intermediate: {
		KeySearchTop:              30,
		KeySearchKNN:              30,
		KeyEnableQueryEnhancement: true,
		KeyEnableReranker:         true,
		KeyMaxContextChunks:       5,
		KeyMaxTokens:              1200,
		KeyTemperature:            0.5,
		KeyUseResponsesAPI:        true,
		KeyReasoningEffort:        "medium",
		KeyVerbosity:              "medium",
		KeySystemPrompt:           guidedPrompt,
		KeySystemPromptMode:       "Override",
		KeyEnableRadar:            true,
		KeyRadarTemperature:       0.5,
		KeyRadarMaxRounds:         1,
		KeyRadarThresholds: map[string]float64{
			"query_resolution": 0.60,
			"scope_discipline": 0.60,
			"completeness":     0.60,
			"clarity":          0.60,
			"actionability":    0.50,
			"citation_hygiene": 0.70,
		},
		KeySelfCorrectMode:   SelfCorrectEvaluateOnly,
		KeyGroundednessCheck: false,
		KeyAsyncGroundedness: true,
		KeyCorrectionLoop:    false,
	},
	BalancedPlus: {
		KeySearchTop:              50,
		KeySearchKNN:              40,
		KeyEnableQueryEnhancement: true,
		KeyEnableReranker:         true,
		KeyMaxContextChunks:       7,
		KeyMaxTokens:              1500,
		KeyTemperature:            0.5,
		KeyUseResponsesAPI:        true,
		KeyReasoningEffort:        "medium",
		KeyVerbosity:              "medium",
		KeySystemPrompt:           guidedPrompt,
		KeySystemPromptMode:       "Override",
		KeyEnableRadar:            true,
		KeyRadarTemperature:       0.5,
		KeyRadarMaxRounds:         1,
		KeyRadarThresholds: map[string]float64{
			"query_resolution": 0.65,
			"scope_discipline": 0.65,
			"completeness":     0.65,
			"clarity":          0.60,
			"actionability":    0.55,
			"citation_hygiene": 0.75,
		},
		KeySelfCorrectMode:   SelfCorrectEvaluateOnly,
		KeyGroundednessCheck: false,
		KeyAsyncGroundedness: true,
		KeyCorrectionLoop:    false,
	},
	Scientist: {
		KeySearchTop:              100,
		KeySearchKNN:              50,
		KeyEnableQueryEnhancement: true,
		KeyEnableReranker:         true,
		KeyMaxContextChunks:       10,
		KeyMaxTokens:              2000,
		KeyTemperature:            0.7,
		KeyUseResponsesAPI:        true,
		KeyReasoningEffort:        "high",
		KeyVerbosity:              "high",
		KeySystemPrompt:           scientistPrompt,
		KeySystemPromptMode:       "Override",
		KeyEnableRadar:            true,
		KeyRadarTemperature:       0.6,
		KeyRadarMaxRounds:         1,
		KeyRadarThresholds: map[string]float64{
			"query_resolution": 0.70,
			"scope_discipline": 0.70,
			"completeness":     0.70,
			"clarity":          0.60,
			"actionability":    0.65,
			"citation_hygiene": 0.80,
		},
		KeySelfCorrectMode:     SelfCorrectOn,
		KeyGroundednessCheck:   true,
		KeyCorrectionLoop:      true,
		KeyCorrectionMaxRounds: 1,
	},
}
