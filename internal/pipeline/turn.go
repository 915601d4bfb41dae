package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/groundwork/internal/assemble"
	"github.com/ppiankov/groundwork/internal/cache"
	"github.com/ppiankov/groundwork/internal/conversation"
	"github.com/ppiankov/groundwork/internal/extract"
	"github.com/ppiankov/groundwork/internal/groundedness"
	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/metrics"
	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/persona"
	"github.com/ppiankov/groundwork/internal/radar"
	"github.com/ppiankov/groundwork/internal/retrieval"
	"github.com/ppiankov/groundwork/internal/score"
)

const contextTemplate = "<context>\n%s\n</context>\n<user_query>\n%s\n</user_query>"

// turn is the state of one question while it moves through the stages
type turn struct {
	queryID  string
	query    string
	mode     string
	persona  string
	settings persona.Settings
	session  *conversation.Session
	conv     *conversation.Store
	block    assemble.Context
	request  llm.Request
	followUp bool

	start    time.Time
	searchMS int64
	rerankMS int64
	llmMS    int64
}

// begin locks the session and resolves the persona for a new turn. The
// returned function releases the session.
func (c *Controller) begin(ctx context.Context, query, sessionID, mode string) (*turn, func(), error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil, ErrEmptyQuery
	}
	if sessionID == "" {
		sessionID = c.newID()
	}

	unlock, err := c.sessions.Lock(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	sess, ok, err := c.sessions.Load(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !ok {
		sess = conversation.NewSession(sessionID)
	}

	t := &turn{
		queryID: c.newID(),
		query:   query,
		mode:    mode,
		session: sess,
		start:   c.now(),
	}
	t.persona, t.settings = c.resolve(sess)

	system := c.systemPrompt(t.settings)
	t.conv = conversation.Restore(system, sess.Messages)
	t.conv.SetSystem(system)

	if err := c.recorder.SaveQuery(ctx, t.queryID, sess.ID); err != nil {
		c.log.Warn("pipeline", "failed to save query", map[string]interface{}{
			"query_id": t.queryID,
			"error":    err.Error(),
		})
	}
	c.log.Info("pipeline", "turn started", map[string]interface{}{
		"query_id":   t.queryID,
		"session_id": sess.ID,
		"persona":    t.persona,
		"mode":       mode,
	})
	return t, unlock, nil
}

// resolve returns the session's persona with config and session overrides applied
func (c *Controller) resolve(sess *conversation.Session) (string, persona.Settings) {
	name := sess.Persona
	if name == "" {
		name = c.config.Persona
	}
	return persona.Resolve(name, c.config.PersonaOverrides.Merge(sess.Overrides))
}

// systemPrompt applies the persona prompt to the default one. Override
// replaces it; Append puts the persona prompt first.
func (c *Controller) systemPrompt(s persona.Settings) string {
	custom := s.String(persona.KeySystemPrompt, "")
	if custom == "" {
		return c.config.SystemPrompt
	}
	if strings.EqualFold(s.String(persona.KeySystemPromptMode, "Override"), "append") {
		return custom + "\n\n" + c.config.SystemPrompt
	}
	return custom
}

// retrieve enhances the query, searches, dedupes and reranks. Failures
// return no passages.
func (c *Controller) retrieve(ctx context.Context, t *turn, isEnhanced bool) []model.SearchResult {
	s := t.settings
	searchQuery := t.query
	if s.Bool(persona.KeyEnableQueryEnhancement, true) && !isEnhanced {
		start := c.now()
		searchQuery = c.enhancer.Enhance(ctx, t.queryID, t.query, t.conv.History())
		metrics.ObserveStage("enhance", start)
	}

	vec := c.embed(ctx, t.queryID, searchQuery)

	start := c.now()
	results, err := c.retriever.Search(ctx, retrieval.Query{
		Text:   searchQuery,
		Top:    s.Int(persona.KeySearchTop, 50),
		KNN:    s.Int(persona.KeySearchKNN, 50),
		Vector: vec,
	})
	t.searchMS = metrics.ObserveStage("search", start).Milliseconds()
	if err != nil {
		c.log.Error("pipeline", "search failed", map[string]interface{}{
			"query_id": t.queryID,
			"error":    err.Error(),
		})
		metrics.Fallback("search", "error")
		return nil
	}

	results = retrieval.Dedupe(results)
	if len(results) == 0 {
		return nil
	}

	if c.reranker.Enabled() && s.Bool(persona.KeyEnableReranker, true) {
		start := c.now()
		results = c.reranker.Rerank(ctx, t.queryID, searchQuery, vec, results, c.config.Reranker.TopK)
		t.rerankMS = metrics.ObserveStage("rerank", start).Milliseconds()
	}

	c.log.Debug("pipeline", "passages ready", map[string]interface{}{
		"query_id":  t.queryID,
		"passages":  len(results),
		"search_ms": t.searchMS,
		"rerank_ms": t.rerankMS,
	})
	return results
}

// embed returns the query vector, or nil when the provider has none
func (c *Controller) embed(ctx context.Context, queryID, text string) []float32 {
	key := cache.Key("embedding", text)
	var vec []float32
	if cache.GetJSON(c.cache, key, &vec) && len(vec) > 0 {
		return vec
	}

	vec, err := c.completer.Embed(ctx, text)
	if err != nil {
		c.log.Debug("pipeline", "query embedding unavailable", map[string]interface{}{
			"query_id": queryID,
			"error":    err.Error(),
		})
		return nil
	}
	if err := cache.SetJSON(c.cache, key, vec, c.config.CacheTTL); err != nil {
		c.log.Warn("pipeline", "failed to cache embedding", map[string]interface{}{"error": err.Error()})
	}
	return vec
}

// compose builds the context block, appends the user message and prepares
// the draft request from the condensed history
func (c *Controller) compose(ctx context.Context, t *turn, results []model.SearchResult) {
	s := t.settings
	t.block = assemble.Build(results, s.Int(persona.KeyMaxContextChunks, 5))

	question := t.query
	if custom := s.String(persona.KeyCustomPrompt, ""); custom != "" {
		question = custom + "\n\n" + question
	}

	t.conv.EnsureSystem()
	t.conv.Append(model.RoleUser, fmt.Sprintf(contextTemplate, t.block.Text, question))
	t.followUp = t.conv.UserTurns() > 1

	messages, trimmed := c.condenser.Condense(ctx, t.queryID, t.conv.History())
	if trimmed {
		messages = append(messages, model.System(fmt.Sprintf("[History trimmed to last %d turns]", c.condenser.MaxTurns())))
	}

	req := llm.Request{
		Messages:    messages,
		MaxTokens:   s.Int(persona.KeyMaxTokens, 1200),
		Temperature: llm.Temp(s.Float(persona.KeyTemperature, 0.5)),
		QueryID:     t.queryID,
		Scenario:    "tune_response_based_on_history",
	}
	if _, ok := s[persona.KeyTopP]; ok {
		req.TopP = llm.Temp(s.Float(persona.KeyTopP, 1))
	}
	if s.Bool(persona.KeyUseResponsesAPI, false) {
		req.Style = llm.StyleReasoning
		req.ReasoningEffort = s.String(persona.KeyReasoningEffort, "medium")
		req.Verbosity = s.String(persona.KeyVerbosity, "medium")
	}
	t.request = req
}

// commit stores the draft as the assistant's reply and saves the session.
// A turn that fails before this point leaves the stored history untouched.
func (c *Controller) commit(ctx context.Context, t *turn, draft string) {
	t.conv.Append(model.RoleAssistant, draft)
	t.session.Messages = t.conv.History()
	t.session.UpdatedAt = c.now()
	if err := c.sessions.Save(ctx, t.session); err != nil {
		c.log.Warn("pipeline", "failed to save session", map[string]interface{}{
			"query_id":   t.queryID,
			"session_id": t.session.ID,
			"error":      err.Error(),
		})
	}
}

// finish runs the correction loop, the truth gate and citation renumbering
// on a committed draft
func (c *Controller) finish(ctx context.Context, t *turn, draft string) *model.Answer {
	start := c.now()
	text, correction := c.shape(ctx, t, draft)
	metrics.ObserveStage("correction", start)

	start = c.now()
	evaluation := c.judge(ctx, t, text)
	metrics.ObserveStage("groundedness", start)

	cited := c.extractor.Cited(text, t.block.Sources)
	r := extract.Renumber(text, cited)

	return &model.Answer{
		QueryID:      t.queryID,
		Status:       model.StatusOK,
		Text:         r.Text,
		CitedSources: r.Sources,
		Evaluation:   evaluation,
		Correction:   correction,
		Context:      t.block.Text,
		Renumbering:  r.Mapping,
	}
}

// shape runs the RADAR loop, or the legacy groundedness loop when RADAR is
// off and the persona asks for it
func (c *Controller) shape(ctx context.Context, t *turn, draft string) (string, *model.Correction) {
	s := t.settings
	switch {
	case s.Bool(persona.KeyEnableRadar, false):
		mode := strings.ToLower(s.String(persona.KeySelfCorrectMode, persona.SelfCorrectOn))
		if mode == persona.SelfCorrectOff {
			return draft, nil
		}
		loop := radar.New(c.completer, radarConfig(s), c.log)
		in := radar.Input{QueryID: t.queryID, Query: t.query, Draft: draft, Context: t.block.Text}

		var res *model.RadarResult
		if mode == persona.SelfCorrectEvaluateOnly {
			res = loop.EvaluateOnly(ctx, in)
		} else {
			res = loop.Correct(ctx, in)
		}
		return res.FinalResponse, &model.Correction{Kind: model.CorrectionRadar, Radar: res}

	case s.Bool(persona.KeyCorrectionLoop, false):
		loop := groundedness.NewCorrectionLoop(c.evaluator, c.completer, c.log, groundedness.LoopConfig{
			MaxRounds: s.Int(persona.KeyCorrectionMaxRounds, 1),
		})
		res := loop.Correct(ctx, c.evaluation(t, draft))
		return res.FinalResponse, &model.Correction{Kind: model.CorrectionLegacy, Legacy: res}
	}
	return draft, nil
}

func radarConfig(s persona.Settings) radar.Config {
	verbosity := s.String(persona.KeyVerbosity, "")
	cfg := radar.Config{
		Temperature:     llm.Temp(s.Float(persona.KeyRadarTemperature, 0.6)),
		MaxRounds:       s.Int(persona.KeyRadarMaxRounds, 1),
		Verbosity:       verbosity,
		ReasoningEffort: s.String(persona.KeyReasoningEffort, ""),
		UseReasoning:    s.Bool(persona.KeyUseResponsesAPI, false),
	}
	if custom := s.Floats(persona.KeyRadarThresholds); len(custom) > 0 {
		cfg.Thresholds = score.ForVerbosity(verbosity).Merge(custom)
	}
	return cfg
}

// judge runs the truth gate. In async mode the verdict is computed in the
// background for the record only and the caller gets none.
func (c *Controller) judge(ctx context.Context, t *turn, answer string) *model.EvaluationResult {
	s := t.settings
	async := s.Bool(persona.KeyAsyncGroundedness, false)
	if !async && !s.Bool(persona.KeyGroundednessCheck, false) {
		return nil
	}

	in := c.evaluation(t, answer)
	if async {
		c.pool.Go("groundedness:"+t.queryID, func(ctx context.Context) error {
			c.evaluator.Evaluate(ctx, in)
			return nil
		})
		return nil
	}
	return c.evaluator.Evaluate(ctx, in)
}

func (c *Controller) evaluation(t *turn, answer string) groundedness.Input {
	return groundedness.Input{
		QueryID: t.queryID,
		Query:   t.query,
		Answer:  answer,
		Context: t.block.Text,
		Persona: t.persona,
	}
}

func (c *Controller) noResults(ctx context.Context, t *turn) *model.Answer {
	c.log.Info("pipeline", "no passages found", map[string]interface{}{"query_id": t.queryID})
	ans := &model.Answer{
		QueryID: t.queryID,
		Status:  model.StatusNoResults,
		Text:    model.NoResultsText,
	}
	c.record(ctx, t, ans)
	return ans
}

func (c *Controller) failed(t *turn, err error) *model.Answer {
	c.log.Error("pipeline", "generation failed", map[string]interface{}{
		"query_id": t.queryID,
		"error":    err.Error(),
	})
	metrics.Turn(t.mode, string(model.StatusError))
	return &model.Answer{
		QueryID: t.queryID,
		Status:  model.StatusError,
		Text:    model.GenerationFailed,
	}
}

// record persists the turn's details and closes its metrics
func (c *Controller) record(ctx context.Context, t *turn, ans *model.Answer) {
	total := c.now().Sub(t.start).Milliseconds()
	metrics.Turn(t.mode, string(ans.Status))

	details := model.QueryDetails{
		QueryID:         t.queryID,
		SessionID:       t.session.ID,
		UserQuery:       t.query,
		Response:        ans.Text,
		Status:          ans.Status,
		IsFollowUp:      t.followUp,
		Mode:            t.mode,
		Persona:         t.persona,
		LatencyMS:       total,
		LLMLatencyMS:    t.llmMS,
		SearchLatencyMS: t.searchMS,
		RerankLatencyMS: t.rerankMS,
		Sources:         ans.CitedSources,
		Features:        features(t, ans.Correction),
		CreatedAt:       c.now(),
	}
	if err := c.recorder.SaveQueryDetails(context.WithoutCancel(ctx), details); err != nil {
		c.log.Warn("pipeline", "failed to save query details", map[string]interface{}{
			"query_id": t.queryID,
			"error":    err.Error(),
		})
	}

	c.log.Info("pipeline", "turn finished", map[string]interface{}{
		"query_id":   t.queryID,
		"status":     string(ans.Status),
		"sources":    len(ans.CitedSources),
		"corrected":  ans.Correction.WasCorrected(),
		"latency_ms": total,
		"llm_ms":     t.llmMS,
		"search_ms":  t.searchMS,
		"rerank_ms":  t.rerankMS,
	})
}

// features snapshots the persona options with the correction outcome
func features(t *turn, corr *model.Correction) map[string]interface{} {
	out := make(map[string]interface{}, len(t.settings)+2)
	for k, v := range t.settings {
		out[k] = v
	}
	out["persona"] = t.persona
	if corr == nil {
		return out
	}

	switch corr.Kind {
	case model.CorrectionRadar:
		r := corr.Radar
		var corrected interface{}
		if r.WasCorrected {
			corrected = r.FinalResponse
		}
		out["radar_evaluation"] = map[string]interface{}{
			"scores":                       r.Scores,
			"reasons":                      r.Reasons,
			"failing_dimensions":           r.FailingDimensions,
			"was_corrected":                r.WasCorrected,
			"evaluate_only":                r.EvaluateOnly,
			"rounds_used":                  r.RoundsUsed,
			"original_draft":               r.OriginalDraft,
			"corrected_response":           corrected,
			"eval_prompt_tokens":           r.EvalPromptTokens,
			"eval_completion_tokens":       r.EvalCompletionTokens,
			"correction_prompt_tokens":     r.CorrectionPromptTokens,
			"correction_completion_tokens": r.CorrectionCompletionTokens,
			"total_radar_tokens":           r.TotalTokens(),
		}
	case model.CorrectionLegacy:
		l := corr.Legacy
		out["legacy_correction"] = map[string]interface{}{
			"was_corrected":  l.WasCorrected,
			"rounds_used":    l.RoundsUsed,
			"original_draft": l.OriginalDraft,
		}
	}
	return out
}
