// Package pipeline runs one question through retrieval, drafting, quality
// shaping, the truth gate and citation renumbering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/groundwork/internal/cache"
	"github.com/ppiankov/groundwork/internal/conversation"
	"github.com/ppiankov/groundwork/internal/extract"
	"github.com/ppiankov/groundwork/internal/groundedness"
	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/persona"
	"github.com/ppiankov/groundwork/internal/policy"
	"github.com/ppiankov/groundwork/internal/retrieval"
	"github.com/ppiankov/groundwork/internal/store"
	"github.com/ppiankov/groundwork/internal/worker"
)

// ErrEmptyQuery is returned for a blank question
var ErrEmptyQuery = errors.New("query is empty")

// Turn modes recorded with query details and metrics
const (
	modeStandard  = "standard"
	modeStreaming = "streaming"
)

// Completer is the model surface the pipeline needs
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
	Stream(ctx context.Context, req llm.Request, onChunk func(string) error) (*llm.Response, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the controller
type Config struct {
	Persona                string
	PersonaOverrides       persona.Settings
	SystemPrompt           string
	MaxHistoryTurns        int
	Summarization          model.SummarizationConfig
	Reranker               model.RerankerConfig
	ImplicitCitationMinLen int
	BackgroundWorkers      int
	CacheTTL               time.Duration
	Groundedness           groundedness.Config
}

// ConfigFrom maps the runtime configuration onto the controller's
func ConfigFrom(cfg model.Config) Config {
	return Config{
		Persona:                cfg.Pipeline.Persona,
		PersonaOverrides:       persona.Settings(cfg.Pipeline.PersonaOverrides),
		SystemPrompt:           cfg.Pipeline.SystemPrompt,
		MaxHistoryTurns:        cfg.Pipeline.MaxHistoryTurns,
		Summarization:          cfg.Pipeline.Summarization,
		Reranker:               cfg.Pipeline.Reranker,
		ImplicitCitationMinLen: cfg.Pipeline.ImplicitCitationMinLen,
		BackgroundWorkers:      cfg.Pipeline.BackgroundWorkers,
		CacheTTL:               cfg.Cache.MemoryTTL,
		Groundedness:           groundedness.DefaultConfig(),
	}
}

// Deps are the collaborators of a controller. Only Completer and Retriever
// are required.
type Deps struct {
	Completer Completer
	Retriever retrieval.Retriever
	Sessions  conversation.SessionStore // Defaults to an in-memory store
	Recorder  store.Recorder            // Defaults to store.Nop
	Cache     cache.Cache               // Enhancement and embedding cache; nil disables caching
	Pool      *worker.Pool              // Background work; nil starts a pool owned by the controller
	Policies  *policy.Engine            // nil uses the default policies
	Log       logging.Logger
}

// Controller answers questions. It is safe for concurrent use; turns on the
// same session are serialized by the session store's lock.
type Controller struct {
	completer Completer
	retriever retrieval.Retriever
	sessions  conversation.SessionStore
	recorder  store.Recorder
	cache     cache.Cache
	pool      *worker.Pool
	ownsPool  bool
	enhancer  *Enhancer
	condenser *conversation.Condenser
	reranker  *retrieval.Reranker
	extractor *extract.Extractor
	evaluator *groundedness.Evaluator
	log       logging.Logger
	config    Config
	now       func() time.Time
	newID     func() string
}

// New creates a controller
func New(deps Deps, config Config) (*Controller, error) {
	if deps.Completer == nil {
		return nil, fmt.Errorf("pipeline needs a completer")
	}
	if deps.Retriever == nil {
		return nil, fmt.Errorf("pipeline needs a retriever")
	}
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	if deps.Sessions == nil {
		deps.Sessions = conversation.NewMemorySessionStore(24 * time.Hour)
	}
	if deps.Recorder == nil {
		deps.Recorder = store.Nop{}
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = model.DefaultSystemPrompt
	}
	if config.Reranker.TopK <= 0 {
		config.Reranker.TopK = 10
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}

	c := &Controller{
		completer: deps.Completer,
		retriever: deps.Retriever,
		sessions:  deps.Sessions,
		recorder:  deps.Recorder,
		cache:     deps.Cache,
		pool:      deps.Pool,
		log:       deps.Log,
		config:    config,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	if c.pool == nil {
		c.pool = worker.NewPool(config.BackgroundWorkers, deps.Log)
		c.ownsPool = true
	}

	c.enhancer = NewEnhancer(deps.Completer, deps.Cache, config.CacheTTL, deps.Log)
	c.condenser = conversation.NewCondenser(deps.Completer, conversation.CondenserConfig{
		MaxTurns:         config.MaxHistoryTurns,
		Summarize:        config.Summarization.Enabled,
		MaxSummaryTokens: config.Summarization.MaxSummaryTokens,
		Temperature:      config.Summarization.Temperature,
	}, deps.Log)
	c.reranker = retrieval.NewReranker(deps.Completer, retrieval.RerankerConfig{
		Enabled: config.Reranker.Enabled,
		Mode:    config.Reranker.Mode,
		Model:   config.Reranker.Model,
	}, deps.Log)
	c.extractor = extract.NewExtractor(config.ImplicitCitationMinLen)
	c.evaluator = groundedness.NewEvaluator(deps.Completer, deps.Policies, deps.Recorder, deps.Log, config.Groundedness)
	return c, nil
}

// Close waits for background work started by the controller
func (c *Controller) Close(ctx context.Context) error {
	if !c.ownsPool {
		return nil
	}
	return c.pool.Close(ctx)
}

// Generate answers query within the session. An empty sessionID starts a
// new one. isEnhanced skips query enhancement for questions that were
// already rewritten by the caller. Model and retrieval failures are reported
// through the answer's status and text, never as errors.
func (c *Controller) Generate(ctx context.Context, query, sessionID string, isEnhanced bool) (*model.Answer, error) {
	t, unlock, err := c.begin(ctx, query, sessionID, modeStandard)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// 1. Retrieve passages
	results := c.retrieve(ctx, t, isEnhanced)
	if len(results) == 0 {
		return c.noResults(ctx, t), nil
	}

	// 2. Assemble context and prompt
	c.compose(ctx, t, results)

	// 3. Draft
	start := c.now()
	resp, err := c.completer.Complete(ctx, t.request)
	t.llmMS = c.now().Sub(start).Milliseconds()
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = llm.ErrEmptyCompletion
	}
	if err != nil {
		return c.failed(t, err), nil
	}
	c.commit(ctx, t, resp.Text)

	// 4. Shape, judge and cite
	ans := c.finish(ctx, t, resp.Text)
	c.record(ctx, t, ans)
	return ans, nil
}

// Reset clears the session's history, keeping its system prompt and persona
func (c *Controller) Reset(ctx context.Context, sessionID string) error {
	unlock, err := c.sessions.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer unlock()

	sess, ok, err := c.sessions.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !ok {
		return nil
	}

	_, settings := c.resolve(sess)
	conv := conversation.Restore(c.systemPrompt(settings), sess.Messages)
	conv.Clear(true)
	sess.Messages = conv.History()
	sess.UpdatedAt = c.now()
	if err := c.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	c.log.Info("pipeline", "session reset", map[string]interface{}{"session_id": sessionID})
	return nil
}

// Configure sets the persona and option overrides of a session. An empty
// name keeps the configured persona.
func (c *Controller) Configure(ctx context.Context, sessionID, name string, overrides persona.Settings) error {
	if name != "" {
		if _, ok := persona.Lookup(name); !ok {
			return fmt.Errorf("unknown persona %q (available: %s)", name, strings.Join(persona.Names(), ", "))
		}
	}

	unlock, err := c.sessions.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer unlock()

	sess, ok, err := c.sessions.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !ok {
		sess = conversation.NewSession(sessionID)
	}
	sess.Persona = strings.ToLower(name)
	sess.Overrides = overrides
	sess.UpdatedAt = c.now()
	if err := c.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	return nil
}
