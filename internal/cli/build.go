package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/groundwork/internal/cache"
	"github.com/ppiankov/groundwork/internal/completion"
	"github.com/ppiankov/groundwork/internal/conversation"
	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/pipeline"
	"github.com/ppiankov/groundwork/internal/retrieval"
	"github.com/ppiankov/groundwork/internal/store"
	"github.com/ppiankov/groundwork/internal/util"
	"github.com/ppiankov/groundwork/internal/worker"
)

const (
	shutdownTimeout      = 30 * time.Second
	providerCheckTimeout = 5 * time.Second
)

// app holds a wired controller and everything that must be closed with it
type app struct {
	ctl     *pipeline.Controller
	log     *logging.ZapLogger
	pool    *worker.Pool
	closers []func() error
}

// newApp wires the pipeline from cfg
func newApp(cfg model.Config) (a *app, err error) {
	log := logging.New(cfg.Logging)
	a = &app{
		log:  log,
		pool: worker.NewPool(cfg.Pipeline.BackgroundWorkers, log),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var recorder store.Recorder = store.Nop{}
	if !strings.EqualFold(cfg.Storage.Driver, "none") {
		db, err := store.Open(cfg.Storage, log)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, db.Close)
		recorder = store.NewAsync(db, a.pool)
	}

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		return a, fmt.Errorf("create LLM provider: %w", err)
	}
	checkProvider(provider, log)
	var limiter *worker.Limiter
	if cfg.LLM.RequestsPerSecond > 0 {
		limiter = worker.NewLimiter(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)
	}
	orchestrator := completion.New(provider, limiter, recorder, llm.NewPriceTable(prices(cfg.Pricing)), log, completion.Config{
		Model:       cfg.LLM.Model,
		MaxAttempts: cfg.LLM.MaxAttempts,
	})

	retriever, err := newRetriever(cfg, log)
	if err != nil {
		return a, err
	}

	sessions, err := a.newSessions(cfg.Session)
	if err != nil {
		return a, err
	}

	var c cache.Cache
	if cfg.Cache.Enabled {
		c = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
	}

	a.ctl, err = pipeline.New(pipeline.Deps{
		Completer: orchestrator,
		Retriever: retriever,
		Sessions:  sessions,
		Recorder:  recorder,
		Cache:     c,
		Pool:      a.pool,
		Log:       log,
	}, pipeline.ConfigFrom(cfg))
	if err != nil {
		return a, fmt.Errorf("create pipeline: %w", err)
	}
	return a, nil
}

func newRetriever(cfg model.Config, log logging.Logger) (retrieval.Retriever, error) {
	rc := cfg.Retrieval
	var inner retrieval.Retriever

	switch strings.ToLower(rc.Backend) {
	case "azure":
		az, err := retrieval.NewAzureSearch(retrieval.AzureConfig{
			Endpoint:    rc.Endpoint,
			Index:       rc.Index,
			APIKey:      rc.APIKey,
			APIVersion:  rc.APIVersion,
			VectorField: rc.VectorField,
			Timeout:     time.Duration(rc.TimeoutSeconds) * time.Second,
			Proxy: util.ProxySettings{
				HTTPProxy:  cfg.LLM.HTTPProxy,
				HTTPSProxy: cfg.LLM.HTTPSProxy,
				NoProxy:    cfg.LLM.NoProxy,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create azure retriever: %w", err)
		}
		inner = az
	case "file":
		fr, err := retrieval.LoadFileRetriever(rc.CorpusPath)
		if err != nil {
			return nil, fmt.Errorf("load corpus: %w", err)
		}
		log.Info("cli", "corpus loaded", map[string]interface{}{"path": rc.CorpusPath, "passages": fr.Len()})
		inner = fr
	default:
		return nil, fmt.Errorf("unknown retrieval backend: %s (supported: azure, file)", rc.Backend)
	}

	return retrieval.WithRetry(inner, rc.MaxAttempts, 0, log), nil
}

func (a *app) newSessions(cfg model.SessionConfig) (conversation.SessionStore, error) {
	if !strings.EqualFold(cfg.Backend, "redis") {
		return conversation.NewMemorySessionStore(cfg.TTL), nil
	}
	rs, err := conversation.NewRedisSessionStore(cfg.RedisURL, cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("connect session store: %w", err)
	}
	a.closers = append(a.closers, rs.Close)
	return rs, nil
}

func prices(entries map[string]model.PriceEntry) map[string]llm.Price {
	out := make(map[string]llm.Price, len(entries))
	for name, e := range entries {
		out[name] = llm.Price{Prompt: e.Prompt, Completion: e.Completion}
	}
	return out
}

// Close drains background work, then releases connections
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.ctl != nil {
		_ = a.ctl.Close(ctx)
	}
	if err := a.pool.Close(ctx); err != nil {
		a.log.Warn("cli", "background work did not finish", map[string]interface{}{"error": err.Error()})
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("cli", "close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	_ = a.log.Sync()
}

// checkProvider warns at start-up when the model backend is unreachable or
// missing credentials. Turns still run and fail through their own status.
func checkProvider(provider llm.Provider, log logging.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), providerCheckTimeout)
	defer cancel()

	if provider.IsAvailable(ctx) {
		return true
	}
	log.Warn("cli", "LLM provider is not available", map[string]interface{}{"provider": provider.Name()})
	fmt.Fprintf(os.Stderr, "⚠️  LLM provider %s is not available; check credentials and base URL\n", provider.Name())
	return false
}
