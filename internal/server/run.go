package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/briefing"
	"github.com/mohammad-safakhou/researcher/internal/events"
	"github.com/mohammad-safakhou/researcher/internal/logging"
	"github.com/mohammad-safakhou/researcher/internal/retrieval"
	"github.com/mohammad-safakhou/researcher/internal/session"
	"github.com/mohammad-safakhou/researcher/models"
	"github.com/mohammad-safakhou/researcher/provider"
	redis_repository "github.com/mohammad-safakhou/researcher/repository/redis_repository"
	"github.com/mohammad-safakhou/researcher/tools/embedding"
	"github.com/mohammad-safakhou/researcher/tools/knowledge"
	"github.com/mohammad-safakhou/researcher/tools/web_fetch"
	"github.com/mohammad-safakhou/researcher/tools/web_search"
	"github.com/mohammad-safakhou/researcher/tools/wikipedia"
	"github.com/mohammad-safakhou/researcher/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the assembled service: everything Run serves and later shuts down.
type App struct {
	Manager   *session.Manager
	Events    *events.Broadcaster
	Journal   *events.Journal
	Retriever *retrieval.Retriever
	Registry  *prometheus.Registry
	Degraded  bool

	closers []func() error
}

// Close releases the resources opened by Build. It does not stop the manager.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires providers, retrieval, synthesis, events and the session manager from cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.Component("build")
	app := &App{}

	var reg prometheus.Registerer
	if cfg.Telemetry.MetricsEnabled {
		app.Registry = prometheus.NewRegistry()
		app.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg = app.Registry
	}

	llm, err := provider.NewProvider(cfg.LLM)
	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		app.Degraded = true
		log.Warn("no llm api key configured, running in degraded mode")
	case err != nil:
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	providers, err := buildProviders(ctx, cfg, llm, app)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	rc := cfg.Research
	retrOpts := []retrieval.Option{retrieval.WithMetrics(retrieval.NewMetrics(reg))}
	fetcher, err := web_fetch.NewWebFetcher(
		web_fetch.FetcherType(cfg.Sources.WebFetch.Fetcher),
		cfg.Sources.WebFetch.Timeout,
		cfg.Sources.WebFetch.MaxChars,
		cfg.Sources.Wikipedia.UserAgent,
	)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("web fetcher: %w", err)
	}
	retrOpts = append(retrOpts, retrieval.WithEnricher(models.ProviderWeb, web_fetch.NewEnricher(fetcher)))
	app.Retriever = retrieval.New(retrieval.Config{
		QueryCap:     rc.QueryCap,
		PerProvider:  rc.PerProvider,
		MaxSources:   rc.MaxSources,
		Pacing:       rc.Pacing,
		ContentLimit: rc.ContentLimit,
		CacheTTL:     rc.CacheTTL,
	}, providers, retrOpts...)

	app.Events = events.NewBroadcaster(events.NewMetrics(reg))
	if cfg.Storage.Redis.Enabled {
		client, err := redis_repository.Conn(ctx, cfg.Storage.Redis)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		app.Journal = events.NewJournal(client, cfg.Storage.Redis.JournalStream, cfg.Storage.Redis.JournalMaxLen)
		app.Events.SubscribeAll(app.Journal)
	}

	bopts := briefing.Options{Degraded: app.Degraded}
	var completer provider.Completer
	if llm != nil {
		completer = llm
	}
	app.Manager = session.NewManager(session.Config{
		QueryCap:        rc.QueryCap,
		PerProvider:     rc.PerProvider,
		MaxSources:      rc.MaxSources,
		DeepQueryCap:    rc.DeepQueryCap,
		DeepPerProvider: rc.DeepPerProvider,
		ApprovalTTL:     rc.ApprovalTTL,
		Retention:       rc.Retention,
	},
		briefing.NewPlanner(completer, bopts),
		app.Retriever,
		briefing.NewSynthesizer(completer, bopts),
		app.Events,
		session.WithMetrics(session.NewMetrics(reg)),
	)

	log.WithField("providers", app.Retriever.Tags()).Info("research pipeline ready")
	return app, nil
}

func buildProviders(ctx context.Context, cfg *config.Config, llm provider.Provider, app *App) ([]retrieval.Provider, error) {
	log := logging.Component("build")
	rc := cfg.Research
	var out []retrieval.Provider

	if cfg.Sources.KnowledgeBase.Enabled {
		var emb *embedding.Embedding
		if llm != nil && cfg.Sources.KnowledgeBase.Embeddings {
			emb = embedding.NewEmbedding(llm, 0)
		}
		searcher, err := BuildKnowledge(ctx, cfg.Sources.KnowledgeBase, emb, app)
		if err != nil {
			return nil, err
		}
		out = append(out, retrieval.Provider{Tag: models.ProviderKnowledgeBase, Searcher: searcher, Timeout: rc.ProviderTimeout})
	}

	// Provider calls are never retried; a failure just contributes no sources.
	ws := cfg.Sources.WebSearch
	web, err := web_search.NewWebSearcher(web_search.Provider(ws.Provider), ws.APIKey(), ws.Endpoint, utils.NewHTTPClient(rc.WebTimeout, 0, 0))
	switch {
	case errors.Is(err, web_search.ErrMissingAPIKey):
		log.WithField("provider", ws.Provider).Warn("web search api key missing, web provider disabled")
	case err != nil:
		return nil, fmt.Errorf("web search: %w", err)
	default:
		out = append(out, retrieval.Provider{Tag: models.ProviderWeb, Searcher: web, Timeout: rc.WebTimeout})
	}

	if wp := cfg.Sources.Wikipedia; wp.Enabled {
		wiki := wikipedia.New(wp.Endpoint, wp.Language, wp.UserAgent, utils.NewHTTPClient(rc.ProviderTimeout, 0, 0))
		out = append(out, retrieval.Provider{Tag: models.ProviderWikipedia, Searcher: wiki, Timeout: rc.ProviderTimeout})
	}
	return out, nil
}

// BuildKnowledge creates the knowledge base index, loads the configured paths
// into it and returns a searcher. The index is closed with app.
func BuildKnowledge(ctx context.Context, cfg config.KnowledgeBaseConfig, emb *embedding.Embedding, app *App) (*knowledge.Searcher, error) {
	idx, err := knowledge.NewIndex()
	if err != nil {
		return nil, fmt.Errorf("knowledge index: %w", err)
	}
	app.closers = append(app.closers, idx.Close)

	loader := knowledge.NewLoader(idx, emb, cfg.ChunkSize, cfg.ChunkOverlap)
	if _, err := loader.LoadPaths(ctx, cfg.Paths); err != nil {
		return nil, fmt.Errorf("knowledge base: %w", err)
	}
	return knowledge.NewSearcher(idx, emb), nil
}

// Run serves the research API until ctx is cancelled, then shuts everything down.
func Run(ctx context.Context, cfg *config.Config) error {
	log := logging.Component("serve")
	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.WithError(err).Warn("closing resources")
		}
	}()

	var sweeper *session.Sweeper
	if cfg.Research.SweepCron != "" {
		sweeper, err = session.NewSweeper(app.Manager, cfg.Research.SweepCron)
		if err != nil {
			return err
		}
		sweeper.Start()
	}

	srv := New(cfg.Server, Deps{
		Manager:  app.Manager,
		Events:   app.Events,
		Journal:  app.Journal,
		Registry: app.Registry,
	})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if sweeper != nil {
		sweeper.Stop()
	}
	if err := srv.Shutdown(sctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := app.Manager.Shutdown(sctx); err != nil {
		log.WithError(err).Warn("research tasks did not finish in time")
	}
	return serveErr
}
