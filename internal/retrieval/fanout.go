package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/researcher/models"
	"github.com/mohammad-safakhou/researcher/utils"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultQueryCap    = 2
	DefaultPerProvider = 2
	DefaultPacing      = 500 * time.Millisecond
)

// Config holds the fan-out defaults. Zero values fall back to the package
// defaults except Pacing, ContentLimit and CacheTTL where zero disables the
// feature.
type Config struct {
	QueryCap     int
	PerProvider  int
	MaxSources   int
	Pacing       time.Duration
	ContentLimit int
	CacheTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueryCap <= 0 {
		c.QueryCap = DefaultQueryCap
	}
	if c.PerProvider <= 0 {
		c.PerProvider = DefaultPerProvider
	}
	if c.MaxSources <= 0 {
		c.MaxSources = DefaultMaxSources
	}
	return c
}

// Options narrows a single Retrieve call. Zero fields use the Config values.
type Options struct {
	QueryCap    int
	PerProvider int
	MaxSources  int
	// Providers restricts the call to these tags. Nil means every registered provider.
	Providers []models.ProviderTag
	// Deep runs registered enrichers over the results.
	Deep bool
}

type Retriever struct {
	cfg       Config
	providers []Provider
	enrichers map[models.ProviderTag]Enricher
	cache     *cache.Cache
	metrics   *Metrics
	log       *logrus.Entry
}

type Option func(*Retriever)

func WithMetrics(m *Metrics) Option { return func(r *Retriever) { r.metrics = m } }

func WithLogger(l *logrus.Entry) Option { return func(r *Retriever) { r.log = l } }

// WithEnricher registers e for deep searches on results tagged tag.
func WithEnricher(tag models.ProviderTag, e Enricher) Option {
	return func(r *Retriever) {
		if e != nil {
			r.enrichers[tag] = e
		}
	}
}

// New builds a Retriever. Providers are ordered by tag priority; providers
// sharing a tag keep their registration order.
func New(cfg Config, providers []Provider, opts ...Option) *Retriever {
	ps := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.Searcher != nil {
			ps = append(ps, p)
		}
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Tag.Priority() < ps[j].Tag.Priority() })

	r := &Retriever{
		cfg:       cfg.withDefaults(),
		providers: ps,
		enrichers: make(map[models.ProviderTag]Enricher),
		log:       logrus.WithField("component", "retrieval"),
	}
	if cfg.CacheTTL > 0 {
		r.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tags lists the registered provider tags in priority order.
func (r *Retriever) Tags() []models.ProviderTag {
	out := make([]models.ProviderTag, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Tag)
	}
	return out
}

// Retrieve runs up to QueryCap queries against every active provider and
// returns the deduplicated, capped result list. Provider failures are logged
// and contribute nothing; Retrieve never fails.
func (r *Retriever) Retrieve(ctx context.Context, queries []string, opts Options) []models.Source {
	opts = r.resolve(opts)
	queries = capQueries(queries, opts.QueryCap)
	active := r.active(opts.Providers)
	if len(queries) == 0 || len(active) == 0 {
		return []models.Source{}
	}

	var limiter *rate.Limiter
	if r.cfg.Pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(r.cfg.Pacing), 1)
	}

	buckets := make([][]models.Source, len(active))
	for _, q := range queries {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				r.log.WithError(err).Warn("retrieval interrupted")
				break
			}
		}
		results := make([][]models.Source, len(active))
		g, gctx := errgroup.WithContext(ctx)
		for i, p := range active {
			g.Go(func() error {
				results[i] = r.call(gctx, p, q, opts)
				return nil
			})
		}
		_ = g.Wait()
		for i := range active {
			buckets[i] = append(buckets[i], results[i]...)
		}
	}

	total := 0
	for _, b := range buckets {
		total += len(b)
	}
	out := Deduplicate(opts.MaxSources, buckets...)
	r.metrics.observeDropped(total - len(out))
	r.log.WithFields(logrus.Fields{
		"queries":   len(queries),
		"providers": len(active),
		"raw":       total,
		"kept":      len(out),
	}).Info("retrieval finished")
	return out
}

func (r *Retriever) resolve(opts Options) Options {
	if opts.QueryCap <= 0 {
		opts.QueryCap = r.cfg.QueryCap
	}
	if opts.PerProvider <= 0 {
		opts.PerProvider = r.cfg.PerProvider
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = r.cfg.MaxSources
	}
	return opts
}

func (r *Retriever) active(tags []models.ProviderTag) []Provider {
	if tags == nil {
		return r.providers
	}
	allowed := make(map[models.ProviderTag]struct{}, len(tags))
	for _, t := range tags {
		allowed[t] = struct{}{}
	}
	var out []Provider
	for _, p := range r.providers {
		if _, ok := allowed[p.Tag]; ok {
			out = append(out, p)
		}
	}
	return out
}

func capQueries(queries []string, n int) []string {
	out := make([]string, 0, n)
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == n {
			break
		}
	}
	return out
}

func (r *Retriever) call(ctx context.Context, p Provider, query string, opts Options) []models.Source {
	tag := string(p.Tag)
	key := fmt.Sprintf("%s|%d|%t|%s", tag, opts.PerProvider, opts.Deep, query)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			r.metrics.observeCacheHit(tag)
			return models.CloneSources(v.([]models.Source))
		}
	}

	// Search and deep enrichment share the provider's budget.
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := invoke(ctx, p, query, opts.PerProvider)
	r.metrics.observeCall(tag, time.Since(start).Seconds(), err != nil)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"provider": tag, "query": query}).Warn("provider search failed")
		return nil
	}

	res = models.CloneSources(res)
	for i := range res {
		res[i].Type = p.Tag
	}
	if enricher := r.enrichers[p.Tag]; opts.Deep && enricher != nil {
		enrichAll(ctx, enricher, res)
	}
	out := make([]models.Source, 0, len(res))
	for _, src := range res {
		src.Content = utils.TruncateRunes(src.Content, r.cfg.ContentLimit)
		out = append(out, src)
	}
	if r.cache != nil {
		r.cache.Set(key, models.CloneSources(out), cache.DefaultExpiration)
	}
	return out
}

const enrichConcurrency = 4

// enrichAll enriches srcs in place, a few at a time. A source whose
// enrichment has not returned when ctx ends keeps its original content.
func enrichAll(ctx context.Context, e Enricher, srcs []models.Source) {
	g := new(errgroup.Group)
	g.SetLimit(enrichConcurrency)
	for i := range srcs {
		g.Go(func() error {
			srcs[i] = enrichOne(ctx, e, srcs[i])
			return nil
		})
	}
	_ = g.Wait()
}

func enrichOne(ctx context.Context, e Enricher, src models.Source) models.Source {
	if ctx.Err() != nil {
		return src
	}
	ch := make(chan models.Source, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- src
			}
		}()
		ch <- e.Enrich(ctx, models.CloneSources([]models.Source{src})[0])
	}()
	select {
	case out := <-ch:
		return out
	case <-ctx.Done():
		return src
	}
}

// invoke calls the provider under its hard timeout. The result channel is
// buffered so an abandoned searcher can still finish without blocking.
func invoke(ctx context.Context, p Provider, query string, limit int) ([]models.Source, error) {
	if p.Timeout <= 0 {
		return safeSearch(ctx, p.Searcher, query, limit)
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	type outcome struct {
		res []models.Source
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := safeSearch(ctx, p.Searcher, query, limit)
		ch <- outcome{res: res, err: err}
	}()
	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s after %s: %w", p.Tag, p.Timeout, ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

func safeSearch(ctx context.Context, s Searcher, query string, limit int) (res []models.Source, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("search panicked: %v", rec)
		}
	}()
	return s.Search(ctx, query, limit)
}
