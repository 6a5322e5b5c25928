package cli

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/agent"
	"github.com/ppiankov/verity/internal/cache"
	"github.com/ppiankov/verity/internal/curate"
	"github.com/ppiankov/verity/internal/debate"
	"github.com/ppiankov/verity/internal/embed"
	"github.com/ppiankov/verity/internal/fetch"
	"github.com/ppiankov/verity/internal/llm"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/pipeline"
	"github.com/ppiankov/verity/internal/search"
	"github.com/ppiankov/verity/internal/store"
	"github.com/ppiankov/verity/internal/util"
	"github.com/ppiankov/verity/internal/verify"
	"github.com/ppiankov/verity/internal/worker"
)

const (
	embeddingCacheTTL = 24 * time.Hour
	robotsTimeout     = 10 * time.Second
	robotsAgent       = "Verity/0.1"
)

// app is the assembled runtime shared by the commands
type app struct {
	cfg      model.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
	store    store.Store
	planner  *agent.Planner
	embedder embed.Embedder
}

// newApp builds every collaborator from configuration. Without a working
// LLM provider the run degrades to keyword extraction, the static planner,
// the deterministic report and no debate.
func newApp(cfg model.Config, logger *zap.Logger, opts ...pipeline.Option) (*app, error) {
	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM, cfg.HTTP))
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	var completer llm.Completer
	if _, disabled := provider.(llm.Disabled); !disabled {
		completer = provider
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout:   cfg.HTTP.Timeout,
		Transport: util.NewTransport(cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy),
	}
	searcher, err := search.FromConfig(cfg.Search, client, logger)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	var pageCache cache.Cache
	if cfg.Crawl.CacheEnabled {
		pageCache = cache.NewLayeredCache(cfg.Crawl.CacheTTL, cfg.Crawl.CacheDir, cfg.Crawl.CacheTTL)
	}

	planner := agent.NewPlanner(completer, logger)
	deps := pipeline.Deps{
		Planner:  planner,
		Searcher: searcher,
		NewCrawler: func() (pipeline.Crawler, error) {
			return newCrawler(cfg, pageCache, logger), nil
		},
		Curator:     curate.NewCurator(embedder, curate.NewAuthorityScorer(cfg.Curation.TrustedDomains, cfg.Curation.LowQualityDomains), logger),
		Synthesizer: agent.NewSynthesizer(completer, logger),
		Embedder:    embedder,
		Store:       st,
		Logger:      logger,
	}

	var entailer verify.Entailer
	if completer != nil {
		entailer = verify.NewLLMEntailer(completer)
		deps.Agents = agent.Swarm(completer, logger)
		deps.Debater = debate.New(completer, cfg.Debate.ConsensusThreshold, logger)
	} else {
		logger.Warn("no LLM provider configured, using keyword extraction without debate")
		deps.Agents = []agent.Agent{agent.NewHeuristicExtractor()}
	}
	deps.Verifier = verify.NewEngine(embedder, entailer, logger)

	opts = append([]pipeline.Option{
		pipeline.WithCuration(curate.OptionsFromConfig(cfg.Curation)),
		pipeline.WithNLI(cfg.Verification.UseNLI && entailer != nil),
		pipeline.WithResultsPerQuery(cfg.Search.ResultsPerQuery),
	}, opts...)

	p, err := pipeline.New(deps, opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	logger.Debug("runtime assembled",
		zap.String("llm", provider.Name()),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Strings("search", cfg.Search.Providers),
		zap.Bool("store", cfg.Store.Enabled))

	return &app{cfg: cfg, logger: logger, pipeline: p, store: st, planner: planner, embedder: embedder}, nil
}

// Close releases the store
func (a *app) Close() error {
	return a.store.Close()
}

// newEmbedder selects the embedding provider. Remote embeddings are cached
// in memory by text.
func newEmbedder(cfg model.Config) (embed.Embedder, error) {
	switch strings.ToLower(cfg.Embedding.Provider) {
	case "", "hash":
		return embed.NewHashEmbedder(cfg.Embedding.Dimension), nil
	}

	llmCfg := cfg.LLM
	llmCfg.Provider = cfg.Embedding.Provider
	llmCfg.Model = cfg.Embedding.Model
	if !strings.EqualFold(cfg.Embedding.Provider, cfg.LLM.Provider) {
		llmCfg.APIKey, llmCfg.BaseURL = "", ""
	}
	provider, err := llm.NewProvider(llm.ConfigFromModel(llmCfg, cfg.HTTP))
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	c := cache.NewMemoryCache(embeddingCacheTTL, 10*time.Minute)
	return embed.NewCachedEmbedder(provider, c, embeddingCacheTTL), nil
}

// newCrawler builds the per-session fetch stack: HTTP first, with the
// headless browser behind it when enabled
func newCrawler(cfg model.Config, pageCache cache.Cache, logger *zap.Logger) *fetch.Crawler {
	opts := fetch.HTTPOptions{
		Timeout:    cfg.HTTP.Timeout,
		MaxBytes:   cfg.HTTP.MaxBytes,
		HTTPProxy:  cfg.HTTP.HTTPProxy,
		HTTPSProxy: cfg.HTTP.HTTPSProxy,
		NoProxy:    cfg.HTTP.NoProxy,
		Spacer:     worker.NewDomainSpacer(cfg.HTTP.MinDomainDelay, cfg.HTTP.MaxJitter),
		Logger:     logger,
	}
	if cfg.HTTP.RespectRobots {
		opts.Robots = fetch.NewRobotsChecker(&http.Client{Timeout: robotsTimeout}, robotsAgent)
	}
	if cfg.Crawl.BrowserFallback {
		opts.Browser = fetch.NewBrowserFetcher(cfg.Crawl.BrowserTimeout, logger)
	}
	return fetch.NewCrawler(fetch.NewHTTPFetcher(opts), cfg.Crawl.MaxConcurrent, pageCache, cfg.Crawl.CacheTTL, logger)
}
