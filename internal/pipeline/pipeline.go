// Package pipeline runs research sessions: one linear pass from planning to
// the final report, streaming progress events along the way.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/verity/internal/agent"
	"github.com/ppiankov/verity/internal/curate"
	"github.com/ppiankov/verity/internal/debate"
	"github.com/ppiankov/verity/internal/embed"
	"github.com/ppiankov/verity/internal/fetch"
	"github.com/ppiankov/verity/internal/graph"
	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/search"
	"github.com/ppiankov/verity/internal/store"
)

// DefaultResultsPerQuery is the number of search hits requested per subquery
const DefaultResultsPerQuery = 15

// maxDebatePairs bounds the contradictions handed to the debate
const maxDebatePairs = 3

// Planner splits a query into subqueries
type Planner interface {
	Plan(ctx context.Context, query string) []string
}

// Searcher discovers candidate URLs
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]search.Result, error)
}

// Crawler fetches many URLs with bounded concurrency, preserving order
type Crawler interface {
	CrawlAll(ctx context.Context, urls []string) []fetch.Page
}

// Curator turns pages into a ranked, deduplicated source list
type Curator interface {
	Curate(ctx context.Context, pages []fetch.Page, query string, opts curate.Options) (curate.Result, error)
}

// Verifier writes verification outcomes onto claims
type Verifier interface {
	VerifyBatch(ctx context.Context, claims []*model.Claim, sources map[string]*model.Source, useNLI bool) []*model.Claim
}

// Debater runs the debate over contradicting claims
type Debater interface {
	Conduct(ctx context.Context, query string, pairs []debate.Pair, participants []debate.Participant) model.DebateResult
}

// Synthesizer writes the final report
type Synthesizer interface {
	Synthesize(ctx context.Context, in agent.SynthesisInput) (string, error)
}

// Deps are the collaborators of a pipeline. NewCrawler is called once per
// session; a crawler that implements io.Closer is closed when the session ends.
type Deps struct {
	Planner     Planner
	Searcher    Searcher
	NewCrawler  func() (Crawler, error)
	Curator     Curator
	Agents      []agent.Agent
	Verifier    Verifier
	Debater     Debater
	Synthesizer Synthesizer
	Embedder    embed.Embedder
	Store       store.Store
	Logger      *zap.Logger
}

// Option tunes a Pipeline
type Option func(*Pipeline)

// WithCuration sets the curation thresholds. MaxSources is replaced per
// session by the session's target source count.
func WithCuration(opts curate.Options) Option {
	return func(p *Pipeline) { p.curation = opts }
}

// WithNLI enables the entailment verification tier
func WithNLI(enabled bool) Option {
	return func(p *Pipeline) { p.useNLI = enabled }
}

// WithResultsPerQuery sets the search depth per subquery
func WithResultsPerQuery(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.resultsPerQuery = n
		}
	}
}

// WithDefaults sets the mode and target used by Research
func WithDefaults(mode model.Mode, targetSources int) Option {
	return func(p *Pipeline) {
		p.mode = mode
		p.targetSources = targetSources
	}
}

// Pipeline runs research sessions. It holds no per-session state and is
// safe for concurrent use.
type Pipeline struct {
	deps            Deps
	logger          *zap.Logger
	curation        curate.Options
	useNLI          bool
	resultsPerQuery int
	mode            model.Mode
	targetSources   int
}

// New validates deps and creates a pipeline. A missing planner, synthesizer
// or store falls back to the static planner, the deterministic report and
// an in-memory store.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Searcher == nil:
		return nil, errors.New("pipeline: searcher is required")
	case deps.NewCrawler == nil:
		return nil, errors.New("pipeline: crawler factory is required")
	case deps.Curator == nil:
		return nil, errors.New("pipeline: curator is required")
	case deps.Verifier == nil:
		return nil, errors.New("pipeline: verifier is required")
	case deps.Embedder == nil:
		return nil, errors.New("pipeline: embedder is required")
	case len(deps.Agents) == 0:
		return nil, errors.New("pipeline: at least one agent is required")
	}

	deps.Logger = logging.OrNop(deps.Logger)
	if deps.Planner == nil {
		deps.Planner = agent.NewPlanner(nil, deps.Logger)
	}
	if deps.Synthesizer == nil {
		deps.Synthesizer = agent.NewSynthesizer(nil, deps.Logger)
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}

	p := &Pipeline{
		deps:            deps,
		logger:          deps.Logger,
		curation:        curate.DefaultOptions(),
		resultsPerQuery: DefaultResultsPerQuery,
		mode:            model.ModeStandard,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Store returns the store sessions are persisted to
func (p *Pipeline) Store() store.Store {
	return p.deps.Store
}

// Research creates a session with the pipeline defaults and runs it without
// streaming. A session that ends in ERROR is returned together with an error.
func (p *Pipeline) Research(ctx context.Context, query string) (*model.ResearchSession, error) {
	sess := model.NewSession(query, p.mode, p.targetSources)
	sess = p.Run(ctx, sess, Discard)
	if sess.Status == model.StatusError {
		return sess, fmt.Errorf("research %q: %s", query, sess.ErrorMessage)
	}
	return sess, nil
}

// Run drives sess from PLANNING to COMPLETE or ERROR and returns it.
// Every exit path releases the session's resources; a panic in any phase
// ends the session in ERROR like any other failure.
func (p *Pipeline) Run(ctx context.Context, sess *model.ResearchSession, emit Emitter) *model.ResearchSession {
	if emit == nil {
		emit = Discard
	}
	r := &run{
		p:      p,
		sess:   sess,
		emit:   emit,
		logger: p.logger.With(zap.String("session_id", sess.ID)),
		graph:  graph.New(p.deps.Embedder, p.logger),
	}
	defer r.close()
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(ctx, &model.PipelineError{Phase: sess.Phase, Err: fmt.Errorf("panic: %v", rec)})
		}
	}()

	r.logger.Info("research started",
		zap.String("query", sess.Query),
		zap.String("mode", string(sess.Mode)))
	r.save(ctx)

	if err := r.execute(ctx); err != nil {
		r.fail(ctx, err)
	}
	return sess
}

// run is the state of one session
type run struct {
	p       *Pipeline
	sess    *model.ResearchSession
	emit    Emitter
	logger  *zap.Logger
	graph   *graph.Graph
	closers []io.Closer

	urls    []string
	pages   []fetch.Page
	sources []*model.Source
	results []agent.Result
	claims  []*model.Claim
	debate  *model.DebateResult
}

type step struct {
	phase   model.Phase
	message func() string
	fn      func(context.Context) error
	skip    func() bool
}

func (r *run) execute(ctx context.Context) error {
	steps := []step{
		{phase: model.PhasePlanning, message: r.text("Decomposing query into sub-queries..."), fn: r.plan},
		{phase: model.PhaseSearching, message: func() string {
			return fmt.Sprintf("Searching for sources (target: %d)...", r.sess.TargetSources)
		}, fn: r.search},
		{phase: model.PhaseCrawling, message: func() string {
			return fmt.Sprintf("Crawling %d URLs...", len(r.urls))
		}, fn: r.crawl},
		{phase: model.PhaseCurating, message: r.text("Filtering and ranking sources..."), fn: r.curate},
		{phase: model.PhaseExtracting, message: r.text("Extracting claims with multiple agents..."), fn: r.extract},
		{phase: model.PhaseBuildingGraph, message: r.text("Building knowledge graph..."), fn: r.buildGraph},
		{phase: model.PhaseVerifying, message: r.text("Verifying claims against sources..."), fn: r.verify},
		{phase: model.PhaseDebating, message: func() string {
			return fmt.Sprintf("Debating %d contradictions...", len(r.graph.FindContradictions()))
		}, fn: r.runDebate, skip: r.skipDebate},
		{phase: model.PhaseSynthesizing, message: r.text("Generating final report..."), fn: r.synthesize},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return &model.PipelineError{Phase: s.phase, Err: err}
		}
		if s.skip != nil && s.skip() {
			r.logger.Debug("phase skipped", zap.String("phase", string(s.phase)))
			continue
		}
		r.transition(ctx, s.phase, s.message())
		if err := s.fn(ctx); err != nil {
			return &model.PipelineError{Phase: s.phase, Err: err}
		}
	}

	now := time.Now().UTC()
	r.sess.Status = model.StatusCompleted
	r.sess.CompletedAt = &now
	r.transition(ctx, model.PhaseComplete, "Research complete!")
	r.send(ctx, model.ReportEvent(r.sess.ID, r.sess.FinalReport))

	r.logger.Info("research complete",
		zap.Int("sources", r.sess.SourceCount),
		zap.Int("claims", r.sess.ClaimCount),
		zap.Int("debate_rounds", r.sess.DebateRounds))
	return nil
}

func (r *run) text(s string) func() string {
	return func() string { return s }
}

// transition moves the session to phase, persists it and emits a status event
func (r *run) transition(ctx context.Context, phase model.Phase, message string) {
	r.sess.Phase = phase
	r.sess.ProgressPercent = phase.Progress()
	r.save(ctx)
	r.send(ctx, model.StatusEvent(r.sess.ID, phase, message))
	r.logger.Info("phase", zap.String("phase", string(phase)), zap.String("message", message))
}

// fail records a terminal failure. Persistence and the error event use a
// context detached from cancellation so a cancelled run is still reported.
func (r *run) fail(ctx context.Context, err error) {
	ctx = context.WithoutCancel(ctx)

	var pe *model.PipelineError
	if !errors.As(err, &pe) {
		pe = &model.PipelineError{Phase: r.sess.Phase, Err: err}
	}
	r.logger.Error("research failed", zap.String("phase", string(pe.Phase)), zap.Error(pe.Err))

	r.sess.Phase = model.PhaseError
	r.sess.Status = model.StatusError
	r.sess.ErrorMessage = pe.Error()
	r.save(ctx)
	r.send(ctx, model.ErrorEvent(r.sess.ID, "Research failed", pe.Error()))
}

func (r *run) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			r.logger.Warn("closing session resource failed", zap.Error(err))
		}
	}
	r.closers = nil
}

func (r *run) save(ctx context.Context) {
	if err := r.p.deps.Store.SaveSession(ctx, r.sess); err != nil {
		r.logger.Warn("persisting session failed", zap.Error(err))
	}
}

func (r *run) send(ctx context.Context, e model.Event) {
	if err := r.emit.Emit(ctx, e); err != nil {
		r.logger.Warn("emitting event failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

// ============== Phases ==============

func (r *run) plan(ctx context.Context) error {
	subqueries := r.p.deps.Planner.Plan(ctx, r.sess.Query)
	if len(subqueries) == 0 {
		subqueries = agent.DefaultSubqueries(r.sess.Query)
	}
	r.sess.Subqueries = subqueries
	r.logger.Debug("planned subqueries", zap.Strings("subqueries", subqueries))
	return nil
}

// search queries every subquery, deduplicates URLs and keeps twice the
// session's source ceiling for curation to choose from
func (r *run) search(ctx context.Context) error {
	seen := make(map[string]bool)
	for _, q := range r.sess.Subqueries {
		hits, err := r.p.deps.Searcher.Search(ctx, q, r.p.resultsPerQuery)
		if err != nil {
			r.logger.Warn("search failed", zap.String("query", q), zap.Error(err))
			continue
		}
		for _, h := range hits {
			if h.URL == "" || seen[h.URL] {
				continue
			}
			seen[h.URL] = true
			r.urls = append(r.urls, h.URL)
		}
		r.logger.Debug("search completed", zap.String("query", q), zap.Int("results", len(hits)))
	}

	if limit := r.sess.MaxSources * 2; limit > 0 && len(r.urls) > limit {
		r.urls = r.urls[:limit]
	}
	return nil
}

func (r *run) crawl(ctx context.Context) error {
	crawler, err := r.p.deps.NewCrawler()
	if err != nil {
		return fmt.Errorf("create crawler: %w", err)
	}
	if c, ok := crawler.(io.Closer); ok {
		r.closers = append(r.closers, c)
	}

	for _, page := range crawler.CrawlAll(ctx, r.urls) {
		if !page.Success {
			r.logger.Debug("page skipped", zap.String("url", page.URL), zap.String("error", page.Error))
			continue
		}
		r.pages = append(r.pages, page)
		r.send(ctx, model.SourceEvent(r.sess.ID, pageSource(page)))
	}
	r.logger.Info("crawl complete", zap.Int("urls", len(r.urls)), zap.Int("pages", len(r.pages)))
	return nil
}

// pageSource is the preview of a crawled page sent before curation
func pageSource(p fetch.Page) *model.Source {
	return &model.Source{
		URL:         p.URL,
		Title:       p.Title,
		ContentHash: p.ContentHash,
		WordCount:   p.WordCount,
		Domain:      curate.DomainOf(p.URL),
		SourceType:  curate.DetectSourceType(p.URL),
	}
}

func (r *run) curate(ctx context.Context) error {
	opts := r.p.curation
	opts.MaxSources = r.sess.TargetSources
	opts.ClassifyEvidence = opts.ClassifyEvidence || r.sess.Mode == model.ModeMedical

	res, err := r.p.deps.Curator.Curate(ctx, r.pages, r.sess.Query, opts)
	if err != nil {
		return err
	}
	r.pages = nil
	r.sources = res.Sources

	for _, src := range r.sources {
		src.SessionID = r.sess.ID
		if err := r.p.deps.Store.SaveSource(ctx, src); err != nil {
			r.logger.Warn("persisting source failed", zap.String("url", src.URL), zap.Error(err))
		}
	}
	r.sess.SourceCount = len(r.sources)

	r.logger.Info("curation complete",
		zap.Int("sources", len(r.sources)),
		zap.Int("duplicates_removed", res.DuplicatesRemoved),
		zap.Int("low_quality_removed", res.LowQualityRemoved))
	return nil
}

// extract runs every agent concurrently. A failing or panicking agent
// contributes an empty zero-confidence result.
func (r *run) extract(ctx context.Context) error {
	agents := r.p.deps.Agents
	results := make([]agent.Result, len(agents))

	var g errgroup.Group
	for i, a := range agents {
		g.Go(func() error {
			results[i] = r.analyze(ctx, a)
			return nil
		})
	}
	_ = g.Wait()
	r.results = results

	for _, res := range results {
		for _, ec := range res.Claims {
			sourceID := ec.ResolveSource(r.sources)
			if sourceID == "" {
				r.logger.Debug("claim dropped without source", zap.String("agent", res.AgentName))
				continue
			}
			claim := &model.Claim{
				ID:                 uuid.NewString(),
				SessionID:          r.sess.ID,
				SourceID:           sourceID,
				Text:               ec.Text,
				Confidence:         ec.Confidence,
				Entities:           ec.Entities,
				Keywords:           ec.Keywords,
				AgentName:          res.AgentName,
				VerificationMethod: model.MethodNone,
				CreatedAt:          time.Now().UTC(),
			}
			r.claims = append(r.claims, claim)
			r.send(ctx, model.ClaimEvent(r.sess.ID, claim))
		}
	}
	r.sess.ClaimCount = len(r.claims)

	r.logger.Info("extraction complete", zap.Int("agents", len(agents)), zap.Int("claims", len(r.claims)))
	return nil
}

func (r *run) analyze(ctx context.Context, a agent.Agent) (res agent.Result) {
	name := a.Name()
	defer func() {
		if rec := recover(); rec != nil {
			res = agent.Failed(name, fmt.Errorf("%w: panic: %v", model.ErrAgentFailure, rec))
			r.activity(ctx, name, "failed", res.Summary)
		}
	}()

	res, err := a.Analyze(ctx, r.sess.Query, r.sources)
	if err != nil {
		r.logger.Warn("agent failed", zap.String("agent", name), zap.Error(err))
		res = agent.Failed(name, fmt.Errorf("%w: %v", model.ErrAgentFailure, err))
		r.activity(ctx, name, "failed", err.Error())
		return res
	}
	if res.AgentName == "" {
		res.AgentName = name
	}
	r.activity(ctx, name, "completed", fmt.Sprintf("%d claims", len(res.Claims)))
	return res
}

func (r *run) activity(ctx context.Context, agentName, status, message string) {
	err := r.p.deps.Store.LogActivity(ctx, model.AgentActivity{
		ID:           uuid.NewString(),
		SessionID:    r.sess.ID,
		AgentName:    agentName,
		ActivityType: "extract",
		Status:       status,
		Message:      message,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("logging agent activity failed", zap.String("agent", agentName), zap.Error(err))
	}
}

func (r *run) buildGraph(ctx context.Context) error {
	lookup := r.sourceMap()
	for _, c := range r.claims {
		if _, err := r.graph.AddClaim(ctx, c, lookup[c.SourceID]); err != nil {
			return err
		}
	}

	nodes, edges := r.graph.Visualization()
	r.send(ctx, model.GraphEvent(r.sess.ID, nodes, edges))

	stats := r.graph.Statistics()
	r.logger.Info("knowledge graph built",
		zap.Int("nodes", stats.TotalNodes),
		zap.Int("edges", stats.TotalEdges),
		zap.Int("contradictions", stats.ContradictsEdges))
	return nil
}

func (r *run) verify(ctx context.Context) error {
	r.claims = r.p.deps.Verifier.VerifyBatch(ctx, r.claims, r.sourceMap(), r.p.useNLI)

	verified := 0
	for _, c := range r.claims {
		if c.Verified {
			verified++
		}
		if err := r.p.deps.Store.SaveClaim(ctx, c); err != nil {
			r.logger.Warn("persisting claim failed", zap.String("claim_id", c.ID), zap.Error(err))
		}
	}
	for _, rel := range r.graph.Relations(r.sess.ID) {
		if err := r.p.deps.Store.SaveRelation(ctx, rel); err != nil {
			r.logger.Warn("persisting relation failed", zap.Error(err))
		}
	}

	r.logger.Info("verification complete", zap.Int("verified", verified), zap.Int("claims", len(r.claims)))
	return nil
}

// skipDebate reports whether DEBATING is bypassed: debate disabled, no
// contradiction edges, or no debater configured
func (r *run) skipDebate() bool {
	if !r.sess.EnableDebate || r.p.deps.Debater == nil {
		return true
	}
	return len(r.graph.FindContradictions()) == 0
}

func (r *run) runDebate(ctx context.Context) error {
	byID := make(map[string]*model.Claim, len(r.claims))
	for _, c := range r.claims {
		byID[c.ID] = c
	}

	var pairs []debate.Pair
	for _, c := range r.graph.FindContradictions() {
		if len(pairs) == maxDebatePairs {
			break
		}
		a, b := byID[c.ClaimA], byID[c.ClaimB]
		if a != nil && b != nil {
			pairs = append(pairs, debate.Pair{A: a, B: b, Confidence: c.Confidence})
		}
	}

	participants := make([]debate.Participant, len(r.results))
	for i, res := range r.results {
		participants[i] = debate.Participant{Name: res.AgentName, Summary: res.Summary}
	}

	result := r.p.deps.Debater.Conduct(ctx, r.sess.Query, pairs, participants)
	r.debate = &result

	for _, round := range debate.ToRounds(result, r.sess.ID) {
		if err := r.p.deps.Store.SaveDebateRound(ctx, round); err != nil {
			r.logger.Warn("persisting debate round failed", zap.Error(err))
		}
	}
	r.sess.DebateRounds = len(result.Rounds)

	for i, round := range result.Rounds {
		for _, pos := range round {
			r.send(ctx, model.DebateEvent(r.sess.ID, i+1, pos))
		}
	}

	r.logger.Info("debate complete",
		zap.Bool("consensus", result.ConsensusReached),
		zap.Int("rounds", len(result.Rounds)))
	return nil
}

func (r *run) synthesize(ctx context.Context) error {
	report, err := r.p.deps.Synthesizer.Synthesize(ctx, agent.SynthesisInput{
		Query:          r.sess.Query,
		Results:        r.results,
		Claims:         r.claims,
		Sources:        r.sources,
		Stats:          r.graph.Statistics(),
		Contradictions: r.graph.FindContradictions(),
		Debate:         r.debate,
	})
	if err != nil {
		return err
	}

	snapshot, err := r.graph.Snapshot()
	if err != nil {
		return fmt.Errorf("graph snapshot: %w", err)
	}
	r.sess.FinalReport = report
	r.sess.GraphData = snapshot
	return nil
}

func (r *run) sourceMap() map[string]*model.Source {
	m := make(map[string]*model.Source, len(r.sources))
	for _, s := range r.sources {
		m[s.ID] = s
	}
	return m
}
