package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/ppiankov/verity/internal/agent"
	"github.com/ppiankov/verity/internal/curate"
	"github.com/ppiankov/verity/internal/debate"
	"github.com/ppiankov/verity/internal/fetch"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/search"
	"github.com/ppiankov/verity/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============== Fakes ==============

type staticPlanner struct{ panicMsg string }

func (p staticPlanner) Plan(_ context.Context, query string) []string {
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	return []string{query, query + " evidence"}
}

type fakeSearcher struct{}

func (fakeSearcher) Search(_ context.Context, query string, max int) ([]search.Result, error) {
	if strings.HasSuffix(query, "evidence") {
		return nil, errors.New("provider down")
	}
	return []search.Result{
		{URL: "https://a.example.edu/1"},
		{URL: "https://b.example.org/2"},
		{URL: "https://a.example.edu/1"},
		{URL: "https://c.example.com/broken"},
	}, nil
}

type fakeCrawler struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeCrawler) CrawlAll(_ context.Context, urls []string) []fetch.Page {
	pages := make([]fetch.Page, len(urls))
	for i, u := range urls {
		if strings.HasSuffix(u, "broken") {
			pages[i] = fetch.Page{URL: u, Error: "HTTP 404"}
			continue
		}
		text := "Coffee intake was measured in adults. Caffeine delays sleep onset by twenty minutes."
		pages[i] = fetch.Page{
			URL: u, Title: "Page " + u, Text: text, HTML: "<p>" + text + "</p>",
			ContentHash: fetch.ContentHash(u), WordCount: 13, Success: true,
		}
	}
	return pages
}

func (c *fakeCrawler) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCrawler) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeCurator struct{ err error }

func (f fakeCurator) Curate(_ context.Context, pages []fetch.Page, _ string, opts curate.Options) (curate.Result, error) {
	if f.err != nil {
		return curate.Result{}, f.err
	}
	var res curate.Result
	for i, p := range pages {
		if i == opts.MaxSources {
			break
		}
		res.Sources = append(res.Sources, &model.Source{
			ID: fmt.Sprintf("src-%d", i), URL: p.URL, Title: p.Title, Text: p.Text,
			ContentHash: p.ContentHash, Domain: curate.DomainOf(p.URL), CredibilityScore: 0.6,
		})
	}
	return res, nil
}

type scriptedAgent struct {
	name   string
	claims []string
	err    error
	panics bool
}

func (a scriptedAgent) Name() string { return a.name }

func (a scriptedAgent) Analyze(_ context.Context, _ string, sources []*model.Source) (agent.Result, error) {
	if a.panics {
		panic("agent exploded")
	}
	if a.err != nil {
		return agent.Result{}, a.err
	}
	res := agent.Result{AgentName: a.name, Summary: a.name + " summary", Confidence: 0.7}
	for i, text := range a.claims {
		idx := i % len(sources)
		res.Claims = append(res.Claims, agent.ExtractedClaim{Text: text, Confidence: 0.8, SourceIndex: &idx})
	}
	return res, nil
}

// sameVector embeds every text identically so every claim pair is linked
type sameVector struct{}

func (sameVector) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type containsVerifier struct{}

func (containsVerifier) VerifyBatch(_ context.Context, claims []*model.Claim, sources map[string]*model.Source, _ bool) []*model.Claim {
	for _, c := range claims {
		if src, ok := sources[c.SourceID]; ok && strings.Contains(src.Text, c.Text) {
			c.Verified = true
			c.VerificationMethod = model.MethodExact
			c.VerificationConfidence = 0.95
		}
	}
	return claims
}

type twoRoundDebater struct {
	mu    sync.Mutex
	pairs int
}

func (d *twoRoundDebater) Conduct(_ context.Context, _ string, pairs []debate.Pair, participants []debate.Participant) model.DebateResult {
	d.mu.Lock()
	d.pairs = len(pairs)
	d.mu.Unlock()

	round := func(conf float64) []model.DebatePosition {
		out := make([]model.DebatePosition, len(participants))
		for i, p := range participants {
			out[i] = model.DebatePosition{AgentName: p.Name, Argument: p.Name + " argues", Confidence: conf}
		}
		return out
	}
	return model.DebateResult{
		Rounds:  [][]model.DebatePosition{round(0.4), round(0.3)},
		Summary: "Genuine disagreement among agents.",
	}
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Emit(_ context.Context, e model.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) ofType(t model.EventType) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) phases() []model.Phase {
	var out []model.Phase
	for _, e := range r.ofType(model.EventStatus) {
		out = append(out, e.Phase)
	}
	return out
}

func (r *recorder) last() model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	deps    Deps
	crawler *fakeCrawler
	debater *twoRoundDebater
	store   *store.Memory
}

func newFixture(t *testing.T, agents ...agent.Agent) *fixture {
	f := &fixture{crawler: &fakeCrawler{}, debater: &twoRoundDebater{}, store: store.NewMemory()}
	if len(agents) == 0 {
		agents = []agent.Agent{
			scriptedAgent{name: agent.ScoutName, claims: []string{"Caffeine delays sleep onset by twenty minutes"}},
			scriptedAgent{name: agent.SkepticName, claims: []string{"However, caffeine has no effect on sleep in habitual drinkers"}},
		}
	}
	f.deps = Deps{
		Planner:    staticPlanner{},
		Searcher:   fakeSearcher{},
		NewCrawler: func() (Crawler, error) { return f.crawler, nil },
		Curator:    fakeCurator{},
		Agents:     agents,
		Verifier:   containsVerifier{},
		Debater:    f.debater,
		Embedder:   sameVector{},
		Store:      f.store,
		Logger:     zaptest.NewLogger(t),
	}
	return f
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	p, err := New(f.deps)
	require.NoError(t, err)
	return p
}

// ============== Tests ==============

func TestRun_CompletesWithDebate(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	sess := model.NewSession("does coffee affect sleep", model.ModeStandard, 10)

	got := f.pipeline(t).Run(context.Background(), sess, rec)

	assert.Equal(t, model.PhaseComplete, got.Phase)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
	require.NotNil(t, got.CompletedAt)

	assert.Equal(t, []model.Phase{
		model.PhasePlanning, model.PhaseSearching, model.PhaseCrawling, model.PhaseCurating,
		model.PhaseExtracting, model.PhaseBuildingGraph, model.PhaseVerifying, model.PhaseDebating,
		model.PhaseSynthesizing, model.PhaseComplete,
	}, rec.phases())

	progress := 0
	for _, e := range rec.ofType(model.EventStatus) {
		assert.Greater(t, e.Progress, progress, "progress is monotonic")
		progress = e.Progress
	}

	// Duplicate and failed URLs never reach the source stream
	assert.Len(t, rec.ofType(model.EventSource), 2)
	assert.Equal(t, 2, got.SourceCount)
	assert.Equal(t, []string{"does coffee affect sleep", "does coffee affect sleep evidence"}, got.Subqueries)

	claims := rec.ofType(model.EventClaim)
	require.Len(t, claims, 2)
	assert.Equal(t, agent.ScoutName, claims[0].AgentName)
	assert.Equal(t, 2, got.ClaimCount)

	assert.Len(t, rec.ofType(model.EventGraph), 1)

	// Two rounds, one position per participant each
	assert.Equal(t, 2, got.DebateRounds)
	assert.Len(t, rec.ofType(model.EventDebate), 4)
	assert.Equal(t, 1, f.debater.pairs)

	last := rec.last()
	assert.Equal(t, model.EventReport, last.Type)
	assert.True(t, last.Complete)
	assert.Contains(t, last.Markdown, "# Research Report: does coffee affect sleep")
	assert.NotEmpty(t, got.GraphData)

	assert.True(t, f.crawler.isClosed())
}

func TestRun_PersistsEverything(t *testing.T) {
	f := newFixture(t)
	sess := model.NewSession("does coffee affect sleep", model.ModeStandard, 10)
	f.pipeline(t).Run(context.Background(), sess, nil)

	ctx := context.Background()
	stored, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseComplete, stored.Phase)
	assert.NotEmpty(t, stored.FinalReport)

	sources, err := f.store.ListSources(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, sources, 2)

	claims, err := f.store.ListClaims(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.True(t, claims[0].Verified)
	assert.False(t, claims[1].Verified)

	rels, err := f.store.ListRelations(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.RelationContradicts, rels[0].RelationType)

	rounds, err := f.store.ListDebateRounds(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, rounds, 4)

	acts, err := f.store.ListActivity(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, acts, 2)
}

func TestRun_SkipsDebateWithoutContradictions(t *testing.T) {
	f := newFixture(t,
		scriptedAgent{name: agent.ScoutName, claims: []string{"Caffeine delays sleep onset"}},
		scriptedAgent{name: agent.AnalystName, claims: []string{"Studies confirm caffeine delays sleep onset"}},
	)
	rec := &recorder{}
	got := f.pipeline(t).Run(context.Background(), model.NewSession("q", model.ModeStandard, 10), rec)

	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.NotContains(t, rec.phases(), model.PhaseDebating)
	assert.Empty(t, rec.ofType(model.EventDebate))
	assert.Equal(t, 0, got.DebateRounds)
}

func TestRun_QuickModeNeverDebates(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	got := f.pipeline(t).Run(context.Background(), model.NewSession("q", model.ModeQuick, 0), rec)

	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.NotContains(t, rec.phases(), model.PhaseDebating)
	assert.Equal(t, 0, f.debater.pairs)
}

func TestRun_AgentFailuresAreIsolated(t *testing.T) {
	f := newFixture(t,
		scriptedAgent{name: agent.ScoutName, claims: []string{"Caffeine delays sleep onset"}},
		scriptedAgent{name: agent.SkepticName, err: errors.New("provider returned 500")},
		scriptedAgent{name: agent.AnalystName, panics: true},
	)
	rec := &recorder{}
	sess := model.NewSession("q", model.ModeStandard, 10)
	got := f.pipeline(t).Run(context.Background(), sess, rec)

	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.ClaimCount)

	acts, err := f.store.ListActivity(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, acts, 3)
	statuses := map[string]string{}
	for _, a := range acts {
		statuses[a.AgentName] = a.Status
	}
	assert.Equal(t, "completed", statuses[agent.ScoutName])
	assert.Equal(t, "failed", statuses[agent.SkepticName])
	assert.Equal(t, "failed", statuses[agent.AnalystName])
}

func TestRun_PhaseFailureEndsInError(t *testing.T) {
	f := newFixture(t)
	f.deps.Curator = fakeCurator{err: errors.New("curate: embed: boom")}
	rec := &recorder{}
	got := f.pipeline(t).Run(context.Background(), model.NewSession("q", model.ModeStandard, 10), rec)

	assert.Equal(t, model.PhaseError, got.Phase)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "curating")

	last := rec.last()
	assert.Equal(t, model.EventError, last.Type)
	assert.Equal(t, "Research failed", last.Message)
	assert.Contains(t, last.Details, "boom")
	assert.Len(t, rec.ofType(model.EventError), 1)
	assert.Empty(t, rec.ofType(model.EventReport))

	assert.True(t, f.crawler.isClosed(), "crawler released on failure")
}

func TestRun_PanicEndsInError(t *testing.T) {
	f := newFixture(t)
	f.deps.Planner = staticPlanner{panicMsg: "planner bug"}
	rec := &recorder{}
	got := f.pipeline(t).Run(context.Background(), model.NewSession("q", model.ModeStandard, 10), rec)

	assert.Equal(t, model.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "planner bug")
	assert.Equal(t, model.EventError, rec.last().Type)
}

func TestRun_CancelledContextStillReportsError(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	got := f.pipeline(t).Run(ctx, model.NewSession("q", model.ModeStandard, 10), rec)

	assert.Equal(t, model.StatusError, got.Status)
	last := rec.last()
	assert.Equal(t, model.EventError, last.Type)
	assert.Contains(t, last.Details, context.Canceled.Error())
}

func TestRun_CrawlerFactoryError(t *testing.T) {
	f := newFixture(t)
	f.deps.NewCrawler = func() (Crawler, error) { return nil, errors.New("no browser") }
	got := f.pipeline(t).Run(context.Background(), model.NewSession("q", model.ModeStandard, 10), nil)

	assert.Equal(t, model.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "no browser")
}

func TestResearch_UsesDefaults(t *testing.T) {
	f := newFixture(t)
	p, err := New(f.deps, WithDefaults(model.ModeDeep, 0), WithResultsPerQuery(5))
	require.NoError(t, err)

	sess, err := p.Research(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, model.ModeDeep, sess.Mode)
	assert.Equal(t, 50, sess.TargetSources)

	f.deps.Curator = fakeCurator{err: errors.New("boom")}
	p, err = New(f.deps)
	require.NoError(t, err)
	sess, err = p.Research(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, model.StatusError, sess.Status)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	base := newFixture(t).deps
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"searcher", func(d *Deps) { d.Searcher = nil }},
		{"crawler", func(d *Deps) { d.NewCrawler = nil }},
		{"curator", func(d *Deps) { d.Curator = nil }},
		{"verifier", func(d *Deps) { d.Verifier = nil }},
		{"embedder", func(d *Deps) { d.Embedder = nil }},
		{"agents", func(d *Deps) { d.Agents = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			_, err := New(d)
			assert.Error(t, err)
		})
	}

	d := base
	d.Planner, d.Synthesizer, d.Store = nil, nil, nil
	p, err := New(d)
	require.NoError(t, err)
	assert.NotNil(t, p.Store())
}

func TestChannelEmitter(t *testing.T) {
	ch := make(chan model.Event, 1)
	em := NewChannelEmitter(ch)

	require.NoError(t, em.Emit(context.Background(), model.StatusEvent("s", model.PhasePlanning, "go")))
	assert.Equal(t, model.PhasePlanning, (<-ch).Phase)

	ch <- model.Event{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, em.Emit(ctx, model.Event{}), context.Canceled)
}

func TestRun_StreamsThroughChannel(t *testing.T) {
	p := newFixture(t).pipeline(t)
	ch := make(chan model.Event)
	done := make(chan *model.ResearchSession)

	go func() {
		done <- p.Run(context.Background(), model.NewSession("q", model.ModeStandard, 10), NewChannelEmitter(ch))
	}()

	var last model.Event
	for e := range ch {
		last = e
		if e.Terminal() {
			break
		}
	}
	sess := <-done
	assert.Equal(t, model.EventReport, last.Type)
	assert.Equal(t, model.StatusCompleted, sess.Status)
}
