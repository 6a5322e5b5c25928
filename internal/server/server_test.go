package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/agent"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/pipeline"
	"github.com/ppiankov/verity/internal/store"
)

// scriptedRunner completes every session with a fixed report
type scriptedRunner struct {
	store store.Store

	mu   sync.Mutex
	last *model.ResearchSession
}

func (f *scriptedRunner) Run(ctx context.Context, sess *model.ResearchSession, emit pipeline.Emitter) *model.ResearchSession {
	f.mu.Lock()
	f.last = sess
	f.mu.Unlock()

	_ = emit.Emit(ctx, model.StatusEvent(sess.ID, model.PhasePlanning, "Decomposing query into sub-queries..."))
	if strings.Contains(sess.Query, "fail") {
		sess.Phase, sess.Status, sess.ErrorMessage = model.PhaseError, model.StatusError, "searching: boom"
		_ = f.store.SaveSession(ctx, sess)
		_ = emit.Emit(ctx, model.ErrorEvent(sess.ID, "Research failed", sess.ErrorMessage))
		return sess
	}

	sess.Phase, sess.Status, sess.ProgressPercent = model.PhaseComplete, model.StatusCompleted, 100
	sess.FinalReport = "# Research Report: " + sess.Query
	sess.GraphData = `{"nodes":[],"edges":[]}`
	_ = f.store.SaveSession(ctx, sess)
	_ = emit.Emit(ctx, model.StatusEvent(sess.ID, model.PhaseComplete, "Research complete!"))
	_ = emit.Emit(ctx, model.ReportEvent(sess.ID, sess.FinalReport))
	return sess
}

func (f *scriptedRunner) lastSession() *model.ResearchSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fixedPlanner struct{}

func (fixedPlanner) Understand(_ context.Context, q string) agent.Understanding {
	return agent.Understanding{UnderstoodQuery: q + "?", ResearchDomain: "medicine"}
}

func (fixedPlanner) Angles(_ context.Context, _, domain string) []string {
	return agent.DefaultAngles(domain)[:2]
}

func (fixedPlanner) Decompose(_ context.Context, q string, angles []string) []string {
	out := []string{q}
	for _, a := range angles {
		out = append(out, q+" "+a)
	}
	return out
}

type harness struct {
	ts     *httptest.Server
	store  *store.Memory
	runner *scriptedRunner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory()
	runner := &scriptedRunner{store: st}
	srv := New(runner, st, fixedPlanner{}, zap.NewNop(), WithTargetSources(12))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{ts: ts, store: st, runner: runner}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.ts.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (h *harness) seed(t *testing.T) *model.ResearchSession {
	t.Helper()
	ctx := context.Background()
	sess := model.NewSession("does coffee affect sleep", model.ModeStandard, 10)
	sess.FinalReport = "# Report"
	sess.GraphData = `{"nodes":[{"id":"claim:c1"}],"edges":[]}`
	require.NoError(t, h.store.SaveSession(ctx, sess))
	require.NoError(t, h.store.SaveSource(ctx, &model.Source{
		ID: "s1", SessionID: sess.ID, URL: "https://a.example.edu", ContentHash: "h1", FetchedAt: time.Now().UTC(),
	}))
	require.NoError(t, h.store.SaveClaim(ctx, &model.Claim{
		ID: "c1", SessionID: sess.ID, SourceID: "s1", Text: "Caffeine delays sleep", VerificationMethod: model.MethodNone,
		Entities: []string{"Caffeine"}, Embedding: []float32{1, 0},
	}))
	return sess
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestResearch_RunsToCompletion(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodPost, "/api/research", researchRequest{Query: "coffee", Mode: "deep"})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "coffee", body["query"])
	assert.Equal(t, model.StatusCompleted, body["status"])
	assert.Equal(t, string(model.PhaseComplete), body["phase"])
	assert.EqualValues(t, 100, body["progress_percent"])
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, model.ModeDeep, h.runner.lastSession().Mode)
}

func TestResearch_DefaultTarget(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/api/research", researchRequest{Query: "coffee"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 12, h.runner.lastSession().TargetSources)
	assert.Equal(t, model.ModeStandard, h.runner.lastSession().Mode)
}

func TestResearch_BadRequests(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/research", researchRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "query is required", body["error"])

	req, err := http.NewRequest(http.MethodPost, h.ts.URL+"/api/research", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestSessions_ReadEndpoints(t *testing.T) {
	h := newHarness(t)
	sess := h.seed(t)
	base := "/api/sessions/" + sess.ID

	resp, body := h.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["sessions"], 1)

	resp, body = h.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sess.Query, body["query"])

	resp, body = h.do(t, http.MethodGet, base+"/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# Report", body["report"])

	resp, body = h.do(t, http.MethodGet, base+"/graph", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["nodes"], 1)

	resp, body = h.do(t, http.MethodGet, base+"/sources", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["sources"], 1)

	resp, body = h.do(t, http.MethodGet, base+"/claims", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["claims"], 1)
}

func TestSessions_GraphDOT(t *testing.T) {
	h := newHarness(t)
	sess := h.seed(t)

	resp, err := http.Get(h.ts.URL + "/api/sessions/" + sess.ID + "/graph.dot")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/vnd.graphviz", resp.Header.Get("Content-Type"))
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "digraph research")
	assert.Contains(t, buf.String(), `"claim:c1"`)
	assert.Contains(t, buf.String(), `"entity:caffeine"`)
}

func TestSessions_ClaimContext(t *testing.T) {
	h := newHarness(t)
	sess := h.seed(t)
	base := "/api/sessions/" + sess.ID

	resp, body := h.do(t, http.MethodGet, base+"/claims/c1/context", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	claim, ok := body["claim"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "c1", claim["id"])
	require.Len(t, body["entities"], 1)
	assert.Equal(t, "Caffeine", body["entities"].([]any)[0].(map[string]any)["name"])
	require.Len(t, body["sources"], 1)

	resp, body = h.do(t, http.MethodGet, base+"/claims/missing/context", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "claim not found", body["error"])

	resp, body = h.do(t, http.MethodGet, "/api/sessions/missing/claims/c1/context", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session not found", body["error"])
}

func TestSessions_Clusters(t *testing.T) {
	h := newHarness(t)
	sess := h.seed(t)

	resp, body := h.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/graph/clusters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{[]any{"c1"}}, body["clusters"])

	resp, _ = h.do(t, http.MethodGet, "/api/sessions/missing/graph/clusters", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessions_ListLimit(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	h.seed(t)

	_, body := h.do(t, http.MethodGet, "/api/sessions?limit=1", nil)
	assert.Len(t, body["sessions"], 1)

	resp, _ := h.do(t, http.MethodGet, "/api/sessions?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessions_NotFound(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/api/sessions/missing", "/api/sessions/missing/report", "/api/sessions/missing/graph"} {
		resp, body := h.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "session not found", body["error"], path)
	}

	resp, _ := h.do(t, http.MethodDelete, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessions_ReportNotReady(t *testing.T) {
	h := newHarness(t)
	sess := model.NewSession("pending", model.ModeQuick, 0)
	require.NoError(t, h.store.SaveSession(context.Background(), sess))

	resp, body := h.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/report", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "report not yet available", body["error"])

	resp, body = h.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/graph", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "graph not yet available", body["error"])
}

func TestSessions_Delete(t *testing.T) {
	h := newHarness(t)
	sess := h.seed(t)

	resp, body := h.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sess.ID, body["session_id"])

	resp, _ = h.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body = h.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/claims", nil)
	assert.Empty(t, body["claims"])
}

func TestPlanningEndpoints(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/planning/understand", map[string]string{"query": "statins"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "statins?", body["understood_query"])
	assert.Equal(t, "medicine", body["research_domain"])

	resp, body = h.do(t, http.MethodPost, "/api/planning/angles",
		map[string]string{"understood_query": "statins?", "domain": "medicine"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["angles"], 2)

	resp, body = h.do(t, http.MethodPost, "/api/planning/decompose",
		map[string]any{"understood_query": "statins", "selected_angles": []string{"safety"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"statins", "statins safety"}, body["sub_questions"])

	resp, _ = h.do(t, http.MethodPost, "/api/planning/understand", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	resp, body := h.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total_sessions"])
	assert.EqualValues(t, 1, body["total_sources"])
	assert.EqualValues(t, 1, body["total_claims"])
}

func TestCORS(t *testing.T) {
	srv := New(&scriptedRunner{store: store.NewMemory()}, store.NewMemory(), nil, nil, WithCORS("*"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/research", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

// ============== WebSocket ==============

func dial(t *testing.T, h *harness) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/research"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readUntilTerminal(t *testing.T, conn *websocket.Conn) []model.Event {
	t.Helper()
	var events []model.Event
	for {
		var e model.Event
		require.NoError(t, conn.ReadJSON(&e))
		events = append(events, e)
		if e.Terminal() {
			return events
		}
	}
}

func TestStream_OrderedEventsThenClose(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)
	require.NoError(t, conn.WriteJSON(researchRequest{Query: "coffee", Mode: "quick"}))

	events := readUntilTerminal(t, conn)
	require.Len(t, events, 4)
	assert.Equal(t, model.EventSessionCreated, events[0].Type)
	assert.Equal(t, "coffee", events[0].Query)
	assert.Equal(t, model.ModeQuick, events[0].Mode)
	assert.Equal(t, model.PhasePlanning, events[1].Phase)
	assert.Equal(t, model.PhaseComplete, events[2].Phase)
	assert.Equal(t, model.EventReport, events[3].Type)
	assert.Equal(t, "# Research Report: coffee", events[3].Markdown)

	for _, e := range events {
		assert.Equal(t, events[0].SessionID, e.SessionID)
	}

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStream_ErrorIsTerminal(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)
	require.NoError(t, conn.WriteJSON(researchRequest{Query: "please fail"}))

	events := readUntilTerminal(t, conn)
	last := events[len(events)-1]
	assert.Equal(t, model.EventError, last.Type)
	assert.Equal(t, "Research failed", last.Message)
	assert.Equal(t, "searching: boom", last.Details)
}

func TestStream_RequiresQuery(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)
	require.NoError(t, conn.WriteJSON(researchRequest{Mode: "deep"}))

	var e model.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, model.EventError, e.Type)
	assert.Equal(t, "Query is required", e.Message)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Nil(t, h.runner.lastSession())
}
