package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/graph"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/pipeline"
	"github.com/ppiankov/verity/internal/store"
)

const maxBodyBytes = 1 << 20

type researchRequest struct {
	Query         string `json:"query"`
	Mode          string `json:"mode"`
	TargetSources int    `json:"target_sources"`
}

type researchResponse struct {
	SessionID       string      `json:"session_id"`
	Query           string      `json:"query"`
	Status          string      `json:"status"`
	Phase           model.Phase `json:"phase"`
	ProgressPercent int         `json:"progress_percent"`
}

// GET /
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "verity",
	})
}

// POST /api/research
// Runs a whole session before responding; use /ws/research for live events.
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	sess := s.newSession(req.Query, req.Mode, req.TargetSources)
	sess = s.runner.Run(r.Context(), sess, pipeline.Discard)

	writeJSON(w, http.StatusOK, researchResponse{
		SessionID:       sess.ID,
		Query:           sess.Query,
		Status:          sess.Status,
		Phase:           sess.Phase,
		ProgressPercent: sess.ProgressPercent,
	})
}

// GET /api/sessions?limit=N
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		s.internalError(w, "failed to list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []*model.ResearchSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DELETE /api/sessions/{id}
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.DeleteSession(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		s.internalError(w, "failed to delete session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Session deleted",
		"session_id": id,
	})
}

// GET /api/sessions/{id}/report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if sess.FinalReport == "" {
		writeError(w, http.StatusNotFound, "report not yet available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"report": sess.FinalReport})
}

// GET /api/sessions/{id}/graph
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if sess.GraphData == "" {
		writeError(w, http.StatusNotFound, "graph not yet available")
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(sess.GraphData))
}

// GET /api/sessions/{id}/graph.dot
func (s *Server) handleGraphDOT(w http.ResponseWriter, r *http.Request) {
	g, ok := s.rebuildGraph(w, r)
	if !ok {
		return
	}
	out, err := g.DOT("research")
	if err != nil {
		s.internalError(w, "failed to render graph", err)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	_, _ = w.Write(out)
}

// GET /api/sessions/{id}/graph/clusters
func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	g, ok := s.rebuildGraph(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string][][]string{"clusters": g.FindClusters()})
}

// GET /api/sessions/{id}/claims/{claim_id}/context
func (s *Server) handleClaimContext(w http.ResponseWriter, r *http.Request) {
	g, ok := s.rebuildGraph(w, r)
	if !ok {
		return
	}
	cc, found := g.ClaimContext(r.PathValue("claim_id"))
	if !found {
		writeError(w, http.StatusNotFound, "claim not found")
		return
	}
	writeJSON(w, http.StatusOK, cc)
}

// rebuildGraph loads the session named in the path and rebuilds its
// knowledge graph from the stored claims, sources and relations
func (s *Server) rebuildGraph(w http.ResponseWriter, r *http.Request) (*graph.Graph, bool) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return nil, false
	}
	ctx := r.Context()
	claims, err := s.store.ListClaims(ctx, sess.ID)
	if err != nil {
		s.internalError(w, "failed to list claims", err)
		return nil, false
	}
	sources, err := s.store.ListSources(ctx, sess.ID)
	if err != nil {
		s.internalError(w, "failed to list sources", err)
		return nil, false
	}
	relations, err := s.store.ListRelations(ctx, sess.ID)
	if err != nil {
		s.internalError(w, "failed to list relations", err)
		return nil, false
	}

	g, err := graph.Rebuild(ctx, s.embedder, s.logger, claims, sources, relations)
	if err != nil {
		s.internalError(w, "failed to rebuild graph", err)
		return nil, false
	}
	return g, true
}

// GET /api/sessions/{id}/sources
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, "failed to list sources", err)
		return
	}
	if sources == nil {
		sources = []*model.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// GET /api/sessions/{id}/claims
func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := s.store.ListClaims(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, "failed to list claims", err)
		return
	}
	if claims == nil {
		claims = []*model.Claim{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

// POST /api/planning/understand
func (s *Server) handleUnderstand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	writeJSON(w, http.StatusOK, s.planner.Understand(r.Context(), req.Query))
}

// POST /api/planning/angles
func (s *Server) handleAngles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UnderstoodQuery string `json:"understood_query"`
		Domain          string `json:"domain"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UnderstoodQuery == "" {
		writeError(w, http.StatusBadRequest, "understood_query is required")
		return
	}
	angles := s.planner.Angles(r.Context(), req.UnderstoodQuery, req.Domain)
	writeJSON(w, http.StatusOK, map[string][]string{"angles": angles})
}

// POST /api/planning/decompose
func (s *Server) handleDecompose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UnderstoodQuery string   `json:"understood_query"`
		SelectedAngles  []string `json:"selected_angles"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UnderstoodQuery == "" {
		writeError(w, http.StatusBadRequest, "understood_query is required")
		return
	}
	subs := s.planner.Decompose(r.Context(), req.UnderstoodQuery, req.SelectedAngles)
	writeJSON(w, http.StatusOK, map[string][]string{"sub_questions": subs})
}

// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.internalError(w, "failed to read stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// lookup loads the session named in the path, writing a 404 when absent
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*model.ResearchSession, bool) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	case err != nil:
		s.internalError(w, "failed to load session", err)
		return nil, false
	}
	return sess, true
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
