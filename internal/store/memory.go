package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/verity/internal/model"
)

// Memory is a mutex-guarded in-memory Store. Values are copied on the way in
// and out so callers never share state with the store.
type Memory struct {
	mu         sync.RWMutex
	sessions   map[string]*model.ResearchSession
	sources    map[string]*model.Source
	sourceSeq  []string
	claims     map[string]*model.Claim
	claimSeq   []string
	relations  map[relationKey]model.ClaimRelation
	relSeq     []relationKey
	rounds     []model.DebateRound
	activities []model.AgentActivity
}

type relationKey struct {
	source, target string
	relation       model.RelationType
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]*model.ResearchSession),
		sources:   make(map[string]*model.Source),
		claims:    make(map[string]*model.Claim),
		relations: make(map[relationKey]model.ClaimRelation),
	}
}

func (m *Memory) SaveSession(_ context.Context, s *model.ResearchSession) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("save session: missing id")
	}
	cp := *s
	cp.Subqueries = append([]string(nil), s.Subqueries...)

	m.mu.Lock()
	m.sessions[s.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*model.ResearchSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSessions(_ context.Context, limit int) ([]*model.ResearchSession, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	m.mu.RLock()
	out := make([]*model.ResearchSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	delete(m.sessions, id)

	keptSources := m.sourceSeq[:0]
	for _, sid := range m.sourceSeq {
		if m.sources[sid].SessionID == id {
			delete(m.sources, sid)
			continue
		}
		keptSources = append(keptSources, sid)
	}
	m.sourceSeq = keptSources

	dropped := make(map[string]bool)
	keptClaims := m.claimSeq[:0]
	for _, cid := range m.claimSeq {
		c := m.claims[cid]
		if c.SessionID == id || m.sources[c.SourceID] == nil {
			dropped[cid] = true
			delete(m.claims, cid)
			continue
		}
		keptClaims = append(keptClaims, cid)
	}
	m.claimSeq = keptClaims

	keptRels := m.relSeq[:0]
	for _, k := range m.relSeq {
		if dropped[k.source] || dropped[k.target] || m.relations[k].SessionID == id {
			delete(m.relations, k)
			continue
		}
		keptRels = append(keptRels, k)
	}
	m.relSeq = keptRels

	rounds := m.rounds[:0]
	for _, r := range m.rounds {
		if r.SessionID != id {
			rounds = append(rounds, r)
		}
	}
	m.rounds = rounds

	acts := m.activities[:0]
	for _, a := range m.activities {
		if a.SessionID != id {
			acts = append(acts, a)
		}
	}
	m.activities = acts
	return nil
}

func (m *Memory) SaveSource(_ context.Context, src *model.Source) error {
	if src == nil || src.ID == "" {
		return fmt.Errorf("save source: missing id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if src.SessionID != "" && m.sessions[src.SessionID] == nil {
		return fmt.Errorf("source %s: session %s: %w", src.URL, src.SessionID, ErrNotFound)
	}
	for _, sid := range m.sourceSeq {
		other := m.sources[sid]
		if sid != src.ID && src.SessionID != "" && other.SessionID == src.SessionID && other.ContentHash == src.ContentHash {
			return fmt.Errorf("source %s: %w", src.URL, ErrDuplicateSource)
		}
	}

	cp := *src
	if _, exists := m.sources[src.ID]; !exists {
		m.sourceSeq = append(m.sourceSeq, src.ID)
	}
	m.sources[src.ID] = &cp
	return nil
}

func (m *Memory) GetSource(_ context.Context, id string) (*model.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src, ok := m.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	cp := *src
	return &cp, nil
}

// ListSources returns a session's sources ordered by credibility, highest first
func (m *Memory) ListSources(_ context.Context, sessionID string) ([]*model.Source, error) {
	m.mu.RLock()
	var out []*model.Source
	for _, sid := range m.sourceSeq {
		if src := m.sources[sid]; src.SessionID == sessionID {
			cp := *src
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CredibilityScore > out[j].CredibilityScore
	})
	return out, nil
}

func (m *Memory) SaveClaim(_ context.Context, c *model.Claim) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("save claim: missing id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sources[c.SourceID]; !ok {
		return fmt.Errorf("claim %s: source %s: %w", c.ID, c.SourceID, ErrNotFound)
	}
	cp := *c
	if _, exists := m.claims[c.ID]; !exists {
		m.claimSeq = append(m.claimSeq, c.ID)
	}
	m.claims[c.ID] = &cp
	return nil
}

func (m *Memory) ClaimsBySource(_ context.Context, sourceID string) ([]*model.Claim, error) {
	return m.filterClaims(func(c *model.Claim) bool { return c.SourceID == sourceID }), nil
}

func (m *Memory) ListClaims(_ context.Context, sessionID string) ([]*model.Claim, error) {
	return m.filterClaims(func(c *model.Claim) bool { return c.SessionID == sessionID }), nil
}

func (m *Memory) filterClaims(keep func(*model.Claim) bool) []*model.Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Claim
	for _, cid := range m.claimSeq {
		if c := m.claims[cid]; keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// SaveRelation upserts on (source claim, target claim, relation type)
func (m *Memory) SaveRelation(_ context.Context, rel model.ClaimRelation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claims[rel.SourceClaimID] == nil || m.claims[rel.TargetClaimID] == nil {
		return fmt.Errorf("relation %s -> %s: %w", rel.SourceClaimID, rel.TargetClaimID, ErrNotFound)
	}
	k := relationKey{rel.SourceClaimID, rel.TargetClaimID, rel.RelationType}
	if existing, ok := m.relations[k]; ok {
		rel.ID = existing.ID
	} else {
		m.relSeq = append(m.relSeq, k)
	}
	m.relations[k] = rel
	return nil
}

func (m *Memory) ListRelations(_ context.Context, sessionID string) ([]model.ClaimRelation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ClaimRelation
	for _, k := range m.relSeq {
		if r := m.relations[k]; r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) SaveDebateRound(_ context.Context, r model.DebateRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[r.SessionID]; !ok {
		return fmt.Errorf("debate round: session %s: %w", r.SessionID, ErrNotFound)
	}
	r.EvidenceClaimIDs = append([]string(nil), r.EvidenceClaimIDs...)
	m.rounds = append(m.rounds, r)
	return nil
}

// ListDebateRounds returns a session's rounds ordered by round number
func (m *Memory) ListDebateRounds(_ context.Context, sessionID string) ([]model.DebateRound, error) {
	m.mu.RLock()
	var out []model.DebateRound
	for _, r := range m.rounds {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].RoundNumber < out[j].RoundNumber })
	return out, nil
}

func (m *Memory) LogActivity(_ context.Context, a model.AgentActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[a.SessionID]; !ok {
		return fmt.Errorf("activity: session %s: %w", a.SessionID, ErrNotFound)
	}
	m.activities = append(m.activities, a)
	return nil
}

func (m *Memory) ListActivity(_ context.Context, sessionID string) ([]model.AgentActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.AgentActivity
	for _, a := range m.activities {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		Sessions:     len(m.sessions),
		Sources:      len(m.sources),
		Claims:       len(m.claims),
		Relations:    len(m.relations),
		DebateRounds: len(m.rounds),
	}
	for _, c := range m.claims {
		if c.Verified {
			st.VerifiedClaims++
		}
	}
	return st, nil
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}
