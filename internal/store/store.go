// Package store persists research sessions and everything they produce:
// sources, claims, claim relations, debate rounds and the agent activity log.
//
// Sources and claims are scoped to the session that produced them. Deleting a
// session removes every row that belongs to it.
package store

import (
	"context"
	"errors"

	"github.com/ppiankov/verity/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSource is returned when a session already holds a source
	// with the same content hash under a different id
	ErrDuplicateSource = errors.New("duplicate source content hash")
)

// DefaultListLimit caps ListSessions when no limit is given
const DefaultListLimit = 50

// Stats summarises the stored data
type Stats struct {
	Sessions       int     `json:"total_sessions"`
	Sources        int     `json:"total_sources"`
	Claims         int     `json:"total_claims"`
	VerifiedClaims int     `json:"verified_claims"`
	Relations      int     `json:"total_relations"`
	DebateRounds   int     `json:"total_debate_rounds"`
	SizeMB         float64 `json:"db_size_mb"`
}

// Store is the persistence contract used by the orchestrator and the server
type Store interface {
	SaveSession(ctx context.Context, s *model.ResearchSession) error
	GetSession(ctx context.Context, id string) (*model.ResearchSession, error)
	ListSessions(ctx context.Context, limit int) ([]*model.ResearchSession, error)
	DeleteSession(ctx context.Context, id string) error

	SaveSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListSources(ctx context.Context, sessionID string) ([]*model.Source, error)

	SaveClaim(ctx context.Context, c *model.Claim) error
	ClaimsBySource(ctx context.Context, sourceID string) ([]*model.Claim, error)
	ListClaims(ctx context.Context, sessionID string) ([]*model.Claim, error)

	SaveRelation(ctx context.Context, rel model.ClaimRelation) error
	ListRelations(ctx context.Context, sessionID string) ([]model.ClaimRelation, error)

	SaveDebateRound(ctx context.Context, r model.DebateRound) error
	ListDebateRounds(ctx context.Context, sessionID string) ([]model.DebateRound, error)

	LogActivity(ctx context.Context, a model.AgentActivity) error
	ListActivity(ctx context.Context, sessionID string) ([]model.AgentActivity, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Open returns the store selected by cfg: SQLite at cfg.Path when enabled,
// otherwise an in-memory store
func Open(cfg model.StoreConfig) (Store, error) {
	if !cfg.Enabled || cfg.Path == "" {
		return NewMemory(), nil
	}
	return NewSQLite(cfg.Path)
}
