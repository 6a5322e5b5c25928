package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/ppiankov/verity/internal/cache"
	"github.com/ppiankov/verity/internal/model"
)

// timeLayout is fixed-width so TEXT columns sort chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is a Store backed by a single SQLite database file
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens or creates the database at path and creates the schema if
// it does not exist. A leading "~" is expanded to the home directory.
func NewSQLite(path string) (*SQLite, error) {
	path = cache.ExpandHome(path)
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &SQLite{db: db, path: path}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS research_sessions (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'standard',
			phase TEXT NOT NULL DEFAULT 'planning',
			status TEXT NOT NULL DEFAULT 'active',
			progress_percent INTEGER NOT NULL DEFAULT 0,
			target_sources INTEGER NOT NULL DEFAULT 30,
			max_sources INTEGER NOT NULL DEFAULT 100,
			enable_debate INTEGER NOT NULL DEFAULT 1,
			subqueries TEXT,
			source_count INTEGER NOT NULL DEFAULT 0,
			claim_count INTEGER NOT NULL DEFAULT 0,
			debate_rounds INTEGER NOT NULL DEFAULT 0,
			final_report TEXT,
			graph_data TEXT,
			error_message TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			session_id TEXT REFERENCES research_sessions(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			title TEXT,
			text TEXT,
			content_hash TEXT NOT NULL,
			source_type TEXT NOT NULL DEFAULT 'unknown',
			domain TEXT,
			credibility_score REAL NOT NULL DEFAULT 0.5,
			credibility_factors TEXT,
			word_count INTEGER NOT NULL DEFAULT 0,
			has_citations INTEGER NOT NULL DEFAULT 0,
			has_methodology INTEGER NOT NULL DEFAULT 0,
			evidence_level TEXT,
			pico TEXT,
			fetched_at TEXT,
			UNIQUE(session_id, content_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_session ON sources(session_id)`,
		`CREATE TABLE IF NOT EXISTS claims (
			id TEXT PRIMARY KEY,
			session_id TEXT REFERENCES research_sessions(id) ON DELETE CASCADE,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0.5,
			entities TEXT,
			keywords TEXT,
			agent_name TEXT,
			verified INTEGER NOT NULL DEFAULT 0,
			verification_method TEXT NOT NULL DEFAULT 'none',
			verification_confidence REAL NOT NULL DEFAULT 0,
			source_excerpt TEXT,
			evidence_level TEXT,
			embedding BLOB,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_session ON claims(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_source ON claims(source_id)`,
		`CREATE TABLE IF NOT EXISTS claim_relations (
			id TEXT PRIMARY KEY,
			session_id TEXT REFERENCES research_sessions(id) ON DELETE CASCADE,
			source_claim_id TEXT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
			target_claim_id TEXT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
			relation_type TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0.5,
			explanation TEXT,
			UNIQUE(source_claim_id, target_claim_id, relation_type)
		)`,
		`CREATE TABLE IF NOT EXISTS debate_rounds (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES research_sessions(id) ON DELETE CASCADE,
			round_number INTEGER NOT NULL,
			agent_name TEXT NOT NULL,
			position TEXT,
			argument TEXT NOT NULL,
			evidence_claim_ids TEXT,
			confidence REAL NOT NULL DEFAULT 0.5
		)`,
		`CREATE TABLE IF NOT EXISTS agent_activities (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES research_sessions(id) ON DELETE CASCADE,
			agent_name TEXT NOT NULL,
			activity_type TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			created_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// ============== Sessions ==============

func (s *SQLite) SaveSession(ctx context.Context, rs *model.ResearchSession) error {
	subqueries, err := json.Marshal(rs.Subqueries)
	if err != nil {
		return fmt.Errorf("encoding subqueries: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO research_sessions
			(id, query, mode, phase, status, progress_percent, target_sources, max_sources,
			 enable_debate, subqueries, source_count, claim_count, debate_rounds,
			 final_report, graph_data, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			status = excluded.status,
			progress_percent = excluded.progress_percent,
			subqueries = excluded.subqueries,
			source_count = excluded.source_count,
			claim_count = excluded.claim_count,
			debate_rounds = excluded.debate_rounds,
			final_report = excluded.final_report,
			graph_data = excluded.graph_data,
			error_message = excluded.error_message,
			completed_at = excluded.completed_at`,
		rs.ID, rs.Query, string(rs.Mode), string(rs.Phase), rs.Status, rs.ProgressPercent,
		rs.TargetSources, rs.MaxSources, rs.EnableDebate, string(subqueries),
		rs.SourceCount, rs.ClaimCount, rs.DebateRounds,
		nullString(rs.FinalReport), nullString(rs.GraphData), nullString(rs.ErrorMessage),
		formatTime(rs.StartedAt), formatTimePtr(rs.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", rs.ID, err)
	}
	return nil
}

const sessionColumns = `id, query, mode, phase, status, progress_percent, target_sources, max_sources,
	enable_debate, subqueries, source_count, claim_count, debate_rounds,
	final_report, graph_data, error_message, started_at, completed_at`

func (s *SQLite) GetSession(ctx context.Context, id string) (*model.ResearchSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM research_sessions WHERE id = ?`, id)
	rs, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}
	return rs, nil
}

// ListSessions returns the most recent sessions first
func (s *SQLite) ListSessions(ctx context.Context, limit int) ([]*model.ResearchSession, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM research_sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*model.ResearchSession
	for rows.Next() {
		rs, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// DeleteSession removes the session; foreign keys cascade to every row that
// belongs to it
func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM research_sessions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting session %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*model.ResearchSession, error) {
	var (
		rs                                  model.ResearchSession
		mode, phase                         string
		subqueries                          sql.NullString
		report, graphData, errMsg, complete sql.NullString
		started                             string
	)
	err := sc.Scan(&rs.ID, &rs.Query, &mode, &phase, &rs.Status, &rs.ProgressPercent,
		&rs.TargetSources, &rs.MaxSources, &rs.EnableDebate, &subqueries,
		&rs.SourceCount, &rs.ClaimCount, &rs.DebateRounds,
		&report, &graphData, &errMsg, &started, &complete)
	if err != nil {
		return nil, err
	}

	rs.Mode = model.Mode(mode)
	rs.Phase = model.Phase(phase)
	rs.FinalReport = report.String
	rs.GraphData = graphData.String
	rs.ErrorMessage = errMsg.String
	if err := decodeJSON(subqueries, &rs.Subqueries); err != nil {
		return nil, fmt.Errorf("decoding subqueries: %w", err)
	}
	if rs.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if complete.Valid {
		t, err := parseTime(complete.String)
		if err != nil {
			return nil, err
		}
		rs.CompletedAt = &t
	}
	return &rs, nil
}

// ============== Sources ==============

// SaveSource upserts by id. A second source with the same content hash in the
// same session is rejected with ErrDuplicateSource.
func (s *SQLite) SaveSource(ctx context.Context, src *model.Source) error {
	factors, err := json.Marshal(src.CredibilityFactors)
	if err != nil {
		return fmt.Errorf("encoding credibility factors: %w", err)
	}
	var pico sql.NullString
	if src.PICO != nil {
		b, err := json.Marshal(src.PICO)
		if err != nil {
			return fmt.Errorf("encoding pico: %w", err)
		}
		pico = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sources
			(id, session_id, url, title, text, content_hash, source_type, domain,
			 credibility_score, credibility_factors, word_count, has_citations,
			 has_methodology, evidence_level, pico, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			text = excluded.text,
			source_type = excluded.source_type,
			credibility_score = excluded.credibility_score,
			credibility_factors = excluded.credibility_factors,
			word_count = excluded.word_count,
			has_citations = excluded.has_citations,
			has_methodology = excluded.has_methodology,
			evidence_level = excluded.evidence_level,
			pico = excluded.pico`,
		src.ID, nullString(src.SessionID), src.URL, src.Title, src.Text, src.ContentHash,
		string(src.SourceType), src.Domain, src.CredibilityScore, string(factors),
		src.WordCount, src.HasCitations, src.HasMethodology,
		nullEvidence(src.EvidenceLevel), pico, formatTime(src.FetchedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("source %s: %w", src.URL, ErrDuplicateSource)
	}
	if err != nil {
		return fmt.Errorf("saving source %s: %w", src.ID, err)
	}
	return nil
}

const sourceColumns = `id, session_id, url, title, text, content_hash, source_type, domain,
	credibility_score, credibility_factors, word_count, has_citations, has_methodology,
	evidence_level, pico, fetched_at`

func (s *SQLite) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading source %s: %w", id, err)
	}
	return src, nil
}

// ListSources returns a session's sources ordered by credibility, highest first
func (s *SQLite) ListSources(ctx context.Context, sessionID string) ([]*model.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources
		WHERE session_id = ? ORDER BY credibility_score DESC, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var out []*model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func scanSource(sc scanner) (*model.Source, error) {
	var (
		src                                model.Source
		sessionID, title, text, domain     sql.NullString
		sourceType                         string
		factors, evidence, pico, fetchedAt sql.NullString
	)
	err := sc.Scan(&src.ID, &sessionID, &src.URL, &title, &text, &src.ContentHash,
		&sourceType, &domain, &src.CredibilityScore, &factors, &src.WordCount,
		&src.HasCitations, &src.HasMethodology, &evidence, &pico, &fetchedAt)
	if err != nil {
		return nil, err
	}

	src.SessionID = sessionID.String
	src.Title = title.String
	src.Text = text.String
	src.Domain = domain.String
	src.SourceType = model.SourceType(sourceType)
	src.EvidenceLevel = evidenceFrom(evidence)
	if err := decodeJSON(factors, &src.CredibilityFactors); err != nil {
		return nil, fmt.Errorf("decoding credibility factors: %w", err)
	}
	if pico.Valid {
		src.PICO = &model.PICO{}
		if err := json.Unmarshal([]byte(pico.String), src.PICO); err != nil {
			return nil, fmt.Errorf("decoding pico: %w", err)
		}
	}
	if fetchedAt.Valid && fetchedAt.String != "" {
		if src.FetchedAt, err = parseTime(fetchedAt.String); err != nil {
			return nil, err
		}
	}
	return &src, nil
}

// ============== Claims ==============

// SaveClaim upserts by id; verification fields are overwritten
func (s *SQLite) SaveClaim(ctx context.Context, c *model.Claim) error {
	entities, err := json.Marshal(c.Entities)
	if err != nil {
		return fmt.Errorf("encoding entities: %w", err)
	}
	keywords, err := json.Marshal(c.Keywords)
	if err != nil {
		return fmt.Errorf("encoding keywords: %w", err)
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO claims
			(id, session_id, source_id, text, confidence, entities, keywords, agent_name,
			 verified, verification_method, verification_confidence, source_excerpt,
			 evidence_level, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confidence = excluded.confidence,
			verified = excluded.verified,
			verification_method = excluded.verification_method,
			verification_confidence = excluded.verification_confidence,
			source_excerpt = excluded.source_excerpt,
			evidence_level = excluded.evidence_level,
			embedding = excluded.embedding`,
		c.ID, nullString(c.SessionID), c.SourceID, c.Text, c.Confidence,
		string(entities), string(keywords), nullString(c.AgentName),
		c.Verified, string(methodOrNone(c.VerificationMethod)), c.VerificationConfidence,
		nullString(c.SourceExcerpt), nullEvidence(c.EvidenceLevel),
		encodeEmbedding(c.Embedding), formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("saving claim %s: %w", c.ID, err)
	}
	return nil
}

const claimColumns = `id, session_id, source_id, text, confidence, entities, keywords, agent_name,
	verified, verification_method, verification_confidence, source_excerpt,
	evidence_level, embedding, created_at`

func (s *SQLite) ClaimsBySource(ctx context.Context, sourceID string) ([]*model.Claim, error) {
	return s.queryClaims(ctx, `SELECT `+claimColumns+` FROM claims WHERE source_id = ? ORDER BY rowid`, sourceID)
}

func (s *SQLite) ListClaims(ctx context.Context, sessionID string) ([]*model.Claim, error) {
	return s.queryClaims(ctx, `SELECT `+claimColumns+` FROM claims WHERE session_id = ? ORDER BY rowid`, sessionID)
}

func (s *SQLite) queryClaims(ctx context.Context, query string, arg string) ([]*model.Claim, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", err)
	}
	defer rows.Close()

	var out []*model.Claim
	for rows.Next() {
		var (
			c                                   model.Claim
			sessionID, agent, excerpt, evidence sql.NullString
			entities, keywords                  sql.NullString
			method, created                     string
			embedding                           []byte
		)
		err := rows.Scan(&c.ID, &sessionID, &c.SourceID, &c.Text, &c.Confidence,
			&entities, &keywords, &agent, &c.Verified, &method, &c.VerificationConfidence,
			&excerpt, &evidence, &embedding, &created)
		if err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}

		c.SessionID = sessionID.String
		c.AgentName = agent.String
		c.SourceExcerpt = excerpt.String
		c.VerificationMethod = model.VerificationMethod(method)
		c.EvidenceLevel = evidenceFrom(evidence)
		c.Embedding = decodeEmbedding(embedding)
		if err := decodeJSON(entities, &c.Entities); err != nil {
			return nil, fmt.Errorf("decoding entities: %w", err)
		}
		if err := decodeJSON(keywords, &c.Keywords); err != nil {
			return nil, fmt.Errorf("decoding keywords: %w", err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ============== Relations ==============

// SaveRelation upserts on (source claim, target claim, relation type)
func (s *SQLite) SaveRelation(ctx context.Context, rel model.ClaimRelation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claim_relations
			(id, session_id, source_claim_id, target_claim_id, relation_type, confidence, explanation)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_claim_id, target_claim_id, relation_type) DO UPDATE SET
			confidence = excluded.confidence,
			explanation = excluded.explanation`,
		rel.ID, nullString(rel.SessionID), rel.SourceClaimID, rel.TargetClaimID,
		string(rel.RelationType), rel.Confidence, nullString(rel.Explanation),
	)
	if err != nil {
		return fmt.Errorf("saving relation %s -> %s: %w", rel.SourceClaimID, rel.TargetClaimID, err)
	}
	return nil
}

func (s *SQLite) ListRelations(ctx context.Context, sessionID string) ([]model.ClaimRelation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, source_claim_id, target_claim_id, relation_type, confidence, explanation
		FROM claim_relations WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing relations: %w", err)
	}
	defer rows.Close()

	var out []model.ClaimRelation
	for rows.Next() {
		var (
			r                    model.ClaimRelation
			session, explanation sql.NullString
			relType              string
		)
		if err := rows.Scan(&r.ID, &session, &r.SourceClaimID, &r.TargetClaimID,
			&relType, &r.Confidence, &explanation); err != nil {
			return nil, fmt.Errorf("scanning relation: %w", err)
		}
		r.SessionID = session.String
		r.RelationType = model.RelationType(relType)
		r.Explanation = explanation.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ============== Debate rounds ==============

func (s *SQLite) SaveDebateRound(ctx context.Context, r model.DebateRound) error {
	evidence, err := json.Marshal(r.EvidenceClaimIDs)
	if err != nil {
		return fmt.Errorf("encoding evidence ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO debate_rounds
			(id, session_id, round_number, agent_name, position, argument, evidence_claim_ids, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.RoundNumber, r.AgentName, r.Position, r.Argument,
		string(evidence), r.Confidence,
	)
	if err != nil {
		return fmt.Errorf("saving debate round: %w", err)
	}
	return nil
}

// ListDebateRounds returns a session's rounds ordered by round number
func (s *SQLite) ListDebateRounds(ctx context.Context, sessionID string) ([]model.DebateRound, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, round_number, agent_name, position, argument, evidence_claim_ids, confidence
		FROM debate_rounds WHERE session_id = ? ORDER BY round_number, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing debate rounds: %w", err)
	}
	defer rows.Close()

	var out []model.DebateRound
	for rows.Next() {
		var (
			r                  model.DebateRound
			position, evidence sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.RoundNumber, &r.AgentName, &position,
			&r.Argument, &evidence, &r.Confidence); err != nil {
			return nil, fmt.Errorf("scanning debate round: %w", err)
		}
		r.Position = position.String
		if err := decodeJSON(evidence, &r.EvidenceClaimIDs); err != nil {
			return nil, fmt.Errorf("decoding evidence ids: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ============== Activity log ==============

func (s *SQLite) LogActivity(ctx context.Context, a model.AgentActivity) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_activities (id, session_id, agent_name, activity_type, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.AgentName, a.ActivityType, a.Status, nullString(a.Message), formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("logging activity: %w", err)
	}
	return nil
}

func (s *SQLite) ListActivity(ctx context.Context, sessionID string) ([]model.AgentActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, agent_name, activity_type, status, message, created_at
		FROM agent_activities WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	defer rows.Close()

	var out []model.AgentActivity
	for rows.Next() {
		var (
			a       model.AgentActivity
			message sql.NullString
			created string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.AgentName, &a.ActivityType, &a.Status,
			&message, &created); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		a.Message = message.String
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ============== Stats ==============

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM research_sessions),
			(SELECT COUNT(*) FROM sources),
			(SELECT COUNT(*) FROM claims),
			(SELECT COUNT(*) FROM claims WHERE verified = 1),
			(SELECT COUNT(*) FROM claim_relations),
			(SELECT COUNT(*) FROM debate_rounds)`,
	).Scan(&st.Sessions, &st.Sources, &st.Claims, &st.VerifiedClaims, &st.Relations, &st.DebateRounds)
	if err != nil {
		return Stats{}, fmt.Errorf("reading stats: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		st.SizeMB = math.Round(float64(info.Size())/(1024*1024)*100) / 100
	}
	return st, nil
}

// ============== Helpers ==============

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullEvidence(e *model.EvidenceLevel) sql.NullString {
	if e == nil {
		return sql.NullString{}
	}
	return nullString(string(*e))
}

func evidenceFrom(ns sql.NullString) *model.EvidenceLevel {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	e := model.EvidenceLevel(ns.String)
	return &e
}

func methodOrNone(m model.VerificationMethod) model.VerificationMethod {
	if m == "" {
		return model.MethodNone
	}
	return m
}

func decodeJSON(ns sql.NullString, v any) error {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), v)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}

// encodeEmbedding packs the vector as little-endian float32s
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
