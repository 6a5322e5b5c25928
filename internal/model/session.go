package model

import (
	"time"

	"github.com/google/uuid"
)

// Phase is a state of the research pipeline
type Phase string

const (
	PhasePlanning      Phase = "planning"
	PhaseSearching     Phase = "searching"
	PhaseCrawling      Phase = "crawling"
	PhaseCurating      Phase = "curating"
	PhaseExtracting    Phase = "extracting"
	PhaseBuildingGraph Phase = "building_graph"
	PhaseVerifying     Phase = "verifying"
	PhaseDebating      Phase = "debating"
	PhaseSynthesizing  Phase = "synthesizing"
	PhaseComplete      Phase = "complete"
	PhaseError         Phase = "error"
)

// Progress returns the progress percentage assigned to a phase
func (p Phase) Progress() int {
	switch p {
	case PhasePlanning:
		return 5
	case PhaseSearching:
		return 10
	case PhaseCrawling:
		return 20
	case PhaseCurating:
		return 30
	case PhaseExtracting:
		return 45
	case PhaseBuildingGraph:
		return 60
	case PhaseVerifying:
		return 70
	case PhaseDebating:
		return 80
	case PhaseSynthesizing:
		return 90
	case PhaseComplete:
		return 100
	default:
		return 0
	}
}

// Terminal reports whether no further transitions follow p
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Session status values
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Mode selects source counts and whether debate runs
type Mode string

const (
	ModeQuick    Mode = "quick"
	ModeStandard Mode = "standard"
	ModeDeep     Mode = "deep"
	ModeMedical  Mode = "medical"
)

// ParseMode maps free text onto a Mode, falling back to standard
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeQuick, ModeDeep, ModeMedical:
		return Mode(s)
	default:
		return ModeStandard
	}
}

// ResearchSession owns one pipeline run from request to COMPLETE or ERROR
type ResearchSession struct {
	ID              string     `json:"id"`
	Query           string     `json:"query"`
	Mode            Mode       `json:"mode"`
	Phase           Phase      `json:"phase"`
	Status          string     `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	TargetSources   int        `json:"target_sources"`
	MaxSources      int        `json:"max_sources"`
	EnableDebate    bool       `json:"enable_debate"`
	Subqueries      []string   `json:"subqueries,omitempty"`
	SourceCount     int        `json:"source_count"`
	ClaimCount      int        `json:"claim_count"`
	DebateRounds    int        `json:"debate_rounds"`
	FinalReport     string     `json:"final_report,omitempty"`
	GraphData       string     `json:"graph_data,omitempty"` // JSON snapshot of the visualization
	ErrorMessage    string     `json:"error_message,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// NewSession creates a session in PLANNING with the limits of the given mode.
// targetSources applies to standard mode only; other modes carry fixed limits.
func NewSession(query string, mode Mode, targetSources int) *ResearchSession {
	if targetSources <= 0 {
		targetSources = 30
	}
	s := &ResearchSession{
		ID:            uuid.NewString(),
		Query:         query,
		Mode:          mode,
		Phase:         PhasePlanning,
		Status:        StatusActive,
		TargetSources: targetSources,
		MaxSources:    100,
		EnableDebate:  true,
		StartedAt:     time.Now().UTC(),
	}
	s.ApplyMode()
	return s
}

// ApplyMode overrides source limits and the debate flag for non-standard modes
func (s *ResearchSession) ApplyMode() {
	switch s.Mode {
	case ModeQuick:
		s.TargetSources, s.MaxSources, s.EnableDebate = 15, 30, false
	case ModeDeep:
		s.TargetSources, s.MaxSources, s.EnableDebate = 50, 100, true
	case ModeMedical:
		s.TargetSources, s.MaxSources, s.EnableDebate = 40, 80, true
	}
}

// AgentActivity is one entry of a session's activity log
type AgentActivity struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	AgentName    string    `json:"agent_name"`
	ActivityType string    `json:"activity_type"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
