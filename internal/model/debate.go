package model

// DebatePosition is one agent's stance in one debate round
type DebatePosition struct {
	AgentName        string   `json:"agent_name"`
	Position         string   `json:"position"`
	Argument         string   `json:"argument"`
	EvidenceClaimIDs []string `json:"evidence_claim_ids,omitempty"`
	Confidence       float64  `json:"confidence"`
}

// DebateResult is the outcome of a debate. Rounds are kept in order for audit.
type DebateResult struct {
	Rounds           [][]DebatePosition `json:"rounds"`
	ConsensusReached bool               `json:"consensus_reached"`
	WinningPosition  *string            `json:"winning_position,omitempty"`
	Confidence       float64            `json:"confidence"`
	Summary          string             `json:"summary"`
}

// DebateRound is the flat audit record of one position in one round
type DebateRound struct {
	ID               string   `json:"id"`
	SessionID        string   `json:"session_id"`
	RoundNumber      int      `json:"round_number"` // 1-based
	AgentName        string   `json:"agent_name"`
	Position         string   `json:"position"`
	Argument         string   `json:"argument"`
	EvidenceClaimIDs []string `json:"evidence_claim_ids,omitempty"`
	Confidence       float64  `json:"confidence"`
}
