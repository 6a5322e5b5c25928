package model

import "time"

// Claim is an attributable factual statement tied to one source.
// Verification fields are written once by the verification engine.
type Claim struct {
	ID                     string             `json:"id"`
	SessionID              string             `json:"session_id,omitempty"`
	SourceID               string             `json:"source_id"`
	Text                   string             `json:"text"`
	Confidence             float64            `json:"confidence"` // Extraction confidence
	Entities               []string           `json:"entities,omitempty"`
	Keywords               []string           `json:"keywords,omitempty"`
	AgentName              string             `json:"agent_name,omitempty"`
	Verified               bool               `json:"verified"`
	VerificationMethod     VerificationMethod `json:"verification_method"`
	VerificationConfidence float64            `json:"verification_confidence"`
	SourceExcerpt          string             `json:"source_excerpt,omitempty"`
	EvidenceLevel          *EvidenceLevel     `json:"evidence_level,omitempty"`
	Embedding              []float32          `json:"-"`
	CreatedAt              time.Time          `json:"created_at"`
}

// VerificationMethod names the tier that produced a verification outcome
type VerificationMethod string

const (
	MethodExact    VerificationMethod = "exact"
	MethodSemantic VerificationMethod = "semantic"
	MethodNLI      VerificationMethod = "nli"
	MethodNone     VerificationMethod = "none"
)

// RelationType classifies a derived relation between two claims
type RelationType string

const (
	RelationSupports    RelationType = "SUPPORTS"
	RelationContradicts RelationType = "CONTRADICTS"
	RelationRelatedTo   RelationType = "RELATED_TO"
)

// ClaimRelation is a directed, derived edge between two claims.
// Uniqueness is (SourceClaimID, TargetClaimID, RelationType).
type ClaimRelation struct {
	ID            string       `json:"id"`
	SessionID     string       `json:"session_id,omitempty"`
	SourceClaimID string       `json:"source_claim_id"`
	TargetClaimID string       `json:"target_claim_id"`
	RelationType  RelationType `json:"relation_type"`
	Confidence    float64      `json:"confidence"`
	Explanation   string       `json:"explanation,omitempty"`
}
