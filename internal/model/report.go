package model

// Score is the transparent evidence-quality breakdown of a research run.
// It describes the support behind the report and never feeds back into
// pipeline decisions.
type Score struct {
	Index      int      `json:"index"`      // Overall evidence index (0-100)
	Confidence string   `json:"confidence"` // "low", "low-medium", "medium", "high"
	Conflict   bool     `json:"conflict"`   // Whether contradicting claims were detected
	Signals    []Signal `json:"signals"`    // Diagnostic signals with transparent data
}

// Signal is one diagnostic signal with the inputs that produced it
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalVerificationCoverage    SignalType = "verification_coverage"    // Verified-to-claim ratio
	SignalCredibilityDistribution SignalType = "credibility_distribution" // High/medium/low source balance
	SignalVerificationMethods     SignalType = "verification_methods"     // Which tiers confirmed claims
	SignalSourceDiversity         SignalType = "source_diversity"         // Distinct domains behind the claims
	SignalConflict                SignalType = "conflict"                 // Contradiction edges in the graph
	SignalDebateOutcome           SignalType = "debate_outcome"           // Consensus or disagreement
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)
