package model

// EvidenceLevel is the optional medical evidence hierarchy tag
type EvidenceLevel string

const (
	EvidenceSystematicReview EvidenceLevel = "systematic_review" // Meta-analyses, systematic reviews
	EvidenceRCT              EvidenceLevel = "rct"               // Randomized controlled trials
	EvidenceCohort           EvidenceLevel = "cohort"            // Observational cohort studies
	EvidenceCaseControl      EvidenceLevel = "case_control"      // Case-control studies
	EvidenceExpertOpinion    EvidenceLevel = "expert_opinion"    // Editorials, expert consensus
	EvidenceUnknown          EvidenceLevel = "unknown"
)

// Rank orders evidence levels, 1 being strongest. Unknown levels rank last.
func (e EvidenceLevel) Rank() int {
	switch e {
	case EvidenceSystematicReview:
		return 1
	case EvidenceRCT:
		return 2
	case EvidenceCohort:
		return 3
	case EvidenceCaseControl:
		return 4
	case EvidenceExpertOpinion:
		return 5
	default:
		return 6
	}
}

// PICO is the population/intervention/comparison/outcome frame of a clinical study
type PICO struct {
	Population   string `json:"population,omitempty"`
	Intervention string `json:"intervention,omitempty"`
	Comparison   string `json:"comparison,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
}
