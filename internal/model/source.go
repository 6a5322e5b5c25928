package model

import "time"

// Source is a curated web document. Identity is the content hash: two
// fetches producing the same hash are the same Source.
type Source struct {
	ID                 string             `json:"id"`
	SessionID          string             `json:"session_id,omitempty"`
	URL                string             `json:"url"`
	Title              string             `json:"title"`
	Text               string             `json:"text,omitempty"`
	HTML               string             `json:"-"`                             // Raw markup, never serialized
	ContentHash        string             `json:"content_hash"`                  // First 16 hex chars of sha256(html)
	Domain             string             `json:"domain"`                        // Host without port
	SourceType         SourceType         `json:"source_type"`                   // Classification from URL
	CredibilityScore   float64            `json:"credibility_score"`             // Clipped sum of factors, excluding relevance
	CredibilityFactors map[string]float64 `json:"credibility_factors,omitempty"` // Breakdown, plus "relevance"
	WordCount          int                `json:"word_count"`
	HasCitations       bool               `json:"has_citations"`
	HasMethodology     bool               `json:"has_methodology"`
	EvidenceLevel      *EvidenceLevel     `json:"evidence_level,omitempty"`
	PICO               *PICO              `json:"pico,omitempty"`
	FetchedAt          time.Time          `json:"fetched_at"`
}

// SourceType tags the kind of document a source is
type SourceType string

const (
	SourceWebpage  SourceType = "webpage"
	SourcePDF      SourceType = "pdf"
	SourceAcademic SourceType = "academic"
	SourceNews     SourceType = "news"
	SourceBlog     SourceType = "blog"
	SourceUnknown  SourceType = "unknown"
)

// Relevance returns the relevance factor recorded during curation
func (s *Source) Relevance() float64 {
	if s.CredibilityFactors == nil {
		return 0
	}
	return s.CredibilityFactors[FactorRelevance]
}

// Credibility factor keys
const (
	FactorDomainAuthority = "domain_authority"
	FactorContentSignals  = "content_signals"
	FactorContentDepth    = "content_depth"
	FactorSourceType      = "source_type"
	FactorRelevance       = "relevance"
)
