package curate

import (
	"strings"

	"github.com/ppiankov/verity/internal/model"
)

// Domain authority tiers
const (
	AuthorityTop        = 0.4
	AuthorityTrusted    = 0.35
	AuthorityDefault    = 0.25
	AuthorityLowQuality = 0.1
)

// topTierMarkers earn the highest authority when they appear in a trusted domain
var topTierMarkers = []string{".edu", ".gov", "wikipedia.org"}

// AuthorityScorer maps a domain to its authority contribution (0-0.4).
// Matching is by substring; trusted domains are checked before low-quality
// ones.
type AuthorityScorer struct {
	trusted    []string
	lowQuality []string
}

// NewAuthorityScorer creates a scorer. Nil lists fall back to the defaults.
func NewAuthorityScorer(trusted, lowQuality []string) *AuthorityScorer {
	if trusted == nil {
		trusted = model.DefaultTrustedDomains
	}
	if lowQuality == nil {
		lowQuality = model.DefaultLowQualityDomains
	}

	a := &AuthorityScorer{}
	for _, d := range trusted {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			a.trusted = append(a.trusted, d)
		}
	}
	for _, d := range lowQuality {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			a.lowQuality = append(a.lowQuality, d)
		}
	}
	return a
}

// Score returns the domain authority of domain
func (a *AuthorityScorer) Score(domain string) float64 {
	domain = strings.ToLower(domain)

	matchedTrusted := false
	for _, t := range a.trusted {
		if strings.Contains(domain, t) {
			matchedTrusted = true
			break
		}
	}
	if matchedTrusted {
		for _, m := range topTierMarkers {
			if strings.Contains(domain, m) {
				return AuthorityTop
			}
		}
		return AuthorityTrusted
	}

	for _, l := range a.lowQuality {
		if strings.Contains(domain, l) {
			return AuthorityLowQuality
		}
	}
	return AuthorityDefault
}
