package score

import (
	"fmt"
	"math"

	"github.com/ppiankov/verity/internal/model"
)

// Credibility bands
const (
	HighCredibility   = 0.7
	MediumCredibility = 0.4
)

// Input is what a finished research run hands to the scorer
type Input struct {
	Sources        []*model.Source
	Claims         []*model.Claim
	Contradictions int
	Debate         *model.DebateResult
}

// Scorer calculates the evidence index and generates signals
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Calculate calculates the evidence index and generates diagnostic signals
func (s *Scorer) Calculate(in Input) model.Score {
	var signals []model.Signal

	// 1. Verification coverage (0-40 points)
	coverageScore, coverageSignal := s.calculateCoverage(in.Claims)
	signals = append(signals, coverageSignal)

	// 2. Credibility distribution (0-30 points)
	credibilityScore, credibilitySignal := s.calculateCredibility(in.Sources)
	signals = append(signals, credibilitySignal)

	// 3. Source diversity (0-20 points)
	diversityScore, diversitySignal := s.calculateDiversity(in.Sources)
	signals = append(signals, diversitySignal)

	// 4. Verification methods (0-10 points)
	methodScore, methodSignal := s.calculateMethods(in.Claims)
	signals = append(signals, methodSignal)

	// 5. Conflict (penalty)
	conflict := in.Contradictions > 0
	if conflict {
		signals = append(signals, model.Signal{
			Type:        model.SignalConflict,
			Severity:    model.SeverityWarning,
			Description: fmt.Sprintf("%d contradicting claim pairs in the knowledge graph", in.Contradictions),
			Data: map[string]interface{}{
				"contradictions": in.Contradictions,
				"penalty":        10,
			},
		})
	}

	if in.Debate != nil {
		signals = append(signals, s.debateSignal(in.Debate))
	}

	total := coverageScore + credibilityScore + diversityScore + methodScore
	if conflict {
		total -= 10
		if total < 0 {
			total = 0
		}
	}

	return model.Score{
		Index:      total,
		Confidence: s.determineConfidence(total, len(in.Sources), conflict),
		Conflict:   conflict,
		Signals:    signals,
	}
}

// calculateCoverage scores the verified-to-claim ratio (0-40 points)
func (s *Scorer) calculateCoverage(claims []*model.Claim) (int, model.Signal) {
	if len(claims) == 0 {
		return 0, model.Signal{
			Type:        model.SignalVerificationCoverage,
			Severity:    model.SeverityCritical,
			Description: "No claims extracted",
			Data:        map[string]interface{}{"claims": 0},
		}
	}

	verified := 0
	for _, c := range claims {
		if c.Verified {
			verified++
		}
	}
	ratio := float64(verified) / float64(len(claims))
	score := int(math.Min(ratio*40, 40))

	severity := model.SeverityInfo
	if ratio < 0.3 {
		severity = model.SeverityCritical
	} else if ratio < 0.6 {
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalVerificationCoverage,
		Severity:    severity,
		Description: fmt.Sprintf("Verified %d/%d claims (%.0f%%)", verified, len(claims), ratio*100),
		Data: map[string]interface{}{
			"claims":   len(claims),
			"verified": verified,
			"ratio":    ratio,
			"score":    score,
			"formula":  "verified / claims * 40",
		},
	}
}

// calculateCredibility scores the high/medium/low source balance (0-30 points)
func (s *Scorer) calculateCredibility(sources []*model.Source) (int, model.Signal) {
	if len(sources) == 0 {
		return 0, model.Signal{
			Type:        model.SignalCredibilityDistribution,
			Severity:    model.SeverityCritical,
			Description: "No curated sources",
			Data:        map[string]interface{}{"sources": 0},
		}
	}

	high, medium, low := 0, 0, 0
	for _, src := range sources {
		switch {
		case src.CredibilityScore >= HighCredibility:
			high++
		case src.CredibilityScore >= MediumCredibility:
			medium++
		default:
			low++
		}
	}

	total := len(sources)
	weighted := float64(high*3 + medium*2 + low)
	score := int(weighted * 30 / float64(total*3))

	severity := model.SeverityInfo
	if high == 0 {
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalCredibilityDistribution,
		Severity:    severity,
		Description: fmt.Sprintf("Credibility distribution: %d high, %d medium, %d low", high, medium, low),
		Data: map[string]interface{}{
			"high":    high,
			"medium":  medium,
			"low":     low,
			"total":   total,
			"score":   score,
			"formula": "(high*3 + medium*2 + low*1) / (total*3) * 30",
		},
	}
}

// calculateDiversity scores distinct domains, full marks at 10 (0-20 points)
func (s *Scorer) calculateDiversity(sources []*model.Source) (int, model.Signal) {
	domains := make(map[string]bool)
	for _, src := range sources {
		if src.Domain != "" {
			domains[src.Domain] = true
		}
	}

	score := int(math.Min(float64(len(domains))*20/10, 20))
	severity := model.SeverityInfo
	if len(domains) < 3 {
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalSourceDiversity,
		Severity:    severity,
		Description: fmt.Sprintf("%d distinct domains across %d sources", len(domains), len(sources)),
		Data: map[string]interface{}{
			"domains": len(domains),
			"sources": len(sources),
			"score":   score,
			"formula": "min(domains / 10 * 20, 20)",
		},
	}
}

// calculateMethods scores the share of verified claims confirmed by the
// exact or entailment tiers (0-10 points)
func (s *Scorer) calculateMethods(claims []*model.Claim) (int, model.Signal) {
	counts := map[model.VerificationMethod]int{}
	verified := 0
	for _, c := range claims {
		if !c.Verified {
			continue
		}
		verified++
		counts[c.VerificationMethod]++
	}

	score := 0
	if verified > 0 {
		strong := counts[model.MethodExact] + counts[model.MethodNLI]
		score = int(float64(strong) * 10 / float64(verified))
	}

	return score, model.Signal{
		Type:        model.SignalVerificationMethods,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("Methods: %d exact, %d semantic, %d nli", counts[model.MethodExact], counts[model.MethodSemantic], counts[model.MethodNLI]),
		Data: map[string]interface{}{
			"exact":    counts[model.MethodExact],
			"semantic": counts[model.MethodSemantic],
			"nli":      counts[model.MethodNLI],
			"verified": verified,
			"score":    score,
			"formula":  "(exact + nli) / verified * 10",
		},
	}
}

func (s *Scorer) debateSignal(d *model.DebateResult) model.Signal {
	severity := model.SeverityInfo
	description := fmt.Sprintf("Debate reached consensus (confidence %.2f)", d.Confidence)
	if !d.ConsensusReached {
		severity = model.SeverityWarning
		description = fmt.Sprintf("Debate ended in disagreement (confidence %.2f)", d.Confidence)
	}
	return model.Signal{
		Type:        model.SignalDebateOutcome,
		Severity:    severity,
		Description: description,
		Data: map[string]interface{}{
			"rounds":     len(d.Rounds),
			"consensus":  d.ConsensusReached,
			"confidence": d.Confidence,
		},
	}
}

// determineConfidence determines the confidence level based on the score
func (s *Scorer) determineConfidence(score int, sourceCount int, conflict bool) string {
	if conflict {
		return "low-medium"
	}

	if sourceCount < 3 {
		return "low"
	}

	if score >= 80 {
		return "high"
	} else if score >= 60 {
		return "medium"
	} else {
		return "low"
	}
}
