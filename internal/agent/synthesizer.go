package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/graph"
	"github.com/ppiankov/verity/internal/llm"
	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/score"
)

const synthesizerPrompt = `You are a research synthesizer. Your job is to create
a comprehensive, well-cited research report from multiple agent analyses and a knowledge graph.

Your report should:
1. Present key findings with confidence levels
2. Acknowledge contradictions and uncertainties
3. Cite sources for every major claim
4. Note evidence quality and limitations
5. Organize by themes or topics
6. Include an executive summary

Be balanced, objective, and intellectually honest about uncertainty.`

// SynthesisInput is everything the report is written from
type SynthesisInput struct {
	Query          string
	Results        []Result
	Claims         []*model.Claim
	Sources        []*model.Source
	Stats          graph.Stats
	Contradictions []graph.Contradiction
	Debate         *model.DebateResult
}

// Synthesizer writes the final Markdown report
type Synthesizer struct {
	llm    llm.Completer
	scorer *score.Scorer
	logger *zap.Logger
}

// NewSynthesizer creates a synthesizer. A nil completer always produces
// the deterministic report.
func NewSynthesizer(c llm.Completer, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{llm: c, scorer: score.NewScorer(), logger: logging.OrNop(logger)}
}

// Synthesize asks the model for the report and falls back to Fallback
// when the call fails or returns nothing
func (s *Synthesizer) Synthesize(ctx context.Context, in SynthesisInput) (string, error) {
	if s.llm == nil {
		return s.Fallback(in), nil
	}

	report, err := s.llm.Complete(ctx, llm.CompletionRequest{
		System:      synthesizerPrompt,
		Prompt:      s.prompt(in),
		Temperature: 0.3,
	})
	if err != nil {
		s.logger.Warn("synthesis failed, rendering fallback report", zap.Error(err))
		return s.Fallback(in), nil
	}
	if strings.TrimSpace(report) == "" {
		return s.Fallback(in), nil
	}
	return report, nil
}

func (s *Synthesizer) prompt(in SynthesisInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research Query: %s\n\n", in.Query)

	fmt.Fprintf(&b, "=== KNOWLEDGE GRAPH ===\nTotal nodes: %d\nClaims: %d\nEntities: %d\nSources: %d\nSupporting relationships: %d\nContradictory relationships: %d\n\n",
		in.Stats.TotalNodes, in.Stats.ClaimNodes, in.Stats.EntityNodes, in.Stats.SourceNodes,
		in.Stats.SupportsEdges, in.Stats.ContradictsEdges)

	if len(in.Contradictions) > 0 {
		fmt.Fprintf(&b, "=== CONTRADICTORY EVIDENCE ===\n%d contradictions were identified in the knowledge graph.\nThese represent genuine disagreements in the sources that should be acknowledged.\n\n", len(in.Contradictions))
	}

	if in.Debate != nil {
		fmt.Fprintf(&b, "=== DEBATE OUTCOME ===\nConsensus: %t (confidence %.2f)\n%s\n\n", in.Debate.ConsensusReached, in.Debate.Confidence, in.Debate.Summary)
	}

	for _, r := range in.Results {
		fmt.Fprintf(&b, "=== %s ANALYSIS ===\nSummary: %s\nClaims found: %d\n", strings.ToUpper(r.AgentName), r.Summary, len(r.Claims))
		entities := r.Entities
		if len(entities) > 10 {
			entities = entities[:10]
		}
		fmt.Fprintf(&b, "Entities: %s\nKey claims:\n", strings.Join(entities, ", "))
		for i, c := range r.Claims {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "- %s (confidence: %.2f)\n", clip(c.Text, 200), c.Confidence)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Create a comprehensive research report in Markdown format with the following sections:

# Executive Summary
3-5 bullet points of key findings with confidence levels

# Key Findings
Organized by theme/topic, with inline citations [Source: URL]

# Areas of Agreement
What do most sources agree on?

# Areas of Disagreement
What are the genuine controversies or uncertainties?

# Evidence Quality
Assessment of source quality and limitations

# Conclusion
Synthesized conclusion with confidence level

Format all citations as [Source: URL] for verification.`)
	return b.String()
}

// Fallback renders the report from the pipeline data alone
func (s *Synthesizer) Fallback(in SynthesisInput) string {
	sc := s.scorer.Calculate(score.Input{
		Sources:        in.Sources,
		Claims:         in.Claims,
		Contradictions: len(in.Contradictions),
		Debate:         in.Debate,
	})

	urls := make(map[string]string, len(in.Sources))
	for _, src := range in.Sources {
		urls[src.ID] = src.URL
	}
	byID := make(map[string]*model.Claim, len(in.Claims))
	for _, c := range in.Claims {
		byID[c.ID] = c
	}

	ranked := append([]*model.Claim(nil), in.Claims...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Verified != ranked[j].Verified {
			return ranked[i].Verified
		}
		return ranked[i].VerificationConfidence > ranked[j].VerificationConfidence
	})

	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", in.Query)

	b.WriteString("# Executive Summary\n\n")
	verified := 0
	for _, c := range in.Claims {
		if c.Verified {
			verified++
		}
	}
	fmt.Fprintf(&b, "- %d claims extracted from %d sources, %d verified against their source text\n", len(in.Claims), len(in.Sources), verified)
	fmt.Fprintf(&b, "- Evidence index %d/100 (confidence: %s)\n", sc.Index, sc.Confidence)
	fmt.Fprintf(&b, "- %d contradicting claim pairs detected\n\n", len(in.Contradictions))

	b.WriteString("# Key Findings\n\n")
	if len(ranked) == 0 {
		b.WriteString("No claims were extracted.\n")
	}
	for i, c := range ranked {
		if i == 10 {
			break
		}
		status := "unverified"
		if c.Verified {
			status = fmt.Sprintf("verified, %s %.2f", c.VerificationMethod, c.VerificationConfidence)
		}
		fmt.Fprintf(&b, "- %s (%s) [Source: %s]\n", c.Text, status, urls[c.SourceID])
	}
	b.WriteString("\n")

	b.WriteString("# Areas of Agreement\n\n")
	fmt.Fprintf(&b, "%d supporting relationships link claims in the knowledge graph.\n\n", in.Stats.SupportsEdges)

	b.WriteString("# Areas of Disagreement\n\n")
	if len(in.Contradictions) == 0 {
		b.WriteString("No contradictions were detected.\n")
	}
	for _, con := range in.Contradictions {
		left, right := byID[con.ClaimA], byID[con.ClaimB]
		if left == nil || right == nil {
			continue
		}
		fmt.Fprintf(&b, "- \"%s\" vs \"%s\" (confidence %.2f)\n", left.Text, right.Text, con.Confidence)
	}
	if in.Debate != nil {
		fmt.Fprintf(&b, "\nDebate: %s\n", in.Debate.Summary)
	}
	b.WriteString("\n")

	b.WriteString("# Evidence Quality\n\n")
	for _, sig := range sc.Signals {
		fmt.Fprintf(&b, "- [%s] %s\n", sig.Severity, sig.Description)
	}
	b.WriteString("\n")

	b.WriteString("# Conclusion\n\n")
	conclusion := fmt.Sprintf("The evidence gathered for this question supports its findings with %s confidence.", sc.Confidence)
	if in.Debate != nil && in.Debate.ConsensusReached && in.Debate.WinningPosition != nil {
		conclusion += " Agents converged on: " + *in.Debate.WinningPosition
	}
	b.WriteString(conclusion + "\n")
	return b.String()
}
