// Package debate runs the two-round negotiation between agents over
// contradicting claims and resolves it into consensus or disagreement.
package debate

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/verity/internal/llm"
	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/model"
)

// Protocol defaults
const (
	DefaultConsensusThreshold = 0.7
	MinConfidenceGap          = 0.3
	MaxPairs                  = 3

	resolutionSpread = 0.2
	resolutionMean   = 0.5
)

// Pair is two contradicting claims and the strength of the contradiction
type Pair struct {
	A, B       *model.Claim
	Confidence float64
}

// Participant is an agent taking part in the debate, with the summary of
// its own earlier analysis
type Participant struct {
	Name    string
	Summary string
}

// Protocol conducts debates through a text-completion provider
type Protocol struct {
	llm       llm.Completer
	threshold float64
	logger    *zap.Logger
}

// New creates a protocol. A threshold <= 0 uses DefaultConsensusThreshold.
func New(c llm.Completer, threshold float64, logger *zap.Logger) *Protocol {
	if threshold <= 0 {
		threshold = DefaultConsensusThreshold
	}
	return &Protocol{llm: c, threshold: threshold, logger: logging.OrNop(logger)}
}

// ShouldDebate is the advisory trigger: two or more contradictions, or a
// confidence gap between agents above MinConfidenceGap. The orchestrator
// gates on its own rule.
func ShouldDebate(contradictions int, agentConfidences []float64) bool {
	if contradictions >= 2 {
		return true
	}
	if len(agentConfidences) < 2 {
		return false
	}
	lo, hi := agentConfidences[0], agentConfidences[0]
	for _, c := range agentConfidences[1:] {
		lo, hi = min(lo, c), max(hi, c)
	}
	return hi-lo > MinConfidenceGap
}

// Conduct runs round one, stops on early consensus, otherwise runs the
// rebuttal round and resolves. Provider failures never abort a round.
func (p *Protocol) Conduct(ctx context.Context, query string, pairs []Pair, participants []Participant) model.DebateResult {
	if len(pairs) > MaxPairs {
		pairs = pairs[:MaxPairs]
	}
	p.logger.Info("debate started",
		zap.Int("pairs", len(pairs)),
		zap.Int("participants", len(participants)))

	round1 := p.positions(ctx, query, pairs, participants)
	result := model.DebateResult{Rounds: [][]model.DebatePosition{round1}}

	if ok, winner, confidence := p.checkConsensus(round1); ok {
		result.ConsensusReached = true
		result.WinningPosition = winner
		result.Confidence = confidence
		result.Summary = "Early consensus reached after initial positions."
		return result
	}

	round2 := p.rebuttals(ctx, query, round1)
	result.Rounds = append(result.Rounds, round2)
	resolve(&result, round2)

	p.logger.Info("debate finished",
		zap.Bool("consensus", result.ConsensusReached),
		zap.Float64("confidence", result.Confidence))
	return result
}

type positionReply struct {
	Position   string   `json:"position"`
	Stance     string   `json:"stance"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

func (p *Protocol) positions(ctx context.Context, query string, pairs []Pair, participants []Participant) []model.DebatePosition {
	var b strings.Builder
	var evidence []string
	for i, pair := range pairs {
		fmt.Fprintf(&b, "\nContradiction %d (confidence: %.2f):\n- Claim A: %s\n- Claim B: %s\n",
			i+1, pair.Confidence, pair.A.Text, pair.B.Text)
		evidence = append(evidence, pair.A.ID, pair.B.ID)
	}
	contradictions := b.String()

	out := make([]model.DebatePosition, len(participants))
	g, gctx := errgroup.WithContext(ctx)
	for i, part := range participants {
		g.Go(func() error {
			prompt := fmt.Sprintf(`You are the %s agent in a research debate.

Research Query: %s

Key Contradictions in Evidence:
%s
Your previous analysis: %s

Your task: Present your position on these contradictions.
- What is your assessment of the conflicting evidence?
- Which side do you lean toward and why?
- What is your confidence level (0-1)?

Respond in JSON:
{
  "position": "brief position statement (1-2 sentences)",
  "stance": "for_claim_a/for_claim_b/uncertain",
  "confidence": 0.75,
  "reasoning": "brief reasoning"
}`, part.Name, query, contradictions, part.Summary)

			reply, err := p.ask(gctx, prompt)
			if err == nil {
				var decoded positionReply
				decoded, err = llm.DecodeJSON[positionReply](reply)
				if err == nil {
					out[i] = model.DebatePosition{
						AgentName:        part.Name,
						Position:         decoded.Position,
						Argument:         decoded.Reasoning,
						EvidenceClaimIDs: evidence,
						Confidence:       confidenceOr(decoded.Confidence, 0.5),
					}
					return nil
				}
			}
			p.logger.Warn("debate position failed", zap.String("agent", part.Name), zap.Error(err))
			out[i] = model.DebatePosition{
				AgentName:  part.Name,
				Position:   "Error generating position",
				Argument:   err.Error(),
				Confidence: 0,
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type rebuttalReply struct {
	Rebuttal         string   `json:"rebuttal"`
	ConfidenceChange string   `json:"confidence_change"`
	NewConfidence    *float64 `json:"new_confidence"`
}

func (p *Protocol) rebuttals(ctx context.Context, query string, round1 []model.DebatePosition) []model.DebatePosition {
	var b strings.Builder
	for _, pos := range round1 {
		fmt.Fprintf(&b, "\n%s: %s (confidence: %.2f)\n", pos.AgentName, pos.Position, pos.Confidence)
	}
	others := b.String()

	out := make([]model.DebatePosition, len(round1))
	g, gctx := errgroup.WithContext(ctx)
	for i, pos := range round1 {
		g.Go(func() error {
			prompt := fmt.Sprintf(`You are the %s agent responding to other agents' positions.

Research Query: %s
Your position: %s

Other agents' positions:
%s
Your task: Provide a brief rebuttal or acknowledgment.
- Do you agree with any other positions?
- Do you disagree? Why?
- Has your confidence changed?

Respond in JSON:
{
  "rebuttal": "your response",
  "confidence_change": "increased/decreased/unchanged",
  "new_confidence": 0.7
}`, pos.AgentName, query, pos.Position, others)

			out[i] = pos
			reply, err := p.ask(gctx, prompt)
			if err == nil {
				var decoded rebuttalReply
				if decoded, err = llm.DecodeJSON[rebuttalReply](reply); err == nil {
					out[i].Argument = decoded.Rebuttal
					out[i].Confidence = confidenceOr(decoded.NewConfidence, pos.Confidence)
					return nil
				}
			}
			p.logger.Warn("debate rebuttal failed, keeping position", zap.String("agent", pos.AgentName), zap.Error(err))
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Protocol) ask(ctx context.Context, prompt string) (string, error) {
	if p.llm == nil {
		return "", fmt.Errorf("debate: no completion provider: %w", model.ErrMissingCredential)
	}
	return p.llm.Complete(ctx, llm.CompletionRequest{Prompt: prompt, Temperature: 0.3, JSONMode: true})
}

// checkConsensus reports early consensus after round one
func (p *Protocol) checkConsensus(positions []model.DebatePosition) (bool, *string, float64) {
	if len(positions) < 2 {
		if len(positions) == 0 {
			return true, nil, 1.0
		}
		winner := positions[0].Position
		return true, &winner, 1.0
	}

	avg := mean(positions)
	if avg > p.threshold {
		best := strongest(positions)
		return true, &best.Position, best.Confidence
	}
	return false, nil, avg
}

// resolve decides the outcome from the final round
func resolve(result *model.DebateResult, final []model.DebatePosition) {
	if len(final) == 0 {
		result.Summary = "No debate rounds conducted."
		return
	}

	avg := mean(final)
	lo, hi := final[0].Confidence, final[0].Confidence
	for _, pos := range final[1:] {
		lo, hi = min(lo, pos.Confidence), max(hi, pos.Confidence)
	}
	result.Confidence = avg

	if hi-lo < resolutionSpread && avg > resolutionMean {
		best := strongest(final)
		result.ConsensusReached = true
		result.WinningPosition = &best.Position
		result.Summary = fmt.Sprintf("Consensus reached with average confidence %.2f.", avg)
		return
	}

	parts := make([]string, 0, len(final))
	for _, pos := range final {
		parts = append(parts, fmt.Sprintf("%s: %s...", pos.AgentName, firstRunes(pos.Position, 50)))
	}
	result.ConsensusReached = false
	result.WinningPosition = nil
	result.Summary = "Genuine disagreement among agents. Positions: " + strings.Join(parts, " | ")
}

// ToRounds flattens a result into audit records, rounds numbered from 1
func ToRounds(result model.DebateResult, sessionID string) []model.DebateRound {
	var out []model.DebateRound
	for i, positions := range result.Rounds {
		for _, pos := range positions {
			out = append(out, model.DebateRound{
				ID:               uuid.NewString(),
				SessionID:        sessionID,
				RoundNumber:      i + 1,
				AgentName:        pos.AgentName,
				Position:         pos.Position,
				Argument:         pos.Argument,
				EvidenceClaimIDs: pos.EvidenceClaimIDs,
				Confidence:       pos.Confidence,
			})
		}
	}
	return out
}

func mean(positions []model.DebatePosition) float64 {
	var sum float64
	for _, pos := range positions {
		sum += pos.Confidence
	}
	return sum / float64(len(positions))
}

// strongest returns a copy of the highest-confidence position, first wins ties
func strongest(positions []model.DebatePosition) model.DebatePosition {
	best := positions[0]
	for _, pos := range positions[1:] {
		if pos.Confidence > best.Confidence {
			best = pos
		}
	}
	return best
}

func confidenceOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	switch {
	case *v < 0:
		return 0
	case *v > 1:
		return 1
	}
	return *v
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
