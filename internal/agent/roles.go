package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/llm"
	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/model"
)

// Role names
const (
	ScoutName       = "scout"
	SkepticName     = "skeptic"
	AnalystName     = "analyst"
	SynthesizerName = "synthesizer"
)

const scoutPrompt = `You are a research scout. Your job is to find diverse, recent,
and broad coverage of topics. Look for emerging trends, breaking news, and diverse perspectives.

When analyzing sources:
1. Identify the main claims and findings
2. Look for recent developments and trends
3. Note diverse viewpoints and perspectives
4. Flag emerging or controversial topics
5. Identify key entities (people, organizations, concepts)

Output your findings as structured JSON with claims, entities, and a brief summary.`

const skepticPrompt = `You are a research skeptic. Your job is to find gaps, biases,
and contradictions in the evidence. Question methodology, funding sources, and sample sizes.

When analyzing sources:
1. Identify methodological flaws or limitations
2. Look for potential biases (funding, selection, confirmation)
3. Find contradictory evidence or alternative explanations
4. Question sample sizes and statistical significance
5. Check for missing context or cherry-picked data
6. Identify claims that are overstated or premature

Output your critical analysis as structured JSON.`

const analystPrompt = `You are a research analyst. Extract structured claims,
entities, and relationships with high precision. Focus on: who said what, based on what evidence.

When analyzing sources:
1. Extract specific, verifiable factual claims
2. Identify key entities (people, organizations, concepts, metrics)
3. Note evidence quality and methodology
4. Extract numerical data with units
5. Identify cause-effect relationships
6. Flag uncertainty and confidence levels

Be precise and factual. Avoid speculation.`

// Scout looks for broad coverage and trends across the top sources
type Scout struct {
	llm    llm.Completer
	logger *zap.Logger
}

// NewScout creates a scout
func NewScout(c llm.Completer, logger *zap.Logger) *Scout {
	return &Scout{llm: c, logger: logging.OrNop(logger)}
}

// Name returns the role name
func (a *Scout) Name() string { return ScoutName }

type scoutReply struct {
	Claims   []claimPayload `json:"claims"`
	Entities []string       `json:"entities"`
	Trends   []string       `json:"trends"`
	Summary  string         `json:"summary"`
}

// Analyze extracts claims from the top 15 sources in one call
func (a *Scout) Analyze(ctx context.Context, query string, sources []*model.Source) (Result, error) {
	prompt := fmt.Sprintf(`Research Query: %s

Sources to analyze:
%s

Analyze these sources and extract:
1. Key factual claims (with confidence scores 0-1)
2. Important entities mentioned
3. Emerging trends or recent developments
4. Diverse perspectives on the topic

Respond in this JSON format:
{
  "claims": [
    {"text": "specific claim", "confidence": 0.8, "source_indices": [1, 3], "entities": ["entity1"]}
  ],
  "entities": ["entity1", "entity2"],
  "trends": ["trend1", "trend2"],
  "summary": "brief summary of findings"
}`, query, describeSources(sources, 15, 1500, false))

	raw, err := a.llm.Complete(ctx, llm.CompletionRequest{
		System:      scoutPrompt,
		Prompt:      prompt,
		Temperature: 0.4,
		JSONMode:    true,
	})
	if err != nil {
		return Failed(ScoutName, err), fmt.Errorf("scout: %w", err)
	}

	reply, ok := decode[scoutReply](a.logger, ScoutName, raw)
	if !ok {
		return Result{AgentName: ScoutName, Summary: "Error parsing scout analysis"}, nil
	}

	res := Result{
		AgentName:  ScoutName,
		Entities:   reply.Entities,
		Summary:    reply.Summary,
		Confidence: 0.7,
		Metadata:   map[string]any{"trends": reply.Trends},
	}
	for _, p := range reply.Claims {
		if c, ok := p.toClaim(); ok {
			res.Claims = append(res.Claims, c)
		}
	}
	return res, nil
}

// Skeptic looks for gaps, biases and contradictions
type Skeptic struct {
	llm    llm.Completer
	logger *zap.Logger
}

// NewSkeptic creates a skeptic
func NewSkeptic(c llm.Completer, logger *zap.Logger) *Skeptic {
	return &Skeptic{llm: c, logger: logging.OrNop(logger)}
}

// Name returns the role name
func (a *Skeptic) Name() string { return SkepticName }

type skepticContradiction struct {
	ClaimA      string `json:"claim_a"`
	ClaimB      string `json:"claim_b"`
	Explanation string `json:"explanation"`
}

type skepticReply struct {
	Biases            []string               `json:"biases"`
	Limitations       []string               `json:"limitations"`
	Contradictions    []skepticContradiction `json:"contradictions"`
	UnsupportedClaims []string               `json:"unsupported_claims"`
	EvidenceGaps      []string               `json:"evidence_gaps"`
	Claims            []claimPayload         `json:"claims"`
	Summary           string                 `json:"summary"`
}

// Analyze critiques the top 15 sources, flagging weak ones in the prompt
func (a *Skeptic) Analyze(ctx context.Context, query string, sources []*model.Source) (Result, error) {
	prompt := fmt.Sprintf(`Research Query: %s

Sources to critically analyze:
%s

Provide a critical analysis:
1. Identify potential biases in the sources
2. Find methodological limitations
3. Look for contradictory claims or evidence
4. Flag overstated or unsupported claims
5. Identify gaps in the evidence

Respond in this JSON format:
{
  "biases": ["bias1"],
  "limitations": ["limitation1"],
  "contradictions": [{"claim_a": "...", "claim_b": "...", "explanation": "..."}],
  "unsupported_claims": ["claim1"],
  "evidence_gaps": ["gap1"],
  "claims": [{"text": "critical observation", "confidence": 0.7, "source_indices": [2]}],
  "summary": "critical summary"
}`, query, describeSources(sources, 15, 1500, true))

	raw, err := a.llm.Complete(ctx, llm.CompletionRequest{
		System:      skepticPrompt,
		Prompt:      prompt,
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		return Failed(SkepticName, err), fmt.Errorf("skeptic: %w", err)
	}

	reply, ok := decode[skepticReply](a.logger, SkepticName, raw)
	if !ok {
		return Result{AgentName: SkepticName, Summary: "Error parsing skeptic analysis"}, nil
	}

	res := Result{
		AgentName:  SkepticName,
		Summary:    reply.Summary,
		Confidence: 0.6,
		Metadata: map[string]any{
			"biases":             reply.Biases,
			"limitations":        reply.Limitations,
			"contradictions":     reply.Contradictions,
			"unsupported_claims": reply.UnsupportedClaims,
			"evidence_gaps":      reply.EvidenceGaps,
		},
	}
	for _, p := range reply.Claims {
		if c, ok := p.toClaim(); ok {
			res.Claims = append(res.Claims, c)
		}
	}
	return res, nil
}

// Analyst extracts precise claims source by source
type Analyst struct {
	llm    llm.Completer
	logger *zap.Logger
}

// NewAnalyst creates an analyst
func NewAnalyst(c llm.Completer, logger *zap.Logger) *Analyst {
	return &Analyst{llm: c, logger: logging.OrNop(logger)}
}

// Name returns the role name
func (a *Analyst) Name() string { return AnalystName }

type analystReply struct {
	Claims []struct {
		claimPayload
		HasNumbers  bool   `json:"has_numbers"`
		Methodology string `json:"methodology"`
	} `json:"claims"`
	Entities      []string `json:"entities"`
	Numbers       []string `json:"numbers"`
	SourceQuality string   `json:"source_quality"`
}

// Analyze runs one extraction per source over the top 10 sources, scaling
// claim confidence by source credibility, then asks for a short summary.
// A failing source is skipped.
func (a *Analyst) Analyze(ctx context.Context, query string, sources []*model.Source) (Result, error) {
	top := sources
	if len(top) > 10 {
		top = top[:10]
	}

	var claims []ExtractedClaim
	var entities []string
	seenEntity := make(map[string]bool)

	for i, src := range top {
		if strings.TrimSpace(src.Text) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Failed(AnalystName, err), fmt.Errorf("analyst: %w", err)
		}

		prompt := fmt.Sprintf(`Research Query: %s

Source: %s
URL: %s
Credibility: %.2f
Has Citations: %t
Has Methodology: %t

Content:
%s

Extract structured information:
1. Factual claims with confidence (0-1)
2. Key entities mentioned
3. Numerical data points
4. Methodology notes

Respond in JSON:
{
  "claims": [{"text": "specific factual claim", "confidence": 0.85, "entities": ["entity1"], "has_numbers": true, "methodology": "brief method note or null"}],
  "entities": ["entity1", "entity2"],
  "numbers": ["value with unit"],
  "source_quality": "high/medium/low"
}`, query, titleOr(src), src.URL, src.CredibilityScore, src.HasCitations, src.HasMethodology, clip(src.Text, 2000))

		raw, err := a.llm.Complete(ctx, llm.CompletionRequest{
			System:      analystPrompt,
			Prompt:      prompt,
			Temperature: 0.2,
			JSONMode:    true,
		})
		if err != nil {
			a.logger.Warn("analyst skipped source", zap.String("url", src.URL), zap.Error(err))
			continue
		}
		reply, ok := decode[analystReply](a.logger, AnalystName, raw)
		if !ok {
			continue
		}

		for _, p := range reply.Claims {
			c, ok := p.toClaim()
			if !ok {
				continue
			}
			idx := i
			c.Confidence *= src.CredibilityScore
			c.SourceIndex = &idx
			c.SourceIndices = nil
			c.SourceID = src.ID
			claims = append(claims, c)
		}
		for _, e := range reply.Entities {
			if !seenEntity[e] {
				seenEntity[e] = true
				entities = append(entities, e)
			}
		}
	}

	return Result{
		AgentName:  AnalystName,
		Claims:     claims,
		Entities:   entities,
		Summary:    a.summarize(ctx, query, claims, len(sources)),
		Confidence: 0.75,
		Metadata:   map[string]any{"total_claims": len(claims)},
	}, nil
}

func (a *Analyst) summarize(ctx context.Context, query string, claims []ExtractedClaim, sourceCount int) string {
	var lines []string
	for i, c := range claims {
		if i == 10 {
			break
		}
		lines = append(lines, c.Text)
	}
	prompt := fmt.Sprintf(`Based on the following extracted claims about "%s",
provide a brief analytical summary (2-3 sentences):

Claims:
%s

Summary:`, query, strings.Join(lines, "\n"))

	summary, err := a.llm.Complete(ctx, llm.CompletionRequest{Prompt: prompt, Temperature: 0.3})
	if err != nil || strings.TrimSpace(summary) == "" {
		return fmt.Sprintf("Extracted %d claims from %d sources.", len(claims), sourceCount)
	}
	return strings.TrimSpace(summary)
}

// Swarm returns the three extraction roles in their fixed order
func Swarm(c llm.Completer, logger *zap.Logger) []Agent {
	return []Agent{
		NewScout(c, logger),
		NewSkeptic(c, logger),
		NewAnalyst(c, logger),
	}
}

func titleOr(s *model.Source) string {
	if s.Title == "" {
		return "Untitled"
	}
	return s.Title
}
