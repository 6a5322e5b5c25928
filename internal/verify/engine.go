// Package verify confirms claims against their source text with an
// exact, semantic and entailment cascade.
package verify

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/embed"
	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/model"
)

// Cascade thresholds and confidences
const (
	ExactConfidence     = 0.95
	ProximityConfidence = 0.85
	SemanticThreshold   = 0.85
	NLIGateThreshold    = 0.65
	NLIThreshold        = 0.7
	FallbackThreshold   = 0.5

	proximityWindow = 100
	excerptContext  = 200
	minKeywords     = 3
	nliCandidates   = 3
)

// Tier names passed to the tier hook
const (
	TierExact    = "exact"
	TierSemantic = "semantic"
	TierNLI      = "nli"
)

// Outcome is the result of verifying one claim
type Outcome struct {
	Verified   bool
	Method     model.VerificationMethod
	Confidence float64
	Excerpt    string
}

func unverified() Outcome {
	return Outcome{Method: model.MethodNone}
}

// Engine runs the verification cascade
type Engine struct {
	embedder embed.Embedder
	entailer Entailer
	logger   *zap.Logger

	// tierHook observes every tier attempt
	tierHook func(tier string)
}

// NewEngine creates an engine. A nil entailer disables the NLI tier.
func NewEngine(embedder embed.Embedder, entailer Entailer, logger *zap.Logger) *Engine {
	return &Engine{embedder: embedder, entailer: entailer, logger: logging.OrNop(logger)}
}

func (e *Engine) enter(tier string) {
	if e.tierHook != nil {
		e.tierHook(tier)
	}
}

// Verify checks claim against source, stopping at the first tier that
// succeeds
func (e *Engine) Verify(ctx context.Context, claim *model.Claim, source *model.Source, useNLI bool) Outcome {
	if source == nil || source.Text == "" {
		return unverified()
	}
	f := fold(source.Text)

	e.enter(TierExact)
	if out, ok := verifyExact(claim.Text, f); ok {
		return out
	}

	e.enter(TierSemantic)
	similarity, chunk := e.semantic(ctx, claim.Text, source.Text)
	if similarity > SemanticThreshold {
		return Outcome{Verified: true, Method: model.MethodSemantic, Confidence: similarity, Excerpt: chunk}
	}

	if useNLI && e.entailer != nil && similarity > NLIGateThreshold {
		e.enter(TierNLI)
		if out, ok := e.nli(ctx, claim.Text, source.Text); ok {
			return out
		}
	}

	if similarity > FallbackThreshold {
		return Outcome{Method: model.MethodSemantic, Confidence: similarity, Excerpt: chunk}
	}
	return unverified()
}

// VerifyBatch verifies each claim against its source and writes the outcome
// onto the claim. Claims whose source is missing are marked unverified
// without running any tier.
func (e *Engine) VerifyBatch(ctx context.Context, claims []*model.Claim, sources map[string]*model.Source, useNLI bool) []*model.Claim {
	verified := 0
	for _, c := range claims {
		out := unverified()
		if src, ok := sources[c.SourceID]; ok {
			out = e.Verify(ctx, c, src, useNLI)
		}

		c.Verified = out.Verified
		c.VerificationMethod = out.Method
		c.VerificationConfidence = out.Confidence
		c.SourceExcerpt = out.Excerpt
		if out.Verified {
			verified++
		}
	}

	e.logger.Debug("verification complete", zap.Int("claims", len(claims)), zap.Int("verified", verified))
	return claims
}

func verifyExact(claimText string, f folded) (Outcome, bool) {
	needle := strings.ToLower(strings.TrimSpace(claimText))
	if needle == "" {
		return Outcome{}, false
	}

	if idx := f.index(needle); idx >= 0 {
		length := len([]rune(needle))
		return Outcome{
			Verified:   true,
			Method:     model.MethodExact,
			Confidence: ExactConfidence,
			Excerpt:    f.excerpt(idx-excerptContext, idx+length+excerptContext),
		}, true
	}

	words := Keywords(claimText)
	if len(words) >= minKeywords && checkProximity(words, f, proximityWindow) {
		return Outcome{
			Verified:   true,
			Method:     model.MethodExact,
			Confidence: ProximityConfidence,
			Excerpt:    bestExcerpt(words, f, excerptContext),
		}, true
	}
	return Outcome{}, false
}

// semantic returns the best cosine similarity between the claim and the
// 500/100 chunks of text, and the best chunk. Embedder failures count as
// similarity 0.
func (e *Engine) semantic(ctx context.Context, claim, text string) (float64, string) {
	chunks := chunkText(text, 500, 100)
	sims, err := e.similarities(ctx, claim, chunks)
	if err != nil {
		e.logger.Warn("semantic verification skipped", zap.Error(err))
		return 0, ""
	}

	best, bestIdx := 0.0, -1
	for i, s := range sims {
		if bestIdx < 0 || s > best {
			best, bestIdx = s, i
		}
	}
	if bestIdx < 0 {
		return 0, ""
	}
	return best, chunks[bestIdx]
}

func (e *Engine) similarities(ctx context.Context, claim string, chunks []string) ([]float64, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	vecs, err := e.embedder.Embed(ctx, append([]string{claim}, chunks...))
	if err != nil {
		return nil, err
	}
	sims := make([]float64, len(chunks))
	for i := range chunks {
		if i+1 < len(vecs) {
			sims[i] = embed.Cosine(vecs[0], vecs[i+1])
		}
	}
	return sims, nil
}

// nli re-chunks at 400/50, keeps the three chunks closest to the claim and
// asks the entailer about each
func (e *Engine) nli(ctx context.Context, claim, text string) (Outcome, bool) {
	chunks := chunkText(text, 400, 50)
	sims, err := e.similarities(ctx, claim, chunks)
	if err != nil || len(chunks) == 0 {
		return Outcome{}, false
	}

	order := make([]int, len(chunks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return sims[order[a]] > sims[order[b]] })
	if len(order) > nliCandidates {
		order = order[:nliCandidates]
	}

	best, bestChunk := 0.0, ""
	for _, idx := range order {
		res, err := e.entailer.Entail(ctx, chunks[idx], claim)
		if err != nil {
			e.logger.Debug("entailment failed", zap.Error(err))
			continue
		}
		if res.Label == LabelEntailment && res.Score > best {
			best, bestChunk = res.Score, chunks[idx]
		}
	}

	if best > NLIThreshold {
		return Outcome{Verified: true, Method: model.MethodNLI, Confidence: best, Excerpt: bestChunk}, true
	}
	return Outcome{}, false
}
