package verify

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verity/internal/embed"
	"github.com/ppiankov/verity/internal/llm"
	"github.com/ppiankov/verity/internal/model"
)

// fixedEmbedder makes every chunk sit at cosine sim from the first text
type fixedEmbedder struct {
	sim float64
	err error
}

func (e fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	out[0] = []float32{1, 0}
	for i := 1; i < len(texts); i++ {
		out[i] = []float32{float32(e.sim), float32(math.Sqrt(1 - e.sim*e.sim))}
	}
	return out, nil
}

type stubEntailer struct {
	result Entailment
	calls  int
}

func (s *stubEntailer) Entail(ctx context.Context, premise, hypothesis string) (Entailment, error) {
	s.calls++
	return s.result, nil
}

func newTracedEngine(e embed.Embedder, ent Entailer) (*Engine, *[]string) {
	var tiers []string
	engine := NewEngine(e, ent, nil)
	engine.tierHook = func(tier string) { tiers = append(tiers, tier) }
	return engine, &tiers
}

const unrelatedText = "Completely unrelated words appear here without any overlap whatsoever."

func claim(text string) *model.Claim {
	return &model.Claim{ID: "c1", SourceID: "s1", Text: text}
}

func source(text string) *model.Source {
	return &model.Source{ID: "s1", Text: text}
}

func TestVerify_ExactContainment(t *testing.T) {
	engine, tiers := newTracedEngine(fixedEmbedder{sim: 0}, nil)
	text := strings.Repeat("filler ", 60) + "Coffee reduces the risk of stroke." + strings.Repeat(" filler", 60)

	out := engine.Verify(context.Background(), claim("coffee REDUCES the risk of stroke"), source(text), false)

	assert.True(t, out.Verified)
	assert.Equal(t, model.MethodExact, out.Method)
	assert.Equal(t, ExactConfidence, out.Confidence)
	assert.Contains(t, out.Excerpt, "Coffee reduces the risk of stroke")
	assert.True(t, strings.HasPrefix(out.Excerpt, "..."))
	assert.True(t, strings.HasSuffix(out.Excerpt, "..."))
	assert.Equal(t, []string{TierExact}, *tiers)
}

func TestVerify_KeywordProximity(t *testing.T) {
	engine, tiers := newTracedEngine(fixedEmbedder{sim: 0}, nil)
	text := "Researchers found that daily coffee consumption clearly reduces overall mortality risk in adults."

	out := engine.Verify(context.Background(), claim("coffee consumption reduces mortality risk"), source(text), false)

	assert.True(t, out.Verified)
	assert.Equal(t, model.MethodExact, out.Method)
	assert.Equal(t, ProximityConfidence, out.Confidence)
	assert.Contains(t, out.Excerpt, "mortality")
	assert.Equal(t, []string{TierExact}, *tiers)
}

func TestVerify_Semantic(t *testing.T) {
	engine, tiers := newTracedEngine(fixedEmbedder{sim: 0.9}, nil)

	out := engine.Verify(context.Background(), claim("alpha beta gamma"), source(unrelatedText), false)

	assert.True(t, out.Verified)
	assert.Equal(t, model.MethodSemantic, out.Method)
	assert.InDelta(t, 0.9, out.Confidence, 1e-6)
	assert.Equal(t, unrelatedText, out.Excerpt)
	assert.Equal(t, []string{TierExact, TierSemantic}, *tiers)
}

func TestVerify_NLI(t *testing.T) {
	ent := &stubEntailer{result: Entailment{Label: LabelEntailment, Score: 0.92}}
	engine, tiers := newTracedEngine(fixedEmbedder{sim: 0.7}, ent)

	out := engine.Verify(context.Background(), claim("alpha beta gamma"), source(unrelatedText), true)

	assert.True(t, out.Verified)
	assert.Equal(t, model.MethodNLI, out.Method)
	assert.InDelta(t, 0.92, out.Confidence, 1e-9)
	assert.Equal(t, []string{TierExact, TierSemantic, TierNLI}, *tiers)
	assert.Equal(t, 1, ent.calls)
}

func TestVerify_NLIRejectsNonEntailment(t *testing.T) {
	ent := &stubEntailer{result: Entailment{Label: LabelContradiction, Score: 0.99}}
	engine, _ := newTracedEngine(fixedEmbedder{sim: 0.7}, ent)

	out := engine.Verify(context.Background(), claim("alpha beta gamma"), source(unrelatedText), true)

	assert.False(t, out.Verified)
	assert.Equal(t, model.MethodSemantic, out.Method)
	assert.InDelta(t, 0.7, out.Confidence, 1e-6)
}

func TestVerify_NLIDisabled(t *testing.T) {
	ent := &stubEntailer{result: Entailment{Label: LabelEntailment, Score: 0.99}}
	engine, tiers := newTracedEngine(fixedEmbedder{sim: 0.7}, ent)

	out := engine.Verify(context.Background(), claim("alpha beta gamma"), source(unrelatedText), false)

	assert.False(t, out.Verified)
	assert.Equal(t, model.MethodSemantic, out.Method)
	assert.Equal(t, 0, ent.calls)
	assert.NotContains(t, *tiers, TierNLI)
}

func TestVerify_NLIGate(t *testing.T) {
	ent := &stubEntailer{result: Entailment{Label: LabelEntailment, Score: 0.99}}
	engine, _ := newTracedEngine(fixedEmbedder{sim: 0.6}, ent)

	out := engine.Verify(context.Background(), claim("alpha beta gamma"), source(unrelatedText), true)

	assert.False(t, out.Verified)
	assert.Equal(t, 0, ent.calls)
	assert.Equal(t, model.MethodSemantic, out.Method)
}

func TestVerify_NoMatch(t *testing.T) {
	engine, _ := newTracedEngine(fixedEmbedder{sim: 0.3}, nil)

	out := engine.Verify(context.Background(), claim("alpha beta gamma"), source(unrelatedText), false)

	assert.Equal(t, Outcome{Method: model.MethodNone}, out)
}

func TestVerify_EmptySource(t *testing.T) {
	engine, tiers := newTracedEngine(fixedEmbedder{sim: 1}, nil)

	out := engine.Verify(context.Background(), claim("anything"), source(""), true)

	assert.Equal(t, Outcome{Method: model.MethodNone}, out)
	assert.Empty(t, *tiers)
}

func TestVerify_EmbedderErrorDegrades(t *testing.T) {
	engine, _ := newTracedEngine(fixedEmbedder{err: errors.New("down")}, nil)

	out := engine.Verify(context.Background(), claim("alpha beta gamma"), source(unrelatedText), true)

	assert.Equal(t, Outcome{Method: model.MethodNone}, out)
}

func TestVerifyBatch_MissingSource(t *testing.T) {
	engine, tiers := newTracedEngine(fixedEmbedder{sim: 0.9}, nil)

	known := &model.Claim{ID: "c1", SourceID: "s1", Text: "alpha beta gamma"}
	orphan := &model.Claim{ID: "c2", SourceID: "missing", Text: "alpha", Verified: true, VerificationConfidence: 0.9}

	claims := engine.VerifyBatch(context.Background(), []*model.Claim{known, orphan},
		map[string]*model.Source{"s1": source(unrelatedText)}, false)

	require.Len(t, claims, 2)
	assert.True(t, known.Verified)
	assert.False(t, orphan.Verified)
	assert.Equal(t, model.MethodNone, orphan.VerificationMethod)
	assert.Zero(t, orphan.VerificationConfidence)
	assert.Equal(t, []string{TierExact, TierSemantic}, *tiers)
}

func TestKeywords(t *testing.T) {
	got := Keywords("The coffee was shown to reduce risk of stroke by 20%")
	assert.Equal(t, []string{"coffee", "shown", "reduce", "risk", "stroke"}, got)
}

func TestChunkText(t *testing.T) {
	assert.Empty(t, chunkText("", 500, 100))

	short := "One sentence only."
	chunks := chunkText(short, 500, 100)
	require.NotEmpty(t, chunks)
	assert.Equal(t, short, chunks[0])

	sentence := strings.Repeat("x", 80) + ". "
	long := strings.Repeat(sentence, 20)
	chunks = chunkText(long, 500, 100)
	require.Greater(t, len(chunks), 3)
	for _, c := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, len([]rune(c)), 500)
	}
	assert.True(t, strings.HasSuffix(chunks[0], "."), "expected first chunk to end at a sentence boundary")
}

type replyCompleter struct {
	reply string
	err   error
}

func (c replyCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	return c.reply, c.err
}

func TestLLMEntailer(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  Entailment
	}{
		{"entailment", `{"label": "entailment", "score": 0.91}`, Entailment{Label: LabelEntailment, Score: 0.91}},
		{"fenced", "```json\n{\"label\": \"Contradiction\", \"score\": 0.8}\n```", Entailment{Label: LabelContradiction, Score: 0.8}},
		{"malformed", `not json`, Entailment{Label: LabelNeutral}},
		{"unknown label", `{"label": "maybe", "score": 0.9}`, Entailment{Label: LabelNeutral}},
		{"clamped", `{"label": "entailment", "score": 1.7}`, Entailment{Label: LabelEntailment, Score: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewLLMEntailer(replyCompleter{reply: tt.reply}).Entail(context.Background(), "p", "h")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLLMEntailer_ProviderError(t *testing.T) {
	_, err := NewLLMEntailer(replyCompleter{err: model.ErrMissingCredential}).Entail(context.Background(), "p", "h")
	assert.ErrorIs(t, err, model.ErrMissingCredential)
}
