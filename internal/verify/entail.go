package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/verity/internal/llm"
)

// Entailment labels
const (
	LabelEntailment    = "entailment"
	LabelContradiction = "contradiction"
	LabelNeutral       = "neutral"
)

// Entailment is the top label of a premise/hypothesis classification and
// its probability
type Entailment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Entailer classifies whether premise entails hypothesis
type Entailer interface {
	Entail(ctx context.Context, premise, hypothesis string) (Entailment, error)
}

const entailSystemPrompt = `You are a natural language inference classifier.
Given a PREMISE and a HYPOTHESIS, decide whether the premise entails, contradicts, or is neutral toward the hypothesis.
Respond with JSON only: {"label": "entailment" | "contradiction" | "neutral", "score": <probability of that label between 0 and 1>}`

// LLMEntailer classifies entailment with a completion model in JSON mode
type LLMEntailer struct {
	completer llm.Completer
}

// NewLLMEntailer creates an entailer backed by completer
func NewLLMEntailer(completer llm.Completer) *LLMEntailer {
	return &LLMEntailer{completer: completer}
}

// Entail returns neutral/0 when the reply cannot be decoded. Provider
// failures are returned.
func (e *LLMEntailer) Entail(ctx context.Context, premise, hypothesis string) (Entailment, error) {
	reply, err := e.completer.Complete(ctx, llm.CompletionRequest{
		System:      entailSystemPrompt,
		Prompt:      fmt.Sprintf("PREMISE:\n%s\n\nHYPOTHESIS:\n%s", premise, hypothesis),
		Temperature: 0,
		JSONMode:    true,
		MaxTokens:   64,
	})
	if err != nil {
		return Entailment{}, fmt.Errorf("entail: %w", err)
	}

	out, err := llm.DecodeJSON[Entailment](reply)
	if err != nil {
		return Entailment{Label: LabelNeutral}, nil
	}

	out.Label = strings.ToLower(strings.TrimSpace(out.Label))
	switch out.Label {
	case LabelEntailment, LabelContradiction, LabelNeutral:
	default:
		return Entailment{Label: LabelNeutral}, nil
	}
	out.Score = min(max(out.Score, 0), 1)
	return out, nil
}
