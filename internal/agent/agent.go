// Package agent holds the LLM-backed research roles that read curated
// sources and turn them into claims, debate stances and the final report.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/llm"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/verify"
)

// Agent analyzes curated sources for a query
type Agent interface {
	Name() string
	Analyze(ctx context.Context, query string, sources []*model.Source) (Result, error)
}

// Result is one agent's contribution. A failed agent yields a Result with
// zero confidence and no claims.
type Result struct {
	AgentName  string           `json:"agent_name"`
	Claims     []ExtractedClaim `json:"claims"`
	Entities   []string         `json:"entities,omitempty"`
	Summary    string           `json:"summary"`
	Confidence float64          `json:"confidence"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// ExtractedClaim is a claim as an agent reported it, before it is tied to
// a persisted source. SourceIndex and SourceIndices are 0-based.
type ExtractedClaim struct {
	Text          string   `json:"text"`
	Confidence    float64  `json:"confidence"`
	SourceIndex   *int     `json:"source_index,omitempty"`
	SourceIndices []int    `json:"source_indices,omitempty"`
	SourceID      string   `json:"source_id,omitempty"`
	Entities      []string `json:"entities,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
}

// Failed returns the empty result recorded for an agent that errored
func Failed(name string, err error) Result {
	return Result{AgentName: name, Summary: fmt.Sprintf("Error: %v", err), Confidence: 0}
}

// ResolveSource maps a claim to one of the sources it was extracted from:
// explicit source id, then source index, then the first source index, then
// the first source. It returns "" when there are no sources.
func (c ExtractedClaim) ResolveSource(sources []*model.Source) string {
	if c.SourceID != "" {
		return c.SourceID
	}
	if c.SourceIndex != nil && *c.SourceIndex >= 0 && *c.SourceIndex < len(sources) {
		return sources[*c.SourceIndex].ID
	}
	if len(c.SourceIndices) > 0 {
		if idx := c.SourceIndices[0]; idx >= 0 && idx < len(sources) {
			return sources[idx].ID
		}
	}
	if len(sources) > 0 {
		return sources[0].ID
	}
	return ""
}

// decode parses a JSON reply into T. A mismatch is logged once and
// yields the zero value.
func decode[T any](logger *zap.Logger, agent, raw string) (T, bool) {
	v, err := llm.DecodeJSON[T](raw)
	if err != nil {
		logger.Warn("discarding malformed agent reply",
			zap.String("agent", agent),
			zap.String("reply", clip(raw, 200)),
			zap.Error(err))
		return v, false
	}
	return v, true
}

// claimPayload is the claim shape every role asks the model for. Source
// indices in prompts are 1-based.
type claimPayload struct {
	Text          string   `json:"text"`
	Confidence    *float64 `json:"confidence"`
	SourceIndices []int    `json:"source_indices"`
	Entities      []string `json:"entities"`
	Keywords      []string `json:"keywords"`
}

func (p claimPayload) toClaim() (ExtractedClaim, bool) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return ExtractedClaim{}, false
	}
	conf := 0.5
	if p.Confidence != nil {
		conf = clamp01(*p.Confidence)
	}
	c := ExtractedClaim{Text: text, Confidence: conf, Entities: p.Entities, Keywords: p.Keywords}
	for _, idx := range p.SourceIndices {
		c.SourceIndices = append(c.SourceIndices, idx-1)
	}
	if len(c.Keywords) == 0 {
		c.Keywords = verify.Keywords(text)
	}
	return c, true
}

// describeSources renders sources for a prompt, numbered from 1
func describeSources(sources []*model.Source, limit, textLimit int, flags bool) string {
	if len(sources) > limit {
		sources = sources[:limit]
	}
	var b strings.Builder
	for i, s := range sources {
		title := s.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "\nSource %d: %s\nURL: %s\n", i+1, title, s.URL)
		if flags {
			fmt.Fprintf(&b, "Domain: %s\n", s.Domain)
		}
		fmt.Fprintf(&b, "Credibility: %.2f\n", s.CredibilityScore)
		if flags {
			fmt.Fprintf(&b, "Flags: %s\n", credibilityFlags(s))
		}
		text := clip(s.Text, textLimit)
		if text == "" {
			text = "No content"
		}
		fmt.Fprintf(&b, "Content: %s\n", text)
	}
	return b.String()
}

func credibilityFlags(s *model.Source) string {
	var flags []string
	if s.CredibilityScore < 0.4 {
		flags = append(flags, "LOW_CREDIBILITY")
	}
	if !s.HasMethodology {
		flags = append(flags, "NO_METHODOLOGY")
	}
	if !s.HasCitations {
		flags = append(flags, "NO_CITATIONS")
	}
	if len(flags) == 0 {
		return "None"
	}
	return strings.Join(flags, ", ")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
