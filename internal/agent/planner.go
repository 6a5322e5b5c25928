package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/llm"
	"github.com/ppiankov/verity/internal/logging"
)

// Understanding is the planner's reading of a raw query
type Understanding struct {
	UnderstoodQuery        string   `json:"understood_query"`
	KeyConcepts            []string `json:"key_concepts"`
	ResearchDomain         string   `json:"research_domain"`
	ClarificationNeeded    bool     `json:"clarification_needed"`
	SuggestedClarification string   `json:"suggested_clarification"`
}

var defaultAngles = map[string][]string{
	"medicine": {
		"Clinical trials and efficacy data",
		"Safety profile and side effects",
		"Mechanism of action",
		"Comparative effectiveness",
		"Patient outcomes and real-world evidence",
		"Regulatory status and guidelines",
	},
	"technology": {
		"Technical architecture and implementation",
		"Performance benchmarks and comparisons",
		"Adoption and use cases",
		"Security and privacy considerations",
		"Future roadmap and development",
		"Competitive landscape",
	},
	"finance": {
		"Market performance and trends",
		"Risk analysis and mitigation",
		"Regulatory environment",
		"Comparative analysis with alternatives",
		"Economic impact assessment",
		"Future projections",
	},
	"general": {
		"Current state and key findings",
		"Historical context and evolution",
		"Different perspectives and viewpoints",
		"Recent developments and trends",
		"Key stakeholders and their positions",
		"Future implications and directions",
	},
}

// DefaultAngles returns the built-in research angles for a domain
func DefaultAngles(domain string) []string {
	if a, ok := defaultAngles[strings.ToLower(domain)]; ok {
		return append([]string(nil), a...)
	}
	return append([]string(nil), defaultAngles["general"]...)
}

// DefaultSubqueries is the plan used when no LLM plan is available
func DefaultSubqueries(query string) []string {
	return []string{query, query + " recent research", query + " evidence"}
}

// MaxSubqueries caps the number of planned search queries
const MaxSubqueries = 6

// Planner decomposes research questions. With a nil completer every
// method returns its fallback.
type Planner struct {
	llm    llm.Completer
	logger *zap.Logger
}

// NewPlanner creates a planner
func NewPlanner(c llm.Completer, logger *zap.Logger) *Planner {
	return &Planner{llm: c, logger: logging.OrNop(logger)}
}

func (p *Planner) ask(ctx context.Context, prompt string) (string, bool) {
	if p.llm == nil {
		return "", false
	}
	raw, err := p.llm.Complete(ctx, llm.CompletionRequest{Prompt: prompt, Temperature: 0.3, JSONMode: true})
	if err != nil {
		p.logger.Warn("planner call failed", zap.Error(err))
		return "", false
	}
	return raw, true
}

// Understand rewrites a query into a clearer research question
func (p *Planner) Understand(ctx context.Context, query string) Understanding {
	fallback := Understanding{UnderstoodQuery: query, KeyConcepts: []string{}, ResearchDomain: "general"}

	raw, ok := p.ask(ctx, fmt.Sprintf(`You are a research assistant helping to understand a user's research query.

Original query: "%s"

Your task:
1. Analyze what the user is really asking for
2. Rewrite the query to be more specific and researchable
3. Identify the key concepts and entities

Respond in JSON format:
{
  "understood_query": "A clearer, more specific version of the query",
  "key_concepts": ["concept1", "concept2"],
  "research_domain": "e.g., medicine, technology, finance, etc.",
  "clarification_needed": false,
  "suggested_clarification": "If clarification is needed, what to ask"
}`, query))
	if !ok {
		return fallback
	}
	u, ok := decode[Understanding](p.logger, "planner", raw)
	if !ok {
		return fallback
	}
	if strings.TrimSpace(u.UnderstoodQuery) == "" {
		u.UnderstoodQuery = query
	}
	if u.ResearchDomain == "" {
		u.ResearchDomain = "general"
	}
	if u.KeyConcepts == nil {
		u.KeyConcepts = []string{}
	}
	return u
}

// Angles suggests perspectives to research, falling back to the domain defaults
func (p *Planner) Angles(ctx context.Context, query, domain string) []string {
	raw, ok := p.ask(ctx, fmt.Sprintf(`You are a research strategist. Given a research topic, suggest different angles or perspectives to explore.

Research topic: "%s"
Domain: %s

Suggest 6-8 different research angles that would provide comprehensive coverage.

Respond in JSON format:
{"angles": ["Angle 1: specific perspective", "Angle 2: specific perspective"]}`, query, domain))
	if !ok {
		return DefaultAngles(domain)
	}
	reply, ok := decode[struct {
		Angles []string `json:"angles"`
	}](p.logger, "planner", raw)
	if !ok || len(reply.Angles) == 0 {
		return DefaultAngles(domain)
	}
	return reply.Angles
}

// Decompose breaks a query into independently searchable sub-questions
func (p *Planner) Decompose(ctx context.Context, query string, angles []string) []string {
	var b strings.Builder
	for _, a := range angles {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	raw, ok := p.ask(ctx, fmt.Sprintf(`You are a research planner. Given a research topic and selected angles, break this down into specific sub-questions that can be researched independently.

Research topic: "%s"

Selected angles:
%s
Create 4-6 specific sub-questions. Each should be clear, researchable via web search and cover a distinct aspect.

Respond in JSON format:
{"sub_questions": ["Specific sub-question 1?", "Specific sub-question 2?"]}`, query, b.String()))
	if !ok {
		return []string{query}
	}
	reply, ok := decode[struct {
		SubQuestions []string `json:"sub_questions"`
	}](p.logger, "planner", raw)
	if !ok || len(reply.SubQuestions) == 0 {
		return []string{query}
	}
	return reply.SubQuestions
}

// Plan produces the search queries for a session: the query itself first,
// then LLM sub-questions, capped at MaxSubqueries. Without a usable LLM
// plan it returns DefaultSubqueries.
func (p *Planner) Plan(ctx context.Context, query string) []string {
	if p.llm == nil {
		return DefaultSubqueries(query)
	}
	subs := p.Decompose(ctx, query, DefaultAngles("general"))
	if len(subs) == 1 && subs[0] == query {
		return DefaultSubqueries(query)
	}

	plan := []string{query}
	seen := map[string]bool{strings.ToLower(query): true}
	for _, s := range subs {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		plan = append(plan, s)
		if len(plan) == MaxSubqueries {
			break
		}
	}
	return plan
}
