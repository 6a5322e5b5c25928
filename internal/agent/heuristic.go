package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/verify"
)

// HeuristicName is the name of the keyword extractor
const HeuristicName = "heuristic"

// HeuristicExtractor extracts claim sentences by keyword matching. It needs
// no LLM and backs offline runs.
type HeuristicExtractor struct {
	keywords     []string
	maxSources   int
	perSourceMax int
}

// NewHeuristicExtractor creates a new keyword extractor
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{
		keywords: []string{
			"according to", "found that", "find that", "showed", "shows that",
			"demonstrated", "reported", "concluded", "suggests that", "evidence",
			"associated with", "linked to", "caused by", "leads to", "reduces",
			"increases", "percent", "%", "established", "discovered",
			"introduced", "developed", "is defined as",
		},
		maxSources:   10,
		perSourceMax: 5,
	}
}

// Name returns the extractor name
func (e *HeuristicExtractor) Name() string { return HeuristicName }

// Analyze picks keyword sentences that mention at least one query keyword
func (e *HeuristicExtractor) Analyze(ctx context.Context, query string, sources []*model.Source) (Result, error) {
	queryTerms := verify.Keywords(query)

	top := sources
	if len(top) > e.maxSources {
		top = top[:e.maxSources]
	}

	var claims []ExtractedClaim
	for i, src := range top {
		if err := ctx.Err(); err != nil {
			return Failed(HeuristicName, err), err
		}

		found := 0
		for _, sentence := range splitSentences(src.Text) {
			if found == e.perSourceMax {
				break
			}
			lower := strings.ToLower(sentence)
			if !e.matchesKeyword(lower) || !mentionsAny(lower, queryTerms) {
				continue
			}
			idx := i
			claims = append(claims, ExtractedClaim{
				Text:        sentence,
				Confidence:  0.4 + 0.4*src.CredibilityScore,
				SourceIndex: &idx,
				SourceID:    src.ID,
				Entities:    capitalizedPhrases(sentence),
				Keywords:    verify.Keywords(sentence),
			})
			found++
		}
	}
	claims = dedupeClaims(claims)

	return Result{
		AgentName:  HeuristicName,
		Claims:     claims,
		Summary:    fmt.Sprintf("Extracted %d keyword claims from %d sources.", len(claims), len(top)),
		Confidence: 0.5,
	}, nil
}

func (e *HeuristicExtractor) matchesKeyword(lower string) bool {
	for _, keyword := range e.keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func mentionsAny(lower string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// splitSentences splits text into sentences (simple heuristic)
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\n", " ")

	var sentences []string
	var current strings.Builder

	keep := func() {
		sentence := strings.TrimSpace(current.String())
		if len(sentence) >= 30 && len(sentence) <= 500 {
			sentences = append(sentences, sentence)
		}
		current.Reset()
	}

	for i, r := range text {
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\t') {
				keep()
			}
		}
	}
	if current.Len() > 0 {
		keep()
	}

	return sentences
}

// capitalizedPhrases returns runs of capitalized words that do not open
// the sentence, as rough entity candidates
func capitalizedPhrases(sentence string) []string {
	words := strings.Fields(sentence)
	var out []string
	seen := make(map[string]bool)
	var run []string

	flush := func() {
		if len(run) > 0 {
			phrase := strings.Join(run, " ")
			if !seen[phrase] {
				seen[phrase] = true
				out = append(out, phrase)
			}
			run = nil
		}
	}

	for i, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		r := []rune(w)
		if i == 0 || len(r) < 2 || !unicode.IsUpper(r[0]) {
			flush()
			continue
		}
		run = append(run, w)
	}
	flush()
	return out
}

// dedupeClaims removes duplicate claims
func dedupeClaims(claims []ExtractedClaim) []ExtractedClaim {
	seen := make(map[string]bool)
	var unique []ExtractedClaim

	for _, claim := range claims {
		key := strings.ToLower(strings.TrimSpace(claim.Text))
		if !seen[key] {
			seen[key] = true
			unique = append(unique, claim)
		}
	}

	return unique
}
