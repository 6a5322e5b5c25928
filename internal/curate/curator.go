// Package curate turns fetched pages into a deduplicated, credibility-scored
// and relevance-ranked list of sources.
package curate

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/embed"
	"github.com/ppiankov/verity/internal/fetch"
	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/model"
)

const (
	// SimilarityThreshold marks two sources as near-duplicates
	SimilarityThreshold = 0.85

	defaultCredibility = 0.5
	dedupPrefixLen     = 500
	relevancePrefixLen = 1000
)

var typeBonus = map[model.SourceType]float64{
	model.SourceAcademic: 0.1,
	model.SourceNews:     0.05,
	model.SourceWebpage:  0.02,
	model.SourceBlog:     0,
	model.SourceUnknown:  0,
}

// Options bounds the curated set
type Options struct {
	MinCredibility float64
	MinRelevance   float64
	MaxSources     int
	// ClassifyEvidence tags each source with an evidence level
	ClassifyEvidence bool
}

// DefaultOptions returns 0.3 / 0.5 / 50
func DefaultOptions() Options {
	return Options{MinCredibility: 0.3, MinRelevance: 0.5, MaxSources: 50}
}

// OptionsFromConfig maps the curation config section to Options
func OptionsFromConfig(cfg model.CurationConfig) Options {
	return Options{
		MinCredibility: cfg.MinCredibility,
		MinRelevance:   cfg.MinRelevance,
		MaxSources:     cfg.MaxSources,
	}
}

// Result is the curated set plus removal counts
type Result struct {
	Sources           []*model.Source
	DuplicatesRemoved int
	LowQualityRemoved int
	// IrrelevantRemoved is always 0; irrelevant sources count as low quality
	IrrelevantRemoved int
}

// Curator runs the fixed curation pipeline
type Curator struct {
	embedder  embed.Embedder
	authority *AuthorityScorer
	logger    *zap.Logger
}

// NewCurator creates a curator. A nil authority scorer uses the defaults.
func NewCurator(embedder embed.Embedder, authority *AuthorityScorer, logger *zap.Logger) *Curator {
	if authority == nil {
		authority = NewAuthorityScorer(nil, nil)
	}
	return &Curator{embedder: embedder, authority: authority, logger: logging.OrNop(logger)}
}

// Curate converts, dedups, scores, filters and ranks pages in that order.
// Semantic dedup runs before credibility scoring, so its tie-break compares
// the default score every candidate starts with.
func (c *Curator) Curate(ctx context.Context, pages []fetch.Page, query string, opts Options) (Result, error) {
	var sources []*model.Source
	for _, p := range pages {
		if p.Success {
			sources = append(sources, c.convert(p, opts))
		}
	}
	c.logger.Debug("converted pages", zap.Int("pages", len(pages)), zap.Int("sources", len(sources)))

	sources, exactDupes := dedupExact(sources)

	sources, semanticDupes, err := c.dedupSemantic(ctx, sources)
	if err != nil {
		return Result{}, fmt.Errorf("curate: embed: %w", err)
	}

	for _, s := range sources {
		c.scoreCredibility(s)
	}

	if err := c.scoreRelevance(ctx, sources, query); err != nil {
		return Result{}, fmt.Errorf("curate: embed: %w", err)
	}

	var kept []*model.Source
	for _, s := range sources {
		if s.CredibilityScore >= opts.MinCredibility && s.Relevance() >= opts.MinRelevance {
			kept = append(kept, s)
		}
	}
	lowQuality := len(sources) - len(kept)

	sort.SliceStable(kept, func(i, j int) bool {
		return combinedScore(kept[i]) > combinedScore(kept[j])
	})
	if opts.MaxSources > 0 && len(kept) > opts.MaxSources {
		kept = kept[:opts.MaxSources]
	}

	c.logger.Info("curation complete",
		zap.Int("kept", len(kept)),
		zap.Int("duplicates", exactDupes+semanticDupes),
		zap.Int("low_quality", lowQuality))

	return Result{
		Sources:           kept,
		DuplicatesRemoved: exactDupes + semanticDupes,
		LowQualityRemoved: lowQuality,
	}, nil
}

func combinedScore(s *model.Source) float64 {
	return 0.6*s.CredibilityScore + 0.4*s.Relevance()
}

func (c *Curator) convert(p fetch.Page, opts Options) *model.Source {
	s := &model.Source{
		ID:                 uuid.NewString(),
		URL:                p.URL,
		Title:              p.Title,
		Text:               p.Text,
		HTML:               p.HTML,
		ContentHash:        p.ContentHash,
		Domain:             DomainOf(p.URL),
		SourceType:         DetectSourceType(p.URL),
		CredibilityScore:   defaultCredibility,
		CredibilityFactors: map[string]float64{},
		WordCount:          p.WordCount,
		HasCitations:       DetectCitations(p.Text) || len(CitationLinks(p.HTML, p.URL)) > 0,
		HasMethodology:     DetectMethodology(p.Text),
		FetchedAt:          time.Now().UTC(),
	}
	if pdf, _ := p.Metadata["pdf"].(bool); pdf && s.SourceType == model.SourceWebpage {
		s.SourceType = model.SourcePDF
	}
	if opts.ClassifyEvidence {
		level := ClassifyEvidence(p.Text)
		s.EvidenceLevel = &level
	}
	return s
}

// DomainOf returns the lowercased host of rawURL without port
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func dedupExact(sources []*model.Source) ([]*model.Source, int) {
	seen := make(map[string]bool)
	unique := make([]*model.Source, 0, len(sources))
	for _, s := range sources {
		if seen[s.ContentHash] {
			continue
		}
		seen[s.ContentHash] = true
		unique = append(unique, s)
	}
	return unique, len(sources) - len(unique)
}

func (c *Curator) dedupSemantic(ctx context.Context, sources []*model.Source) ([]*model.Source, int, error) {
	if len(sources) <= 1 {
		return sources, 0, nil
	}

	texts := make([]string, len(sources))
	for i, s := range sources {
		texts[i] = s.Title + " " + prefix(s.Text, dedupPrefixLen)
	}
	vecs, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, 0, err
	}
	if len(vecs) != len(sources) {
		return nil, 0, fmt.Errorf("expected %d vectors, got %d", len(sources), len(vecs))
	}

	removed := make(map[int]bool)
	for i := range sources {
		if removed[i] {
			continue
		}
		for j := i + 1; j < len(sources); j++ {
			if removed[j] {
				continue
			}
			if embed.Cosine(vecs[i], vecs[j]) <= SimilarityThreshold {
				continue
			}
			if sources[i].CredibilityScore >= sources[j].CredibilityScore {
				removed[j] = true
			} else {
				removed[i] = true
				break
			}
		}
	}

	kept := make([]*model.Source, 0, len(sources)-len(removed))
	for i, s := range sources {
		if !removed[i] {
			kept = append(kept, s)
		}
	}
	return kept, len(removed), nil
}

func (c *Curator) scoreCredibility(s *model.Source) {
	factors := map[string]float64{
		model.FactorDomainAuthority: c.authority.Score(s.Domain),
		model.FactorContentDepth:    min(float64(s.WordCount)/2000, 1) * 0.2,
		model.FactorSourceType:      typeBonus[s.SourceType],
	}

	signals := 0.0
	if s.HasCitations {
		signals += 0.15
	}
	if s.HasMethodology {
		signals += 0.15
	}
	factors[model.FactorContentSignals] = signals

	total := factors[model.FactorDomainAuthority] + signals +
		factors[model.FactorContentDepth] + factors[model.FactorSourceType]

	s.CredibilityFactors = factors
	s.CredibilityScore = min(total, 1)
}

func (c *Curator) scoreRelevance(ctx context.Context, sources []*model.Source, query string) error {
	if len(sources) == 0 {
		return nil
	}

	texts := make([]string, 0, len(sources)+1)
	texts = append(texts, query)
	for _, s := range sources {
		texts = append(texts, s.Title+" "+prefix(s.Text, relevancePrefixLen))
	}

	vecs, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("expected %d vectors, got %d", len(texts), len(vecs))
	}

	for i, s := range sources {
		s.CredibilityFactors[model.FactorRelevance] = embed.Cosine(vecs[0], vecs[i+1])
	}
	return nil
}

// prefix returns at most n bytes of s without splitting a rune
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
