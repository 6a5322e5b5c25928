package curate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verity/internal/fetch"
	"github.com/ppiankov/verity/internal/model"
)

// prefixEmbedder maps texts to fixed vectors by their leading word
type prefixEmbedder struct {
	err error
}

func (e prefixEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		switch {
		case strings.HasPrefix(t, "dup"):
			out[i] = []float32{1, 0, 0}
		case strings.HasPrefix(t, "other"):
			out[i] = []float32{0, 1, 0}
		case strings.HasPrefix(t, "query"):
			out[i] = []float32{1, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func page(url, title, hash string, words int) fetch.Page {
	return fetch.Page{
		URL:         url,
		Title:       title,
		Text:        strings.Repeat("word ", words),
		ContentHash: hash,
		WordCount:   words,
		Success:     true,
	}
}

func TestCurate_PipelineOrder(t *testing.T) {
	pages := []fetch.Page{
		page("https://example.com/a", "dup first", "h1", 1000),
		page("https://example.com/b", "dup second", "h2", 1000),  // semantic duplicate of a
		page("https://example.com/a2", "dup copy", "h1", 1000),   // exact duplicate of a
		page("https://mit.edu/paper", "other study", "h3", 2000), // trusted, ranks first
		page("https://example.com/far", "far away", "h4", 100),   // irrelevant
		{URL: "https://example.com/failed", Success: false, Error: "HTTP 500"},
	}

	c := NewCurator(prefixEmbedder{}, nil, nil)
	res, err := c.Curate(context.Background(), pages, "query", DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, res.DuplicatesRemoved)
	assert.Equal(t, 1, res.LowQualityRemoved)
	assert.Equal(t, 0, res.IrrelevantRemoved)
	require.Len(t, res.Sources, 2)

	assert.Equal(t, "https://mit.edu/paper", res.Sources[0].URL)
	assert.Equal(t, "https://example.com/a", res.Sources[1].URL)

	top := res.Sources[0]
	assert.Equal(t, model.SourceAcademic, top.SourceType)
	assert.InDelta(t, 0.4, top.CredibilityFactors[model.FactorDomainAuthority], 1e-9)
	assert.InDelta(t, 0.2, top.CredibilityFactors[model.FactorContentDepth], 1e-9)
	assert.InDelta(t, 0.1, top.CredibilityFactors[model.FactorSourceType], 1e-9)
	assert.InDelta(t, 0.7, top.CredibilityScore, 1e-9)
	assert.InDelta(t, 0.7071, top.Relevance(), 1e-3)
	assert.NotEmpty(t, top.ID)
	assert.Equal(t, "mit.edu", top.Domain)
}

func TestCurate_MaxSources(t *testing.T) {
	pages := []fetch.Page{
		page("https://a.example/1", "dup a", "h1", 1000),
		page("https://b.example/2", "other b", "h2", 1000),
	}
	opts := DefaultOptions()
	opts.MaxSources = 1

	res, err := NewCurator(prefixEmbedder{}, nil, nil).Curate(context.Background(), pages, "query", opts)
	require.NoError(t, err)
	assert.Len(t, res.Sources, 1)
	assert.Equal(t, 0, res.LowQualityRemoved)
}

func TestCurate_EmbedError(t *testing.T) {
	pages := []fetch.Page{
		page("https://a.example/1", "dup a", "h1", 100),
		page("https://b.example/2", "other b", "h2", 100),
	}
	boom := errors.New("embedder down")

	_, err := NewCurator(prefixEmbedder{err: boom}, nil, nil).Curate(context.Background(), pages, "query", DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "curate: embed")
}

func TestCurate_Empty(t *testing.T) {
	res, err := NewCurator(prefixEmbedder{}, nil, nil).Curate(context.Background(), nil, "query", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Sources)
}

func TestCurate_ClassifiesEvidence(t *testing.T) {
	p := page("https://journal.example/x", "other trial", "h1", 50)
	p.Text = "A randomized controlled trial of 400 participants."
	opts := DefaultOptions()
	opts.ClassifyEvidence = true

	res, err := NewCurator(prefixEmbedder{}, nil, nil).Curate(context.Background(), []fetch.Page{p}, "query", opts)
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	require.NotNil(t, res.Sources[0].EvidenceLevel)
	assert.Equal(t, model.EvidenceRCT, *res.Sources[0].EvidenceLevel)
	assert.True(t, res.Sources[0].HasMethodology)
}

func TestAuthorityScorer(t *testing.T) {
	a := NewAuthorityScorer(nil, nil)

	tests := []struct {
		domain string
		want   float64
	}{
		{"web.mit.edu", AuthorityTop},
		{"en.wikipedia.org", AuthorityTop},
		{"www.cdc.gov", AuthorityTop},
		{"www.reuters.com", AuthorityTrusted},
		{"www.nature.com", AuthorityTrusted},
		{"someone.blogspot.com", AuthorityLowQuality},
		{"medium.com", AuthorityLowQuality},
		{"example.com", AuthorityDefault},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			if got := a.Score(tt.domain); got != tt.want {
				t.Errorf("Score(%q) = %v, want %v", tt.domain, got, tt.want)
			}
		})
	}
}

func TestAuthorityScorer_CustomLists(t *testing.T) {
	a := NewAuthorityScorer([]string{"internal.example"}, []string{"spam"})
	assert.Equal(t, AuthorityTrusted, a.Score("docs.internal.example"))
	assert.Equal(t, AuthorityLowQuality, a.Score("spam.net"))
	assert.Equal(t, AuthorityDefault, a.Score("mit.edu"))
}

// wordEmbedder gives each distinct leading word its own axis, so no two
// titled sources are semantic duplicates
type wordEmbedder struct{}

func (wordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	axes := map[string]int{"query": 0, "alpha": 1, "beta": 2, "gamma": 3}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 4)
		word, _, _ := strings.Cut(t, " ")
		v[axes[word]] = 1
		out[i] = v
	}
	return out, nil
}

func TestCurate_CredibilityBreakdown(t *testing.T) {
	tests := []struct {
		name       string
		page       fetch.Page
		words      int
		sourceType model.SourceType
		authority  float64
		signals    float64
		depth      float64
		typeBonus  float64
		score      float64
	}{
		{
			name: "academic with citations and methodology",
			page: fetch.Page{
				URL:   "https://www.harvard.edu/research/trial",
				Title: "alpha trial",
				Text:  "Smith et al. (2021) describe the methodology and participants. " + strings.Repeat("word ", 2500),
			},
			words:      2500,
			sourceType: model.SourceAcademic,
			authority:  0.4, signals: 0.3, depth: 0.2, typeBonus: 0.1,
			score: 1.0,
		},
		{
			name: "trusted news with citations",
			page: fetch.Page{
				URL:   "https://www.reuters.com/world/report",
				Title: "beta report",
				Text:  "Officials confirmed the figures [1]. " + strings.Repeat("word ", 1000),
			},
			words:      1000,
			sourceType: model.SourceNews,
			authority:  0.35, signals: 0.15, depth: 0.1, typeBonus: 0.05,
			score: 0.65,
		},
		{
			name: "low quality blog",
			page: fetch.Page{
				URL:   "https://medium.com/@someone/post",
				Title: "gamma post",
				Text:  "Just my thoughts. " + strings.Repeat("word ", 500),
			},
			words:      500,
			sourceType: model.SourceBlog,
			authority:  0.1, signals: 0, depth: 0.05, typeBonus: 0,
			score: 0.15,
		},
	}

	var pages []fetch.Page
	for i, tt := range tests {
		p := tt.page
		p.Success = true
		p.ContentHash = fmt.Sprintf("h%d", i)
		p.WordCount = tt.words
		pages = append(pages, p)
	}

	opts := DefaultOptions()
	opts.MinCredibility, opts.MinRelevance = 0, 0

	c := NewCurator(wordEmbedder{}, nil, nil)
	res, err := c.Curate(context.Background(), pages, "query", opts)
	require.NoError(t, err)
	require.Len(t, res.Sources, len(tests))

	byURL := make(map[string]*model.Source)
	for _, s := range res.Sources {
		byURL[s.URL] = s
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := byURL[tt.page.URL]
			require.NotNil(t, s)

			assert.Equal(t, tt.sourceType, s.SourceType)
			assert.InDelta(t, tt.authority, s.CredibilityFactors[model.FactorDomainAuthority], 1e-9)
			assert.InDelta(t, tt.signals, s.CredibilityFactors[model.FactorContentSignals], 1e-9)
			assert.InDelta(t, tt.depth, s.CredibilityFactors[model.FactorContentDepth], 1e-9)
			assert.InDelta(t, tt.typeBonus, s.CredibilityFactors[model.FactorSourceType], 1e-9)
			assert.InDelta(t, tt.score, s.CredibilityScore, 1e-9)
		})
	}

	// The score is always the clipped sum of its breakdown
	for _, s := range res.Sources {
		sum := 0.0
		for name, v := range s.CredibilityFactors {
			if name != model.FactorRelevance {
				sum += v
			}
		}
		assert.InDelta(t, min(sum, 1), s.CredibilityScore, 1e-9, s.URL)
		assert.LessOrEqual(t, s.CredibilityScore, 1.0, s.URL)
	}
}
