package curate

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/verity/internal/model"
)

var citationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\(\d{4}\)`),
	regexp.MustCompile(`\[\d+\]`),
	regexp.MustCompile(`et al\.`),
	regexp.MustCompile(`doi:\s*10\.\d+`),
	regexp.MustCompile(`https?://doi\.org/`),
	regexp.MustCompile(`references?:`),
	regexp.MustCompile(`bibliography:`),
}

var methodologyTerms = []string{
	"methodology", "methods", "study design", "participants",
	"sample size", "inclusion criteria", "exclusion criteria",
	"randomized controlled trial", "rct", "cohort study",
	"statistical analysis", "p-value", "confidence interval",
}

// scholarlyHosts are link targets that count as a formal citation
var scholarlyHosts = []string{
	"doi.org", "pubmed.ncbi.nlm.nih.gov", "ncbi.nlm.nih.gov/pmc", "arxiv.org",
	"jstor.org", "scholar.google.", "semanticscholar.org", "openalex.org",
}

// DetectSourceType classifies a URL by its host, then by a .pdf path
func DetectSourceType(rawURL string) model.SourceType {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return model.SourceUnknown
	}
	domain := strings.ToLower(parsed.Host)

	switch {
	case containsAny(domain, ".edu", "arxiv.org", "pubmed", "doi.org", "scholar"):
		return model.SourceAcademic
	case containsAny(domain, "news", "reuters", "bloomberg", "nytimes", "bbc", "cnn", "guardian"):
		return model.SourceNews
	case containsAny(domain, "blog", "medium.com", "substack"):
		return model.SourceBlog
	case strings.HasSuffix(strings.ToLower(parsed.Path), ".pdf"):
		return model.SourcePDF
	}
	return model.SourceWebpage
}

// DetectCitations reports whether text carries academic citation markers
func DetectCitations(text string) bool {
	lower := strings.ToLower(text)
	for _, re := range citationPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// DetectMethodology reports whether text describes a study method
func DetectMethodology(text string) bool {
	lower := strings.ToLower(text)
	return containsAny(lower, methodologyTerms...)
}

// CitationLinks returns the distinct scholarly links in htmlContent,
// resolved against sourceURL
func CitationLinks(htmlContent, sourceURL string) []string {
	if htmlContent == "" {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				resolved := resolveURL(base, strings.TrimSpace(a.Val))
				if resolved != "" && !seen[resolved] && isScholarly(resolved) {
					seen[resolved] = true
					links = append(links, resolved)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

func isScholarly(link string) bool {
	return containsAny(strings.ToLower(link), scholarlyHosts...)
}

// resolveURL resolves href against base, keeping only http(s) targets
func resolveURL(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// evidenceMarkers are checked strongest first
var evidenceMarkers = []struct {
	level model.EvidenceLevel
	terms []string
}{
	{model.EvidenceSystematicReview, []string{"systematic review", "meta-analysis", "meta analysis", "cochrane"}},
	{model.EvidenceRCT, []string{"randomized controlled", "randomised controlled", "randomized trial", "randomised trial", "double-blind", "placebo-controlled"}},
	{model.EvidenceCohort, []string{"cohort study", "prospective study", "longitudinal study", "follow-up of"}},
	{model.EvidenceCaseControl, []string{"case-control", "case control", "matched controls"}},
	{model.EvidenceExpertOpinion, []string{"editorial", "opinion", "commentary", "expert consensus", "guideline"}},
}

// ClassifyEvidence tags text with the strongest study design it mentions
func ClassifyEvidence(text string) model.EvidenceLevel {
	lower := strings.ToLower(text)
	for _, m := range evidenceMarkers {
		if containsAny(lower, m.terms...) {
			return m.level
		}
	}
	return model.EvidenceUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
