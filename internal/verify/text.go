package verify

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var keywordPattern = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "must": true, "can": true,
	"this": true, "that": true, "these": true, "those": true,
}

// Keywords returns the lowercased words of three or more letters in text,
// in order, with stopwords removed
func Keywords(text string) []string {
	var out []string
	for _, w := range keywordPattern.FindAllString(strings.ToLower(text), -1) {
		if !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

// folded is a text with a rune-aligned lowercase copy, so match positions in
// the lowercase form index the original directly
type folded struct {
	orig  []rune
	lower []rune
	str   string
}

func fold(text string) folded {
	orig := []rune(text)
	lower := make([]rune, len(orig))
	for i, r := range orig {
		lower[i] = unicode.ToLower(r)
	}
	return folded{orig: orig, lower: lower, str: string(lower)}
}

// index returns the rune offset of the first occurrence of needle (already
// lowercase), or -1
func (f folded) index(needle string) int {
	bi := strings.Index(f.str, needle)
	if bi < 0 {
		return -1
	}
	return utf8.RuneCountInString(f.str[:bi])
}

// excerpt returns orig[start:end] with "..." marking truncated ends
func (f folded) excerpt(start, end int) string {
	start = max(0, start)
	end = min(len(f.orig), end)
	if start >= end {
		return ""
	}
	out := string(f.orig[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(f.orig) {
		out += "..."
	}
	return out
}

// checkProximity reports whether at least 70% of words occur in the text
// with their first occurrences spanning at most window*len(words) runes
func checkProximity(words []string, f folded, window int) bool {
	var positions []int
	for _, w := range words {
		if idx := f.index(w); idx >= 0 {
			positions = append(positions, idx)
		}
	}

	need := int(math.Ceil(float64(len(words)) * 0.7))
	if need == 0 || len(positions) < need {
		return false
	}

	sort.Ints(positions)
	span := window * len(words)
	for i := 0; i+need-1 < len(positions); i++ {
		if positions[i+need-1]-positions[i] <= span {
			return true
		}
	}
	return false
}

// bestExcerpt scans 200-rune windows in 50-rune steps, picks the one
// containing the most keywords and returns it with 200/400 runes of context
func bestExcerpt(words []string, f folded, context int) string {
	bestPos, bestCount := 0, 0
	for i := 0; i < len(f.lower)-100; i += 50 {
		window := string(f.lower[i:min(len(f.lower), i+200)])
		count := 0
		for _, w := range words {
			if strings.Contains(window, w) {
				count++
			}
		}
		if count > bestCount {
			bestCount, bestPos = count, i
		}
	}
	return f.excerpt(bestPos-context, bestPos+context*2)
}

var sentenceDelims = []string{". ", "! ", "? ", "\n\n"}

// chunkText splits text into overlapping chunks of about size runes,
// preferring to end a chunk at a sentence boundary past its midpoint
func chunkText(text string, size, overlap int) []string {
	runes := []rune(text)
	var chunks []string

	start := 0
	for start < len(runes) {
		end := min(start+size, len(runes))
		chunk := string(runes[start:end])

		if start+size < len(runes) {
			for _, d := range sentenceDelims {
				cut := strings.LastIndex(chunk, d)
				if cut < 0 {
					continue
				}
				cutRunes := utf8.RuneCountInString(chunk[:cut])
				if float64(cutRunes) > float64(size)*0.5 {
					chunk = chunk[:cut+len(d)]
					end = start + utf8.RuneCountInString(chunk)
					break
				}
			}
		} else {
			end = start + size
		}

		if c := strings.TrimSpace(chunk); c != "" {
			chunks = append(chunks, c)
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}
