package fetch

import (
	"strings"
	"testing"
)

func TestExtractContent(t *testing.T) {
	html := `<html><head><title> Main Title </title><style>.x{}</style></head>
<body>
<nav>Home | About</nav>
<header>Site header</header>
<h1>Heading</h1>
<p>First paragraph.</p>
<script>var x = 1;</script>
<div>Second  block</div>
<footer>Copyright</footer>
</body></html>`

	text, title := ExtractContent(html)
	if title != "Main Title" {
		t.Errorf("Expected title 'Main Title', got %q", title)
	}
	for _, banned := range []string{"Home", "Site header", "var x", "Copyright", ".x{}"} {
		if strings.Contains(text, banned) {
			t.Errorf("Expected %q to be stripped, got %q", banned, text)
		}
	}
	for _, want := range []string{"Heading", "First paragraph.", "Second"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in text, got %q", want, text)
		}
	}
}

func TestExtractContent_H1FallbackTitle(t *testing.T) {
	_, title := ExtractContent("<html><body><h1>Only <b>Heading</b></h1><p>x</p></body></html>")
	if title != "Only Heading" {
		t.Errorf("Expected 'Only Heading', got %q", title)
	}
}

func TestCleanText(t *testing.T) {
	got := CleanText("  alpha  beta \n\n   \n gamma ")
	if got != "alpha\nbeta\ngamma" {
		t.Errorf("Unexpected cleaned text %q", got)
	}
}

func TestCleanText_Truncates(t *testing.T) {
	got := CleanText(strings.Repeat("a", MaxTextLength+100))
	if !strings.HasSuffix(got, truncationMarker) {
		t.Fatalf("Expected truncation marker")
	}
	if len(got) != MaxTextLength+len(truncationMarker) {
		t.Errorf("Expected length %d, got %d", MaxTextLength+len(truncationMarker), len(got))
	}
}

func TestSubjectFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://en.wikipedia.org/wiki/Coffee_consumption", "Coffee consumption"},
		{"https://example.com/papers/sleep-study.pdf", "sleep study"},
		{"https://example.com/", "example.com"},
	}
	for _, tt := range tests {
		if got := SubjectFromURL(tt.url); got != tt.want {
			t.Errorf("SubjectFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestExtractPDF_Invalid(t *testing.T) {
	if _, err := ExtractPDF([]byte("not a pdf")); err == nil {
		t.Error("Expected error for invalid PDF")
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash("hello")
	if len(a) != 16 {
		t.Errorf("Expected 16 chars, got %d", len(a))
	}
	if a != ContentHash("hello") || a == ContentHash("world") {
		t.Error("Expected hash to be deterministic and content-sensitive")
	}
}
