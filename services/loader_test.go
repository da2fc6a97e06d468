package services

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"docuchat-backend/models"
)

// buildPDF assembles a minimal valid PDF with one Helvetica text line per
// page. Object offsets are computed while writing so the xref table is
// always consistent.
func buildPDF(t *testing.T, pages []string) []byte {
	t.Helper()

	n := len(pages)
	fontObj := 3 + 2*n

	var buf bytes.Buffer
	offsets := make([]int, fontObj+1)

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	buf.WriteString("%PDF-1.4\n")

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))

	for i := range pages {
		writeObj(3+i, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			fontObj, 3+n+i))
	}

	escaper := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	for i, text := range pages {
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escaper.Replace(text))
		writeObj(3+n+i, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	writeObj(fontObj, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", fontObj+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= fontObj; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", fontObj+1, xrefOffset)

	return buf.Bytes()
}

func TestLoaderRejectsGarbage(t *testing.T) {
	dl := NewDocumentLoader()

	inputs := map[string][]byte{
		"empty":          {},
		"plain text":     []byte("this is not a pdf at all"),
		"truncated":      []byte("%PDF-1.7\n"),
		"binary garbage": {0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE},
	}

	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := dl.Load(data)
			if !errors.Is(err, models.ErrUnreadablePDF) {
				t.Errorf("expected ErrUnreadablePDF, got %v", err)
			}
		})
	}
}

func TestLoaderExtractsPages(t *testing.T) {
	dl := NewDocumentLoader()

	data := buildPDF(t, []string{
		"intro: this study surveys prior work on document retrieval",
		"methods: we used a randomized controlled trial with two cohorts",
		"results: the treatment group improved by a wide margin",
	})

	pages, err := dl.Load(data)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}

	for i, p := range pages {
		if p.PageNumber != i+1 {
			t.Errorf("page %d has number %d", i, p.PageNumber)
		}
		if strings.TrimSpace(p.Text) == "" {
			t.Errorf("page %d extracted no text", i+1)
		}
	}

	if !strings.Contains(pages[1].Text, "randomized controlled trial") {
		t.Errorf("page 2 text lost content: %q", pages[1].Text)
	}
	if strings.Contains(pages[0].Text, "treatment group") {
		t.Errorf("page 1 contains page 3 content: %q", pages[0].Text)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a  b   c", "a b c"},
		{"  leading and trailing  ", "leading and trailing"},
		{"line one\n\n\nline two", "line one\nline two"},
		{"", ""},
		{"   \n   ", ""},
	}

	for _, tt := range tests {
		if got := normalizeWhitespace(tt.in); got != tt.want {
			t.Errorf("normalizeWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
