package services

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"docuchat-backend/internal/logger"
	"docuchat-backend/models"
)

// DocumentLoader extracts per-page text from PDF bytes. Page numbers are
// 1-based and preserved through chunking so answers can cite them.
type DocumentLoader struct{}

func NewDocumentLoader() *DocumentLoader {
	return &DocumentLoader{}
}

// Load parses the document and returns its pages in order. A file that
// cannot be parsed, is encrypted, or yields no extractable text at all is
// rejected with ErrUnreadablePDF; a per-page extraction failure is an error
// too, never a silently dropped page.
func (dl *DocumentLoader) Load(data []byte) (pages []models.PageText, err error) {
	// The parser panics on some malformed files instead of returning an
	// error, so contain that here.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pdf parser panic", "panic", r)
			pages = nil
			err = fmt.Errorf("%w: parser failure: %v", models.ErrUnreadablePDF, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnreadablePDF, err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("%w: document has no pages", models.ErrUnreadablePDF)
	}

	pages = make([]models.PageText, 0, numPages)
	hasText := false

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			return nil, fmt.Errorf("%w: page %d is unreadable", models.ErrUnreadablePDF, i)
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to extract page %d: %v", models.ErrUnreadablePDF, i, err)
		}

		text = normalizeWhitespace(text)
		if text != "" {
			hasText = true
		}

		pages = append(pages, models.PageText{
			PageNumber: i,
			Text:       text,
		})
	}

	if !hasText {
		return nil, fmt.Errorf("%w: no extractable text (scanned or image-only document)", models.ErrUnreadablePDF)
	}

	logger.Debug("pdf loaded", "pages", numPages)
	return pages, nil
}

// normalizeWhitespace collapses runs of spaces and trims each line, keeping
// line structure so sentence boundaries survive for the chunker.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
