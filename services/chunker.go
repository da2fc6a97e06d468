package services

import (
	"fmt"
	"strings"

	"docuchat-backend/models"
)

// Chunker splits page text into overlapping windows measured in runes.
// Successive chunks from the same page share exactly `overlap` runes, so the
// original page text can be reconstructed by concatenating the chunks and
// dropping each repeated prefix. Chunks never span a page boundary.
type Chunker struct {
	chunkSize int
	overlap   int
}

// NewChunker validates the window geometry. Overlap must leave forward
// progress, otherwise chunking would loop forever.
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInvalidChunkConfig, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", models.ErrInvalidChunkConfig, overlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Split produces ordered chunk drafts for every non-empty page. Sequence
// indexes are global across the document and follow page order.
func (c *Chunker) Split(pages []models.PageText) []models.ChunkDraft {
	var drafts []models.ChunkDraft
	seq := 0

	for _, page := range pages {
		text := strings.TrimSpace(page.Text)
		if text == "" {
			continue
		}
		for _, chunk := range c.splitPage(text) {
			drafts = append(drafts, models.ChunkDraft{
				PageNumber:    page.PageNumber,
				SequenceIndex: seq,
				Text:          chunk,
			})
			seq++
		}
	}

	return drafts
}

// splitPage cuts one page into rune windows. Each cut point prefers a
// sentence terminator inside the window so chunks tend to end on complete
// sentences, falling back to a hard cut at chunkSize.
func (c *Chunker) splitPage(text string) []string {
	runes := []rune(text)
	n := len(runes)

	if n <= c.chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + c.chunkSize
		if end >= n {
			chunks = append(chunks, string(runes[start:n]))
			break
		}

		if cut := c.sentenceCut(runes, start, end); cut > 0 {
			end = cut
		}

		chunks = append(chunks, string(runes[start:end]))
		start = end - c.overlap
	}

	return chunks
}

// sentenceCut scans backwards from the window end for a sentence terminator.
// Only cuts past start+overlap are eligible, which keeps every step moving
// forward. Returns 0 when no terminator qualifies.
func (c *Chunker) sentenceCut(runes []rune, start, end int) int {
	floor := start + c.overlap
	for i := end - 1; i > floor; i-- {
		switch runes[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return 0
}
