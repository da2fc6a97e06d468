package utils

import (
	"strings"
	"testing"
)

func TestCompressionRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"short",
		strings.Repeat("a repetitive passage that compresses well. ", 50),
		"unicode content: héllo wörld 日本語テキスト",
	}

	for _, in := range inputs {
		compressed, _, err := CompressText(in)
		if err != nil {
			t.Fatalf("compress %q: %v", in, err)
		}
		out, err := DecompressText(compressed)
		if err != nil {
			t.Fatalf("decompress %q: %v", in, err)
		}
		if out != in {
			t.Errorf("round trip altered text: got %q want %q", out, in)
		}
	}
}

func TestCompressionRatioForRepetitiveText(t *testing.T) {
	_, ratio, err := CompressText(strings.Repeat("the same sentence over and over. ", 100))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if ratio >= 0.5 {
		t.Errorf("expected strong compression of repetitive text, ratio %f", ratio)
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	if _, err := DecompressText([]byte("not a gzip stream")); err == nil {
		t.Errorf("expected error for invalid stream")
	}
}
