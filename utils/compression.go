package utils

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// CompressText gzips chunk text for storage. Returns the compressed bytes
// and the achieved ratio; callers skip compression when the ratio is poor.
func CompressText(text string) ([]byte, float64, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, 0, err
	}
	if _, err := w.Write([]byte(text)); err != nil {
		return nil, 0, err
	}
	if err := w.Close(); err != nil {
		return nil, 0, err
	}

	ratio := 1.0
	if len(text) > 0 {
		ratio = float64(buf.Len()) / float64(len(text))
	}
	return buf.Bytes(), ratio, nil
}

// DecompressText reverses CompressText.
func DecompressText(data []byte) (string, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to decompress: %w", err)
	}
	return string(out), nil
}
