package ai

import (
	"context"
	"errors"
	"fmt"

	"docuchat-backend/internal/config"
)

// EmbeddingClient produces fixed-dimensionality vectors for texts. A backend
// that is unavailable must fail explicitly, never return empty or zero
// vectors.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerateOptions tunes a single completion call.
type GenerateOptions struct {
	MaxTokens   int     // caps response length; 0 means provider default
	Temperature float64 // sampling randomness
}

// GenerationClient is the black-box text-completion backend.
type GenerationClient interface {
	Complete(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// TransientError marks a dependency failure of the timeout/connection class.
// The orchestrator retries these exactly once; everything else is persistent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// NewClients builds the embedding and generation clients for the configured
// provider. With Ollama one client serves both roles.
func NewClients(cfg *config.Config) (EmbeddingClient, GenerationClient, error) {
	switch cfg.AIProvider {
	case "ollama", "":
		c := NewOllamaClient(cfg)
		return c, c, nil

	case "google":
		c, err := NewGoogleClient(context.Background(), cfg)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	default:
		return nil, nil, fmt.Errorf("unknown AI provider: %s", cfg.AIProvider)
	}
}
