package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"docuchat-backend/internal/config"
	"docuchat-backend/internal/logger"
)

// GoogleClient backs both interfaces with the Gemini API. Used when
// AI_PROVIDER=google; the default deployment runs against local Ollama.
type GoogleClient struct {
	client          *genai.Client
	embeddingModel  string
	generationModel string
}

func NewGoogleClient(ctx context.Context, cfg *config.Config) (*GoogleClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger.Info("Gemini client initialized",
		"embedding_model", cfg.GoogleEmbeddingsModel,
		"generation_model", cfg.GoogleGenerationModel)

	return &GoogleClient{
		client:          client,
		embeddingModel:  cfg.GoogleEmbeddingsModel,
		generationModel: cfg.GoogleGenerationModel,
	}, nil
}

func (gc *GoogleClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	em := gc.client.EmbeddingModel(gc.embeddingModel)

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		resp, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, fmt.Errorf("gemini embedding failed: %w", err)
		}
		if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return nil, fmt.Errorf("gemini returned no embedding for model %s", gc.embeddingModel)
		}
		vectors = append(vectors, resp.Embedding.Values)
	}

	return vectors, nil
}

func (gc *GoogleClient) Complete(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	model := gc.client.GenerativeModel(gc.generationModel)
	if opts.Temperature > 0 {
		model.SetTemperature(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates for model %s", gc.generationModel)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned empty response for model %s", gc.generationModel)
	}

	return sb.String(), nil
}

// Health issues a minimal embedding call to verify API key and connectivity.
func (gc *GoogleClient) Health(ctx context.Context) error {
	_, err := gc.client.EmbeddingModel(gc.embeddingModel).EmbedContent(ctx, genai.Text("ping"))
	if err != nil {
		return fmt.Errorf("gemini unreachable: %w", err)
	}
	return nil
}

func (gc *GoogleClient) Close() error {
	return gc.client.Close()
}
