package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"docuchat-backend/internal/config"
	"docuchat-backend/internal/logger"
)

// OllamaClient talks to a local Ollama daemon for both embeddings and text
// generation. Calls are bounded by the configured timeouts, paced by a rate
// limiter and guarded by a circuit breaker so a wedged daemon cannot stall
// unrelated sessions.
type OllamaClient struct {
	baseURL       string
	embedModel    string
	generateModel string

	embedTimeout    time.Duration
	generateTimeout time.Duration

	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

func NewOllamaClient(cfg *config.Config) *OllamaClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "OllamaAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &OllamaClient{
		baseURL:         strings.TrimRight(cfg.OllamaURL, "/"),
		embedModel:      cfg.OllamaEmbedModel,
		generateModel:   cfg.OllamaGenerateModel,
		embedTimeout:    cfg.EmbedTimeout,
		generateTimeout: cfg.GenerateTimeout,
		httpClient:      &http.Client{},
		breaker:         breaker,
		rateLimiter:     rate.NewLimiter(rate.Limit(10), 5),
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns one vector per input text. The Ollama embeddings endpoint
// takes a single prompt, so inputs are sent sequentially under the same
// breaker and limiter.
func (oc *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	tracer := otel.Tracer("ollama-client")
	ctx, span := tracer.Start(ctx, "ollama.embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("ollama.model", oc.embedModel),
		attribute.Int("ollama.batch_size", len(texts)),
	)

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var resp embedResponse
		err := oc.do(ctx, oc.embedTimeout, "/api/embeddings", embedRequest{
			Model:  oc.embedModel,
			Prompt: text,
		}, &resp)
		if err != nil {
			span.SetAttributes(attribute.Bool("ollama.error", true))
			return nil, err
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("embedding backend returned no vector for model %s", oc.embedModel)
		}
		vectors = append(vectors, resp.Embedding)
	}

	return vectors, nil
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Complete runs a single non-streaming completion.
func (oc *OllamaClient) Complete(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	tracer := otel.Tracer("ollama-client")
	ctx, span := tracer.Start(ctx, "ollama.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("ollama.model", oc.generateModel),
		attribute.Int("ollama.prompt_chars", len(prompt)),
	)

	options := map[string]interface{}{}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}

	var resp generateResponse
	err := oc.do(ctx, oc.generateTimeout, "/api/generate", generateRequest{
		Model:   oc.generateModel,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	}, &resp)
	if err != nil {
		span.SetAttributes(attribute.Bool("ollama.error", true))
		return "", err
	}
	if resp.Response == "" {
		return "", fmt.Errorf("generation backend returned empty response for model %s", oc.generateModel)
	}

	span.SetAttributes(attribute.Int("ollama.response_chars", len(resp.Response)))
	return resp.Response, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Health verifies the daemon is reachable and both configured models are
// pulled. Used by the /health endpoint.
func (oc *OllamaClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, oc.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	httpResp, err := oc.httpClient.Do(req)
	if err != nil {
		return classify(fmt.Errorf("ollama unreachable: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama /api/tags returned status %d", httpResp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to decode ollama tags: %w", err)
	}

	for _, want := range []string{oc.embedModel, oc.generateModel} {
		found := false
		for _, m := range tags.Models {
			if strings.Contains(m.Name, strings.SplitN(want, ":", 2)[0]) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("model %q not available - run 'ollama pull %s'", want, want)
		}
	}

	return nil
}

// do posts a JSON payload under the breaker, limiter and per-call timeout,
// then decodes the response into out.
func (oc *OllamaClient) do(ctx context.Context, timeout time.Duration, path string, payload, out interface{}) error {
	if err := oc.rateLimiter.Wait(ctx); err != nil {
		return classify(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = oc.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, oc.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := oc.httpClient.Do(req)
		if err != nil {
			return nil, classify(err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
			err := fmt.Errorf("ollama %s returned status %d: %s", path, httpResp.StatusCode, strings.TrimSpace(string(msg)))
			if httpResp.StatusCode >= 500 {
				return nil, &TransientError{Err: err}
			}
			return nil, err
		}

		if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode ollama response: %w", err)
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransientError{Err: err}
	}
	return err
}

// classify wraps timeout/connection-class failures as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout(),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF):
		return &TransientError{Err: err}
	}
	return err
}
