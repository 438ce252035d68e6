package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"phonescreen-console/internal/calls"
	"phonescreen-console/internal/metrics"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultModel       = "gpt-4"
	defaultTemperature = 0.7

	systemInstruction = "You are a helpful assistant that summarizes technical recruiter phone screens. Provide a concise summary of the candidate's background, key technical skills mentioned, and overall communication style. Highlight any red flags or strong positives."
	userPreamble      = "Here is the transcript of the call:\n\n"
)

// chatCompleter is the slice of *openai.Client the generator needs.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the OpenAI endpoint, e.g. for a compatible gateway.
	BaseURL string
	Timeout time.Duration
}

// Generator turns a call transcript into a short recruiter-facing summary.
// It keeps no state between calls.
type Generator struct {
	client  chatCompleter
	model   string
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewGenerator builds a generator. An empty API key is accepted; Summarize
// then fails with calls.ErrConfiguration.
func NewGenerator(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		model:   strings.TrimSpace(cfg.Model),
		timeout: cfg.Timeout,
		logger:  logger.With("component", "summary"),
		metrics: m,
	}
	if g.model == "" {
		g.model = defaultModel
	}
	if strings.TrimSpace(cfg.APIKey) != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
		}
		g.client = openai.NewClientWithConfig(clientConfig)
	}
	return g
}

// Summarize returns the generated summary. No partial result is ever returned.
func (g *Generator) Summarize(ctx context.Context, t Transcript) (string, error) {
	if t.IsEmpty() {
		return "", fmt.Errorf("%w: Transcript is required", calls.ErrValidation)
	}
	if g.client == nil {
		return "", fmt.Errorf("%w: OpenAI API key not configured", calls.ErrConfiguration)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: userPreamble + t.Flatten()},
		},
		Temperature: defaultTemperature,
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		g.observe("error", start)
		g.logger.Error("summary generation failed", "model", g.model, "err", err)
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: Failed to generate summary: %s", calls.ErrGeneration, apiErr.Message)
		}
		return "", fmt.Errorf("%w: Failed to generate summary: %v", calls.ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		g.observe("empty", start)
		return "", fmt.Errorf("%w: Failed to generate summary: no choices returned", calls.ErrGeneration)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		g.observe("empty", start)
		return "", fmt.Errorf("%w: Failed to generate summary: empty content", calls.ErrGeneration)
	}

	g.observe("ok", start)
	g.logger.Info("summary generated", "model", g.model, "chars", len(content), "tokens", resp.Usage.TotalTokens)
	return content, nil
}

func (g *Generator) observe(status string, start time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.SummaryRequests.WithLabelValues(status).Inc()
	g.metrics.SummaryLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if status != "ok" {
		g.metrics.Errors.WithLabelValues("summary").Inc()
	}
}
