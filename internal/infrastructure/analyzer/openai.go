// Package analyzer produces downtime verdicts, either from an LLM behind an
// OpenAI-compatible chat API or from local keyword rules.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/pkg/tracing"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatClient is the part of the go-openai client the analyzer uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type OpenAIOptions struct {
	APIKey      string
	BaseURL     string // e.g. Gemini's OpenAI-compatible endpoint
	Model       string
	Temperature float32
	MaxTokens   int
	MaxHistory  int
}

// OpenAIAnalyzer asks a chat model for a verdict.
type OpenAIAnalyzer struct {
	client ChatClient
	opts   OpenAIOptions
	logger *zap.SugaredLogger
}

// NewOpenAIAnalyzer builds a client for opts.BaseURL, or the OpenAI API when empty.
func NewOpenAIAnalyzer(opts OpenAIOptions, logger *zap.SugaredLogger) (*OpenAIAnalyzer, error) {
	if opts.APIKey == "" {
		return nil, errors.New("analyzer api key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("analyzer model is required")
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	return NewOpenAIAnalyzerWithClient(openai.NewClientWithConfig(cfg), opts, logger), nil
}

func NewOpenAIAnalyzerWithClient(client ChatClient, opts OpenAIOptions, logger *zap.SugaredLogger) *OpenAIAnalyzer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 20
	}
	return &OpenAIAnalyzer{client: client, opts: opts, logger: logger}
}

// Analyze returns the model's verdict for event. Transport failures and
// unparsable replies are reported as domain.ErrAnalyzer.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, event *domain.Downtime, history []*domain.Downtime) (*domain.Verdict, error) {
	ctx, span := tracing.TraceAnalyzerCall(ctx, "openai", "analyze")
	defer span.End()

	raw, err := a.complete(ctx, systemPrompt, buildAnalysisPrompt(event, history, a.opts.MaxHistory))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	verdict, err := ParseVerdict(raw)
	if err != nil {
		a.logger.Warnw("analyzer returned unparsable output", "machine_id", event.MachineID, "raw", truncate(raw, 500))
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("%w: %v", domain.ErrAnalyzer, err)
	}
	return verdict, nil
}

// Summarize returns a plain-text narrative for an aggregated report.
func (a *OpenAIAnalyzer) Summarize(ctx context.Context, summary string) (string, error) {
	ctx, span := tracing.TraceAnalyzerCall(ctx, "openai", "summarize")
	defer span.End()

	raw, err := a.complete(ctx, "You are a concise manufacturing analyst.", buildSummaryPrompt(summary))
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

func (a *OpenAIAnalyzer) complete(ctx context.Context, system, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: a.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: a.opts.Temperature,
	}
	if a.opts.MaxTokens > 0 {
		req.MaxCompletionTokens = a.opts.MaxTokens
	}

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		a.logger.Warnw("analyzer call failed", "model", a.opts.Model, "error", err, "elapsed", time.Since(start))
		return "", fmt.Errorf("%w: %v", domain.ErrAnalyzer, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model returned no choices", domain.ErrAnalyzer)
	}

	a.logger.Debugw("analyzer call completed", "model", a.opts.Model, "finish_reason", resp.Choices[0].FinishReason, "elapsed", time.Since(start))
	return resp.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
