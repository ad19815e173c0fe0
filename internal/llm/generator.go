package llm

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/noah-isme/homegroup-report-api/internal/models"
	"github.com/noah-isme/homegroup-report-api/pkg/config"
	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
)

type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Generator produces one narrative report per student record via the
// Anthropic Messages API. Calls are network bound; the configured timeout
// bounds each request.
type Generator struct {
	messages    messagesAPI
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewGenerator constructs a generator backed by the real Anthropic client.
func NewGenerator(cfg config.AnthropicConfig, logger *zap.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, appErrors.Clone(appErrors.ErrGeneration, "ANTHROPIC_API_KEY is not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return newGenerator(&client.Messages, cfg, logger), nil
}

func newGenerator(messages messagesAPI, cfg config.AnthropicConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-opus-20240229"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Generator{
		messages:    messages,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		logger:      logger,
	}
}

// Generate renders the prompt for one student and asks the model for the
// narrative. Failures are reported, never retried here.
func (g *Generator) Generate(ctx context.Context, record models.StudentRecord) (string, error) {
	prompt, err := RenderPrompt(record)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(g.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if g.temperature > 0 {
		params.Temperature = anthropic.Float(g.temperature)
	}

	start := time.Now()
	resp, err := g.messages.New(callCtx, params)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrGeneration.Code, appErrors.ErrGeneration.Status,
			"report generation failed for "+record.StudentName)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", appErrors.Clone(appErrors.ErrGeneration, "model returned an empty response for "+record.StudentName)
	}

	g.logger.Sugar().Debugw("narrative generated",
		"student", record.StudentName,
		"length", sb.Len(),
		"duration", time.Since(start),
	)
	return sb.String(), nil
}
