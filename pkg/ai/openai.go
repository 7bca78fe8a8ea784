package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sqlp",
		Subsystem: "ai",
		Name:      "explanation_duration_seconds",
		Help:      "Duration of AI explanation requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sqlp",
		Subsystem: "ai",
		Name:      "explanation_failures_total",
		Help:      "Number of AI explanation failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI explainer.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIExplainer implements Explainer against the chat completion API.
type OpenAIExplainer struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIExplainer builds an explainer from cfg.
func NewOpenAIExplainer(cfg OpenAIConfig) (*OpenAIExplainer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 300
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIExplainer{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/sqlpractice-api/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_explainer").Logger(),
	}, nil
}

// Explain asks the model for a JSON explanation of the failure.
func (e *OpenAIExplainer) Explain(parent context.Context, input ExplanationInput) (Explanation, error) {
	ctx, span := e.tracer.Start(parent, "openai.explain", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
		attribute.String("sql.error_code", input.ErrorCode),
	))
	defer span.End()

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: explainerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(input)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	aiDuration.WithLabelValues(e.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return Explanation{}, e.fail(span, fmt.Errorf("openai explain: %w", err))
	}
	if len(resp.Choices) == 0 {
		return Explanation{}, e.fail(span, fmt.Errorf("no choices returned from openai"))
	}

	explanation, err := parseExplanation(resp.Choices[0].Message.Content)
	if err != nil {
		return Explanation{}, e.fail(span, err)
	}
	return explanation, nil
}

func (e *OpenAIExplainer) fail(span trace.Span, err error) error {
	aiFailures.WithLabelValues(e.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Debug().Err(err).Msg("explanation request failed")
	return err
}

const explainerSystemPrompt = "You help students learning SQL. Explain why the query failed in at most three sentences " +
	"without writing the full solution. Respond with a JSON object with the string fields summary and fix."

func buildUserPrompt(input ExplanationInput) string {
	var b strings.Builder
	if input.ProblemTitle != "" {
		b.WriteString("# Problem\n")
		b.WriteString(input.ProblemTitle)
		b.WriteString("\n\n")
	}
	b.WriteString("## Dialect\n")
	b.WriteString(input.Dialect)
	b.WriteString("\n\n## Query\n")
	b.WriteString(input.Query)
	b.WriteString("\n\n## Error\n")
	b.WriteString(input.ErrorMessage)
	if input.ErrorCode != "" {
		b.WriteString(" (")
		b.WriteString(input.ErrorCode)
		b.WriteString(")")
	}
	if len(input.Tables) > 0 {
		b.WriteString("\n\n## Tables\n")
		names := make([]string, 0, len(input.Tables))
		for name := range input.Tables {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString("- ")
			b.WriteString(name)
			b.WriteString("(")
			b.WriteString(strings.Join(input.Tables[name], ", "))
			b.WriteString(")\n")
		}
	}
	b.WriteString("\nReturn JSON.")
	return b.String()
}

func parseExplanation(content string) (Explanation, error) {
	var explanation Explanation
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &explanation); err != nil {
		return Explanation{}, fmt.Errorf("parse explanation json: %w", err)
	}
	explanation.Summary = strings.TrimSpace(explanation.Summary)
	explanation.Fix = strings.TrimSpace(explanation.Fix)
	if explanation.Summary == "" {
		return Explanation{}, fmt.Errorf("explanation summary empty")
	}
	return explanation, nil
}
