// Package analyst wraps the reasoning service. The model's judgement is
// whatever it is; what this package guarantees is the contract around it: a
// bounded deterministic prompt, strict validation of the returned payload,
// and a typed error after bounded retries instead of a crash.
package analyst

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"forum-alpha/internal/domain"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LLMClient abstracts the OpenAI chat completions API for testability.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

const defaultMaxAttempts = 2

type Analyst struct {
	tracer      trace.Tracer
	llm         LLMClient
	model       string
	maxAttempts int
	promptChars int
}

func New(tracer trace.Tracer, llm LLMClient, model string, maxPromptChars int) *Analyst {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	if maxPromptChars <= 0 {
		maxPromptChars = defaultMaxPromptChars
	}
	return &Analyst{
		tracer:      tracer,
		llm:         llm,
		model:       model,
		maxAttempts: defaultMaxAttempts,
		promptChars: maxPromptChars,
	}
}

// Analyze sends the market context plus corpus to the reasoning service and
// returns a schema-valid result, or a typed error the orchestrator can turn
// into a per-market skip. The prompt is built once; retries resend the same
// payload.
func (a *Analyst) Analyze(ctx context.Context, market domain.MarketListing, corpus domain.Corpus) (domain.AnalysisResult, error) {
	ctx, span := a.tracer.Start(ctx, "analyst.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("market.ticker", market.Ticker),
		attribute.Int("corpus.threads", len(corpus.Threads)),
	)

	systemPrompt := BuildSystemPrompt(market, FormatCorpus(corpus, a.promptChars))
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage("Analyze the above and respond with the required JSON only."),
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		completion, err := a.llm.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
			Model:    a.model,
			Messages: messages,
		})
		if err != nil {
			lastErr = &domain.TransportError{Collaborator: "openai", Op: "chat-completion", Err: err}
			log.Printf("analyst attempt %d/%d for %s failed: %v", attempt, a.maxAttempts, market.Ticker, err)
			continue
		}
		if len(completion.Choices) == 0 {
			lastErr = &domain.SchemaValidationError{Reason: "no choices in completion"}
			continue
		}

		raw := strings.TrimSpace(completion.Choices[0].Message.Content)
		result, err := parseResult(raw)
		if err != nil {
			lastErr = err
			log.Printf("analyst attempt %d/%d for %s returned invalid payload: %v", attempt, a.maxAttempts, market.Ticker, err)
			continue
		}
		return result, nil
	}

	span.SetAttributes(attribute.Bool("analyst.exhausted", true))
	return domain.AnalysisResult{}, lastErr
}

// parseResult enforces the response schema: probability and confidence in
// [0,1], recommendation in the fixed category set. Anything else becomes a
// SchemaValidationError, never a passed-through payload.
func parseResult(raw string) (domain.AnalysisResult, error) {
	raw = trimCodeFence(raw)
	if raw == "" {
		return domain.AnalysisResult{}, &domain.SchemaValidationError{Reason: "empty response"}
	}

	var payload struct {
		ImpliedProbability *float64 `json:"implied_probability"`
		ConfidenceScore    *float64 `json:"confidence_score"`
		KeySignals         []string `json:"key_signals"`
		ContrarianRisks    []string `json:"contrarian_risks"`
		Recommendation     string   `json:"recommendation"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return domain.AnalysisResult{}, &domain.SchemaValidationError{Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}

	if payload.ImpliedProbability == nil {
		return domain.AnalysisResult{}, &domain.SchemaValidationError{Field: "implied_probability", Reason: "missing"}
	}
	if *payload.ImpliedProbability < 0 || *payload.ImpliedProbability > 1 {
		return domain.AnalysisResult{}, &domain.SchemaValidationError{Field: "implied_probability", Reason: "outside [0,1]"}
	}
	if payload.ConfidenceScore == nil {
		return domain.AnalysisResult{}, &domain.SchemaValidationError{Field: "confidence_score", Reason: "missing"}
	}
	if *payload.ConfidenceScore < 0 || *payload.ConfidenceScore > 1 {
		return domain.AnalysisResult{}, &domain.SchemaValidationError{Field: "confidence_score", Reason: "outside [0,1]"}
	}

	recommendation := domain.Recommendation(strings.ToUpper(strings.TrimSpace(payload.Recommendation)))
	if !recommendation.IsValid() {
		return domain.AnalysisResult{}, &domain.SchemaValidationError{Field: "recommendation", Reason: "unknown category " + payload.Recommendation}
	}

	return domain.AnalysisResult{
		ImpliedProbability: *payload.ImpliedProbability,
		Confidence:         *payload.ConfidenceScore,
		KeySignals:         payload.KeySignals,
		ContrarianRisks:    payload.ContrarianRisks,
		Recommendation:     recommendation,
		RawResponse:        raw,
	}, nil
}

func trimCodeFence(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "```") {
		v = strings.TrimPrefix(v, "```")
		v = strings.TrimSpace(v)
		if strings.HasPrefix(strings.ToLower(v), "json") {
			v = strings.TrimSpace(v[4:])
		}
		v = strings.TrimSuffix(v, "```")
		v = strings.TrimSpace(v)
	}
	return v
}

// openaiClient wraps the official SDK's chat completions service.
type openaiClient struct {
	client openai.Client
}

func NewOpenAIClient(apiKey string) LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &openaiClient{client: client}
}

func (c *openaiClient) CreateChatCompletion(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
