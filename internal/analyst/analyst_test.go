package analyst

import (
	"context"
	"errors"
	"strings"
	"testing"

	"forum-alpha/internal/domain"

	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/trace"
)

const validPayload = `{
	"implied_probability": 0.72,
	"confidence_score": 0.85,
	"key_signals": ["court filing cited in r/law", "legislative tracker ahead of schedule"],
	"contrarian_risks": ["thread consensus is purely emotional"],
	"recommendation": "BUY_YES"
}`

func testMarket() domain.MarketListing {
	return domain.MarketListing{
		Ticker:      "FEDCUT-26",
		Title:       "Will the Fed cut rates in September?",
		Description: "Resolves YES if the target rate is lowered.",
		YesPrice:    0.55,
	}
}

func testCorpus() domain.Corpus {
	return domain.Corpus{
		Ticker:      "FEDCUT-26",
		Communities: []string{"economics"},
		Threads: []domain.ForumThread{
			{Community: "economics", ID: "t1", Title: "CPI print", Body: "Inflation cooling fast"},
		},
	}
}

func newAnalyst(llm LLMClient) *Analyst {
	return New(trace.NewNoopTracerProvider().Tracer("test"), llm, "gpt-4o-mini", 0)
}

func TestAnalyzeHappyPath(t *testing.T) {
	llm := &llmStub{responses: []string{validPayload}}
	a := newAnalyst(llm)

	result, err := a.Analyze(context.Background(), testMarket(), testCorpus())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ImpliedProbability != 0.72 || result.Confidence != 0.85 {
		t.Fatalf("unexpected scores: %+v", result)
	}
	if result.Recommendation != domain.RecommendBuyYes {
		t.Fatalf("expected BUY_YES, got %s", result.Recommendation)
	}
	if len(result.KeySignals) != 2 || len(result.ContrarianRisks) != 1 {
		t.Fatalf("expected signals carried through, got %+v", result)
	}
	if result.RawResponse == "" {
		t.Fatalf("expected raw payload retained for the audit trail")
	}
	if llm.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", llm.calls)
	}
}

func TestAnalyzeAcceptsCodeFencedJSON(t *testing.T) {
	llm := &llmStub{responses: []string{"```json\n" + validPayload + "\n```"}}
	a := newAnalyst(llm)

	result, err := a.Analyze(context.Background(), testMarket(), testCorpus())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ImpliedProbability != 0.72 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAnalyzeRetriesTransportFailureOnce(t *testing.T) {
	llm := &llmStub{
		errs:      []error{errors.New("502 bad gateway")},
		responses: []string{validPayload},
	}
	a := newAnalyst(llm)

	result, err := a.Analyze(context.Background(), testMarket(), testCorpus())
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if result.Recommendation != domain.RecommendBuyYes {
		t.Fatalf("unexpected result: %+v", result)
	}
	if llm.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", llm.calls)
	}
	// Retries resend the same payload; the prompt is built once.
	if llm.prompts[0] != llm.prompts[1] {
		t.Fatalf("retry must resend an identical prompt")
	}
}

func TestAnalyzeExhaustionReturnsTypedError(t *testing.T) {
	llm := &llmStub{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	a := newAnalyst(llm)

	_, err := a.Analyze(context.Background(), testMarket(), testCorpus())
	var transportErr *domain.TransportError
	if !errors.As(err, &transportErr) || transportErr.Collaborator != "openai" {
		t.Fatalf("expected openai TransportError, got %v", err)
	}
	if llm.calls != 2 {
		t.Fatalf("expected attempts capped at 2, got %d", llm.calls)
	}
}

func TestAnalyzeRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		field   string
	}{
		{"not json", "the market will probably resolve yes", ""},
		{"missing probability", `{"confidence_score":0.5,"recommendation":"HOLD"}`, "implied_probability"},
		{"probability above one", `{"implied_probability":1.4,"confidence_score":0.5,"recommendation":"HOLD"}`, "implied_probability"},
		{"negative confidence", `{"implied_probability":0.4,"confidence_score":-0.1,"recommendation":"HOLD"}`, "confidence_score"},
		{"unknown recommendation", `{"implied_probability":0.4,"confidence_score":0.5,"recommendation":"SHORT"}`, "recommendation"},
		{"empty response", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Both attempts return the same bad payload; the error must be
			// typed, never a passed-through result.
			llm := &llmStub{responses: []string{tc.payload, tc.payload}}
			a := newAnalyst(llm)

			_, err := a.Analyze(context.Background(), testMarket(), testCorpus())
			var schemaErr *domain.SchemaValidationError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("expected SchemaValidationError, got %v", err)
			}
			if schemaErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, schemaErr.Field)
			}
			if llm.calls != 2 {
				t.Fatalf("expected invalid payloads to be retried, got %d calls", llm.calls)
			}
		})
	}
}

func TestAnalyzeNormalizesRecommendationCase(t *testing.T) {
	payload := `{"implied_probability":0.3,"confidence_score":0.6,"recommendation":"buy_no"}`
	llm := &llmStub{responses: []string{payload}}
	a := newAnalyst(llm)

	result, err := a.Analyze(context.Background(), testMarket(), testCorpus())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Recommendation != domain.RecommendBuyNo {
		t.Fatalf("expected case-normalized BUY_NO, got %s", result.Recommendation)
	}
}

func TestBuildSystemPromptIsDeterministic(t *testing.T) {
	market := testMarket()
	corpusText := FormatCorpus(testCorpus(), 0)

	first := BuildSystemPrompt(market, corpusText)
	for i := 0; i < 5; i++ {
		if BuildSystemPrompt(market, corpusText) != first {
			t.Fatalf("prompt must be identical across builds")
		}
	}
	if !strings.Contains(first, "Current Market Price: 0.55") {
		t.Fatalf("expected market price in prompt:\n%s", first)
	}
	if !strings.Contains(first, "CPI print") {
		t.Fatalf("expected corpus content in prompt")
	}
}

func TestFormatCorpusBoundsLength(t *testing.T) {
	big := strings.Repeat("z", 400)
	corpus := domain.Corpus{Threads: []domain.ForumThread{
		{Community: "economics", Title: "one", Body: big},
		{Community: "economics", Title: "two", Body: big},
		{Community: "economics", Title: "three", Body: big},
	}}

	out := FormatCorpus(corpus, 600)
	if len(out) > 620 {
		t.Fatalf("expected bounded corpus text, got %d chars", len(out))
	}
	if !strings.Contains(out, "[... truncated]") {
		t.Fatalf("expected truncation marker")
	}

	if FormatCorpus(domain.Corpus{}, 600) != "(No content)" {
		t.Fatalf("expected placeholder for empty corpus")
	}
}

// llmStub returns scripted errors first, then scripted responses, recording
// every prompt it was sent.
type llmStub struct {
	errs      []error
	responses []string
	calls     int
	prompts   []string
}

func (s *llmStub) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	s.calls++
	if len(params.Messages) > 0 {
		if sys := params.Messages[0].OfSystem; sys != nil {
			s.prompts = append(s.prompts, sys.Content.OfString.Value)
		}
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	var body string
	if len(s.responses) > 0 {
		body = s.responses[0]
		s.responses = s.responses[1:]
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: body}},
		},
	}, nil
}

var _ LLMClient = (*llmStub)(nil)
