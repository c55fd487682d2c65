package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"forum-alpha/internal/domain"

	tele "gopkg.in/telebot.v3"
)

func TestStartTelegramBotSkipsWithoutToken(t *testing.T) {
	if n := StartTelegramBot("", 123, nil); n != nil {
		t.Fatalf("expected nil notifier without token")
	}
}

func TestNotifyFlaggedSendsToChat(t *testing.T) {
	var sentTo tele.Recipient
	var sentMsg string
	n := &Notifier{
		chat: tele.ChatID(42),
		send: func(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
			sentTo = to
			sentMsg, _ = what.(string)
			return &tele.Message{}, nil
		},
	}

	record := domain.AnalysisRecord{
		Ticker:             "FEDCUT-26",
		Recommendation:     domain.RecommendBuyYes,
		ImpliedProbability: 0.75,
		MarketProbability:  0.55,
		Confidence:         0.9,
		CorpusThreads:      3,
		CorpusCommunities:  []string{"economics", "fedwatch"},
		Simulated:          &domain.SimulatedTrade{Contracts: 90, FillPrice: 0.55},
	}
	if err := n.NotifyFlagged(context.Background(), record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sentTo.Recipient() != "42" {
		t.Fatalf("unexpected recipient: %v", sentTo)
	}
	for _, want := range []string{"FEDCUT-26", "BUY_YES", "75%", "55%", "90 contracts"} {
		if !strings.Contains(sentMsg, want) {
			t.Fatalf("message missing %q:\n%s", want, sentMsg)
		}
	}
}

func TestNotifyFlaggedWithoutChatIsNoop(t *testing.T) {
	called := false
	n := &Notifier{
		send: func(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
			called = true
			return nil, errors.New("should not be called")
		},
	}
	if err := n.NotifyFlagged(context.Background(), domain.AnalysisRecord{}); err != nil || called {
		t.Fatalf("expected no-op, err=%v called=%v", err, called)
	}

	var nilNotifier *Notifier
	if err := nilNotifier.NotifyFlagged(context.Background(), domain.AnalysisRecord{}); err != nil {
		t.Fatalf("nil notifier must be safe: %v", err)
	}
}

func TestFormatFlaggedNegativeDelta(t *testing.T) {
	msg := FormatFlagged(domain.AnalysisRecord{
		Ticker:             "SHUTDOWN-26",
		Recommendation:     domain.RecommendBuyNo,
		ImpliedProbability: 0.20,
		MarketProbability:  0.40,
		Confidence:         0.8,
	})
	if !strings.Contains(msg, "delta -20%") {
		t.Fatalf("expected signed delta, got:\n%s", msg)
	}
	if strings.Contains(msg, "Simulated") {
		t.Fatalf("dry-run record must not mention simulation:\n%s", msg)
	}
}
