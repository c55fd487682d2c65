// Package bot pushes flagged analysis records to a Telegram chat and answers
// a couple of read-only commands. Entirely optional: without a token the
// pipeline runs with no notifier at all.
package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"forum-alpha/internal/domain"

	tele "gopkg.in/telebot.v3"
)

type AnalysisReader interface {
	RecentAnalyses(ctx context.Context, ticker string, limit int) ([]domain.AnalysisRecord, error)
}

type sendFunc func(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)

type Notifier struct {
	send sendFunc
	chat tele.Recipient
}

// StartTelegramBot creates the bot, registers commands, and starts long
// polling. Returns nil when no token is configured.
func StartTelegramBot(token string, chatID int64, analyses AnalysisReader) *Notifier {
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/latest", func(c tele.Context) error {
		ticker := ""
		if args := c.Args(); len(args) > 0 {
			ticker = strings.ToUpper(args[0])
		}
		records, err := analyses.RecentAnalyses(context.Background(), ticker, 5)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching analyses: %v", err))
		}
		if len(records) == 0 {
			return c.Send("No analyses yet")
		}
		lines := make([]string, 0, len(records))
		for _, r := range records {
			lines = append(lines, summaryLine(r))
		}
		return c.Send(strings.Join(lines, "\n"))
	})

	var chat tele.Recipient
	if chatID != 0 {
		chat = tele.ChatID(chatID)
	} else {
		log.Println("TELEGRAM_CHAT_ID not set, flag notifications disabled")
	}

	log.Println("Telegram bot started")
	go b.Start()
	return &Notifier{send: b.Send, chat: chat}
}

// NotifyFlagged pushes one flagged record to the configured chat. A missing
// chat makes it a no-op so the bot can still serve commands.
func (n *Notifier) NotifyFlagged(ctx context.Context, record domain.AnalysisRecord) error {
	if n == nil || n.chat == nil {
		return nil
	}
	_, err := n.send(n.chat, FormatFlagged(record))
	return err
}

// FormatFlagged renders the divergence alert for one record.
func FormatFlagged(r domain.AnalysisRecord) string {
	delta := r.ImpliedProbability - r.MarketProbability
	msg := fmt.Sprintf(
		"Signal: %s\n%s\nAnalyst: %.0f%% vs market %.0f%% (delta %+.0f%%)\nConfidence: %.0f%%\nCorpus: %d threads from %s",
		r.Ticker,
		r.Recommendation,
		r.ImpliedProbability*100,
		r.MarketProbability*100,
		delta*100,
		r.Confidence*100,
		r.CorpusThreads,
		strings.Join(r.CorpusCommunities, ", "),
	)
	if r.Simulated != nil {
		msg += fmt.Sprintf("\nSimulated: %d contracts @ %.2f", r.Simulated.Contracts, r.Simulated.FillPrice)
	}
	return msg
}

func summaryLine(r domain.AnalysisRecord) string {
	flag := ""
	if r.Flagged {
		flag = " [flagged]"
	}
	return fmt.Sprintf("%s %s %.0f%%/%.0f%%%s", r.Ticker, r.Recommendation,
		r.ImpliedProbability*100, r.MarketProbability*100, flag)
}
