package analyst

import (
	"fmt"
	"strings"

	"forum-alpha/internal/domain"
)

const (
	defaultMaxPromptChars = 24000
	maxDescriptionChars   = 2000
	maxCommentsPerThread  = 20
	maxCommentChars       = 500
)

const analystRole = `You are a Lead Quantitative Researcher at a prediction market hedge fund. Your task is to analyze scraped text from niche internet forums and determine the probability of a specific event occurring on a prediction market.

Analysis Guidelines:
- Source Reliability: Penalize "hype" or "doomerism." Weight information higher if the user cites specific data, legislative trackers, or historical precedents.
- Information Asymmetry: Look for "niche" insights that the general public might be missing (e.g., a specific court filing mentioned in a legal subreddit that hasn't hit mainstream news).
- Counter-Signaling: Note if the consensus in the thread is overwhelmingly emotional without evidence; this often suggests a "crowded trade" that might be wrong.

Respond with the required JSON only: implied_probability (0-1), confidence_score (0-1), key_signals (list of strings), contrarian_risks (list of strings), recommendation (one of BUY_YES, BUY_NO, HOLD).`

// BuildSystemPrompt assembles the analyst instructions plus market context
// and the already-bounded corpus text. Deterministic for a given market and
// corpus: no clocks, no randomness.
func BuildSystemPrompt(market domain.MarketListing, corpusText string) string {
	description := strings.TrimSpace(market.Title + "\n" + market.Description)
	if len(description) > maxDescriptionChars {
		description = description[:maxDescriptionChars]
	}

	var sb strings.Builder
	sb.WriteString(analystRole)
	sb.WriteString("\n\nInput Data:\n- Market Description: ")
	sb.WriteString(description)
	sb.WriteString(fmt.Sprintf("\n- Current Market Price: %.2f", market.YesPrice))
	sb.WriteString("\n- Scraped Content:\n")
	sb.WriteString(corpusText)
	return sb.String()
}

// FormatCorpus renders threads into prompt text under a character budget.
// Threads arrive newest-and-most-relevant first, so budget overflow drops
// the oldest, least relevant content.
func FormatCorpus(corpus domain.Corpus, maxChars int) string {
	if maxChars <= 0 {
		maxChars = defaultMaxPromptChars
	}
	if corpus.Empty() {
		return "(No content)"
	}

	var parts []string
	total := 0
	for _, thread := range corpus.Threads {
		var sb strings.Builder
		sb.WriteString("[Thread: ")
		sb.WriteString(thread.Title)
		sb.WriteString("]\nCommunity: ")
		sb.WriteString(thread.Community)
		sb.WriteString("\nBody: ")
		sb.WriteString(thread.Body)
		sb.WriteString("\n")
		comments := thread.Comments
		if len(comments) > maxCommentsPerThread {
			comments = comments[:maxCommentsPerThread]
		}
		for _, c := range comments {
			body := c.Body
			if len(body) > maxCommentChars {
				body = body[:maxCommentChars]
			}
			sb.WriteString("  - ")
			sb.WriteString(c.Author)
			sb.WriteString(": ")
			sb.WriteString(body)
			sb.WriteString("\n")
		}

		block := sb.String()
		if total+len(block) > maxChars {
			remaining := maxChars - total - 20
			if remaining > 0 {
				parts = append(parts, block[:remaining]+"\n[... truncated]")
			}
			break
		}
		parts = append(parts, block)
		total += len(block)
	}
	if len(parts) == 0 {
		return "(No content)"
	}
	return strings.Join(parts, "\n---\n")
}
