package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"forum-alpha/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	redditBaseURL      = "https://www.reddit.com"
	defaultSearchLimit = 25
	maxCommentsFetched = 20
	maxCommentChars    = 2000
	maxBodyChars       = 5000
	maxTitleChars      = 500
)

// RedditProvider is the forum transport: keyword search within a subreddit
// plus top comments for each matching thread. Calls are paced by a shared
// token bucket so repeated subreddit sweeps stay inside the public API's
// request budget.
type RedditProvider struct {
	client    *http.Client
	baseURL   string
	userAgent string
	limiter   *RateLimiter
	tracer    trace.Tracer
}

func NewRedditProvider(tracer trace.Tracer, userAgent string) *RedditProvider {
	if strings.TrimSpace(userAgent) == "" {
		userAgent = "forum-alpha/1.0"
	}
	return &RedditProvider{
		client:    &http.Client{Timeout: 20 * time.Second},
		baseURL:   redditBaseURL,
		userAgent: userAgent,
		limiter:   NewRateLimiter(30, 2*time.Second),
		tracer:    tracer,
	}
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID         string  `json:"id"`
				Subreddit  string  `json:"subreddit"`
				Title      string  `json:"title"`
				SelfText   string  `json:"selftext"`
				Author     string  `json:"author"`
				Body       string  `json:"body"`
				Score      float64 `json:"score"`
				CreatedUTC float64 `json:"created_utc"`
				Permalink  string  `json:"permalink"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Search returns threads in a subreddit matching the query, newest first.
// The caller dedupes against its ledger; this layer only shapes payloads.
func (p *RedditProvider) Search(ctx context.Context, subreddit, query string, limit int) ([]domain.ForumThread, error) {
	ctx, span := p.tracer.Start(ctx, "reddit.search")
	defer span.End()

	subreddit = normalizeSubreddit(subreddit)
	if subreddit == "" {
		return nil, &domain.TransportError{Collaborator: "reddit", Op: "search", Err: fmt.Errorf("subreddit is required")}
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > 100 {
		limit = 100
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &domain.TransportError{Collaborator: "reddit", Op: "search", Err: err}
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("restrict_sr", "1")
	q.Set("sort", "new")
	q.Set("t", "day")
	q.Set("limit", fmt.Sprintf("%d", limit))

	u := fmt.Sprintf("%s/r/%s/search.json?%s", strings.TrimRight(p.baseURL, "/"), url.PathEscape(subreddit), q.Encode())
	var payload redditListing
	if err := p.getJSON(ctx, u, &payload); err != nil {
		return nil, &domain.TransportError{Collaborator: "reddit", Op: "search:" + subreddit, Err: err}
	}

	threads := make([]domain.ForumThread, 0, len(payload.Data.Children))
	for _, row := range payload.Data.Children {
		data := row.Data
		if strings.TrimSpace(data.Title) == "" {
			continue
		}
		threads = append(threads, domain.ForumThread{
			Community: subreddit,
			ID:        strings.TrimSpace(data.ID),
			Title:     clip(data.Title, maxTitleChars),
			Body:      clip(data.SelfText, maxBodyChars),
			URL:       strings.TrimRight(p.baseURL, "/") + strings.TrimSpace(data.Permalink),
			CreatedAt: time.Unix(int64(data.CreatedUTC), 0).UTC(),
		})
	}

	// The API usually honors sort=new; enforce it so harvest cap policy
	// always keeps the freshest threads.
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].CreatedAt.After(threads[j].CreatedAt)
	})
	return threads, nil
}

// FetchComments loads the top comments for one thread. Comment failures are
// soft: threads are analyzable from title and body alone.
func (p *RedditProvider) FetchComments(ctx context.Context, thread domain.ForumThread) ([]domain.ForumComment, error) {
	ctx, span := p.tracer.Start(ctx, "reddit.fetch-comments")
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &domain.TransportError{Collaborator: "reddit", Op: "comments", Err: err}
	}

	u := fmt.Sprintf("%s/r/%s/comments/%s.json?sort=top&limit=%d",
		strings.TrimRight(p.baseURL, "/"), url.PathEscape(thread.Community), url.PathEscape(thread.ID), maxCommentsFetched)

	// The comments endpoint returns a two-element array: [post, comments].
	var payload []redditListing
	if err := p.getJSON(ctx, u, &payload); err != nil {
		return nil, &domain.TransportError{Collaborator: "reddit", Op: "comments:" + thread.ID, Err: err}
	}
	if len(payload) < 2 {
		return nil, nil
	}

	comments := make([]domain.ForumComment, 0, len(payload[1].Data.Children))
	for _, row := range payload[1].Data.Children {
		body := strings.TrimSpace(row.Data.Body)
		if body == "" {
			continue
		}
		author := strings.TrimSpace(row.Data.Author)
		if author == "" {
			author = "[deleted]"
		}
		comments = append(comments, domain.ForumComment{
			Author: author,
			Body:   clip(body, maxCommentChars),
			Score:  int(row.Data.Score),
		})
	}
	return comments, nil
}

func (p *RedditProvider) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("reddit API error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode reddit response: %w", err)
	}
	return nil
}

func normalizeSubreddit(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "r/")
	return strings.ToLower(name)
}

func clip(in string, maxLen int) string {
	in = strings.TrimSpace(in)
	if maxLen > 0 && len(in) > maxLen {
		return in[:maxLen]
	}
	return in
}
