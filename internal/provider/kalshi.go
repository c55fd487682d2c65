package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"forum-alpha/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultKalshiBase   = "https://api.elections.kalshi.com/trade-api/v2"
	defaultMarketLimit  = 100
	maxMarketPages      = 10
	kalshiClientTimeout = 20 * time.Second
)

// KalshiProvider is the market data client: open listings, the current yes
// price, and the account balance used by simulation sizing. Failures
// surface as domain.TransportError, never as a silently empty result.
type KalshiProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	tracer  trace.Tracer
}

func NewKalshiProvider(tracer trace.Tracer, baseURL, apiKey string) *KalshiProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultKalshiBase
	}
	return &KalshiProvider{
		client:  &http.Client{Timeout: kalshiClientTimeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		tracer:  tracer,
	}
}

type kalshiMarket struct {
	Ticker      string  `json:"ticker"`
	Title       string  `json:"title"`
	Subtitle    string  `json:"subtitle"`
	RulesHTML   string  `json:"rules_primary"`
	Status      string  `json:"status"`
	YesBidCents float64 `json:"yes_bid"`
	YesAskCents float64 `json:"yes_ask"`
	CloseTime   string  `json:"close_time"`
}

// ListOpenMarkets pages through /markets with status=open until the cursor
// runs out or limit listings are collected.
func (p *KalshiProvider) ListOpenMarkets(ctx context.Context, limit int) ([]domain.MarketListing, error) {
	ctx, span := p.tracer.Start(ctx, "kalshi.list-open-markets")
	defer span.End()

	if limit <= 0 {
		limit = defaultMarketLimit
	}

	out := make([]domain.MarketListing, 0, limit)
	cursor := ""
	for page := 0; page < maxMarketPages && len(out) < limit; page++ {
		q := url.Values{}
		q.Set("status", "open")
		q.Set("limit", fmt.Sprintf("%d", limit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var payload struct {
			Markets []kalshiMarket `json:"markets"`
			Cursor  string         `json:"cursor"`
		}
		if err := p.getJSON(ctx, "/markets?"+q.Encode(), &payload); err != nil {
			return nil, &domain.TransportError{Collaborator: "kalshi", Op: "list-markets", Err: err}
		}

		for _, m := range payload.Markets {
			if strings.TrimSpace(m.Ticker) == "" {
				continue
			}
			listing := domain.MarketListing{
				Ticker:      m.Ticker,
				Title:       strings.TrimSpace(m.Title),
				Description: strings.TrimSpace(strings.Join([]string{m.Subtitle, m.RulesHTML}, " ")),
				YesPrice:    m.YesBidCents / 100.0,
				Open:        strings.EqualFold(m.Status, "open") || strings.EqualFold(m.Status, "active"),
			}
			if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
				listing.CloseTime = t.UTC()
			}
			if !listing.Open {
				continue
			}
			out = append(out, listing)
			if len(out) >= limit {
				break
			}
		}

		cursor = payload.Cursor
		if cursor == "" || len(payload.Markets) == 0 {
			break
		}
	}

	span.SetAttributes(attribute.Int("kalshi.markets", len(out)))
	return out, nil
}

// YesPriceCents returns the best yes bid from the market orderbook, in
// cents. Missing depth falls back to 50 (an even-odds placeholder).
func (p *KalshiProvider) YesPriceCents(ctx context.Context, ticker string) (int, error) {
	ctx, span := p.tracer.Start(ctx, "kalshi.yes-price")
	defer span.End()

	var payload struct {
		Orderbook struct {
			Yes [][]float64 `json:"yes"`
		} `json:"orderbook"`
	}
	path := fmt.Sprintf("/markets/%s/orderbook?depth=5", url.PathEscape(ticker))
	if err := p.getJSON(ctx, path, &payload); err != nil {
		return 0, &domain.TransportError{Collaborator: "kalshi", Op: "orderbook", Err: err}
	}

	bids := payload.Orderbook.Yes
	if len(bids) == 0 || len(bids[len(bids)-1]) == 0 {
		return 50, nil
	}
	// Bids are [price, quantity] sorted ascending; best bid is last.
	return int(bids[len(bids)-1][0]), nil
}

// BalanceCents returns the available account balance. Used only for
// simulated position sizing.
func (p *KalshiProvider) BalanceCents(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "kalshi.balance")
	defer span.End()

	var payload struct {
		Balance int `json:"balance"`
	}
	if err := p.getJSON(ctx, "/portfolio/balance", &payload); err != nil {
		return 0, &domain.TransportError{Collaborator: "kalshi", Op: "balance", Err: err}
	}
	return payload.Balance, nil
}

func (p *KalshiProvider) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("kalshi API error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode kalshi response: %w", err)
	}
	return nil
}
