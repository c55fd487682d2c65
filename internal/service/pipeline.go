// Package service orchestrates one polling cycle: fetch open markets, match
// them to communities, harvest fresh discussion, ask the analyst, and append
// the outcome to the research log. One market failing never aborts the
// cycle; its error is recorded and the loop moves on.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"forum-alpha/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	marketSnapshotKey = "markets:open"
	marketSnapshotTTL = 10 * time.Minute
	// Simulated sizing risks this fraction of the balance per flagged
	// market, before the contract cap.
	positionFraction = 0.05
)

// Phase is the cycle's current stage. Every transition is logged; an
// optional hook mirrors it into the poller status.
type Phase string

const (
	PhaseFetchingMarkets Phase = "fetching_markets"
	PhaseMatching        Phase = "matching"
	PhaseHarvesting      Phase = "harvesting"
	PhaseAnalyzing       Phase = "analyzing"
	PhasePersisting      Phase = "persisting"
)

type MarketLister interface {
	ListOpenMarkets(ctx context.Context, limit int) ([]domain.MarketListing, error)
	YesPriceCents(ctx context.Context, ticker string) (int, error)
	BalanceCents(ctx context.Context) (int, error)
}

type CommunityMatcher interface {
	Match(markets []domain.MarketListing) map[string]domain.CommunityMapping
}

type Harvester interface {
	Harvest(ctx context.Context, mapping domain.CommunityMapping) (domain.Corpus, []domain.SeenItem, []string, error)
}

type Analyst interface {
	Analyze(ctx context.Context, market domain.MarketListing, corpus domain.Corpus) (domain.AnalysisResult, error)
}

type AnalysisLog interface {
	AppendAnalysis(ctx context.Context, record *domain.AnalysisRecord) error
}

// Notifier is told about flagged records. Failures are logged, never fatal.
type Notifier interface {
	NotifyFlagged(ctx context.Context, record domain.AnalysisRecord) error
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type Config struct {
	DryRun               bool
	MinDelta             float64
	ConfidenceThreshold  float64
	MaxContractsPerTrade int
	MarketFetchLimit     int
}

type Pipeline struct {
	tracer    trace.Tracer
	markets   MarketLister
	matcher   CommunityMatcher
	harvester Harvester
	analyst   Analyst
	logStore  AnalysisLog
	redis     RedisClient
	notifier  Notifier
	cfg       Config

	onPhase   func(Phase)
	lastPhase Phase
}

func NewPipeline(
	tracer trace.Tracer,
	markets MarketLister,
	matcher CommunityMatcher,
	harvester Harvester,
	analyst Analyst,
	logStore AnalysisLog,
	redisClient RedisClient,
	notifier Notifier,
	cfg Config,
) *Pipeline {
	if cfg.MinDelta <= 0 {
		cfg.MinDelta = 0.10
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.75
	}
	if cfg.MaxContractsPerTrade <= 0 {
		cfg.MaxContractsPerTrade = 100
	}
	if cfg.MarketFetchLimit <= 0 {
		cfg.MarketFetchLimit = 100
	}
	return &Pipeline{
		tracer:    tracer,
		markets:   markets,
		matcher:   matcher,
		harvester: harvester,
		analyst:   analyst,
		logStore:  logStore,
		redis:     redisClient,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// OnPhase installs an observer for phase transitions. Must be called before
// the loop starts; the hook runs on the polling goroutine.
func (p *Pipeline) OnPhase(fn func(Phase)) {
	p.onPhase = fn
}

func (p *Pipeline) setPhase(phase Phase) {
	if phase == p.lastPhase {
		return
	}
	if p.lastPhase == "" {
		log.Printf("Cycle state: %s", phase)
	} else {
		log.Printf("Cycle state: %s -> %s", p.lastPhase, phase)
	}
	p.lastPhase = phase
	if p.onPhase != nil {
		p.onPhase(phase)
	}
}

// harvestOutcome caches one community sweep so markets sharing the same
// communities and keywords reuse a single harvest per cycle.
type harvestOutcome struct {
	corpus   domain.Corpus
	items    int
	warnings []string
	err      error
}

func scrapeKey(mapping domain.CommunityMapping) string {
	return strings.Join(mapping.CommunityNames(), ",") + "|" + strings.Join(mapping.Keywords, " ")
}

// RunCycle executes one full pass. The returned error is reserved for
// cycle-level failures (no market data at all); per-market failures land in
// result.Errors and the cycle keeps going.
func (p *Pipeline) RunCycle(ctx context.Context, now time.Time) (domain.CycleResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run-cycle")
	defer span.End()

	now = now.UTC()
	result := domain.CycleResult{}
	p.lastPhase = ""

	p.setPhase(PhaseFetchingMarkets)
	markets, err := p.fetchMarkets(ctx, &result)
	if err != nil {
		return result, err
	}
	result.MarketsFetched = len(markets)

	p.setPhase(PhaseMatching)
	mappings := p.matcher.Match(markets)

	harvested := make(map[string]*harvestOutcome)
	for _, market := range markets {
		mapping, ok := mappings[market.Ticker]
		if !ok || len(mapping.Communities) == 0 {
			continue
		}
		result.MarketsMatched++

		if err := p.processMarket(ctx, now, market, mapping, harvested, &result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", market.Ticker, err))
			log.Printf("cycle: market %s skipped: %v", market.Ticker, err)
		}
	}

	span.SetAttributes(
		attribute.Int("cycle.markets_fetched", result.MarketsFetched),
		attribute.Int("cycle.records_written", result.RecordsWritten),
		attribute.Int("cycle.errors", len(result.Errors)),
	)
	return result, nil
}

// harvestOnce runs (or reuses) the community sweep for the mapping's scrape
// key. Warnings and ingest counts are recorded once per key.
func (p *Pipeline) harvestOnce(
	ctx context.Context,
	market domain.MarketListing,
	mapping domain.CommunityMapping,
	harvested map[string]*harvestOutcome,
	result *domain.CycleResult,
) *harvestOutcome {
	key := scrapeKey(mapping)
	if outcome, ok := harvested[key]; ok {
		return outcome
	}

	corpus, items, warnings, err := p.harvester.Harvest(ctx, mapping)
	outcome := &harvestOutcome{corpus: corpus, items: len(items), warnings: warnings, err: err}
	harvested[key] = outcome

	for _, w := range warnings {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", market.Ticker, w))
	}
	if err == nil {
		result.ThreadsIngested += len(items)
	}
	return outcome
}

func (p *Pipeline) processMarket(
	ctx context.Context,
	now time.Time,
	market domain.MarketListing,
	mapping domain.CommunityMapping,
	harvested map[string]*harvestOutcome,
	result *domain.CycleResult,
) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.process-market")
	defer span.End()
	span.SetAttributes(attribute.String("market.ticker", market.Ticker))

	p.setPhase(PhaseHarvesting)
	outcome := p.harvestOnce(ctx, market, mapping, harvested, result)
	if outcome.err != nil {
		return outcome.err
	}
	corpus := outcome.corpus
	corpus.Ticker = market.Ticker
	if corpus.Empty() {
		// Nothing new this cycle; no analysis, no record.
		return nil
	}

	p.setPhase(PhaseAnalyzing)
	analysis, err := p.analyst.Analyze(ctx, market, corpus)
	if err != nil {
		return err
	}

	record := domain.AnalysisRecord{
		Ticker:             market.Ticker,
		AnalyzedAt:         now,
		ImpliedProbability: analysis.ImpliedProbability,
		Confidence:         analysis.Confidence,
		Recommendation:     analysis.Recommendation,
		MarketProbability:  market.YesPrice,
		CorpusThreads:      len(corpus.Threads),
		CorpusCommunities:  corpus.Communities,
		Flagged:            p.shouldFlag(analysis, market.YesPrice),
		RawResponse:        analysis.RawResponse,
	}

	p.setPhase(PhasePersisting)
	if record.Flagged && !p.cfg.DryRun {
		if trade, err := p.sizePosition(ctx, market.Ticker, analysis.Recommendation); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: sizing: %v", market.Ticker, err))
		} else if trade != nil {
			record.Simulated = trade
		}
	}

	if err := p.logStore.AppendAnalysis(ctx, &record); err != nil {
		return err
	}
	result.RecordsWritten++
	if record.Flagged {
		result.Flagged++
		if p.notifier != nil {
			if err := p.notifier.NotifyFlagged(ctx, record); err != nil {
				log.Printf("notify %s: %v", market.Ticker, err)
			}
		}
	}
	return nil
}

// shouldFlag gates on edge size and confidence. Both directions count: an
// analyst far below the market price is as interesting as one far above it.
// HOLD never flags regardless of the numbers.
func (p *Pipeline) shouldFlag(analysis domain.AnalysisResult, marketProbability float64) bool {
	if analysis.Recommendation == domain.RecommendHold {
		return false
	}
	delta := math.Abs(analysis.ImpliedProbability - marketProbability)
	return delta >= p.cfg.MinDelta && analysis.Confidence >= p.cfg.ConfidenceThreshold
}

// sizePosition computes the simulated contract count: a fixed fraction of
// the balance divided by the per-contract cost, capped. No order is placed.
func (p *Pipeline) sizePosition(ctx context.Context, ticker string, rec domain.Recommendation) (*domain.SimulatedTrade, error) {
	balanceCents, err := p.markets.BalanceCents(ctx)
	if err != nil {
		return nil, err
	}
	yesCents, err := p.markets.YesPriceCents(ctx, ticker)
	if err != nil {
		return nil, err
	}

	costCents := yesCents
	if rec == domain.RecommendBuyNo {
		costCents = 100 - yesCents
	}
	if costCents <= 0 {
		return nil, nil
	}

	contracts := int(float64(balanceCents) * positionFraction / float64(costCents))
	if contracts > p.cfg.MaxContractsPerTrade {
		contracts = p.cfg.MaxContractsPerTrade
	}
	if contracts <= 0 {
		return nil, nil
	}
	return &domain.SimulatedTrade{
		Contracts: contracts,
		FillPrice: float64(costCents) / 100.0,
	}, nil
}

// fetchMarkets pulls the live listing and refreshes the Redis snapshot. If
// the live fetch fails and a snapshot exists, the cycle runs against the
// snapshot with a recorded warning rather than doing nothing.
func (p *Pipeline) fetchMarkets(ctx context.Context, result *domain.CycleResult) ([]domain.MarketListing, error) {
	markets, err := p.markets.ListOpenMarkets(ctx, p.cfg.MarketFetchLimit)
	if err == nil {
		if p.redis != nil {
			if data, merr := json.Marshal(markets); merr == nil {
				if serr := p.redis.Set(ctx, marketSnapshotKey, data, marketSnapshotTTL).Err(); serr != nil {
					log.Printf("redis snapshot write error: %v", serr)
				}
			}
		}
		return markets, nil
	}

	if p.redis != nil {
		data, rerr := p.redis.Get(ctx, marketSnapshotKey).Bytes()
		if rerr == nil {
			var cached []domain.MarketListing
			if jerr := json.Unmarshal(data, &cached); jerr == nil && len(cached) > 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("markets: live fetch failed, using snapshot: %v", err))
				return cached, nil
			}
		} else if rerr != redis.Nil {
			log.Printf("redis snapshot read error: %v", rerr)
		}
	}
	return nil, err
}
