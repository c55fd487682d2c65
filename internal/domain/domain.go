package domain

import "time"

// Recommendation is the analyst's suggested direction for a market.
type Recommendation string

const (
	RecommendBuyYes Recommendation = "BUY_YES"
	RecommendBuyNo  Recommendation = "BUY_NO"
	RecommendHold   Recommendation = "HOLD"
)

func (r Recommendation) IsValid() bool {
	switch r {
	case RecommendBuyYes, RecommendBuyNo, RecommendHold:
		return true
	}
	return false
}

// MarketListing is an immutable snapshot of one open market as fetched from
// the market data client. Not persisted; re-read every cycle.
type MarketListing struct {
	Ticker      string    `json:"ticker"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	YesPrice    float64   `json:"yes_price"` // traded probability, 0..1
	Open        bool      `json:"open"`
	CloseTime   time.Time `json:"close_time"`
}

// CommunityScore is one candidate community with its match strength.
type CommunityScore struct {
	Community string
	Score     float64
}

// CommunityMapping is the ranked set of communities matched to one market,
// ordered by descending score with lexical tie-break. Empty is valid and
// means no harvesting for that market this cycle.
type CommunityMapping struct {
	Ticker      string
	Keywords    []string
	Communities []CommunityScore
}

func (m CommunityMapping) CommunityNames() []string {
	out := make([]string, 0, len(m.Communities))
	for _, c := range m.Communities {
		out = append(out, c.Community)
	}
	return out
}

// ForumComment is one comment attached to a harvested thread.
type ForumComment struct {
	Author string
	Body   string
	Score  int
}

// ForumThread is one discussion item returned by the forum transport.
type ForumThread struct {
	Community string
	ID        string
	Title     string
	Body      string
	URL       string
	CreatedAt time.Time
	Comments  []ForumComment
}

// SeenItem is one (community, item) pair in the dedupe ledger. Once
// written it is never deleted.
type SeenItem struct {
	Community string
	ItemID    string
	SeenAt    time.Time
}

// Corpus is the text gathered for one market in one cycle.
type Corpus struct {
	Ticker      string
	Threads     []ForumThread
	Communities []string
	Truncated   bool
}

func (c Corpus) Empty() bool { return len(c.Threads) == 0 }

// AnalysisResult is the validated output of one reasoning call. Probability
// and Confidence are guaranteed within [0,1] and Recommendation within the
// fixed category set.
type AnalysisResult struct {
	ImpliedProbability float64
	Confidence         float64
	KeySignals         []string
	ContrarianRisks    []string
	Recommendation     Recommendation
	RawResponse        string
}

// SimulatedTrade is the sizing outcome recorded when simulation is enabled.
// Never populated in dry-run mode; no order is placed either way.
type SimulatedTrade struct {
	Contracts int     `json:"contracts"`
	FillPrice float64 `json:"fill_price"`
}

// AnalysisRecord is one append-only row of the research log: the analyst's
// estimate next to the market's own price at analysis time.
type AnalysisRecord struct {
	ID                 int64           `json:"id"`
	Ticker             string          `json:"ticker"`
	AnalyzedAt         time.Time       `json:"analyzed_at"`
	ImpliedProbability float64         `json:"implied_probability"`
	Confidence         float64         `json:"confidence"`
	Recommendation     Recommendation  `json:"recommendation"`
	MarketProbability  float64         `json:"market_probability"`
	CorpusThreads      int             `json:"corpus_threads"`
	CorpusCommunities  []string        `json:"corpus_communities"`
	Flagged            bool            `json:"flagged"`
	RawResponse        string          `json:"-"`
	Simulated          *SimulatedTrade `json:"simulated,omitempty"`
}

// CycleResult summarizes one full pass of the polling loop.
type CycleResult struct {
	MarketsFetched  int
	MarketsMatched  int
	ThreadsIngested int
	RecordsWritten  int
	Flagged         int
	Errors          []string
}
