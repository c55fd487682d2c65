package matcher

import (
	"reflect"
	"testing"

	"forum-alpha/internal/domain"
)

func TestMatchScoresKeywordOverlap(t *testing.T) {
	m := New(Profiles{"teamA_fans": {"team", "a", "championship", "win"}})
	markets := []domain.MarketListing{
		{Ticker: "M1", Title: "Will Team A win the championship?"},
	}

	out := m.Match(markets)
	mapping, ok := out["M1"]
	if !ok {
		t.Fatalf("expected mapping for M1")
	}
	if len(mapping.Communities) != 1 {
		t.Fatalf("expected one community, got %+v", mapping.Communities)
	}
	got := mapping.Communities[0]
	if got.Community != "teama_fans" || got.Score != 4 {
		t.Fatalf("expected teama_fans score=4, got %s score=%v", got.Community, got.Score)
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	m := New(Profiles{
		"economics": {"fed", "rate", "cpi"},
		"fedwatch":  {"fed", "rate"},
		"investing": {"fed", "rate"},
	})
	markets := []domain.MarketListing{
		{Ticker: "FED-1", Title: "Fed rate decision", Description: "Will the fed cut the rate?"},
	}

	first := m.Match(markets)["FED-1"]
	for i := 0; i < 10; i++ {
		again := m.Match(markets)["FED-1"]
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("match not deterministic:\nfirst=%+v\nagain=%+v", first, again)
		}
	}

	// Same score for fedwatch and investing: lexical order breaks the tie.
	var names []string
	for _, c := range first.Communities {
		names = append(names, c.Community)
	}
	if names[len(names)-2] != "fedwatch" || names[len(names)-1] != "investing" {
		t.Fatalf("expected lexical tie-break, got %v", names)
	}
}

func TestMatchOrdersByDescendingScore(t *testing.T) {
	m := New(Profiles{
		"broad":  {"senate", "congress", "vote", "election"},
		"narrow": {"senate"},
	})
	out := m.Match([]domain.MarketListing{
		{Ticker: "S1", Title: "Senate vote", Description: "Will congress pass the election bill?"},
	})

	communities := out["S1"].Communities
	if len(communities) != 2 {
		t.Fatalf("expected two communities, got %+v", communities)
	}
	if communities[0].Community != "broad" {
		t.Fatalf("expected broad first, got %+v", communities)
	}
	if communities[0].Score <= communities[1].Score {
		t.Fatalf("expected descending scores, got %+v", communities)
	}
}

func TestMatchRarityWeighting(t *testing.T) {
	// "fed" appears in both profiles, "fomc" only in one: the rare token
	// must contribute more than the common one.
	m := New(Profiles{
		"fedwatch":  {"fed", "fomc"},
		"investing": {"fed"},
	})
	out := m.Match([]domain.MarketListing{
		{Ticker: "A", Title: "fomc meeting"},
		{Ticker: "B", Title: "fed meeting"},
	})

	fomcScore := out["A"].Communities[0].Score
	fedScore := out["B"].Communities[0].Score
	if fomcScore <= fedScore {
		t.Fatalf("expected rare token to outweigh common one: fomc=%v fed=%v", fomcScore, fedScore)
	}
}

func TestMatchEmptyInputs(t *testing.T) {
	m := New(nil)

	if out := m.Match(nil); len(out) != 0 {
		t.Fatalf("empty market list should produce empty result, got %+v", out)
	}

	out := m.Match([]domain.MarketListing{{Ticker: "X1"}})
	mapping := out["X1"]
	if len(mapping.Communities) != 0 || len(mapping.Keywords) != 0 {
		t.Fatalf("market without text should map to nothing, got %+v", mapping)
	}
}

func TestMatchFallsBackToTitle(t *testing.T) {
	m := New(Profiles{"economics": {"inflation"}})
	out := m.Match([]domain.MarketListing{
		{Ticker: "CPI-1", Title: "US inflation above 3%?", Description: ""},
	})
	if len(out["CPI-1"].Communities) != 1 {
		t.Fatalf("expected title-only match, got %+v", out["CPI-1"])
	}
}

func TestMatchExcludesZeroScores(t *testing.T) {
	m := New(Profiles{"politics": {"senate"}})
	out := m.Match([]domain.MarketListing{
		{Ticker: "BTC-1", Title: "Bitcoin above 100k?"},
	})
	if len(out["BTC-1"].Communities) != 0 {
		t.Fatalf("expected no communities for unrelated market, got %+v", out["BTC-1"])
	}
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("Will the Fed cut rates? Fed watchers say yes.")
	want := []string{"fed", "cut", "rates", "watchers", "say", "yes"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected keywords: got %v want %v", got, want)
	}
	if ExtractKeywords("  ") != nil {
		t.Fatalf("blank text should yield nil")
	}
}
