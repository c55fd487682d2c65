// Package matcher maps open market listings to candidate discussion
// communities by keyword overlap. Matching is a pure function of the market
// text and the configured community profiles; repeated calls over the same
// inputs return identical scores and ordering.
package matcher

import (
	"sort"
	"strings"
	"unicode"

	"forum-alpha/internal/domain"
)

// Profiles maps a community name to the keyword set that characterizes it.
type Profiles map[string][]string

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"is": {}, "it": {}, "be": {}, "by": {}, "as": {}, "will": {},
}

const minTokenLen = 2

// DefaultProfiles covers the macro/politics corners the pipeline watches
// out of the box. Override via constructor for other market families.
func DefaultProfiles() Profiles {
	return Profiles{
		"fedwatch":            {"fed", "rate", "interest", "fomc", "powell", "economy", "inflation"},
		"economics":           {"fed", "rate", "interest", "cpi", "inflation", "economy", "gdp", "jobs", "employment", "recession", "fomc", "powell"},
		"investing":           {"fed", "rate", "interest", "cpi", "inflation", "economy", "gdp", "jobs", "employment", "recession", "fomc", "powell"},
		"inflation":           {"cpi", "inflation"},
		"stockmarket":         {"recession"},
		"wallstreetbets":      {"fed"},
		"politics":            {"senate", "congress", "vote", "legislative", "election", "trump", "biden"},
		"neutralpolitics":     {"senate", "congress", "vote", "legislative", "election", "trump", "biden"},
		"politicaldiscussion": {"senate", "congress", "vote", "legislative", "election", "trump", "biden"},
	}
}

type Matcher struct {
	profiles Profiles
	// rarity weight per profile token: #communities / #profiles containing it
	weights map[string]float64
}

func New(profiles Profiles) *Matcher {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	freq := make(map[string]int)
	normalized := make(Profiles, len(profiles))
	for community, keywords := range profiles {
		seen := make(map[string]struct{}, len(keywords))
		out := make([]string, 0, len(keywords))
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if _, ok := seen[kw]; ok {
				continue
			}
			seen[kw] = struct{}{}
			out = append(out, kw)
			freq[kw]++
		}
		normalized[strings.ToLower(strings.TrimSpace(community))] = out
	}

	weights := make(map[string]float64, len(freq))
	for token, df := range freq {
		weights[token] = float64(len(normalized)) / float64(df)
	}
	return &Matcher{profiles: normalized, weights: weights}
}

func (m *Matcher) Communities() []string {
	out := make([]string, 0, len(m.profiles))
	for community := range m.profiles {
		out = append(out, community)
	}
	sort.Strings(out)
	return out
}

// Match scores every known community against each market's keyword set.
// Communities with zero overlap are excluded. An empty market list yields
// an empty result; a market with no usable text yields an empty mapping.
func (m *Matcher) Match(markets []domain.MarketListing) map[string]domain.CommunityMapping {
	out := make(map[string]domain.CommunityMapping, len(markets))
	for _, market := range markets {
		text := market.Title + " " + market.Description
		keywords := ExtractKeywords(text)
		if len(keywords) == 0 {
			keywords = ExtractKeywords(market.Title)
		}

		// Profile tokens are matched against the unfiltered token set: a
		// profile that lists a stopword-looking token ("a", "win") still
		// counts it. The filtered keyword list feeds search queries only.
		tokens := tokenize(text)
		if len(tokens) == 0 {
			tokens = tokenize(market.Title)
		}

		mapping := domain.CommunityMapping{Ticker: market.Ticker, Keywords: keywords}
		if len(tokens) > 0 {
			keywordSet := make(map[string]struct{}, len(tokens))
			for _, kw := range tokens {
				keywordSet[kw] = struct{}{}
			}
			for community, profile := range m.profiles {
				score := 0.0
				for _, token := range profile {
					if _, ok := keywordSet[token]; ok {
						score += m.weights[token]
					}
				}
				if score <= 0 {
					continue
				}
				mapping.Communities = append(mapping.Communities, domain.CommunityScore{
					Community: community,
					Score:     score,
				})
			}
			sort.Slice(mapping.Communities, func(i, j int) bool {
				a, b := mapping.Communities[i], mapping.Communities[j]
				if a.Score != b.Score {
					return a.Score > b.Score
				}
				return a.Community < b.Community
			})
		}
		out[market.Ticker] = mapping
	}
	return out
}

// tokenize lowercases and splits on non-word runes, deduplicating while
// preserving first-occurrence order. No stopword or length filtering.
func tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, token := range fields {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

// ExtractKeywords is tokenize plus stopword and short-token stripping; the
// result seeds forum search queries.
func ExtractKeywords(text string) []string {
	tokens := tokenize(text)
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len(token) < minTokenLen {
			continue
		}
		if _, ok := stopwords[token]; ok {
			continue
		}
		out = append(out, token)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
