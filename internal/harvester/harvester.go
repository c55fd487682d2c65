// Package harvester turns a market's community mapping into a deduplicated
// text corpus. It owns the ledger handshake: every thread included in a
// corpus is durably marked seen before the corpus is handed downstream, so
// a crash between harvesting and analysis never re-ingests content, while a
// crash before the ledger write merely re-harvests the same items next
// cycle.
package harvester

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"forum-alpha/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ForumReader is the forum transport boundary.
type ForumReader interface {
	Search(ctx context.Context, community, query string, limit int) ([]domain.ForumThread, error)
	FetchComments(ctx context.Context, thread domain.ForumThread) ([]domain.ForumComment, error)
}

// Ledger is the dedupe side of the persistence store.
type Ledger interface {
	IsSeen(ctx context.Context, community, itemID string) (bool, error)
	MarkSeen(ctx context.Context, items []domain.SeenItem) error
}

type Config struct {
	MaxItemsPerCommunity int
	MaxCorpusChars       int
	MaxSearchKeywords    int
}

type Harvester struct {
	tracer trace.Tracer
	forum  ForumReader
	ledger Ledger
	cfg    Config
}

func New(tracer trace.Tracer, forum ForumReader, ledger Ledger, cfg Config) *Harvester {
	if cfg.MaxItemsPerCommunity <= 0 {
		cfg.MaxItemsPerCommunity = 25
	}
	if cfg.MaxCorpusChars <= 0 {
		cfg.MaxCorpusChars = 24000
	}
	if cfg.MaxSearchKeywords <= 0 {
		cfg.MaxSearchKeywords = 4
	}
	return &Harvester{tracer: tracer, forum: forum, ledger: ledger, cfg: cfg}
}

// Harvest retrieves fresh threads for every community in the mapping,
// skipping anything already in the ledger, and returns the bounded corpus
// plus the items it marked seen. A failing community is skipped with a
// warning; the remaining communities still contribute. The returned corpus
// is only handed back after its SeenItems are durable.
func (h *Harvester) Harvest(ctx context.Context, mapping domain.CommunityMapping) (domain.Corpus, []domain.SeenItem, []string, error) {
	ctx, span := h.tracer.Start(ctx, "harvester.harvest")
	defer span.End()
	span.SetAttributes(attribute.String("market.ticker", mapping.Ticker))

	corpus := domain.Corpus{Ticker: mapping.Ticker}
	var newItems []domain.SeenItem
	var warnings []string

	queries := mapping.Keywords
	if len(queries) > h.cfg.MaxSearchKeywords {
		queries = queries[:h.cfg.MaxSearchKeywords]
	}

	totalChars := 0
	collected := make(map[string]struct{})

	for _, candidate := range mapping.Communities {
		community := candidate.Community
		threads, err := h.collectCommunity(ctx, community, queries)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("harvest:%s: %v", community, err))
			continue
		}

		included := 0
		contributed := false
		for _, thread := range threads {
			if included >= h.cfg.MaxItemsPerCommunity {
				break
			}
			if corpus.Truncated {
				break
			}

			id := StableID(thread)
			key := community + "/" + id
			if _, ok := collected[key]; ok {
				continue
			}
			collected[key] = struct{}{}

			seen, err := h.ledger.IsSeen(ctx, community, id)
			if err != nil {
				return domain.Corpus{}, nil, warnings, &domain.StorageError{Op: "is-seen", Err: err}
			}
			if seen {
				continue
			}

			thread.ID = id
			size := len(thread.Title) + len(thread.Body)
			if totalChars+size > h.cfg.MaxCorpusChars && !corpus.Empty() {
				// Over budget: leave the rest unseen so the next cycle
				// picks them up.
				corpus.Truncated = true
				break
			}

			if comments, err := h.forum.FetchComments(ctx, thread); err == nil {
				thread.Comments = comments
			}

			corpus.Threads = append(corpus.Threads, thread)
			newItems = append(newItems, domain.SeenItem{
				Community: community,
				ItemID:    id,
				SeenAt:    time.Now().UTC(),
			})
			totalChars += size
			included++
			contributed = true
		}
		if contributed {
			corpus.Communities = append(corpus.Communities, community)
		}
	}

	if len(newItems) > 0 {
		if err := h.ledger.MarkSeen(ctx, newItems); err != nil {
			return domain.Corpus{}, nil, warnings, &domain.StorageError{Op: "mark-seen", Err: err}
		}
	}

	span.SetAttributes(
		attribute.Int("harvest.threads", len(corpus.Threads)),
		attribute.Int("harvest.warnings", len(warnings)),
	)
	return corpus, newItems, warnings, nil
}

// collectCommunity merges the per-keyword searches for one community,
// newest first, deduplicated by source ID within the sweep.
func (h *Harvester) collectCommunity(ctx context.Context, community string, queries []string) ([]domain.ForumThread, error) {
	byID := make(map[string]struct{})
	var out []domain.ForumThread

	if len(queries) == 0 {
		return nil, nil
	}
	for _, query := range queries {
		threads, err := h.forum.Search(ctx, community, query, h.cfg.MaxItemsPerCommunity)
		if err != nil {
			if len(out) > 0 {
				break
			}
			return nil, err
		}
		for _, thread := range threads {
			id := StableID(thread)
			if _, ok := byID[id]; ok {
				continue
			}
			byID[id] = struct{}{}
			out = append(out, thread)
		}
	}

	// Items must be processed newest-first so the retrieval cap always
	// keeps the freshest discussion.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// StableID prefers the source-provided thread ID and falls back to a
// content hash, so edited or reposted content without stable IDs is not
// re-ingested as novel.
func StableID(thread domain.ForumThread) string {
	if thread.ID != "" {
		return thread.ID
	}
	sum := sha256.Sum256([]byte(thread.Community + "\x00" + thread.Title + "\x00" + thread.Body))
	return "h:" + hex.EncodeToString(sum[:8])
}
