// Package store is the durable side of the pipeline: the seen-item ledger
// that makes harvesting idempotent, and the append-only analysis log. Both
// live in a single embedded SQLite database at a configured path, so a
// restart resumes exactly where the previous process stopped.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"forum-alpha/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"
)

const seenItemsSchema = `
CREATE TABLE IF NOT EXISTS seen_items (
    community TEXT NOT NULL,
    item_id   TEXT NOT NULL,
    seen_at   TEXT NOT NULL,
    PRIMARY KEY (community, item_id)
);
`

const analysisRecordsSchema = `
CREATE TABLE IF NOT EXISTS analysis_records (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    ticker              TEXT NOT NULL,
    analyzed_at         TEXT NOT NULL,
    implied_probability REAL NOT NULL,
    confidence          REAL NOT NULL,
    recommendation      TEXT NOT NULL,
    market_probability  REAL NOT NULL,
    corpus_threads      INTEGER NOT NULL,
    corpus_communities  TEXT NOT NULL,
    flagged             INTEGER NOT NULL,
    raw_response        TEXT NOT NULL,
    simulated_contracts INTEGER,
    simulated_fill      REAL
);

CREATE INDEX IF NOT EXISTS idx_analysis_records_ticker
    ON analysis_records (ticker, id DESC);
`

type Store struct {
	db     *sql.DB
	tracer trace.Tracer
}

// Open opens (or creates) the database at path and applies the schema. WAL
// keeps the ledger readable while the poller writes; synchronous(FULL)
// because a lost ledger write means re-ingesting content after a crash.
func Open(path string, tracer trace.Tracer) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY between the ledger and the analysis log.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, tracer: tracer}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, schema := range []string{seenItemsSchema, analysisRecordsSchema} {
		if _, err := s.db.Exec(schema); err != nil {
			return &domain.StorageError{Op: "migrate", Err: err}
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// IsSeen reports whether the (community, item) pair is already in the ledger.
func (s *Store) IsSeen(ctx context.Context, community, itemID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.is-seen")
	defer span.End()

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_items WHERE community = ? AND item_id = ?`,
		community, itemID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &domain.StorageError{Op: "is-seen", Err: err}
	}
	return true, nil
}

// MarkSeen records the items durably. Re-marking an already-seen item is a
// no-op, so callers can safely retry a whole batch.
func (s *Store) MarkSeen(ctx context.Context, items []domain.SeenItem) error {
	if len(items) == 0 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "store.mark-seen")
	defer span.End()
	span.SetAttributes(attribute.Int("items.count", len(items)))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "mark-seen", Err: err}
	}
	defer tx.Rollback()

	for _, item := range items {
		seenAt := item.SeenAt
		if seenAt.IsZero() {
			seenAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO seen_items (community, item_id, seen_at) VALUES (?, ?, ?)`,
			item.Community, item.ItemID, seenAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return &domain.StorageError{Op: "mark-seen", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "mark-seen", Err: err}
	}
	return nil
}

// CountSeen returns the ledger size. The ledger only grows; there is no
// delete path.
func (s *Store) CountSeen(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "store.count-seen")
	defer span.End()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_items`).Scan(&n); err != nil {
		return 0, &domain.StorageError{Op: "count-seen", Err: err}
	}
	return n, nil
}

// AppendAnalysis writes one record to the analysis log and fills in the
// assigned ID. Existing rows are never updated.
func (s *Store) AppendAnalysis(ctx context.Context, record *domain.AnalysisRecord) error {
	ctx, span := s.tracer.Start(ctx, "store.append-analysis")
	defer span.End()
	span.SetAttributes(attribute.String("market.ticker", record.Ticker))

	communities, err := json.Marshal(record.CorpusCommunities)
	if err != nil {
		return &domain.StorageError{Op: "append-analysis", Err: err}
	}

	var contracts sql.NullInt64
	var fill sql.NullFloat64
	if record.Simulated != nil {
		contracts = sql.NullInt64{Int64: int64(record.Simulated.Contracts), Valid: true}
		fill = sql.NullFloat64{Float64: record.Simulated.FillPrice, Valid: true}
	}

	if record.AnalyzedAt.IsZero() {
		record.AnalyzedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_records
		 (ticker, analyzed_at, implied_probability, confidence, recommendation,
		  market_probability, corpus_threads, corpus_communities, flagged,
		  raw_response, simulated_contracts, simulated_fill)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Ticker,
		record.AnalyzedAt.UTC().Format(time.RFC3339Nano),
		record.ImpliedProbability,
		record.Confidence,
		string(record.Recommendation),
		record.MarketProbability,
		record.CorpusThreads,
		string(communities),
		boolToInt(record.Flagged),
		record.RawResponse,
		contracts,
		fill,
	)
	if err != nil {
		return &domain.StorageError{Op: "append-analysis", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return &domain.StorageError{Op: "append-analysis", Err: err}
	}
	record.ID = id
	return nil
}

// RecentAnalyses returns the newest records first, optionally filtered to one
// ticker. Raw responses stay in the database; they are audit material, not
// API payload.
func (s *Store) RecentAnalyses(ctx context.Context, ticker string, limit int) ([]domain.AnalysisRecord, error) {
	ctx, span := s.tracer.Start(ctx, "store.recent-analyses")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, ticker, analyzed_at, implied_probability, confidence,
	                 recommendation, market_probability, corpus_threads,
	                 corpus_communities, flagged, simulated_contracts, simulated_fill
	          FROM analysis_records`
	args := []any{}
	if ticker != "" {
		query += ` WHERE ticker = ?`
		args = append(args, ticker)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "recent-analyses", Err: err}
	}
	defer rows.Close()

	var out []domain.AnalysisRecord
	for rows.Next() {
		var r domain.AnalysisRecord
		var analyzedAt, communities, recommendation string
		var flagged int
		var contracts sql.NullInt64
		var fill sql.NullFloat64

		if err := rows.Scan(
			&r.ID, &r.Ticker, &analyzedAt, &r.ImpliedProbability, &r.Confidence,
			&recommendation, &r.MarketProbability, &r.CorpusThreads,
			&communities, &flagged, &contracts, &fill,
		); err != nil {
			return nil, &domain.StorageError{Op: "recent-analyses", Err: err}
		}

		r.Recommendation = domain.Recommendation(recommendation)
		r.Flagged = flagged != 0
		if t, err := time.Parse(time.RFC3339Nano, analyzedAt); err == nil {
			r.AnalyzedAt = t
		}
		if communities != "" {
			if err := json.Unmarshal([]byte(communities), &r.CorpusCommunities); err != nil {
				return nil, &domain.StorageError{Op: "recent-analyses", Err: fmt.Errorf("corpus_communities: %w", err)}
			}
		}
		if contracts.Valid {
			r.Simulated = &domain.SimulatedTrade{
				Contracts: int(contracts.Int64),
				FillPrice: fill.Float64,
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "recent-analyses", Err: err}
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
