// Package journal persists a record of answered queries in SQLite
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
	"github.com/bobmcallan/vire-assistant/internal/models"
)

// DefaultRecentLimit caps Recent when no limit is given
const DefaultRecentLimit = 20

const maxRecentLimit = 500

const schema = `
CREATE TABLE IF NOT EXISTS queries (
    id TEXT PRIMARY KEY,
    query TEXT NOT NULL,
    tickers TEXT NOT NULL DEFAULT '[]',
    query_focus TEXT NOT NULL DEFAULT '',
    response TEXT NOT NULL DEFAULT '',
    market_data_points INTEGER NOT NULL DEFAULT 0,
    news_articles INTEGER NOT NULL DEFAULT 0,
    retrieved_docs INTEGER NOT NULL DEFAULT 0,
    degraded INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queries_created ON queries(created_at);
`

// Store implements QueryJournal on SQLite
type Store struct {
	db     *sql.DB
	path   string
	logger *common.Logger
}

// Open creates or opens the journal database at path
func Open(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging journal: %w", err)
	}

	return newStore(logger, db, path)
}

// OpenMemory creates an in-memory journal (useful for testing)
func OpenMemory(logger *common.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory journal: %w", err)
	}
	// each connection would get its own empty database
	db.SetMaxOpenConns(1)

	return newStore(logger, db, ":memory:")
}

func newStore(logger *common.Logger, db *sql.DB, path string) (*Store, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running journal migrations: %w", err)
	}
	logger.Debug().Str("path", path).Msg("Query journal opened")
	return &Store{db: db, path: path, logger: logger}, nil
}

// Record stores one answered query
func (s *Store) Record(ctx context.Context, entry *models.JournalEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("%w: journal entry needs an id", common.ErrInvalidInput)
	}

	tickers, err := json.Marshal(entry.Tickers)
	if err != nil {
		return fmt.Errorf("encoding tickers: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queries (id, query, tickers, query_focus, response, market_data_points,
			news_articles, retrieved_docs, degraded, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Query, string(tickers), entry.QueryFocus, entry.Response,
		entry.StockCount, entry.NewsCount, entry.RetrievedCnt, entry.Degraded,
		entry.DurationMS, createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries first
func (s *Store) Recent(ctx context.Context, limit int) ([]*models.JournalEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, maxRecentLimit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, tickers, query_focus, response, market_data_points,
			news_articles, retrieved_docs, degraded, duration_ms, created_at
		FROM queries
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := []*models.JournalEntry{}
	for rows.Next() {
		var (
			e         models.JournalEntry
			tickers   string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Query, &tickers, &e.QueryFocus, &e.Response, &e.StockCount,
			&e.NewsCount, &e.RetrievedCnt, &e.Degraded, &e.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		if err := json.Unmarshal([]byte(tickers), &e.Tickers); err != nil {
			s.logger.Warn().Err(err).Str("id", e.ID).Msg("Malformed tickers in journal entry")
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return entries, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

var _ interfaces.QueryJournal = (*Store)(nil)
