package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	balance "balance-tracer/internal/balance/domain"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

const defaultPageSize = 16

const schema = `
CREATE TABLE IF NOT EXISTS balance_series (
	series_id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS balance_points (
	series_id TEXT NOT NULL REFERENCES balance_series (series_id),
	ts INTEGER NOT NULL,
	base_ccy TEXT NOT NULL,
	balance TEXT NOT NULL,
	PRIMARY KEY (series_id, ts)
);`

var (
	minNanoTime = time.Unix(0, math.MinInt64)
	maxNanoTime = time.Unix(0, math.MaxInt64)
)

// boundNanos clamps t to the int64 nanosecond range.
func boundNanos(t time.Time) int64 {
	switch {
	case t.After(maxNanoTime):
		return math.MaxInt64
	case t.Before(minNanoTime):
		return math.MinInt64
	}
	return t.UnixNano()
}

// Store reads balance series from an embedded SQLite database.
// Timestamps are stored as unix nanoseconds, balances as decimal text.
type Store struct {
	db       *sql.DB
	pageSize int
}

// Open opens a SQLite database at dsn (":memory:" or a file path) and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("balance sqlite: empty dsn")
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases shared across queries
	db.SetMaxOpenConns(1)
	store := NewStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, pageSize: defaultPageSize}
}

// DB exposes the underlying handle for pool metrics.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("balance sqlite: nil db")
	}
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("balance sqlite: nil db")
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Track registers a series without records.
func (s *Store) Track(ctx context.Context, seriesID string) error {
	if seriesID == "" {
		return errors.New("balance sqlite: empty series id")
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO balance_series (series_id) VALUES (?)`, seriesID)
	return err
}

// Append upserts balance records in one transaction.
func (s *Store) Append(ctx context.Context, records ...balance.BalanceRecord) error {
	if s == nil || s.db == nil {
		return errors.New("balance sqlite: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		if rec.Series == "" {
			return errors.New("balance sqlite: empty series id")
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		if rec.At.Before(minNanoTime) || rec.At.After(maxNanoTime) {
			return fmt.Errorf("balance sqlite: observation out of range: %s", rec.At)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO balance_series (series_id) VALUES (?)`, rec.Series); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO balance_points (series_id, ts, base_ccy, balance)
VALUES (?, ?, ?, ?)
ON CONFLICT (series_id, ts)
DO UPDATE SET base_ccy = excluded.base_ccy, balance = excluded.balance`,
			rec.Series, rec.At.UnixNano(), rec.BaseCcy, rec.Balance.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SeriesAsOf returns one lazy series per tracked series id.
func (s *Store) SeriesAsOf(ctx context.Context, asOf time.Time) (map[string]balance.Series, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("balance sqlite: nil db")
	}
	if asOf.IsZero() {
		return nil, errors.New("balance sqlite: invalid as-of")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT series_id FROM balance_series ORDER BY series_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]balance.Series)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result[id] = s.series(ctx, id, boundNanos(asOf))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) series(ctx context.Context, seriesID string, asOf int64) balance.Series {
	return func(yield func(balance.BalanceRecord, error) bool) {
		bound := asOf
		for {
			page, err := s.page(ctx, seriesID, bound)
			if err != nil {
				yield(balance.BalanceRecord{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			bound = page[len(page)-1].At.UnixNano() - 1
		}
	}
}

func (s *Store) page(ctx context.Context, seriesID string, bound int64) ([]balance.BalanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ts, base_ccy, balance
FROM balance_points
WHERE series_id = ? AND ts <= ?
ORDER BY ts DESC
LIMIT ?`, seriesID, bound, s.pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []balance.BalanceRecord
	for rows.Next() {
		var (
			ts      int64
			baseCcy string
			amount  string
		)
		if err := rows.Scan(&ts, &baseCcy, &amount); err != nil {
			return nil, err
		}
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("%w: balance %q: %v", balance.ErrMalformedRecord, amount, err)
		}
		page = append(page, balance.BalanceRecord{Series: seriesID, BaseCcy: baseCcy, Balance: value, At: time.Unix(0, ts).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}
