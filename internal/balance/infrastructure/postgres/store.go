package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	balance "balance-tracer/internal/balance/domain"
)

const (
	defaultSeriesTable = "balance_series"
	defaultPointsTable = "balance_points"
	defaultPageSize    = 16
)

// Schema creates the tables read by BalanceQuery.
const Schema = `
CREATE TABLE IF NOT EXISTS balance_series (
	series_id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS balance_points (
	series_id TEXT NOT NULL REFERENCES balance_series (series_id),
	ts TIMESTAMPTZ NOT NULL,
	base_ccy TEXT NOT NULL,
	balance NUMERIC NOT NULL,
	PRIMARY KEY (series_id, ts)
);`

// DBTX is the subset of *sql.DB used by the store.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BalanceQuery reads balance series from Postgres.
type BalanceQuery struct {
	db          DBTX
	seriesTable string
	pointsTable string
	pageSize    int
}

// NewBalanceQuery constructs a query with default table names.
func NewBalanceQuery(db DBTX, opts ...QueryOption) *BalanceQuery {
	query := &BalanceQuery{
		db:          db,
		seriesTable: defaultSeriesTable,
		pointsTable: defaultPointsTable,
		pageSize:    defaultPageSize,
	}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// QueryOption configures the balance query.
type QueryOption func(*BalanceQuery)

// WithTables overrides the default table names.
func WithTables(seriesTable, pointsTable string) QueryOption {
	return func(query *BalanceQuery) {
		if seriesTable != "" {
			query.seriesTable = seriesTable
		}
		if pointsTable != "" {
			query.pointsTable = pointsTable
		}
	}
}

// WithPageSize sets how many rows a series fetches per round trip.
func WithPageSize(size int) QueryOption {
	return func(query *BalanceQuery) {
		if size > 0 {
			query.pageSize = size
		}
	}
}

// EnsureSchema creates the default tables when missing.
func (q *BalanceQuery) EnsureSchema(ctx context.Context) error {
	if q == nil || q.db == nil {
		return errors.New("balance postgres: nil db")
	}
	_, err := q.db.ExecContext(ctx, Schema)
	return err
}

// SeriesAsOf returns one lazy series per tracked series id.
// Rows are paged with a keyset on ts so only the consumed head is fetched.
func (q *BalanceQuery) SeriesAsOf(ctx context.Context, asOf time.Time) (map[string]balance.Series, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("balance postgres: nil db")
	}
	if asOf.IsZero() {
		return nil, errors.New("balance postgres: invalid as-of")
	}

	ids, err := q.listSeries(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]balance.Series, len(ids))
	for _, id := range ids {
		result[id] = q.series(ctx, id, asOf.UTC())
	}
	return result, nil
}

func (q *BalanceQuery) listSeries(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(`SELECT series_id FROM %s ORDER BY series_id ASC`, q.seriesTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (q *BalanceQuery) series(ctx context.Context, seriesID string, asOf time.Time) balance.Series {
	return func(yield func(balance.BalanceRecord, error) bool) {
		bound := asOf
		inclusive := true
		for {
			page, err := q.page(ctx, seriesID, bound, inclusive)
			if err != nil {
				yield(balance.BalanceRecord{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < q.pageSize {
				return
			}
			bound = page[len(page)-1].At
			inclusive = false
		}
	}
}

func (q *BalanceQuery) page(ctx context.Context, seriesID string, bound time.Time, inclusive bool) ([]balance.BalanceRecord, error) {
	op := "<"
	if inclusive {
		op = "<="
	}
	query := fmt.Sprintf(`
SELECT ts, base_ccy, balance::text
FROM %s
WHERE series_id = $1
	AND ts %s $2
ORDER BY ts DESC
LIMIT $3`, q.pointsTable, op)

	rows, err := q.db.QueryContext(ctx, query, seriesID, bound, q.pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := make([]balance.BalanceRecord, 0, q.pageSize)
	for rows.Next() {
		var (
			ts      time.Time
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
		page = append(page, balance.BalanceRecord{Series: seriesID, BaseCcy: baseCcy, Balance: value, At: ts.UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

// Append upserts balance records, registering their series.
func (q *BalanceQuery) Append(ctx context.Context, records ...balance.BalanceRecord) error {
	if q == nil || q.db == nil {
		return errors.New("balance postgres: nil db")
	}
	for _, rec := range records {
		if rec.Series == "" {
			return errors.New("balance postgres: empty series id")
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		if _, err := q.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (series_id) VALUES ($1)
ON CONFLICT (series_id) DO NOTHING`, q.seriesTable), rec.Series); err != nil {
			return err
		}
		if _, err := q.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (series_id, ts, base_ccy, balance)
VALUES ($1, $2, $3, $4::numeric)
ON CONFLICT (series_id, ts)
DO UPDATE SET
	base_ccy = EXCLUDED.base_ccy,
	balance = EXCLUDED.balance`, q.pointsTable), rec.Series, rec.At.UTC(), rec.BaseCcy, rec.Balance.String()); err != nil {
			return err
		}
	}
	return nil
}

// Track registers a series without records.
func (q *BalanceQuery) Track(ctx context.Context, seriesID string) error {
	if q == nil || q.db == nil {
		return errors.New("balance postgres: nil db")
	}
	if seriesID == "" {
		return errors.New("balance postgres: empty series id")
	}
	_, err := q.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (series_id) VALUES ($1)
ON CONFLICT (series_id) DO NOTHING`, q.seriesTable), seriesID)
	return err
}
