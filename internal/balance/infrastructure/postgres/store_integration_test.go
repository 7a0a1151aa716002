package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	balance "balance-tracer/internal/balance/domain"
	balancepostgres "balance-tracer/internal/balance/infrastructure/postgres"
)

func TestBalanceQuery_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	seriesTable := "balance_series_it"
	pointsTable := "balance_points_it"
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+pointsTable)
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+seriesTable)
	_, err = db.ExecContext(ctx, `
CREATE TABLE `+seriesTable+` (series_id TEXT PRIMARY KEY, created_at TIMESTAMPTZ NOT NULL DEFAULT NOW());
CREATE TABLE `+pointsTable+` (
	series_id TEXT NOT NULL REFERENCES `+seriesTable+` (series_id),
	ts TIMESTAMPTZ NOT NULL,
	base_ccy TEXT NOT NULL,
	balance NUMERIC NOT NULL,
	PRIMARY KEY (series_id, ts)
)`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+pointsTable)
		_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+seriesTable)
	})

	query := balancepostgres.NewBalanceQuery(db, balancepostgres.WithTables(seriesTable, pointsTable), balancepostgres.WithPageSize(2))
	asOf := time.Date(2019, time.June, 26, 22, 0, 0, 0, time.UTC)

	var records []balance.BalanceRecord
	for i := 0; i < 5; i++ {
		records = append(records, balance.BalanceRecord{
			Series:  "acc-1",
			BaseCcy: "EUR",
			Balance: decimal.RequireFromString("0.1").Mul(decimal.NewFromInt(int64(i + 1))),
			At:      asOf.Add(time.Duration(i-4) * time.Hour),
		})
	}
	records = append(records, balance.BalanceRecord{Series: "acc-2", BaseCcy: "USD", Balance: decimal.NewFromInt(3), At: asOf.Add(time.Minute)})
	require.NoError(t, query.Append(ctx, records...))

	series, err := query.SeriesAsOf(ctx, asOf)
	require.NoError(t, err)
	require.Len(t, series, 2)

	var amounts []string
	for rec, err := range series["acc-1"] {
		require.NoError(t, err)
		amounts = append(amounts, rec.Balance.String())
	}
	assert.Equal(t, []string{"0.5", "0.4", "0.3", "0.2", "0.1"}, amounts)

	_, ok, err := balance.Head(series["acc-2"])
	require.NoError(t, err)
	assert.False(t, ok)
}
