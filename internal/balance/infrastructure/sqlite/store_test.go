package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	balance "balance-tracer/internal/balance/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_SeriesAsOf(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	store.pageSize = 2
	asOf := time.Date(2019, time.June, 26, 22, 0, 0, 0, time.UTC)

	var records []balance.BalanceRecord
	for i := 0; i < 5; i++ {
		records = append(records, balance.BalanceRecord{
			Series:  "acc-1",
			BaseCcy: "EUR",
			Balance: decimal.NewFromInt(int64(i + 1)),
			At:      asOf.Add(time.Duration(i-4) * time.Hour),
		})
	}
	records = append(records,
		balance.BalanceRecord{Series: "acc-1", BaseCcy: "EUR", Balance: decimal.NewFromInt(100), At: asOf.Add(time.Nanosecond)},
		balance.BalanceRecord{Series: "acc-2", BaseCcy: "USD", Balance: decimal.RequireFromString("12.345"), At: asOf.Add(-time.Hour)},
	)
	require.NoError(t, store.Append(ctx, records...))
	require.NoError(t, store.Track(ctx, "acc-3"))

	series, err := store.SeriesAsOf(ctx, asOf)
	require.NoError(t, err)
	require.Len(t, series, 3)

	var amounts []string
	for rec, err := range series["acc-1"] {
		require.NoError(t, err)
		amounts = append(amounts, rec.Balance.String())
	}
	assert.Equal(t, []string{"5", "4", "3", "2", "1"}, amounts)

	head, ok, err := balance.Head(series["acc-2"])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "12.345", head.Balance.String())
	assert.Equal(t, "USD", head.BaseCcy)
	assert.True(t, head.At.Equal(asOf.Add(-time.Hour)))

	_, ok, err = balance.Head(series["acc-3"])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_AppendUpsertsSameTimestamp(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	at := time.Date(2021, time.March, 3, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, balance.BalanceRecord{Series: "a", BaseCcy: "EUR", Balance: decimal.NewFromInt(1), At: at}))
	require.NoError(t, store.Append(ctx, balance.BalanceRecord{Series: "a", BaseCcy: "EUR", Balance: decimal.NewFromInt(2), At: at}))

	series, err := store.SeriesAsOf(ctx, at)
	require.NoError(t, err)
	head, ok, err := balance.Head(series["a"])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", head.Balance.String())
}

func TestStore_MalformedBalance(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.Track(ctx, "bad"))
	_, err := store.DB().ExecContext(ctx, `INSERT INTO balance_points (series_id, ts, base_ccy, balance) VALUES ('bad', 0, 'EUR', 'abc')`)
	require.NoError(t, err)

	series, err := store.SeriesAsOf(ctx, time.Unix(10, 0))
	require.NoError(t, err)
	_, _, err = balance.Head(series["bad"])
	assert.ErrorIs(t, err, balance.ErrMalformedRecord)
}

func TestStore_SeriesAsOfFarFuture(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	at := time.Date(2019, time.June, 26, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, balance.BalanceRecord{Series: "acc-1", BaseCcy: "EUR", Balance: decimal.NewFromInt(10), At: at}))

	asOf, err := balance.ResolveMoment("3000-01-01", at)
	require.NoError(t, err)
	series, err := store.SeriesAsOf(ctx, asOf.Time())
	require.NoError(t, err)
	head, ok, err := balance.Head(series["acc-1"])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10", head.Balance.String())
}

func TestStore_AppendOutOfRange(t *testing.T) {
	store := openTestStore(t)
	err := store.Append(context.Background(), balance.BalanceRecord{
		Series:  "acc-1",
		BaseCcy: "EUR",
		Balance: decimal.NewFromInt(1),
		At:      time.Date(3000, time.January, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}
