package application

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	balance "balance-tracer/internal/balance/domain"
)

var asOf = balance.NewMoment(time.Date(2019, time.June, 26, 0, 0, 0, 0, time.UTC))

func rec(ccy, amount string) balance.BalanceRecord {
	return balance.BalanceRecord{BaseCcy: ccy, Balance: decimal.RequireFromString(amount)}
}

func exampleSeries() map[string]balance.Series {
	return map[string]balance.Series{
		"1.0": balance.SeriesOf(rec("cc1", "10"), rec("cc2", "2000")),
		"1.5": balance.SeriesOf(rec("cc2", "2000")),
		"2.0": balance.SeriesOf(rec("cc2", "20")),
		"2.1": balance.SeriesOf(rec("cc2", "21")),
		"3.0": balance.SeriesOf(rec("cc3", "30")),
	}
}

func assertTotal(t *testing.T, totals balance.Totals, ccy, want string) {
	t.Helper()
	got, ok := totals[ccy]
	require.True(t, ok, "missing currency %s", ccy)
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s: got %s want %s", ccy, got, want)
}

func TestAggregate_SumsFirstRecordOfEverySeries(t *testing.T) {
	result, err := NewAggregator().Aggregate(context.Background(), asOf, exampleSeries())
	require.NoError(t, err)

	require.Len(t, result.Balance, 3)
	assertTotal(t, result.Balance, "cc1", "10")
	assertTotal(t, result.Balance, "cc2", "2041")
	assertTotal(t, result.Balance, "cc3", "30")
	assert.Equal(t, 5, result.Series)
	assert.Empty(t, result.Missing)
	assert.True(t, result.AsOf.Equal(asOf))
}

func TestAggregate_IsCommutative(t *testing.T) {
	base, err := NewAggregator().Aggregate(context.Background(), asOf, exampleSeries())
	require.NoError(t, err)

	heads := []balance.BalanceRecord{rec("cc1", "10"), rec("cc2", "2000"), rec("cc2", "20"), rec("cc2", "21"), rec("cc3", "30")}
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		rng.Shuffle(len(heads), func(i, j int) { heads[i], heads[j] = heads[j], heads[i] })
		series := make(map[string]balance.Series, len(heads))
		for i, h := range heads {
			series[string(rune('a'+i))] = balance.SeriesOf(h)
		}
		result, err := NewAggregator(WithFanOut(1+round%4)).Aggregate(context.Background(), asOf, series)
		require.NoError(t, err)
		require.Len(t, result.Balance, len(base.Balance))
		for ccy, total := range base.Balance {
			assert.True(t, result.Balance[ccy].Equal(total), ccy)
		}
	}
}

func TestAggregate_EmptyInput(t *testing.T) {
	result, err := NewAggregator().Aggregate(context.Background(), asOf, map[string]balance.Series{})
	require.NoError(t, err)
	assert.NotNil(t, result.Balance)
	assert.Empty(t, result.Balance)

	result, err = NewAggregator().Aggregate(context.Background(), asOf, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Balance)
}

func TestAggregate_EmptySeriesContributesNothing(t *testing.T) {
	series := exampleSeries()
	series["ghost"] = balance.SeriesOf()
	core, logs := observer.New(zap.InfoLevel)

	result, err := NewAggregator(WithAggregatorLogger(zap.New(core))).Aggregate(context.Background(), asOf, series)
	require.NoError(t, err)
	assertTotal(t, result.Balance, "cc2", "2041")
	assert.Equal(t, []string{"ghost"}, result.Missing)
	assert.Equal(t, 6, result.Series)

	entries := logs.FilterMessage("series has no balance as of moment").AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ghost", fields["series"])
	assert.Equal(t, balance.ErrMissingSeriesData.Error(), fields["error"])
}

func TestAggregate_AllSeriesMissing(t *testing.T) {
	series := map[string]balance.Series{"a": balance.SeriesOf(), "b": nil}
	result, err := NewAggregator().Aggregate(context.Background(), asOf, series)
	require.NoError(t, err)
	assert.Empty(t, result.Balance)
	assert.ElementsMatch(t, []string{"a", "b"}, result.Missing)
}

func TestAggregate_ExactDecimalSum(t *testing.T) {
	series := map[string]balance.Series{
		"a": balance.SeriesOf(rec("EUR", "0.1")),
		"b": balance.SeriesOf(rec("EUR", "0.2")),
	}
	result, err := NewAggregator().Aggregate(context.Background(), asOf, series)
	require.NoError(t, err)
	assert.Equal(t, "0.3", result.Balance["EUR"].String())
}

func TestAggregate_SeriesErrorFailsWhole(t *testing.T) {
	boom := errors.New("connection reset")
	series := exampleSeries()
	series["broken"] = balance.FailingSeries(boom)

	result, err := NewAggregator().Aggregate(context.Background(), asOf, series)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, balance.IsStoreError(err))
	assert.Nil(t, result.Balance)
}

func TestAggregate_MalformedRecordIsStoreError(t *testing.T) {
	series := map[string]balance.Series{"a": balance.SeriesOf(balance.BalanceRecord{Balance: decimal.NewFromInt(1)})}
	_, err := NewAggregator().Aggregate(context.Background(), asOf, series)
	assert.ErrorIs(t, err, balance.ErrMalformedRecord)
	assert.True(t, balance.IsStoreError(err))
}
