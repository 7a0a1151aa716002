package balance

import (
	"context"
	"iter"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceRecord is one observation of an account balance.
type BalanceRecord struct {
	Series  string          `json:"series,omitempty" yaml:"series"`
	BaseCcy string          `json:"base_ccy" yaml:"base_ccy"`
	Balance decimal.Decimal `json:"balance" yaml:"balance"`
	At      time.Time       `json:"at" yaml:"at"`
}

// Validate rejects records without a base currency.
func (r BalanceRecord) Validate() error {
	if r.BaseCcy == "" {
		return ErrMalformedRecord
	}
	return nil
}

// Series yields balance records most-recent-first at-or-before an as-of bound.
// Implementations must stay lazy: consumers usually stop after the first record.
type Series = iter.Seq2[BalanceRecord, error]

// BalanceStore is the read contract of the time-series balance store.
type BalanceStore interface {
	// SeriesAsOf returns one lazy sequence per tracked series.
	SeriesAsOf(ctx context.Context, asOf time.Time) (map[string]Series, error)
}

// Head returns the first record of a series. ok is false for an empty series.
func Head(series Series) (record BalanceRecord, ok bool, err error) {
	if series == nil {
		return BalanceRecord{}, false, nil
	}
	for rec, iterErr := range series {
		if iterErr != nil {
			return BalanceRecord{}, false, iterErr
		}
		return rec, true, nil
	}
	return BalanceRecord{}, false, nil
}

// SeriesOf builds a series from records already ordered most-recent-first.
func SeriesOf(records ...BalanceRecord) Series {
	return func(yield func(BalanceRecord, error) bool) {
		for _, rec := range records {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// FailingSeries builds a series that fails on its first read.
func FailingSeries(err error) Series {
	return func(yield func(BalanceRecord, error) bool) {
		yield(BalanceRecord{}, err)
	}
}

// Totals maps currency codes to exact totals.
type Totals map[string]decimal.Decimal

// Currencies returns the currency codes sorted alphabetically.
func (t Totals) Currencies() []string {
	codes := make([]string, 0, len(t))
	for code := range t {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// SumByCurrency groups records by base currency and sums their balances.
func SumByCurrency(records []BalanceRecord) Totals {
	totals := make(Totals)
	for _, rec := range records {
		totals[rec.BaseCcy] = totals[rec.BaseCcy].Add(rec.Balance)
	}
	return totals
}

// AggregateResult is the per-currency total as of a moment.
type AggregateResult struct {
	AsOf    Moment
	Balance Totals
	// Series is the number of tracked series considered.
	Series int
	// Missing lists series without a record as of the moment.
	Missing []string
}
