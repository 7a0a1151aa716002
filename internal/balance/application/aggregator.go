package application

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	balance "balance-tracer/internal/balance/domain"
)

const defaultFanOut = 8

// Aggregator reduces the head of every series into per-currency totals.
type Aggregator struct {
	fanOut int
	logger *zap.Logger
}

// AggregatorOption configures the aggregator.
type AggregatorOption func(*Aggregator)

// WithFanOut bounds how many series heads are read concurrently.
func WithFanOut(limit int) AggregatorOption {
	return func(a *Aggregator) {
		if limit > 0 {
			a.fanOut = limit
		}
	}
}

// WithAggregatorLogger sets the logger used for missing series.
func WithAggregatorLogger(logger *zap.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator constructs an Aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	agg := &Aggregator{fanOut: defaultFanOut, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(agg)
	}
	return agg
}

type head struct {
	record balance.BalanceRecord
	ok     bool
}

// Aggregate takes the first record of each series and sums balances by currency.
// Empty series are reported in Missing; any read error fails the whole aggregate.
func (a *Aggregator) Aggregate(ctx context.Context, asOf balance.Moment, series map[string]balance.Series) (balance.AggregateResult, error) {
	result := balance.AggregateResult{AsOf: asOf, Balance: balance.Totals{}, Series: len(series)}
	if len(series) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	heads := make([]head, len(ids))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.fanOut)
	for i, id := range ids {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			rec, ok, err := balance.Head(series[id])
			if err != nil {
				return &balance.StoreError{Series: id, Err: err}
			}
			if ok {
				if err := rec.Validate(); err != nil {
					return &balance.StoreError{Series: id, Err: err}
				}
			}
			heads[i] = head{record: rec, ok: ok}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if balance.IsStoreError(err) {
			return balance.AggregateResult{}, err
		}
		return balance.AggregateResult{}, errors.Wrap(err, "aggregate balances")
	}

	records := make([]balance.BalanceRecord, 0, len(heads))
	for i, h := range heads {
		if !h.ok {
			result.Missing = append(result.Missing, ids[i])
			a.logger.Warn("series has no balance as of moment",
				zap.String("series", ids[i]),
				zap.Stringer("as_of", asOf),
				zap.Error(balance.ErrMissingSeriesData),
			)
			continue
		}
		records = append(records, h.record)
	}
	result.Balance = balance.SumByCurrency(records)
	return result, nil
}
