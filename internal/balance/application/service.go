package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	balance "balance-tracer/internal/balance/domain"
	"balance-tracer/internal/observability/metrics"
)

// Clock supplies the wall-clock time used for "now" and "today".
type Clock interface {
	Now() time.Time
}

// SystemClock reads the local wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// TotalBalanceService resolves a moment and aggregates the store as of it.
type TotalBalanceService struct {
	store        balance.BalanceStore
	aggregator   *Aggregator
	clock        Clock
	logger       *zap.Logger
	backend      string
	storeTimeout time.Duration
}

// ServiceOption configures the service.
type ServiceOption func(*TotalBalanceService)

// WithClock overrides the wall clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *TotalBalanceService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *TotalBalanceService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAggregator replaces the default aggregator.
func WithAggregator(aggregator *Aggregator) ServiceOption {
	return func(s *TotalBalanceService) {
		if aggregator != nil {
			s.aggregator = aggregator
		}
	}
}

// WithBackend names the store backend in metrics and logs.
func WithBackend(name string) ServiceOption {
	return func(s *TotalBalanceService) {
		if name != "" {
			s.backend = name
		}
	}
}

// WithStoreTimeout bounds the store read. Zero leaves it to the store client.
func WithStoreTimeout(timeout time.Duration) ServiceOption {
	return func(s *TotalBalanceService) {
		if timeout >= 0 {
			s.storeTimeout = timeout
		}
	}
}

// NewTotalBalanceService constructs the service.
func NewTotalBalanceService(store balance.BalanceStore, opts ...ServiceOption) (*TotalBalanceService, error) {
	if store == nil {
		return nil, balance.ErrNilStore
	}
	svc := &TotalBalanceService{
		store:   store,
		clock:   SystemClock{},
		logger:  zap.NewNop(),
		backend: "unknown",
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.aggregator == nil {
		svc.aggregator = NewAggregator(WithAggregatorLogger(svc.logger))
	}
	return svc, nil
}

// ResolveMoment resolves a moment string against the service clock.
func (s *TotalBalanceService) ResolveMoment(moment string) (balance.Moment, error) {
	return balance.ResolveMoment(moment, s.clock.Now())
}

// TotalBalanceAsOfDate returns per-currency totals of every tracked series as of moment.
func (s *TotalBalanceService) TotalBalanceAsOfDate(ctx context.Context, moment string) (balance.AggregateResult, error) {
	asOf, err := s.ResolveMoment(moment)
	if err != nil {
		s.logger.Error("resolve moment failed", zap.String("moment", moment), zap.Error(err))
		return balance.AggregateResult{}, err
	}

	readCtx := ctx
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
	}

	start := time.Now()
	series, err := s.store.SeriesAsOf(readCtx, asOf.Time())
	if err != nil {
		metrics.ObserveStoreRead(s.backend, metrics.ResultError, time.Since(start))
		storeErr := &balance.StoreError{Err: err}
		s.logger.Error("load balances failed",
			zap.String("moment", moment),
			zap.Stringer("as_of", asOf),
			zap.String("backend", s.backend),
			zap.Error(storeErr),
		)
		return balance.AggregateResult{}, storeErr
	}

	result, err := s.aggregator.Aggregate(readCtx, asOf, series)
	if err != nil {
		metrics.ObserveStoreRead(s.backend, metrics.ResultError, time.Since(start))
		s.logger.Error("aggregate balances failed",
			zap.String("moment", moment),
			zap.Stringer("as_of", asOf),
			zap.String("backend", s.backend),
			zap.Error(err),
		)
		return balance.AggregateResult{}, err
	}
	metrics.ObserveStoreRead(s.backend, metrics.ResultSuccess, time.Since(start))
	metrics.ObserveSeries(result.Series, len(result.Missing))

	s.logger.Debug("total balance computed",
		zap.String("moment", moment),
		zap.Stringer("as_of", asOf),
		zap.Int("series", result.Series),
		zap.Int("missing", len(result.Missing)),
		zap.Int("currencies", len(result.Balance)),
	)
	return result, nil
}
