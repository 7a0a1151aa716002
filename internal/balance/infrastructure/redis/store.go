package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	balance "balance-tracer/internal/balance/domain"
)

const (
	defaultPrefix   = "balance"
	defaultPageSize = 16
)

// Store reads balance series kept in Redis sorted sets.
//
// Layout: {prefix}:series is a set of series ids, {prefix}:points:{id} a sorted
// set of JSON records scored by unix milliseconds.
type Store struct {
	client   goredis.UniversalClient
	prefix   string
	pageSize int64
}

// Option configures the store.
type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithPageSize sets how many members a series fetches per round trip.
func WithPageSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.pageSize = int64(size)
		}
	}
}

// NewStore wraps a connected client.
func NewStore(client goredis.UniversalClient, opts ...Option) *Store {
	store := &Store{client: client, prefix: defaultPrefix, pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewStore(client, opts...), nil
}

type member struct {
	BaseCcy string `json:"base_ccy"`
	Balance string `json:"balance"`
	At      string `json:"at"`
}

func (s *Store) seriesKey() string { return s.prefix + ":series" }

func (s *Store) pointsKey(seriesID string) string { return s.prefix + ":points:" + seriesID }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Track registers a series without records.
func (s *Store) Track(ctx context.Context, seriesID string) error {
	if seriesID == "" {
		return errors.New("balance redis: empty series id")
	}
	return s.client.SAdd(ctx, s.seriesKey(), seriesID).Err()
}

// Append adds records to their series sorted sets, replacing records with the same millisecond timestamp.
func (s *Store) Append(ctx context.Context, records ...balance.BalanceRecord) error {
	pipe := s.client.TxPipeline()
	for _, rec := range records {
		if rec.Series == "" {
			return errors.New("balance redis: empty series id")
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		data, err := json.Marshal(member{
			BaseCcy: rec.BaseCcy,
			Balance: rec.Balance.String(),
			At:      rec.At.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal balance: %w", err)
		}
		score := rec.At.UnixMilli()
		pipe.SAdd(ctx, s.seriesKey(), rec.Series)
		// one member per timestamp: a rewrite replaces the previous observation
		pipe.ZRemRangeByScore(ctx, s.pointsKey(rec.Series), strconv.FormatInt(score, 10), strconv.FormatInt(score, 10))
		pipe.ZAdd(ctx, s.pointsKey(rec.Series), goredis.Z{Score: float64(score), Member: data})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append balances to redis: %w", err)
	}
	return nil
}

// SeriesAsOf returns one lazy series per tracked series id.
func (s *Store) SeriesAsOf(ctx context.Context, asOf time.Time) (map[string]balance.Series, error) {
	if asOf.IsZero() {
		return nil, errors.New("balance redis: invalid as-of")
	}
	ids, err := s.client.SMembers(ctx, s.seriesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list series from redis: %w", err)
	}
	sort.Strings(ids)

	result := make(map[string]balance.Series, len(ids))
	for _, id := range ids {
		result[id] = s.series(ctx, id, asOf)
	}
	return result, nil
}

func (s *Store) series(ctx context.Context, seriesID string, asOf time.Time) balance.Series {
	maxScore := strconv.FormatInt(asOf.UnixMilli(), 10)
	return func(yield func(balance.BalanceRecord, error) bool) {
		var offset int64
		for {
			values, err := s.client.ZRevRangeByScore(ctx, s.pointsKey(seriesID), &goredis.ZRangeBy{
				Min:    "-inf",
				Max:    maxScore,
				Offset: offset,
				Count:  s.pageSize,
			}).Result()
			if err != nil {
				yield(balance.BalanceRecord{}, fmt.Errorf("failed to read series %s from redis: %w", seriesID, err))
				return
			}
			for _, raw := range values {
				rec, err := decodeMember(seriesID, raw)
				// scores are whole milliseconds; the bound's own millisecond may hold later records
				if err == nil && rec.At.After(asOf) {
					continue
				}
				if !yield(rec, err) || err != nil {
					return
				}
			}
			if int64(len(values)) < s.pageSize {
				return
			}
			offset += int64(len(values))
		}
	}
}

func decodeMember(seriesID, raw string) (balance.BalanceRecord, error) {
	var m member
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return balance.BalanceRecord{}, fmt.Errorf("%w: %v", balance.ErrMalformedRecord, err)
	}
	amount, err := decimal.NewFromString(m.Balance)
	if err != nil {
		return balance.BalanceRecord{}, fmt.Errorf("%w: balance %q: %v", balance.ErrMalformedRecord, m.Balance, err)
	}
	at, err := time.Parse(time.RFC3339Nano, m.At)
	if err != nil {
		return balance.BalanceRecord{}, fmt.Errorf("%w: at %q: %v", balance.ErrMalformedRecord, m.At, err)
	}
	return balance.BalanceRecord{Series: seriesID, BaseCcy: m.BaseCcy, Balance: amount, At: at}, nil
}
