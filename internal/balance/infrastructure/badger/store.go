package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"

	balance "balance-tracer/internal/balance/domain"
)

var (
	seriesPrefix = []byte("s\x00")
	pointsPrefix = []byte("p\x00")

	errStop = errors.New("balance badger: stop")

	epoch       = time.Unix(0, 0)
	maxNanoTime = time.Unix(0, math.MaxInt64)
)

// Store reads balance series from an embedded Badger database.
//
// Keys: s\x00{id} registers a series, p\x00{id}\x00{unix-nanos big-endian}
// holds one JSON encoded observation.
type Store struct {
	db *badgerdb.DB
}

// OpenOptions configures Open.
type OpenOptions struct {
	Path     string
	InMemory bool
	ReadOnly bool
}

// Open opens (or creates) the database.
func Open(opts OpenOptions) (*Store, error) {
	var bopts badgerdb.Options
	switch {
	case opts.InMemory:
		bopts = badgerdb.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Path) != "":
		bopts = badgerdb.DefaultOptions(opts.Path).WithReadOnly(opts.ReadOnly)
	default:
		return nil, errors.New("balance badger: path is required")
	}
	db, err := badgerdb.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	_ = ctx
	if s == nil || s.db == nil || s.db.IsClosed() {
		return errors.New("balance badger: not opened")
	}
	return nil
}

type value struct {
	BaseCcy string `json:"base_ccy"`
	Balance string `json:"balance"`
}

func seriesKey(seriesID string) []byte {
	return append(bytes.Clone(seriesPrefix), seriesID...)
}

func pointsKeyPrefix(seriesID string) []byte {
	key := append(bytes.Clone(pointsPrefix), seriesID...)
	return append(key, 0)
}

func pointKey(seriesID string, nanos uint64) []byte {
	return binary.BigEndian.AppendUint64(pointsKeyPrefix(seriesID), nanos)
}

// seekNanos maps an as-of bound onto the key space. ok is false before 1970,
// where no observation can exist.
func seekNanos(asOf time.Time) (nanos uint64, ok bool) {
	switch {
	case asOf.Before(epoch):
		return 0, false
	case asOf.After(maxNanoTime):
		return math.MaxUint64, true
	}
	return uint64(asOf.UnixNano()), true
}

func validateSeriesID(seriesID string) error {
	if seriesID == "" {
		return errors.New("balance badger: empty series id")
	}
	if strings.IndexByte(seriesID, 0) >= 0 {
		return errors.New("balance badger: series id contains NUL")
	}
	return nil
}

// Track registers a series without records.
func (s *Store) Track(ctx context.Context, seriesID string) error {
	_ = ctx
	if err := validateSeriesID(seriesID); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(seriesKey(seriesID), nil)
	})
}

// Append writes records in one transaction. Observations before 1970 or after
// the int64 nanosecond range are rejected.
func (s *Store) Append(ctx context.Context, records ...balance.BalanceRecord) error {
	_ = ctx
	return s.db.Update(func(txn *badgerdb.Txn) error {
		for _, rec := range records {
			if err := validateSeriesID(rec.Series); err != nil {
				return err
			}
			if err := rec.Validate(); err != nil {
				return err
			}
			if rec.At.Before(epoch) || rec.At.After(maxNanoTime) {
				return fmt.Errorf("balance badger: observation out of range: %s", rec.At)
			}
			data, err := json.Marshal(value{BaseCcy: rec.BaseCcy, Balance: rec.Balance.String()})
			if err != nil {
				return err
			}
			if err := txn.Set(seriesKey(rec.Series), nil); err != nil {
				return err
			}
			if err := txn.Set(pointKey(rec.Series, uint64(rec.At.UnixNano())), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// SeriesAsOf returns one lazy series per tracked series id.
func (s *Store) SeriesAsOf(ctx context.Context, asOf time.Time) (map[string]balance.Series, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("balance badger: not opened")
	}
	if asOf.IsZero() {
		return nil, errors.New("balance badger: invalid as-of")
	}
	nanos, ok := seekNanos(asOf)

	result := make(map[string]balance.Series)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = seriesPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			id := string(it.Item().Key()[len(seriesPrefix):])
			if !ok {
				result[id] = balance.SeriesOf()
				continue
			}
			result[id] = s.series(ctx, id, nanos)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) series(ctx context.Context, seriesID string, bound uint64) balance.Series {
	return func(yield func(balance.BalanceRecord, error) bool) {
		prefix := pointsKeyPrefix(seriesID)
		err := s.db.View(func(txn *badgerdb.Txn) error {
			opts := badgerdb.DefaultIteratorOptions
			opts.Reverse = true
			opts.Prefix = prefix
			opts.PrefetchSize = 4
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(pointKey(seriesID, bound)); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				item := it.Item()
				key := item.KeyCopy(nil)
				at := time.Unix(0, int64(binary.BigEndian.Uint64(key[len(prefix):]))).UTC()
				var v value
				if err := item.Value(func(raw []byte) error { return json.Unmarshal(raw, &v) }); err != nil {
					return fmt.Errorf("%w: %v", balance.ErrMalformedRecord, err)
				}
				amount, err := decimal.NewFromString(v.Balance)
				if err != nil {
					return fmt.Errorf("%w: balance %q: %v", balance.ErrMalformedRecord, v.Balance, err)
				}
				if !yield(balance.BalanceRecord{Series: seriesID, BaseCcy: v.BaseCcy, Balance: amount, At: at}, nil) {
					return errStop
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(balance.BalanceRecord{}, err)
		}
	}
}
