package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	goredis "github.com/redis/go-redis/v9"

	balance "balance-tracer/internal/balance/domain"
	balancebadger "balance-tracer/internal/balance/infrastructure/badger"
	"balance-tracer/internal/balance/infrastructure/memory"
	balancepostgres "balance-tracer/internal/balance/infrastructure/postgres"
	balanceredis "balance-tracer/internal/balance/infrastructure/redis"
	balancesqlite "balance-tracer/internal/balance/infrastructure/sqlite"
	"balance-tracer/internal/config"
)

// Store is the read contract plus the fixture write path shared by every backend.
type Store interface {
	balance.BalanceStore
	Track(ctx context.Context, seriesID string) error
	Append(ctx context.Context, records ...balance.BalanceRecord) error
}

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Handle is an opened store with its lifecycle.
type Handle struct {
	Backend string
	Store   Store
	// DB is set for SQL-backed stores.
	DB *sql.DB

	ping  func(ctx context.Context) error
	close func() error
}

// Ping checks the store connection.
func (h *Handle) Ping(ctx context.Context) error {
	if h == nil || h.ping == nil {
		return errors.New("balance store: not opened")
	}
	return h.ping(ctx)
}

// EnsureSchema creates SQL tables when the backend has any.
func (h *Handle) EnsureSchema(ctx context.Context) error {
	if ensurer, ok := h.Store.(schemaEnsurer); ok {
		return ensurer.EnsureSchema(ctx)
	}
	return nil
}

// Close releases the store.
func (h *Handle) Close() error {
	if h == nil || h.close == nil {
		return nil
	}
	return h.close()
}

// Open connects the backend named in cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (*Handle, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendMemory, "":
		store := memory.NewStore()
		return &Handle{Backend: config.BackendMemory, Store: store, ping: store.Ping, close: func() error { return nil }}, nil
	case config.BackendPostgres:
		return openPostgres(ctx, cfg.DSN)
	case config.BackendSQLite:
		store, err := balancesqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return &Handle{Backend: config.BackendSQLite, Store: store, DB: store.DB(), ping: store.Ping, close: store.Close}, nil
	case config.BackendRedis:
		return openRedis(ctx, cfg)
	case config.BackendBadger:
		opts := balancebadger.OpenOptions{Path: cfg.DSN}
		if cfg.DSN == ":memory:" {
			opts = balancebadger.OpenOptions{InMemory: true}
		}
		store, err := balancebadger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return &Handle{Backend: config.BackendBadger, Store: store, ping: store.Ping, close: store.Close}, nil
	default:
		return nil, fmt.Errorf("unknown balance store %q", cfg.Backend)
	}
}

func openPostgres(ctx context.Context, dsn string) (*Handle, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres store: %w", err)
	}
	store := balancepostgres.NewBalanceQuery(db)
	return &Handle{Backend: config.BackendPostgres, Store: store, DB: db, ping: db.PingContext, close: db.Close}, nil
}

func openRedis(ctx context.Context, cfg config.StoreConfig) (*Handle, error) {
	var store *balanceredis.Store
	if strings.HasPrefix(cfg.DSN, "redis://") || strings.HasPrefix(cfg.DSN, "rediss://") {
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if cfg.RedisPassword != "" {
			opts.Password = cfg.RedisPassword
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis store: %w", err)
		}
		store = balanceredis.NewStore(client)
	} else {
		var err error
		store, err = balanceredis.Dial(ctx, cfg.DSN, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
	}
	return &Handle{Backend: config.BackendRedis, Store: store, ping: store.Ping, close: store.Close}, nil
}
