package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"balance-tracer/internal/auth"
	balanceapp "balance-tracer/internal/balance/application"
	"balance-tracer/internal/balance/infrastructure/stores"
	balancehttp "balance-tracer/internal/balance/interfaces/http"
	"balance-tracer/internal/config"
	"balance-tracer/internal/observability/logging"
	"balance-tracer/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, 15*time.Second)
	handle, err := stores.Open(openCtx, cfg.Store)
	cancelOpen()
	if err != nil {
		logger.Fatal("open balance store failed", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer func() {
		if err := handle.Close(); err != nil {
			logger.Warn("close balance store failed", zap.Error(err))
		}
	}()

	metrics.Init(handle.DB, handle.Backend, logger)

	aggregator := balanceapp.NewAggregator(
		balanceapp.WithFanOut(cfg.FanOut),
		balanceapp.WithAggregatorLogger(logger),
	)
	service, err := balanceapp.NewTotalBalanceService(handle.Store,
		balanceapp.WithLogger(logger),
		balanceapp.WithAggregator(aggregator),
		balanceapp.WithBackend(handle.Backend),
		balanceapp.WithStoreTimeout(cfg.Store.Timeout),
	)
	if err != nil {
		logger.Fatal("balance service error", zap.Error(err))
	}
	balanceHandler, err := balancehttp.NewHandler(service,
		balancehttp.WithParseErrorStatus(cfg.ParseErrorStatus),
		balancehttp.WithHandlerLogger(logger),
	)
	if err != nil {
		logger.Fatal("balance handler error", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	authMiddleware.Logger = logger
	if !authMiddleware.Enabled() {
		logger.Warn("AUTH_JWT_SECRET not set, balance endpoint is unauthenticated")
	}

	mux := http.NewServeMux()
	mux.Handle(balancehttp.RoutePrefix, balanceHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthHandler(handle, logger))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           logging.Middleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("backend", handle.Backend),
			zap.Int("fan_out", cfg.FanOut),
		)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}
	}
}

func healthHandler(handle *stores.Handle, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := handle.Ping(ctx); err != nil {
			logger.Warn("health check failed", zap.String("backend", handle.Backend), zap.Error(err))
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
