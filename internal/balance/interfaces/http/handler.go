package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	balance "balance-tracer/internal/balance/domain"
	"balance-tracer/internal/observability/metrics"
)

// RoutePrefix is the path prefix served by Handler; the rest of the path is the moment.
const RoutePrefix = "/total_balance_as_of_date/"

// TotalBalancer computes the per-currency total as of a moment string.
type TotalBalancer interface {
	TotalBalanceAsOfDate(ctx context.Context, moment string) (balance.AggregateResult, error)
}

// Handler serves GET /total_balance_as_of_date/{moment}.
type Handler struct {
	service          TotalBalancer
	logger           *zap.Logger
	parseErrorStatus int
}

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithParseErrorStatus sets the status returned for unparseable moments.
// Only 4xx and 5xx codes are accepted.
func WithParseErrorStatus(status int) HandlerOption {
	return func(h *Handler) {
		if status >= 400 && status <= 599 {
			h.parseErrorStatus = status
		}
	}
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(service TotalBalancer, opts ...HandlerOption) (*Handler, error) {
	if service == nil {
		return nil, errors.New("balance handler: nil service")
	}
	h := &Handler{
		service:          service,
		logger:           zap.NewNop(),
		parseErrorStatus: http.StatusInternalServerError,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type totalBalanceResponse struct {
	AsOfUTC string                 `json:"as_of_utc"`
	Balance map[string]json.Number `json:"balance"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// ServeHTTP handles /total_balance_as_of_date/{moment}[?format=json|csv|xlsx|pdf].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, RoutePrefix) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	start := time.Now()
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = formatJSON
	}
	exporter, ok := exporters[format]
	if format != formatJSON && !ok {
		metrics.ObserveTotalBalance("unknown", metrics.ResultUnsupported, time.Since(start))
		writeError(w, http.StatusBadRequest, "unsupported format: "+format)
		return
	}

	moment := strings.TrimPrefix(r.URL.Path, RoutePrefix)
	result, err := h.service.TotalBalanceAsOfDate(r.Context(), moment)
	if err != nil {
		status, label := h.classify(err)
		metrics.ObserveTotalBalance(format, label, time.Since(start))
		writeError(w, status, err.Error())
		return
	}

	if format == formatJSON {
		body, err := MarshalTotalBalance(result)
		if err != nil {
			h.fail(w, format, moment, start, err)
			return
		}
		metrics.ObserveTotalBalance(format, metrics.ResultSuccess, time.Since(start))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	renderStart := time.Now()
	body, err := exporter.render(result)
	if err != nil {
		h.fail(w, format, moment, start, err)
		return
	}
	metrics.ObserveExportRender(format, time.Since(renderStart))
	metrics.ObserveTotalBalance(format, metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", exporter.contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename(result.AsOf, format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) classify(err error) (int, string) {
	switch {
	case balance.IsParseError(err):
		return h.parseErrorStatus, metrics.ResultParseError
	case balance.IsStoreError(err):
		return http.StatusInternalServerError, metrics.ResultStoreError
	default:
		return http.StatusInternalServerError, metrics.ResultError
	}
}

func (h *Handler) fail(w http.ResponseWriter, format, moment string, start time.Time, err error) {
	h.logger.Error("render total balance failed",
		zap.String("moment", moment),
		zap.String("format", format),
		zap.Error(err),
	)
	metrics.ObserveTotalBalance(format, metrics.ResultError, time.Since(start))
	writeError(w, http.StatusInternalServerError, err.Error())
}

// MarshalTotalBalance renders the indented {as_of_utc, balance} document.
// Amounts are written as exact decimal literals.
func MarshalTotalBalance(result balance.AggregateResult) ([]byte, error) {
	resp := totalBalanceResponse{
		AsOfUTC: result.AsOf.String(),
		Balance: make(map[string]json.Number, len(result.Balance)),
	}
	for ccy, total := range result.Balance {
		resp.Balance[ccy] = json.Number(total.String())
	}
	return json.MarshalIndent(resp, "", "  ")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Message: message})
}
