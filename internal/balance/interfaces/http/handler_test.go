package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	balanceapp "balance-tracer/internal/balance/application"
	balance "balance-tracer/internal/balance/domain"
	"balance-tracer/internal/balance/infrastructure/memory"
)

type stubService struct {
	result balance.AggregateResult
	err    error
	calls  int
}

func (s *stubService) TotalBalanceAsOfDate(context.Context, string) (balance.AggregateResult, error) {
	s.calls++
	return s.result, s.err
}

func newTestHandler(t *testing.T, opts ...HandlerOption) *Handler {
	t.Helper()
	store := memory.NewStore()
	day := time.Date(2019, time.June, 26, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(context.Background(),
		balance.BalanceRecord{Series: "acc-1", BaseCcy: "EUR", Balance: decimal.RequireFromString("100.10"), At: day.Add(8 * time.Hour)},
		balance.BalanceRecord{Series: "acc-2", BaseCcy: "EUR", Balance: decimal.RequireFromString("0.2"), At: day.Add(-time.Hour)},
		balance.BalanceRecord{Series: "acc-3", BaseCcy: "USD", Balance: decimal.RequireFromString("42"), At: day.Add(22 * time.Hour)},
		balance.BalanceRecord{Series: "acc-3", BaseCcy: "USD", Balance: decimal.RequireFromString("1000"), At: day.Add(23 * time.Hour)},
	))
	svc, err := balanceapp.NewTotalBalanceService(store)
	require.NoError(t, err)
	handler, err := NewHandler(svc, opts...)
	require.NoError(t, err)
	return handler
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestHandler_TotalBalanceJSON(t *testing.T) {
	handler := newTestHandler(t)

	resp := serve(handler, http.MethodGet, "/total_balance_as_of_date/2019-06-26T04:42:24+00:00")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))

	want := `{
  "as_of_utc": "2019-06-26 22:00:00",
  "balance": {
    "EUR": 100.3,
    "USD": 42
  }
}`
	assert.Equal(t, want, resp.Body.String())
}

func TestHandler_SameDayAcrossFormats(t *testing.T) {
	handler := newTestHandler(t)
	paths := []string{
		"/total_balance_as_of_date/2019-06-26T04:42:24Z",
		"/total_balance_as_of_date/20190626T044224Z",
		"/total_balance_as_of_date/2019%20-%2006%20-%2026",
		"/total_balance_as_of_date/2019-06-26",
	}

	var bodies []string
	for _, path := range paths {
		resp := serve(handler, http.MethodGet, path)
		require.Equal(t, http.StatusOK, resp.Code, path)
		bodies = append(bodies, resp.Body.String())
	}
	for _, body := range bodies[1:] {
		assert.Equal(t, bodies[0], body)
	}
}

func TestHandler_AmountsAreDecimalLiterals(t *testing.T) {
	svc := &stubService{result: balance.AggregateResult{
		AsOf:    balance.NewMoment(time.Date(2020, time.January, 2, 0, 0, 0, 0, time.UTC)),
		Balance: balance.Totals{"BTC": decimal.RequireFromString("0.123456789012345678901")},
	}}
	handler, err := NewHandler(svc)
	require.NoError(t, err)

	resp := serve(handler, http.MethodGet, "/total_balance_as_of_date/2020-01-02")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"BTC": 0.123456789012345678901`)

	var decoded struct {
		Balance map[string]json.Number `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &decoded))
	assert.Equal(t, json.Number("0.123456789012345678901"), decoded.Balance["BTC"])
}

func TestHandler_EmptyStore(t *testing.T) {
	svc, err := balanceapp.NewTotalBalanceService(memory.NewStore())
	require.NoError(t, err)
	handler, err := NewHandler(svc)
	require.NoError(t, err)

	resp := serve(handler, http.MethodGet, "/total_balance_as_of_date/today")
	require.Equal(t, http.StatusOK, resp.Code)

	var decoded totalBalanceResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &decoded))
	assert.Empty(t, decoded.Balance)
	assert.True(t, strings.HasSuffix(decoded.AsOfUTC, " 22:00:00"))
}

func TestHandler_ParseErrorDefaultsTo500(t *testing.T) {
	handler := newTestHandler(t)

	resp := serve(handler, http.MethodGet, "/total_balance_as_of_date/not-a-date")
	require.Equal(t, http.StatusInternalServerError, resp.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Contains(t, body.Message, "not-a-date")
	assert.NotContains(t, resp.Body.String(), "as_of_utc")
}

func TestHandler_ParseErrorStatusConfigurable(t *testing.T) {
	handler := newTestHandler(t, WithParseErrorStatus(http.StatusBadRequest))

	resp := serve(handler, http.MethodGet, "/total_balance_as_of_date/not-a-date")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = serve(handler, http.MethodGet, "/total_balance_as_of_date/")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandler_InvalidParseErrorStatusIgnored(t *testing.T) {
	handler := newTestHandler(t, WithParseErrorStatus(http.StatusOK))

	resp := serve(handler, http.MethodGet, "/total_balance_as_of_date/not-a-date")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestHandler_StoreErrorIs500(t *testing.T) {
	svc := &stubService{err: &balance.StoreError{Series: "acc-1", Err: errors.New("connection refused")}}
	handler, err := NewHandler(svc, WithParseErrorStatus(http.StatusBadRequest))
	require.NoError(t, err)

	resp := serve(handler, http.MethodGet, "/total_balance_as_of_date/2019-06-26")
	require.Equal(t, http.StatusInternalServerError, resp.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Contains(t, body.Message, "connection refused")
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	svc := &stubService{}
	handler, err := NewHandler(svc)
	require.NoError(t, err)

	resp := serve(handler, http.MethodPost, "/total_balance_as_of_date/2019-06-26")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
	assert.Equal(t, http.MethodGet, resp.Header().Get("Allow"))
	assert.Zero(t, svc.calls)
}

func TestHandler_UnsupportedFormat(t *testing.T) {
	svc := &stubService{}
	handler, err := NewHandler(svc)
	require.NoError(t, err)

	resp := serve(handler, http.MethodGet, "/total_balance_as_of_date/2019-06-26?format=docx")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Zero(t, svc.calls)
}

func TestHandler_CSVExport(t *testing.T) {
	handler := newTestHandler(t)

	resp := serve(handler, http.MethodGet, "/total_balance_as_of_date/2019-06-26?format=csv")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "total_balance_2019-06-26.csv")

	want := "as_of_utc,currency,total,formatted\n" +
		"2019-06-26 22:00:00,EUR,100.3,100.30\n" +
		"2019-06-26 22:00:00,USD,42,42.00\n"
	assert.Equal(t, want, resp.Body.String())
}

func TestHandler_XLSXExport(t *testing.T) {
	handler := newTestHandler(t)

	resp := serve(handler, http.MethodGet, "/total_balance_as_of_date/2019-06-26?format=XLSX")
	require.Equal(t, http.StatusOK, resp.Code)

	f, err := excelize.OpenReader(bytes.NewReader(resp.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	asOf, err := f.GetCellValue("summary", "B3")
	require.NoError(t, err)
	assert.Equal(t, "2019-06-26 22:00:00", asOf)

	ccy, err := f.GetCellValue("totals", "A2")
	require.NoError(t, err)
	assert.Equal(t, "EUR", ccy)
	total, err := f.GetCellValue("totals", "B2")
	require.NoError(t, err)
	assert.Equal(t, "100.3", total)
}

func TestHandler_PDFExport(t *testing.T) {
	handler := newTestHandler(t)

	resp := serve(handler, http.MethodGet, "/total_balance_as_of_date/2019-06-26?format=pdf")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF-")))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "10.50", FormatAmount("EUR", decimal.RequireFromString("10.5")))
	assert.Equal(t, "10.50", FormatAmount("eur", decimal.RequireFromString("10.5")))
	assert.Equal(t, "1235", FormatAmount("JPY", decimal.RequireFromString("1234.5")))
	assert.Equal(t, "10.123", FormatAmount("cc1", decimal.RequireFromString("10.123")))
}

func TestNewHandler_NilService(t *testing.T) {
	_, err := NewHandler(nil)
	assert.Error(t, err)
}
