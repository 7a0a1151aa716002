package http

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	balance "balance-tracer/internal/balance/domain"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
	formatXLSX = "xlsx"
	formatPDF  = "pdf"
)

type exporter struct {
	contentType string
	render      func(balance.AggregateResult) ([]byte, error)
}

var exporters = map[string]exporter{
	formatCSV:  {contentType: "text/csv; charset=utf-8", render: BuildTotalBalanceCSV},
	formatXLSX: {contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", render: BuildTotalBalanceXLSX},
	formatPDF:  {contentType: "application/pdf", render: BuildTotalBalancePDF},
}

func exportFilename(asOf balance.Moment, format string) string {
	return fmt.Sprintf("total_balance_%s.%s", asOf.Date(), format)
}

// FormatAmount renders an amount with the ISO fraction digits of its currency.
// Unknown currency codes keep the exact decimal.
func FormatAmount(ccy string, amount decimal.Decimal) string {
	cur := money.GetCurrency(strings.ToUpper(ccy))
	if cur == nil {
		return amount.String()
	}
	return amount.StringFixed(int32(cur.Fraction))
}

// BuildTotalBalanceCSV renders currency, exact total and formatted total rows.
func BuildTotalBalanceCSV(result balance.AggregateResult) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"as_of_utc", "currency", "total", "formatted"}); err != nil {
		return nil, err
	}
	for _, ccy := range result.Balance.Currencies() {
		total := result.Balance[ccy]
		row := []string{result.AsOf.String(), ccy, total.String(), FormatAmount(ccy, total)}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildTotalBalanceXLSX renders a summary sheet and a per-currency sheet.
func BuildTotalBalanceXLSX(result balance.AggregateResult) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	summarySheet := "summary"
	totalsSheet := "totals"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(totalsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Total Balance")
	_ = f.SetCellValue(summarySheet, "A3", "As of (UTC)")
	_ = f.SetCellValue(summarySheet, "B3", result.AsOf.String())
	_ = f.SetCellValue(summarySheet, "A4", "Series")
	_ = f.SetCellValue(summarySheet, "B4", result.Series)
	_ = f.SetCellValue(summarySheet, "A5", "Missing")
	_ = f.SetCellValue(summarySheet, "B5", len(result.Missing))

	_ = f.SetCellValue(totalsSheet, "A1", "Currency")
	_ = f.SetCellValue(totalsSheet, "B1", "Total")
	_ = f.SetCellValue(totalsSheet, "C1", "Formatted")
	for i, ccy := range result.Balance.Currencies() {
		row := i + 2
		total := result.Balance[ccy]
		_ = f.SetCellValue(totalsSheet, fmt.Sprintf("A%d", row), ccy)
		// totals stay text so spreadsheet floats never round them
		_ = f.SetCellValue(totalsSheet, fmt.Sprintf("B%d", row), total.String())
		_ = f.SetCellValue(totalsSheet, fmt.Sprintf("C%d", row), FormatAmount(ccy, total))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildTotalBalancePDF renders a minimal PDF report.
func BuildTotalBalancePDF(result balance.AggregateResult) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Total Balance")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("As of (UTC): %s", result.AsOf.String()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Series: %d (missing %d)", result.Series, len(result.Missing)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, "Currency", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 6, "Total", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Formatted", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, ccy := range result.Balance.Currencies() {
		total := result.Balance[ccy]
		pdf.CellFormat(30, 6, ccy, "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, total.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(50, 6, FormatAmount(ccy, total), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
