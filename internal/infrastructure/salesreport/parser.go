package salesreport

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
)

// Parser reads SALES_BATCH XLSX reports row by row. The first row is the
// header; columns are matched by name so exporters may reorder them.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Column aliases as the back-office exporters emit them, Spanish first.
var columnAliases = map[string]string{
	"fecha":       "date",
	"date":        "date",
	"referencia":  "reference",
	"reference":   "reference",
	"descripcion": "description",
	"description": "description",
	"cantidad":    "quantity",
	"quantity":    "quantity",
	"precio":      "unit_price",
	"unit_price":  "unit_price",
	"importe":     "total",
	"total":       "total",
	"moneda":      "currency",
	"currency":    "currency",
}

func (p *Parser) Parse(ctx context.Context, uploadID string, file io.Reader) ([]domain.SalesRow, error) {
	book, err := excelize.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx has no sheets")
	}

	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("sheet %q has no data rows", sheets[0])
	}

	columns := mapColumns(rows[0])
	if _, ok := columns["date"]; !ok {
		return nil, fmt.Errorf("sheet %q is missing a date column", sheets[0])
	}

	var out []domain.SalesRow
	for i, cells := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isEmptyRow(cells) {
			continue
		}

		row := domain.SalesRow{
			UploadID:    uploadID,
			SaleDate:    cell(cells, columns, "date"),
			Reference:   cell(cells, columns, "reference"),
			Description: cell(cells, columns, "description"),
			Currency:    strings.ToUpper(cell(cells, columns, "currency")),
			UnitPrice:   parseDecimal(cell(cells, columns, "unit_price")),
			TotalAmount: parseDecimal(cell(cells, columns, "total")),
		}
		if qty := parseDecimal(cell(cells, columns, "quantity")); qty != nil {
			row.Quantity = *qty
		}
		if row.SaleDate == "" {
			return nil, fmt.Errorf("row %d has no date", i+2)
		}
		out = append(out, row)
	}
	return out, nil
}

func mapColumns(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for idx, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := columnAliases[key]; ok {
			columns[canonical] = idx
		}
	}
	return columns
}

func cell(cells []string, columns map[string]int, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

func parseDecimal(s string) *float64 {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
