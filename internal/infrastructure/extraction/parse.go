package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
)

// rawFields tolerates the looseness real models produce: amounts as numbers,
// as strings with comma decimals, or as "N/A".
type rawFields struct {
	DocKind       string `json:"doc_kind"`
	InvoiceNumber string `json:"invoice_number"`
	SupplierName  string `json:"supplier_name"`
	SupplierVAT   string `json:"supplier_vat"`
	IssueDate     string `json:"issue_date"`
	Category      string `json:"category"`
	Description   string `json:"description"`
	NetAmount     any    `json:"net_amount"`
	VATRate       any    `json:"vat_rate"`
	TotalAmount   any    `json:"total_amount"`
	Currency      string `json:"currency"`
	ExchangeRate  any    `json:"exchange_rate"`
	CountryCode   string `json:"country_code"`
	Notes         string `json:"notes"`
}

// ParseFields decodes a model response into normalized invoice fields. The
// response may be wrapped in prose or markdown fences; only the outermost
// JSON object is considered.
func ParseFields(response string) (*domain.InvoiceFields, error) {
	var raw rawFields
	if err := json.Unmarshal([]byte(extractJSONObject(response)), &raw); err != nil {
		return nil, fmt.Errorf("parse extraction json: %w", err)
	}

	fields := &domain.InvoiceFields{
		DocKind:       strings.ToLower(cleanString(raw.DocKind)),
		InvoiceNumber: cleanString(raw.InvoiceNumber),
		SupplierName:  cleanString(raw.SupplierName),
		SupplierVAT:   cleanString(raw.SupplierVAT),
		IssueDate:     cleanString(raw.IssueDate),
		Category:      cleanString(raw.Category),
		Description:   cleanString(raw.Description),
		NetAmount:     coerceAmount(raw.NetAmount),
		VATRate:       coerceAmount(raw.VATRate),
		TotalAmount:   coerceAmount(raw.TotalAmount),
		Currency:      normalizeCurrency(raw.Currency),
		ExchangeRate:  coerceAmount(raw.ExchangeRate),
		CountryCode:   normalizeCountry(raw.CountryCode),
		Notes:         cleanString(raw.Notes),
	}
	return fields, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// cleanString trims and drops the "N/A" placeholder some models emit for
// unknown values.
func cleanString(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "n/a") || strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

func coerceAmount(v any) *float64 {
	switch value := v.(type) {
	case nil:
		return nil
	case float64:
		return &value
	case string:
		s := cleanString(value)
		if s == "" {
			return nil
		}
		// European decimal comma.
		s = strings.ReplaceAll(s, ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func normalizeCurrency(s string) string {
	s = strings.ToUpper(cleanString(s))
	if len(s) > 3 {
		s = s[:3]
	}
	return s
}

func normalizeCountry(s string) string {
	s = strings.ToUpper(cleanString(s))
	if len(s) > 2 {
		s = s[:2]
	}
	return s
}
