package drive

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
)

const (
	maxSupplierLen = 30
	maxInvoiceLen  = 20
)

// BuildArchiveName produces the deterministic archive filename
// YYYY-MM-DD_Supplier_InvoiceNumber.ext. The issue date wins; the upload
// time is the fallback when extraction produced no parseable date.
func BuildArchiveName(fields *domain.InvoiceFields, originalFilename string, uploadedAt time.Time) string {
	date := uploadedAt.UTC()
	if fields != nil {
		if t, ok := fields.IssueDateTime(); ok {
			date = t
		}
	}

	supplier := "unknown-supplier"
	invoiceNumber := "no-id"
	if fields != nil {
		if s := namePart(fields.SupplierName, maxSupplierLen); s != "" {
			supplier = s
		}
		if s := namePart(fields.InvoiceNumber, maxInvoiceLen); s != "" {
			invoiceNumber = s
		}
	}

	ext := strings.ToLower(filepath.Ext(originalFilename))
	return fmt.Sprintf("%s_%s_%s%s", date.Format("2006-01-02"), supplier, invoiceNumber, ext)
}

func namePart(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.Trim(s, "_")
}
