package domain

import "time"

// InvoiceFields is the canonical structured record produced by the AI
// extraction stage. Field names follow the extraction prompt; amounts are
// pointers because the collaborator may legitimately return null.
type InvoiceFields struct {
	DocKind       string   `json:"doc_kind"` // "invoice" or "sale"
	InvoiceNumber string   `json:"invoice_number"`
	SupplierName  string   `json:"supplier_name"`
	SupplierVAT   string   `json:"supplier_vat"`
	IssueDate     string   `json:"issue_date"` // DD/MM/YYYY as emitted
	Category      string   `json:"category"`
	Description   string   `json:"description"`
	NetAmount     *float64 `json:"net_amount"`
	VATRate       *float64 `json:"vat_rate"`
	TotalAmount   *float64 `json:"total_amount"`
	Currency      string   `json:"currency"`
	ExchangeRate  *float64 `json:"exchange_rate"`
	CountryCode   string   `json:"country_code"`
	Notes         string   `json:"notes"`
	AIProvider    string   `json:"ai_provider,omitempty"`
}

// IssueDateTime parses the extracted DD/MM/YYYY issue date.
func (f *InvoiceFields) IssueDateTime() (time.Time, bool) {
	if f == nil || f.IssueDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("02/01/2006", f.IssueDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Invoice is the persisted invoice record linked from an INVOICE upload once
// extraction succeeds.
type Invoice struct {
	ID              string   `json:"id"`
	UploadID        string   `json:"upload_id"`
	InvoiceNumber   string   `json:"invoice_number"`
	SupplierName    string   `json:"supplier_name"`
	SupplierVAT     string   `json:"supplier_vat"`
	IssueDate       string   `json:"issue_date"`
	Category        string   `json:"category"`
	Description     string   `json:"description"`
	NetAmount       *float64 `json:"net_amount"`
	VATRate         *float64 `json:"vat_rate"`
	TotalAmount     *float64 `json:"total_amount"`
	Currency        string   `json:"currency"`
	ExchangeRate    *float64 `json:"exchange_rate"`
	CountryCode     string   `json:"country_code"`
	Notes           string   `json:"notes"`
	ArchiveLocation string   `json:"archive_location,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// InvoiceSummary carries the key invoice fields shown alongside a duplicate
// match or an upload status lookup.
type InvoiceSummary struct {
	InvoiceID     string   `json:"invoice_id"`
	InvoiceNumber string   `json:"invoice_number"`
	SupplierName  string   `json:"supplier_name"`
	IssueDate     string   `json:"issue_date"`
	TotalAmount   *float64 `json:"total_amount"`
	Currency      string   `json:"currency"`
}

// NewInvoiceFromFields builds the invoice row persisted when extraction
// succeeds for an INVOICE upload.
func NewInvoiceFromFields(id, uploadID string, f *InvoiceFields, now time.Time) *Invoice {
	return &Invoice{
		ID:            id,
		UploadID:      uploadID,
		InvoiceNumber: f.InvoiceNumber,
		SupplierName:  f.SupplierName,
		SupplierVAT:   f.SupplierVAT,
		IssueDate:     f.IssueDate,
		Category:      f.Category,
		Description:   f.Description,
		NetAmount:     f.NetAmount,
		VATRate:       f.VATRate,
		TotalAmount:   f.TotalAmount,
		Currency:      f.Currency,
		ExchangeRate:  f.ExchangeRate,
		CountryCode:   f.CountryCode,
		Notes:         f.Notes,
		CreatedAt:     now,
	}
}

// SalesRow is one parsed line of a SALES_BATCH report, ingested as a batch
// side-effect after the AI stage.
type SalesRow struct {
	UploadID    string   `json:"upload_id"`
	SaleDate    string   `json:"sale_date"`
	Reference   string   `json:"reference"`
	Description string   `json:"description"`
	Quantity    float64  `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price"`
	TotalAmount *float64 `json:"total_amount"`
	Currency    string   `json:"currency"`
}
