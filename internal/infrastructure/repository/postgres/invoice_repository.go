package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
)

type InvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, inv *domain.Invoice) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO invoices (
	id, upload_id, invoice_number, supplier_name, supplier_vat, issue_date,
	category, description, net_amount, vat_rate, total_amount, currency,
	exchange_rate, country_code, notes, archive_location, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`,
		inv.ID, inv.UploadID, inv.InvoiceNumber, inv.SupplierName,
		inv.SupplierVAT, inv.IssueDate, inv.Category, inv.Description,
		inv.NetAmount, inv.VATRate, inv.TotalAmount, inv.Currency,
		inv.ExchangeRate, inv.CountryCode, inv.Notes,
		nullString(inv.ArchiveLocation), inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) GetByUploadID(ctx context.Context, uploadID string) (*domain.Invoice, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, upload_id, invoice_number, supplier_name, supplier_vat, issue_date,
	category, description, net_amount, vat_rate, total_amount, currency,
	exchange_rate, country_code, notes, archive_location, created_at
FROM invoices
WHERE upload_id = $1
ORDER BY created_at DESC
LIMIT 1
`, uploadID)

	var inv domain.Invoice
	var archiveLocation sql.NullString
	err := row.Scan(
		&inv.ID, &inv.UploadID, &inv.InvoiceNumber, &inv.SupplierName,
		&inv.SupplierVAT, &inv.IssueDate, &inv.Category, &inv.Description,
		&inv.NetAmount, &inv.VATRate, &inv.TotalAmount, &inv.Currency,
		&inv.ExchangeRate, &inv.CountryCode, &inv.Notes,
		&archiveLocation, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrInvoiceNotFound, "get invoice",
				fmt.Errorf("upload %s", uploadID))
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	inv.ArchiveLocation = archiveLocation.String
	return &inv, nil
}

func (r *InvoiceRepository) SetArchiveLocation(ctx context.Context, invoiceID, location string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE invoices SET archive_location = $2 WHERE id = $1
`, invoiceID, location)
	if err != nil {
		return fmt.Errorf("set archive location: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set archive location rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrInvoiceNotFound, "set archive location",
			fmt.Errorf("id %s", invoiceID))
	}
	return nil
}
