package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
)

type SalesRepository struct {
	db *sql.DB
}

func NewSalesRepository(db *sql.DB) *SalesRepository {
	return &SalesRepository{db: db}
}

// ReplaceForUpload writes all parsed rows for one report in a single
// transaction, discarding any rows a previous ingestion attempt left behind,
// so a retried AI stage never duplicates rows and a partially ingested report
// never becomes visible.
func (r *SalesRepository) ReplaceForUpload(ctx context.Context, uploadID string, rows []domain.SalesRow) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sales tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sales_rows WHERE upload_id = $1`, uploadID); err != nil {
		return 0, fmt.Errorf("clear sales rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO sales_rows (
	upload_id, sale_date, reference, description, quantity, unit_price,
	total_amount, currency
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`)
	if err != nil {
		return 0, fmt.Errorf("prepare sales insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.UploadID, row.SaleDate, row.Reference, row.Description,
			row.Quantity, row.UnitPrice, row.TotalAmount, row.Currency,
		); err != nil {
			return 0, fmt.Errorf("insert sales row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sales tx: %w", err)
	}
	return len(rows), nil
}
