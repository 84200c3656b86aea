package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
)

const uniqueViolationCode = "23505"

type UploadRepository struct {
	db *sql.DB
}

func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *UploadRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026090101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS uploads (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	document_type TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	mime_type TEXT NOT NULL,
	content_fingerprint TEXT NOT NULL,
	status TEXT NOT NULL,
	extracted_fields JSONB,
	archive_reference TEXT,
	linked_invoice_id TEXT,
	forced BOOLEAN NOT NULL DEFAULT FALSE,
	archive_skipped BOOLEAN NOT NULL DEFAULT FALSE,
	last_error TEXT,
	storage_path TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_uploads_owner_fingerprint
	ON uploads(owner_id, content_fingerprint) WHERE NOT forced;
CREATE INDEX IF NOT EXISTS idx_uploads_owner_created_at
	ON uploads(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);

CREATE TABLE IF NOT EXISTS invoices (
	id TEXT PRIMARY KEY,
	upload_id TEXT NOT NULL,
	invoice_number TEXT,
	supplier_name TEXT,
	supplier_vat TEXT,
	issue_date TEXT,
	category TEXT,
	description TEXT,
	net_amount DOUBLE PRECISION,
	vat_rate DOUBLE PRECISION,
	total_amount DOUBLE PRECISION,
	currency TEXT,
	exchange_rate DOUBLE PRECISION,
	country_code TEXT,
	notes TEXT,
	archive_location TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_upload_id ON invoices(upload_id);

CREATE TABLE IF NOT EXISTS sales_rows (
	id BIGSERIAL PRIMARY KEY,
	upload_id TEXT NOT NULL,
	sale_date TEXT,
	reference TEXT,
	description TEXT,
	quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
	unit_price DOUBLE PRECISION,
	total_amount DOUBLE PRECISION,
	currency TEXT
);

CREATE INDEX IF NOT EXISTS idx_sales_rows_upload_id ON sales_rows(upload_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *UploadRepository) Create(ctx context.Context, up *domain.Upload) error {
	fieldsJSON, err := marshalFields(up.ExtractedFields)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO uploads (
	id, owner_id, document_type, original_filename, size_bytes, mime_type,
	content_fingerprint, status, extracted_fields, archive_reference,
	linked_invoice_id, forced, archive_skipped, last_error, storage_path,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`,
		up.ID, up.OwnerID, string(up.DocumentType), up.OriginalFilename,
		up.SizeBytes, up.MimeType, up.ContentFingerprint, string(up.Status),
		fieldsJSON, nullString(up.ArchiveReference), nullString(up.LinkedInvoiceID),
		up.Forced, up.ArchiveSkipped, nullString(up.LastError), up.StoragePath,
		up.CreatedAt, up.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.WrapError(domain.ErrDuplicateContent, "insert upload", err)
		}
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

const uploadColumns = `
id, owner_id, document_type, original_filename, size_bytes, mime_type,
content_fingerprint, status, extracted_fields, archive_reference,
linked_invoice_id, forced, archive_skipped, last_error, storage_path,
created_at, updated_at`

func (r *UploadRepository) GetByID(ctx context.Context, id string) (*domain.Upload, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id)
	up, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUploadNotFound, "get upload", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan upload: %w", err)
	}
	return up, nil
}

func (r *UploadRepository) FindDuplicate(ctx context.Context, ownerID, fingerprint string) (*domain.DuplicateMatch, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT u.id, u.original_filename, u.created_at, u.status,
	i.id, i.invoice_number, i.supplier_name, i.issue_date, i.total_amount, i.currency
FROM uploads u
LEFT JOIN invoices i ON i.id = u.linked_invoice_id
WHERE u.owner_id = $1 AND u.content_fingerprint = $2 AND NOT u.forced
ORDER BY u.created_at DESC
LIMIT 1
`, ownerID, fingerprint)

	var match domain.DuplicateMatch
	var status string
	var invID, invNumber, invSupplier, invDate, invCurrency sql.NullString
	var invTotal sql.NullFloat64

	err := row.Scan(
		&match.UploadID, &match.OriginalFilename, &match.UploadedAt, &status,
		&invID, &invNumber, &invSupplier, &invDate, &invTotal, &invCurrency,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan duplicate match: %w", err)
	}
	match.Status = domain.UploadStatus(status)

	if invID.Valid {
		summary := &domain.InvoiceSummary{
			InvoiceID:     invID.String,
			InvoiceNumber: invNumber.String,
			SupplierName:  invSupplier.String,
			IssueDate:     invDate.String,
			Currency:      invCurrency.String,
		}
		if invTotal.Valid {
			total := invTotal.Float64
			summary.TotalAmount = &total
		}
		match.Invoice = summary
	}
	return &match, nil
}

func (r *UploadRepository) ListRecent(ctx context.Context, ownerID string, limit int) ([]domain.Upload, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+uploadColumns+` FROM uploads
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2
`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent uploads: %w", err)
	}
	defer rows.Close()

	var uploads []domain.Upload
	for rows.Next() {
		up, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, *up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return uploads, nil
}

// MarkStageStarted moves id into the in-flight status only when its current
// status is one of allowedFrom. The conditional UPDATE is the cross-process
// stage lock: with api and worker both able to start a stage, at most one
// writer can win this transition for a given upload.
func (r *UploadRepository) MarkStageStarted(ctx context.Context, id string, status domain.UploadStatus, allowedFrom ...domain.UploadStatus) error {
	args := []any{id, string(status), time.Now().UTC()}
	placeholders := make([]string, 0, len(allowedFrom))
	for _, from := range allowedFrom {
		args = append(args, string(from))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE uploads
SET status = $2, last_error = NULL, updated_at = $3
WHERE id = $1 AND status IN (%s)
`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return fmt.Errorf("mark stage started: %w", err)
	}
	return r.requireTransition(ctx, res, "mark stage started", id, status)
}

func (r *UploadRepository) SaveExtractionResult(ctx context.Context, id string, fields *domain.InvoiceFields, invoiceID string) error {
	fieldsJSON, err := marshalFields(fields)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE uploads
SET status = $2, extracted_fields = $3, linked_invoice_id = NULLIF($4, ''), last_error = NULL, updated_at = $5
WHERE id = $1 AND status = $6
`, id, string(domain.StatusAICompleted), fieldsJSON, invoiceID, time.Now().UTC(),
		string(domain.StatusProcessingAI))
	if err != nil {
		return fmt.Errorf("save extraction result: %w", err)
	}
	return r.requireTransition(ctx, res, "save extraction result", id, domain.StatusAICompleted)
}

func (r *UploadRepository) SaveArchiveReference(ctx context.Context, id string, reference string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE uploads
SET status = $2, archive_reference = $3, last_error = NULL, updated_at = $4
WHERE id = $1 AND status = $5
`, id, string(domain.StatusCompleted), reference, time.Now().UTC(),
		string(domain.StatusUploadingDrive))
	if err != nil {
		return fmt.Errorf("save archive reference: %w", err)
	}
	return r.requireTransition(ctx, res, "save archive reference", id, domain.StatusCompleted)
}

func (r *UploadRepository) MarkFailed(ctx context.Context, id string, status domain.UploadStatus, lastError string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE uploads
SET status = $2, last_error = $3, updated_at = $4
WHERE id = $1 AND status = $5
`, id, string(status), lastError, time.Now().UTC(), string(inFlightStatusFor(status)))
	if err != nil {
		return fmt.Errorf("mark upload failed: %w", err)
	}
	return r.requireTransition(ctx, res, "mark upload failed", id, status)
}

func (r *UploadRepository) MarkArchiveSkipped(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE uploads
SET archive_skipped = TRUE, updated_at = $2
WHERE id = $1 AND status = $3
`, id, time.Now().UTC(), string(domain.StatusAICompleted))
	if err != nil {
		return fmt.Errorf("mark archive skipped: %w", err)
	}
	return r.requireTransition(ctx, res, "mark archive skipped", id, domain.StatusAICompleted)
}

// inFlightStatusFor returns the in-flight status a failed status may be
// written from.
func inFlightStatusFor(failed domain.UploadStatus) domain.UploadStatus {
	if failed == domain.StatusFailedDrive {
		return domain.StatusUploadingDrive
	}
	return domain.StatusProcessingAI
}

// requireTransition maps a zero-row conditional status write to a domain
// error. The follow-up read distinguishes a missing row, a stage that another
// process already owns (current status equals the write target) and a plain
// invalid transition.
func (r *UploadRepository) requireTransition(ctx context.Context, res sql.Result, operation, id string, target domain.UploadStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM uploads WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrUploadNotFound, operation, fmt.Errorf("id %s", id))
	}
	if err != nil {
		return fmt.Errorf("%s read current status: %w", operation, err)
	}
	if domain.UploadStatus(current) == target {
		return domain.WrapError(domain.ErrStageInFlight, operation,
			fmt.Errorf("upload %s is already %s", id, current))
	}
	return domain.WrapError(domain.ErrInvalidTransition, operation,
		fmt.Errorf("upload %s is %s", id, current))
}

func marshalFields(fields *domain.InvoiceFields) ([]byte, error) {
	if fields == nil {
		return nil, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal extracted fields: %w", err)
	}
	return raw, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (*domain.Upload, error) {
	var up domain.Upload
	var docType, status string
	var fieldsRaw []byte
	var archiveRef, invoiceID, lastError sql.NullString

	err := row.Scan(
		&up.ID, &up.OwnerID, &docType, &up.OriginalFilename, &up.SizeBytes,
		&up.MimeType, &up.ContentFingerprint, &status, &fieldsRaw, &archiveRef,
		&invoiceID, &up.Forced, &up.ArchiveSkipped, &lastError, &up.StoragePath,
		&up.CreatedAt, &up.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	up.DocumentType = domain.DocumentType(docType)
	up.Status = domain.UploadStatus(status)
	up.ArchiveReference = archiveRef.String
	up.LinkedInvoiceID = invoiceID.String
	up.LastError = lastError.String

	if len(fieldsRaw) > 0 {
		var fields domain.InvoiceFields
		if err := json.Unmarshal(fieldsRaw, &fields); err != nil {
			return nil, fmt.Errorf("unmarshal extracted fields: %w", err)
		}
		up.ExtractedFields = &fields
	}
	return &up, nil
}
