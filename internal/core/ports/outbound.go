package ports

import (
	"context"
	"io"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
)

// UploadRepository persists and reads upload state. Every mutation carries
// its full field set in one statement so readers never observe a torn
// status/payload pair.
type UploadRepository interface {
	Create(ctx context.Context, up *domain.Upload) error
	GetByID(ctx context.Context, id string) (*domain.Upload, error)
	// FindDuplicate returns the newest non-forced upload with the same owner
	// and content fingerprint, or nil when none exists.
	FindDuplicate(ctx context.Context, ownerID, fingerprint string) (*domain.DuplicateMatch, error)
	ListRecent(ctx context.Context, ownerID string, limit int) ([]domain.Upload, error)
	// MarkStageStarted atomically moves id into the in-flight status when its
	// current status is one of allowedFrom. When the row is in any other
	// status nothing is written: ErrStageInFlight reports a stage another
	// process already owns, ErrInvalidTransition everything else. This
	// compare-and-swap is the only stage lock that holds across processes.
	MarkStageStarted(ctx context.Context, id string, status domain.UploadStatus, allowedFrom ...domain.UploadStatus) error
	// SaveExtractionResult writes AI_COMPLETED, the extracted fields, the
	// optional invoice link and clears last_error, atomically.
	SaveExtractionResult(ctx context.Context, id string, fields *domain.InvoiceFields, invoiceID string) error
	// SaveArchiveReference writes COMPLETED, the archive reference and
	// clears last_error, atomically.
	SaveArchiveReference(ctx context.Context, id string, reference string) error
	MarkFailed(ctx context.Context, id string, status domain.UploadStatus, lastError string) error
	MarkArchiveSkipped(ctx context.Context, id string) error
}

// InvoiceRepository persists invoice records created from extraction results.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *domain.Invoice) error
	GetByUploadID(ctx context.Context, uploadID string) (*domain.Invoice, error)
	SetArchiveLocation(ctx context.Context, invoiceID, location string) error
}

// SalesRepository persists rows parsed from a SALES_BATCH report.
type SalesRepository interface {
	// ReplaceForUpload atomically swaps the stored rows for uploadID with the
	// given set, so re-running the AI stage never duplicates rows.
	ReplaceForUpload(ctx context.Context, uploadID string, rows []domain.SalesRow) (int, error)
}

// FileStore keeps staged bytes pending a duplicate decision and durable
// copies of accepted uploads.
type FileStore interface {
	// Stash writes incoming bytes to the reclaimable staging area and
	// returns an opaque staging reference plus the byte count.
	Stash(ctx context.Context, data io.Reader) (ref string, size int64, err error)
	OpenStaged(ctx context.Context, ref string) (io.ReadCloser, error)
	// Promote moves a staged file into durable storage under key and
	// returns the storage path.
	Promote(ctx context.Context, ref, key string) (string, error)
	Discard(ctx context.Context, ref string) error
	Open(ctx context.Context, storagePath string) (io.ReadCloser, error)
}

// ExtractionRequest is the payload handed to the AI extraction collaborator.
type ExtractionRequest struct {
	UploadID         string
	OwnerID          string
	OriginalFilename string
	MimeType         string
	File             io.Reader
}

// InvoiceExtractor invokes the external AI collaborator and maps its
// response into canonical invoice fields.
type InvoiceExtractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (*domain.InvoiceFields, error)
}

// ArchiveRequest is the payload handed to the archival collaborator. Fields
// is optional and only used to derive a descriptive artifact name.
type ArchiveRequest struct {
	UploadID         string
	OwnerID          string
	OriginalFilename string
	MimeType         string
	Fields           *domain.InvoiceFields
	File             io.Reader
}

type ArchiveResult struct {
	Reference string
	FileID    string
}

// Archiver stores the source file durably with an external provider and
// returns a durable reference.
type Archiver interface {
	Archive(ctx context.Context, req ArchiveRequest) (*ArchiveResult, error)
}

// RateSource resolves the EUR exchange rate for a currency on a given
// ISO-8601 date.
type RateSource interface {
	RateToEUR(ctx context.Context, isoDate, currency string) (float64, error)
}

// SalesReportParser parses a sales report file into rows.
type SalesReportParser interface {
	Parse(ctx context.Context, uploadID string, file io.Reader) ([]domain.SalesRow, error)
}

// MessageQueue publishes/consumes upload-created events between the api and
// the worker.
type MessageQueue interface {
	PublishUploadCreated(ctx context.Context, uploadID string) error
	SubscribeUploadCreated(ctx context.Context, handler func(context.Context, string) error) error
}
