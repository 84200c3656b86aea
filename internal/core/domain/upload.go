package domain

import "time"

type UploadStatus string

// Status values are persisted as-is; historical consumers depend on the
// exact strings.
const (
	StatusUploaded       UploadStatus = "UPLOADED"
	StatusProcessingAI   UploadStatus = "PROCESSING_AI"
	StatusAICompleted    UploadStatus = "AI_COMPLETED"
	StatusUploadingDrive UploadStatus = "UPLOADING_DRIVE"
	StatusCompleted      UploadStatus = "COMPLETED"
	StatusFailedAI       UploadStatus = "FAILED_AI"
	StatusFailedDrive    UploadStatus = "FAILED_DRIVE"
	StatusDuplicated     UploadStatus = "DUPLICATED"
)

func (s UploadStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessingAI, StatusAICompleted,
		StatusUploadingDrive, StatusCompleted, StatusFailedAI,
		StatusFailedDrive, StatusDuplicated:
		return true
	}
	return false
}

type DocumentType string

const (
	DocTypeInvoice    DocumentType = "INVOICE"
	DocTypeSalesBatch DocumentType = "SALES_BATCH"
)

func (t DocumentType) Valid() bool {
	return t == DocTypeInvoice || t == DocTypeSalesBatch
}

// Upload is the processing record for one submitted file. It is created at
// submission time and mutated only by the pipeline stage functions.
type Upload struct {
	ID                 string        `json:"id"`
	OwnerID            string        `json:"owner_id"`
	DocumentType       DocumentType  `json:"document_type"`
	OriginalFilename   string        `json:"original_filename"`
	SizeBytes          int64         `json:"size_bytes"`
	MimeType           string        `json:"mime_type"`
	ContentFingerprint string        `json:"content_fingerprint"`
	Status             UploadStatus  `json:"status"`
	ExtractedFields    *InvoiceFields `json:"extracted_fields,omitempty"`
	ArchiveReference   string        `json:"archive_reference,omitempty"`
	LinkedInvoiceID    string        `json:"linked_invoice_id,omitempty"`
	Forced             bool          `json:"forced"`
	ArchiveSkipped     bool          `json:"archive_skipped"`
	LastError          string        `json:"last_error,omitempty"`
	StoragePath        string        `json:"storage_path"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Terminal reports whether no further automatic transition applies.
// AI_COMPLETED is terminal only once archival has been explicitly skipped.
func (u *Upload) Terminal() bool {
	switch u.Status {
	case StatusCompleted:
		return true
	case StatusAICompleted:
		return u.ArchiveSkipped
	}
	return false
}

// DuplicateMatch summarizes an existing upload found by fingerprint lookup.
// It is returned to the caller as the duplicate-decision payload.
type DuplicateMatch struct {
	UploadID         string          `json:"upload_id"`
	OriginalFilename string          `json:"original_filename"`
	UploadedAt       time.Time       `json:"uploaded_at"`
	Status           UploadStatus    `json:"status"`
	Invoice          *InvoiceSummary `json:"invoice,omitempty"`
}
