package ports

import (
	"context"
	"io"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
)

// SubmitRequest carries one file submission.
type SubmitRequest struct {
	OwnerID          string
	DocumentType     domain.DocumentType
	OriginalFilename string
	MimeType         string
	Forced           bool
	// ProcessInline suppresses the upload-created event: the caller drives
	// the stages itself instead of handing off to the worker.
	ProcessInline bool
	Body          io.Reader
}

// SubmitResult is either a created upload (Duplicate nil) or a
// duplicate-decision payload (Upload nil, StagingRef reclaimable).
type SubmitResult struct {
	Upload     *domain.Upload        `json:"upload,omitempty"`
	Duplicate  *domain.DuplicateMatch `json:"duplicate,omitempty"`
	StagingRef string                `json:"staging_ref,omitempty"`
}

// UploadSubmitter is the inbound contract for single-file submission and
// staged-duplicate discard.
type UploadSubmitter interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	DiscardStaged(ctx context.Context, ref string) error
}

// PipelineRunner exposes the four stage entry points of the upload state
// machine. Collaborator failures are captured into the returned upload's
// status and last_error, never surfaced as errors.
type PipelineRunner interface {
	StartAI(ctx context.Context, uploadID string) (*domain.Upload, error)
	StartArchive(ctx context.Context, uploadID string) (*domain.Upload, error)
	Retry(ctx context.Context, uploadID string) (*domain.Upload, error)
	SkipArchive(ctx context.Context, uploadID string) (*domain.Upload, error)
}

// BatchFile is one entry of a folder-drop submission.
type BatchFile struct {
	OriginalFilename string
	MimeType         string
	Body             io.Reader
}

// BatchItemResult reports the final state one batch file reached.
type BatchItemResult struct {
	OriginalFilename string              `json:"original_filename"`
	UploadID         string              `json:"upload_id,omitempty"`
	Status           domain.UploadStatus `json:"status,omitempty"`
	LinkedInvoiceID  string              `json:"linked_invoice_id,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// BatchResult enumerates processed items; when Paused, Duplicate holds the
// pending decision and Remaining lists the untouched files.
type BatchResult struct {
	Items      []BatchItemResult      `json:"items"`
	Paused     bool                   `json:"paused"`
	PausedFile string                 `json:"paused_file,omitempty"`
	Duplicate  *domain.DuplicateMatch `json:"duplicate,omitempty"`
	StagingRef string                 `json:"staging_ref,omitempty"`
	Remaining  []string               `json:"remaining,omitempty"`
}

// BatchSubmitter sequences multiple files through the pipeline one at a time.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, files []BatchFile, documentType domain.DocumentType, ownerID string) (*BatchResult, error)
}

// UploadReader is the inbound read model for upload state and history.
type UploadReader interface {
	GetByID(ctx context.Context, id string) (*domain.Upload, error)
	ListRecent(ctx context.Context, ownerID string, limit int) ([]domain.Upload, error)
}
