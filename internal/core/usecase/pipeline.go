package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
	"github.com/dcbackoffice/invoice-pipeline/internal/core/ports"
)

// PipelineUseCase drives an upload through the processing state machine. The
// four entry points are independently invocable so a caller can resume at
// any stage; collaborator failures become a FAILED_* status plus last_error
// and are never returned as errors.
type PipelineUseCase struct {
	uploads   ports.UploadRepository
	invoices  ports.InvoiceRepository
	store     ports.FileStore
	extractor ports.InvoiceExtractor
	archiver  ports.Archiver
	parser    ports.SalesReportParser
	sales     ports.SalesRepository

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewPipelineUseCase(
	uploads ports.UploadRepository,
	invoices ports.InvoiceRepository,
	store ports.FileStore,
	extractor ports.InvoiceExtractor,
	archiver ports.Archiver,
	parser ports.SalesReportParser,
	sales ports.SalesRepository,
) *PipelineUseCase {
	return &PipelineUseCase{
		uploads:   uploads,
		invoices:  invoices,
		store:     store,
		extractor: extractor,
		archiver:  archiver,
		parser:    parser,
		sales:     sales,
		inFlight:  make(map[string]struct{}),
	}
}

// acquire marks uploadID as having a stage in flight within this process; the
// conditional stage-entry write in the repository is the lock that holds
// across the api and worker processes.
func (uc *PipelineUseCase) acquire(uploadID string) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if _, busy := uc.inFlight[uploadID]; busy {
		return domain.WrapError(domain.ErrStageInFlight, "acquire stage",
			fmt.Errorf("upload %s already has a stage running", uploadID))
	}
	uc.inFlight[uploadID] = struct{}{}
	return nil
}

func (uc *PipelineUseCase) release(uploadID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	delete(uc.inFlight, uploadID)
}

// StartAI runs the AI extraction stage. Valid from UPLOADED, FAILED_AI and
// DUPLICATED (the forced-duplicate audit tag does not block processing).
func (uc *PipelineUseCase) StartAI(ctx context.Context, uploadID string) (*domain.Upload, error) {
	if err := uc.acquire(uploadID); err != nil {
		return nil, err
	}
	defer uc.release(uploadID)

	up, err := uc.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	// Conditional write: when a concurrent caller (worker or api) wins the
	// transition first, this reports the conflict without mutating state.
	if err := uc.uploads.MarkStageStarted(ctx, uploadID, domain.StatusProcessingAI,
		domain.StatusUploaded, domain.StatusFailedAI, domain.StatusDuplicated); err != nil {
		return nil, err
	}
	up.Status = domain.StatusProcessingAI
	started := time.Now()

	fields, err := uc.runExtraction(ctx, up)
	if err != nil {
		return uc.failStage(ctx, up, domain.StatusFailedAI, err)
	}

	invoiceID := ""
	switch up.DocumentType {
	case domain.DocTypeInvoice:
		inv := domain.NewInvoiceFromFields(uuid.NewString(), up.ID, fields, time.Now().UTC())
		if err := uc.invoices.Create(ctx, inv); err != nil {
			return uc.failStage(ctx, up, domain.StatusFailedAI, fmt.Errorf("create invoice record: %w", err))
		}
		invoiceID = inv.ID
	case domain.DocTypeSalesBatch:
		if err := uc.ingestSalesRows(ctx, up); err != nil {
			return uc.failStage(ctx, up, domain.StatusFailedAI, err)
		}
	}

	if err := uc.uploads.SaveExtractionResult(ctx, uploadID, fields, invoiceID); err != nil {
		return nil, fmt.Errorf("save extraction result: %w", err)
	}

	up.Status = domain.StatusAICompleted
	up.ExtractedFields = fields
	up.LinkedInvoiceID = invoiceID
	up.LastError = ""
	slog.Info("ai_stage_completed",
		"upload_id", up.ID,
		"invoice_id", invoiceID,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return up, nil
}

// StartArchive runs the archival stage. Valid from AI_COMPLETED (unless
// archival was explicitly skipped) and FAILED_DRIVE.
func (uc *PipelineUseCase) StartArchive(ctx context.Context, uploadID string) (*domain.Upload, error) {
	if err := uc.acquire(uploadID); err != nil {
		return nil, err
	}
	defer uc.release(uploadID)

	up, err := uc.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if up.Status == domain.StatusAICompleted && up.ArchiveSkipped {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "start archive",
			fmt.Errorf("archival was explicitly skipped for upload %s", up.ID))
	}

	if err := uc.uploads.MarkStageStarted(ctx, uploadID, domain.StatusUploadingDrive,
		domain.StatusAICompleted, domain.StatusFailedDrive); err != nil {
		return nil, err
	}
	up.Status = domain.StatusUploadingDrive
	started := time.Now()

	result, err := uc.runArchive(ctx, up)
	if err != nil {
		return uc.failStage(ctx, up, domain.StatusFailedDrive, err)
	}

	if err := uc.uploads.SaveArchiveReference(ctx, uploadID, result.Reference); err != nil {
		return nil, fmt.Errorf("save archive reference: %w", err)
	}
	if up.LinkedInvoiceID != "" {
		// Best effort: the upload already owns the durable reference.
		if err := uc.invoices.SetArchiveLocation(ctx, up.LinkedInvoiceID, result.Reference); err != nil {
			slog.Warn("invoice_archive_location_update_failed",
				"upload_id", up.ID, "invoice_id", up.LinkedInvoiceID, "error", err)
		}
	}

	up.Status = domain.StatusCompleted
	up.ArchiveReference = result.Reference
	up.LastError = ""
	slog.Info("archive_stage_completed",
		"upload_id", up.ID,
		"archive_reference", result.Reference,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return up, nil
}

// Retry inspects the current status and re-runs the stage that failed (or
// never ran). Any status with nothing to retry is a no-op returning the
// record unchanged, which makes Retry idempotent.
func (uc *PipelineUseCase) Retry(ctx context.Context, uploadID string) (*domain.Upload, error) {
	up, err := uc.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	switch up.Status {
	case domain.StatusFailedAI, domain.StatusUploaded, domain.StatusDuplicated:
		return uc.StartAI(ctx, uploadID)
	case domain.StatusFailedDrive:
		return uc.StartArchive(ctx, uploadID)
	case domain.StatusAICompleted:
		if up.ArchiveSkipped {
			return up, nil
		}
		return uc.StartArchive(ctx, uploadID)
	default:
		return up, nil
	}
}

// SkipArchive permanently declines archival for an AI_COMPLETED upload. The
// decision is recorded as an explicit flag rather than inferred from status,
// so a later Retry can never re-trigger archival.
func (uc *PipelineUseCase) SkipArchive(ctx context.Context, uploadID string) (*domain.Upload, error) {
	if err := uc.acquire(uploadID); err != nil {
		return nil, err
	}
	defer uc.release(uploadID)

	up, err := uc.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if up.Status != domain.StatusAICompleted {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "skip archive",
			fmt.Errorf("status is %s, want AI_COMPLETED", up.Status))
	}
	if up.ArchiveSkipped {
		return up, nil
	}

	if err := uc.uploads.MarkArchiveSkipped(ctx, uploadID); err != nil {
		return nil, fmt.Errorf("mark archive skipped: %w", err)
	}
	up.ArchiveSkipped = true
	slog.Info("archive_skipped", "upload_id", up.ID)
	return up, nil
}

func (uc *PipelineUseCase) runExtraction(ctx context.Context, up *domain.Upload) (*domain.InvoiceFields, error) {
	file, err := uc.store.Open(ctx, up.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	defer file.Close()

	fields, err := uc.extractor.Extract(ctx, ports.ExtractionRequest{
		UploadID:         up.ID,
		OwnerID:          up.OwnerID,
		OriginalFilename: up.OriginalFilename,
		MimeType:         up.MimeType,
		File:             file,
	})
	if err != nil {
		return nil, fmt.Errorf("extract invoice data: %w", err)
	}
	return fields, nil
}

// ingestSalesRows parses a SALES_BATCH report and swaps in its rows. Runs as
// part of the AI stage so the single-upload and batch entry points behave
// alike; a failure leaves the upload FAILED_AI and retryable.
func (uc *PipelineUseCase) ingestSalesRows(ctx context.Context, up *domain.Upload) error {
	file, err := uc.store.Open(ctx, up.StoragePath)
	if err != nil {
		return fmt.Errorf("open sales report: %w", err)
	}
	defer file.Close()

	rows, err := uc.parser.Parse(ctx, up.ID, file)
	if err != nil {
		return fmt.Errorf("parse sales report: %w", err)
	}
	n, err := uc.sales.ReplaceForUpload(ctx, up.ID, rows)
	if err != nil {
		return fmt.Errorf("store sales rows: %w", err)
	}
	slog.Info("sales_rows_ingested", "upload_id", up.ID, "rows", n)
	return nil
}

func (uc *PipelineUseCase) runArchive(ctx context.Context, up *domain.Upload) (*ports.ArchiveResult, error) {
	file, err := uc.store.Open(ctx, up.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	defer file.Close()

	result, err := uc.archiver.Archive(ctx, ports.ArchiveRequest{
		UploadID:         up.ID,
		OwnerID:          up.OwnerID,
		OriginalFilename: up.OriginalFilename,
		MimeType:         up.MimeType,
		Fields:           up.ExtractedFields,
		File:             file,
	})
	if err != nil {
		return nil, fmt.Errorf("archive file: %w", err)
	}
	return result, nil
}

// failStage records a collaborator failure. The error is absorbed into the
// upload record; only a failing status write itself is returned as an error.
func (uc *PipelineUseCase) failStage(ctx context.Context, up *domain.Upload, status domain.UploadStatus, stageErr error) (*domain.Upload, error) {
	msg := stageErr.Error()
	if err := uc.uploads.MarkFailed(ctx, up.ID, status, msg); err != nil {
		return nil, fmt.Errorf("%w; mark failed status: %w", stageErr, err)
	}
	up.Status = status
	up.LastError = msg
	slog.Error("stage_failed", "upload_id", up.ID, "status", string(status), "error", msg)
	return up, nil
}
