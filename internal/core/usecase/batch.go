package usecase

import (
	"context"
	"log/slog"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
	"github.com/dcbackoffice/invoice-pipeline/internal/core/ports"
)

// BatchUseCase sequences a folder drop through the pipeline strictly one
// file at a time. Sequential execution is a deliberate backpressure choice
// to bound load on the extraction and archival collaborators.
type BatchUseCase struct {
	submitter ports.UploadSubmitter
	pipeline  ports.PipelineRunner
}

func NewBatchUseCase(submitter ports.UploadSubmitter, pipeline ports.PipelineRunner) *BatchUseCase {
	return &BatchUseCase{submitter: submitter, pipeline: pipeline}
}

// SubmitBatch processes files in order. An unforced duplicate pauses the
// whole batch and returns the decision payload with the untouched remainder;
// a FAILED_* item is recorded (retryable later) and the batch advances.
func (uc *BatchUseCase) SubmitBatch(
	ctx context.Context,
	files []ports.BatchFile,
	documentType domain.DocumentType,
	ownerID string,
) (*ports.BatchResult, error) {
	result := &ports.BatchResult{Items: make([]ports.BatchItemResult, 0, len(files))}

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		// Inline: the batch drives the stages itself, so no upload-created
		// event is published and the worker never contends for these uploads.
		res, err := uc.submitter.Submit(ctx, ports.SubmitRequest{
			OwnerID:          ownerID,
			DocumentType:     documentType,
			OriginalFilename: f.OriginalFilename,
			MimeType:         f.MimeType,
			Forced:           false,
			ProcessInline:    true,
			Body:             f.Body,
		})
		if err != nil {
			result.Items = append(result.Items, ports.BatchItemResult{
				OriginalFilename: f.OriginalFilename,
				Error:            err.Error(),
			})
			continue
		}

		if res.Duplicate != nil {
			result.Paused = true
			result.PausedFile = f.OriginalFilename
			result.Duplicate = res.Duplicate
			result.StagingRef = res.StagingRef
			for _, rest := range files[i+1:] {
				result.Remaining = append(result.Remaining, rest.OriginalFilename)
			}
			slog.Info("batch_paused_on_duplicate",
				"owner_id", ownerID,
				"paused_file", f.OriginalFilename,
				"remaining", len(result.Remaining),
			)
			return result, nil
		}

		result.Items = append(result.Items, uc.processItem(ctx, res.Upload, f.OriginalFilename))
	}

	return result, nil
}

func (uc *BatchUseCase) processItem(ctx context.Context, up *domain.Upload, filename string) ports.BatchItemResult {
	item := ports.BatchItemResult{
		OriginalFilename: filename,
		UploadID:         up.ID,
		Status:           up.Status,
	}

	afterAI, err := uc.pipeline.StartAI(ctx, up.ID)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	item.Status = afterAI.Status
	item.LinkedInvoiceID = afterAI.LinkedInvoiceID
	if afterAI.Status != domain.StatusAICompleted {
		item.Error = afterAI.LastError
		return item
	}

	// Sales reports stop after the AI stage, which already ingested their
	// rows; only invoices step through archival.
	if up.DocumentType == domain.DocTypeInvoice {
		afterArchive, err := uc.pipeline.StartArchive(ctx, up.ID)
		if err != nil {
			item.Error = err.Error()
			return item
		}
		item.Status = afterArchive.Status
		if afterArchive.Status != domain.StatusCompleted {
			item.Error = afterArchive.LastError
		}
	}
	return item
}
