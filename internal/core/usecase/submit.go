package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
	"github.com/dcbackoffice/invoice-pipeline/internal/core/ports"
)

// SubmitUploadUseCase handles single-file submission: staging, duplicate
// detection, record creation and the queue handoff to the worker.
type SubmitUploadUseCase struct {
	uploads ports.UploadRepository
	store   ports.FileStore
	queue   ports.MessageQueue
}

func NewSubmitUploadUseCase(
	uploads ports.UploadRepository,
	store ports.FileStore,
	queue ports.MessageQueue,
) *SubmitUploadUseCase {
	return &SubmitUploadUseCase{
		uploads: uploads,
		store:   store,
		queue:   queue,
	}
}

func (uc *SubmitUploadUseCase) Submit(ctx context.Context, req ports.SubmitRequest) (*ports.SubmitResult, error) {
	if err := validateSubmitRequest(req); err != nil {
		return nil, err
	}

	ref, size, err := uc.store.Stash(ctx, req.Body)
	if err != nil {
		return nil, fmt.Errorf("stash upload: %w", err)
	}

	staged, err := uc.store.OpenStaged(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("open staged upload: %w", err)
	}
	fingerprint, _, err := Fingerprint(staged)
	closeErr := staged.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close staged upload: %w", closeErr)
	}

	// Check-then-act by design: a concurrent duplicate submission may pass
	// this lookup, in which case the partial unique index rejects the
	// second insert below.
	match, err := uc.uploads.FindDuplicate(ctx, req.OwnerID, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("duplicate lookup: %w", err)
	}
	if match != nil && !req.Forced {
		slog.Info("duplicate_detected",
			"owner_id", req.OwnerID,
			"existing_upload_id", match.UploadID,
			"staging_ref", ref,
		)
		return &ports.SubmitResult{Duplicate: match, StagingRef: ref}, nil
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	status := domain.StatusUploaded
	if req.Forced && match != nil {
		// Audit tag for forced duplicates; it never blocks processing.
		status = domain.StatusDuplicated
	}

	up := &domain.Upload{
		ID:                 id,
		OwnerID:            req.OwnerID,
		DocumentType:       req.DocumentType,
		OriginalFilename:   sanitizeFilename(req.OriginalFilename),
		SizeBytes:          size,
		MimeType:           req.MimeType,
		ContentFingerprint: fingerprint,
		Status:             status,
		Forced:             req.Forced,
		StoragePath:        fmt.Sprintf("%s_%s", id, sanitizeFilename(req.OriginalFilename)),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := uc.uploads.Create(ctx, up); err != nil {
		if domain.IsKind(err, domain.ErrDuplicateContent) {
			// Lost the duplicate race; surface the winner as the decision
			// payload and keep the staged bytes reclaimable.
			if match, lookupErr := uc.uploads.FindDuplicate(ctx, req.OwnerID, fingerprint); lookupErr == nil && match != nil {
				return &ports.SubmitResult{Duplicate: match, StagingRef: ref}, nil
			}
			return nil, err
		}
		return nil, fmt.Errorf("create upload record: %w", err)
	}

	if _, err := uc.store.Promote(ctx, ref, up.StoragePath); err != nil {
		// Record exists but the file is gone; the AI stage will fail and
		// remain retryable once the caller re-stages the bytes.
		return nil, fmt.Errorf("promote staged upload: %w", err)
	}

	if !req.ProcessInline {
		if err := uc.queue.PublishUploadCreated(ctx, up.ID); err != nil {
			return nil, fmt.Errorf("publish upload-created event: %w", err)
		}
	}

	slog.Info("upload_created",
		"upload_id", up.ID,
		"owner_id", up.OwnerID,
		"document_type", string(up.DocumentType),
		"size_bytes", up.SizeBytes,
		"forced", up.Forced,
	)
	return &ports.SubmitResult{Upload: up}, nil
}

func (uc *SubmitUploadUseCase) DiscardStaged(ctx context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "discard staged", errors.New("empty staging ref"))
	}
	return uc.store.Discard(ctx, ref)
}

func validateSubmitRequest(req ports.SubmitRequest) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "submit upload", errors.New("owner is required"))
	}
	if !req.DocumentType.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "submit upload",
			fmt.Errorf("document_type must be %s or %s", domain.DocTypeInvoice, domain.DocTypeSalesBatch))
	}
	if req.Body == nil {
		return domain.WrapError(domain.ErrInvalidInput, "submit upload", errors.New("file body is required"))
	}
	ext := strings.ToLower(filepath.Ext(req.OriginalFilename))
	if ext != ".pdf" && ext != ".xlsx" {
		return domain.WrapError(domain.ErrInvalidInput, "submit upload",
			fmt.Errorf("unsupported file extension %q, only .pdf and .xlsx are accepted", ext))
	}
	return nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
