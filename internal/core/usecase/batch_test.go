package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
	"github.com/dcbackoffice/invoice-pipeline/internal/core/ports"
)

type batchDeps struct {
	repo      *fakeUploadRepo
	invoices  *fakeInvoiceRepo
	store     *fakeFileStore
	extractor *fakeExtractor
	archiver  *fakeArchiver
	queue     *fakeQueue
	parser    *fakeSalesParser
	sales     *fakeSalesRepo
}

// newBatchUseCase wires the real submit and pipeline use cases so batch tests
// exercise the full sequential flow against fakes at the port boundary.
func newBatchUseCase() (*BatchUseCase, batchDeps) {
	total := 121.0
	deps := batchDeps{
		repo:     newFakeUploadRepo(),
		invoices: newFakeInvoiceRepo(),
		store:    newFakeFileStore(),
		extractor: &fakeExtractor{fields: &domain.InvoiceFields{
			DocKind:       "invoice",
			InvoiceNumber: "F-2026-001",
			SupplierName:  "Acme Consulting SL",
			TotalAmount:   &total,
			Currency:      "EUR",
		}},
		archiver: &fakeArchiver{result: &ports.ArchiveResult{
			FileID:    "drive-file-1",
			Reference: "https://drive.example/view/drive-file-1",
		}},
		queue:  &fakeQueue{},
		parser: &fakeSalesParser{},
		sales:  &fakeSalesRepo{},
	}
	submitUC := NewSubmitUploadUseCase(deps.repo, deps.store, deps.queue)
	pipelineUC := NewPipelineUseCase(deps.repo, deps.invoices, deps.store,
		deps.extractor, deps.archiver, deps.parser, deps.sales)
	uc := NewBatchUseCase(submitUC, pipelineUC)
	return uc, deps
}

func batchFiles(names ...string) []ports.BatchFile {
	files := make([]ports.BatchFile, 0, len(names))
	for _, name := range names {
		files = append(files, ports.BatchFile{
			OriginalFilename: name,
			MimeType:         "application/pdf",
			Body:             strings.NewReader("content of " + name),
		})
	}
	return files
}

func TestSubmitBatchProcessesInvoicesInOrder(t *testing.T) {
	uc, deps := newBatchUseCase()

	result, err := uc.SubmitBatch(context.Background(),
		batchFiles("a.pdf", "b.pdf"), domain.DocTypeInvoice, "owner-1")
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if result.Paused {
		t.Fatalf("batch paused unexpectedly: %+v", result)
	}
	if len(result.Items) != 2 {
		t.Fatalf("items = %d", len(result.Items))
	}
	for _, item := range result.Items {
		if item.Status != domain.StatusCompleted || item.Error != "" {
			t.Fatalf("item = %+v", item)
		}
	}
	if result.Items[0].OriginalFilename != "a.pdf" || result.Items[1].OriginalFilename != "b.pdf" {
		t.Fatalf("order not preserved: %+v", result.Items)
	}
	if deps.extractor.calls != 2 || deps.archiver.calls != 2 {
		t.Fatalf("extractor calls = %d archiver calls = %d", deps.extractor.calls, deps.archiver.calls)
	}
	// Batch submissions run inline; handing them to the worker too would make
	// two processes race for the same stage.
	if len(deps.queue.published) != 0 {
		t.Fatalf("events published for batch uploads: %v", deps.queue.published)
	}
}

func TestSubmitBatchPausesOnDuplicate(t *testing.T) {
	uc, deps := newBatchUseCase()
	deps.repo.duplicateSeq = []*domain.DuplicateMatch{
		nil,
		{UploadID: "u-old", Status: domain.StatusCompleted, UploadedAt: time.Now()},
	}

	result, err := uc.SubmitBatch(context.Background(),
		batchFiles("a.pdf", "b.pdf", "c.pdf"), domain.DocTypeInvoice, "owner-1")
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if !result.Paused || result.PausedFile != "b.pdf" {
		t.Fatalf("pause state = %+v", result)
	}
	if result.Duplicate == nil || result.Duplicate.UploadID != "u-old" {
		t.Fatalf("duplicate = %+v", result.Duplicate)
	}
	if result.StagingRef == "" {
		t.Fatalf("staging ref missing from pause payload")
	}
	if len(result.Remaining) != 1 || result.Remaining[0] != "c.pdf" {
		t.Fatalf("remaining = %v", result.Remaining)
	}
	// Only a.pdf ran before the pause.
	if len(result.Items) != 1 || result.Items[0].OriginalFilename != "a.pdf" {
		t.Fatalf("items = %+v", result.Items)
	}
}

func TestSubmitBatchRecordsStageFailureAndAdvances(t *testing.T) {
	uc, deps := newBatchUseCase()
	deps.extractor.err = context.DeadlineExceeded

	result, err := uc.SubmitBatch(context.Background(),
		batchFiles("a.pdf", "b.pdf"), domain.DocTypeInvoice, "owner-1")
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if result.Paused {
		t.Fatalf("failure must not pause the batch")
	}
	if len(result.Items) != 2 {
		t.Fatalf("items = %d", len(result.Items))
	}
	for _, item := range result.Items {
		if item.Status != domain.StatusFailedAI || item.Error == "" {
			t.Fatalf("item = %+v", item)
		}
	}
	if deps.archiver.calls != 0 {
		t.Fatalf("archiver called for failed items")
	}
}

func TestSubmitBatchRecordsSubmitErrorAndAdvances(t *testing.T) {
	uc, _ := newBatchUseCase()

	files := batchFiles("notes.txt", "a.pdf")
	result, err := uc.SubmitBatch(context.Background(), files, domain.DocTypeInvoice, "owner-1")
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("items = %d", len(result.Items))
	}
	if result.Items[0].Error == "" || result.Items[0].UploadID != "" {
		t.Fatalf("rejected item = %+v", result.Items[0])
	}
	if result.Items[1].Status != domain.StatusCompleted {
		t.Fatalf("second item = %+v", result.Items[1])
	}
}

func TestSubmitBatchIngestsSalesRows(t *testing.T) {
	uc, deps := newBatchUseCase()
	price := 19.9
	deps.parser.rows = []domain.SalesRow{
		{SaleDate: "2026-08-12", Reference: "S-1", Quantity: 2, UnitPrice: &price, Currency: "EUR"},
		{SaleDate: "2026-08-13", Reference: "S-2", Quantity: 1, UnitPrice: &price, Currency: "EUR"},
	}

	files := []ports.BatchFile{{
		OriginalFilename: "ventas_agosto.xlsx",
		MimeType:         "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Body:             strings.NewReader("xlsx bytes"),
	}}
	result, err := uc.SubmitBatch(context.Background(), files, domain.DocTypeSalesBatch, "owner-1")
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("items = %d", len(result.Items))
	}
	item := result.Items[0]
	if item.Status != domain.StatusAICompleted || item.Error != "" {
		t.Fatalf("item = %+v", item)
	}
	if len(deps.sales.inserted) != 2 {
		t.Fatalf("sales rows inserted = %d", len(deps.sales.inserted))
	}
	// Sales reports never reach the archival stage.
	if deps.archiver.calls != 0 {
		t.Fatalf("archiver calls = %d", deps.archiver.calls)
	}
}

func TestSubmitBatchSalesParserFailureRecordedOnItem(t *testing.T) {
	uc, deps := newBatchUseCase()
	deps.parser.err = context.DeadlineExceeded

	files := []ports.BatchFile{{
		OriginalFilename: "ventas.xlsx",
		MimeType:         "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Body:             strings.NewReader("xlsx bytes"),
	}}
	result, err := uc.SubmitBatch(context.Background(), files, domain.DocTypeSalesBatch, "owner-1")
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if result.Items[0].Error == "" {
		t.Fatalf("parser failure not recorded: %+v", result.Items[0])
	}
	if len(deps.sales.inserted) != 0 {
		t.Fatalf("rows inserted despite parser failure")
	}
}
