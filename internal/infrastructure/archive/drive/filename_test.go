package drive

import (
	"testing"
	"time"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
)

func TestBuildArchiveNameUsesIssueDate(t *testing.T) {
	fields := &domain.InvoiceFields{
		SupplierName:  "Acme Consulting SL",
		InvoiceNumber: "F-2026-001",
		IssueDate:     "12/08/2026",
	}
	got := BuildArchiveName(fields, "scan.PDF", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	want := "2026-08-12_Acme_Consulting_SL_F-2026-001.pdf"
	if got != want {
		t.Fatalf("BuildArchiveName() = %q, want %q", got, want)
	}
}

func TestBuildArchiveNameFallsBackToUploadDate(t *testing.T) {
	fields := &domain.InvoiceFields{SupplierName: "Acme", InvoiceNumber: "1", IssueDate: "not a date"}
	got := BuildArchiveName(fields, "a.pdf", time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	if got != "2026-09-01_Acme_1.pdf" {
		t.Fatalf("BuildArchiveName() = %q", got)
	}
}

func TestBuildArchiveNameTruncatesLongParts(t *testing.T) {
	fields := &domain.InvoiceFields{
		SupplierName:  "A Very Long Supplier Name That Keeps Going And Going",
		InvoiceNumber: "INV-0000000000000000000000001",
		IssueDate:     "01/01/2026",
	}
	got := BuildArchiveName(fields, "x.xlsx", time.Now())
	want := "2026-01-01_A_Very_Long_Supplier_Name_That_INV-0000000000000000.xlsx"
	if got != want {
		t.Fatalf("BuildArchiveName() = %q, want %q", got, want)
	}
}

func TestBuildArchiveNameHandlesMissingFields(t *testing.T) {
	got := BuildArchiveName(nil, "doc.pdf", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	if got != "2026-09-01_unknown-supplier_no-id.pdf" {
		t.Fatalf("BuildArchiveName() = %q", got)
	}
}
