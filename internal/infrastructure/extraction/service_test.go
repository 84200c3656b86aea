package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/ports"
)

type fakeModel struct {
	name     string
	response string
	err      error
	calls    int
}

func (m *fakeModel) Name() string { return m.name }

func (m *fakeModel) ExtractJSON(_ context.Context, _ string, _ Document) (string, error) {
	m.calls++
	return m.response, m.err
}

type fakeRates struct {
	rate float64
	err  error

	gotDate     string
	gotCurrency string
}

func (r *fakeRates) RateToEUR(_ context.Context, isoDate, currency string) (float64, error) {
	r.gotDate = isoDate
	r.gotCurrency = currency
	return r.rate, r.err
}

func extractReq() ports.ExtractionRequest {
	return ports.ExtractionRequest{
		UploadID:         "u-1",
		OwnerID:          "owner-1",
		OriginalFilename: "factura.pdf",
		MimeType:         "application/pdf",
		File:             strings.NewReader("pdf bytes"),
	}
}

func TestExtractUsesPrimaryAndTagsProvider(t *testing.T) {
	primary := &fakeModel{name: "gemini", response: `{"doc_kind":"invoice","currency":"EUR"}`}
	fallback := &fakeModel{name: "openai", response: `{}`}
	svc := NewService(primary, fallback, nil)

	fields, err := svc.Extract(context.Background(), extractReq())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if fields.AIProvider != "gemini" {
		t.Fatalf("AIProvider = %q", fields.AIProvider)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback was called %d times", fallback.calls)
	}
}

func TestExtractFallsBackOnlyOnRateLimit(t *testing.T) {
	primary := &fakeModel{name: "gemini", err: fmt.Errorf("quota: %w", ErrRateLimited)}
	fallback := &fakeModel{name: "openai", response: `{"doc_kind":"invoice"}`}
	svc := NewService(primary, fallback, nil)

	fields, err := svc.Extract(context.Background(), extractReq())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if fields.AIProvider != "openai" {
		t.Fatalf("AIProvider = %q", fields.AIProvider)
	}
}

func TestExtractDoesNotFallBackOnOtherErrors(t *testing.T) {
	wantErr := errors.New("document rejected")
	primary := &fakeModel{name: "gemini", err: wantErr}
	fallback := &fakeModel{name: "openai", response: `{}`}
	svc := NewService(primary, fallback, nil)

	_, err := svc.Extract(context.Background(), extractReq())
	if !errors.Is(err, wantErr) {
		t.Fatalf("Extract() error = %v, want %v", err, wantErr)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback was called %d times", fallback.calls)
	}
}

func TestExtractEnrichesForeignCurrencyRate(t *testing.T) {
	primary := &fakeModel{name: "gemini", response: `{"currency":"USD","issue_date":"12/08/2026"}`}
	rates := &fakeRates{rate: 0.9215}
	svc := NewService(primary, nil, rates)

	fields, err := svc.Extract(context.Background(), extractReq())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if fields.ExchangeRate == nil || *fields.ExchangeRate != 0.9215 {
		t.Fatalf("ExchangeRate = %v", fields.ExchangeRate)
	}
	if rates.gotDate != "2026-08-12" || rates.gotCurrency != "USD" {
		t.Fatalf("rates called with date=%q currency=%q", rates.gotDate, rates.gotCurrency)
	}
}

func TestExtractRateLookupFailureIsNotFatal(t *testing.T) {
	primary := &fakeModel{name: "gemini", response: `{"currency":"USD"}`}
	rates := &fakeRates{err: errors.New("rates api down")}
	svc := NewService(primary, nil, rates)

	fields, err := svc.Extract(context.Background(), extractReq())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if fields.ExchangeRate != nil {
		t.Fatalf("ExchangeRate = %v, want nil", *fields.ExchangeRate)
	}
}

func TestExtractSkipsRateLookupForEUR(t *testing.T) {
	primary := &fakeModel{name: "gemini", response: `{"currency":"EUR"}`}
	rates := &fakeRates{rate: 1.5}
	svc := NewService(primary, nil, rates)

	fields, err := svc.Extract(context.Background(), extractReq())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if fields.ExchangeRate != nil {
		t.Fatalf("ExchangeRate = %v, want nil for EUR", *fields.ExchangeRate)
	}
	if rates.gotCurrency != "" {
		t.Fatalf("rates should not be called for EUR")
	}
}
