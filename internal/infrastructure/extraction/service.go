package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
	"github.com/dcbackoffice/invoice-pipeline/internal/core/ports"
)

// ErrRateLimited marks a provider quota rejection. It is the only failure
// that triggers the fallback provider; everything else fails the stage and
// stays retryable at the pipeline level.
var ErrRateLimited = errors.New("extraction provider rate limited")

// Document is the file handed to a model provider.
type Document struct {
	Filename string
	MimeType string
	Data     []byte
}

// TextModel is one AI provider able to turn a document into the extraction
// JSON described by the prompt.
type TextModel interface {
	Name() string
	ExtractJSON(ctx context.Context, prompt string, doc Document) (string, error)
}

// Service implements invoice extraction with a primary provider, an optional
// rate-limit fallback and best-effort exchange-rate enrichment.
type Service struct {
	primary  TextModel
	fallback TextModel
	rates    ports.RateSource
}

func NewService(primary, fallback TextModel, rates ports.RateSource) *Service {
	return &Service{primary: primary, fallback: fallback, rates: rates}
}

func (s *Service) Extract(ctx context.Context, req ports.ExtractionRequest) (*domain.InvoiceFields, error) {
	data, err := io.ReadAll(req.File)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	doc := Document{
		Filename: req.OriginalFilename,
		MimeType: req.MimeType,
		Data:     data,
	}

	response, provider, err := s.generate(ctx, buildExtractionPrompt(), doc)
	if err != nil {
		return nil, err
	}

	fields, err := ParseFields(response)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", provider, err)
	}
	fields.AIProvider = provider

	s.enrichExchangeRate(ctx, req.UploadID, fields)
	return fields, nil
}

func (s *Service) generate(ctx context.Context, prompt string, doc Document) (string, string, error) {
	response, err := s.primary.ExtractJSON(ctx, prompt, doc)
	if err == nil {
		return response, s.primary.Name(), nil
	}
	if s.fallback == nil || !errors.Is(err, ErrRateLimited) {
		return "", "", err
	}

	slog.Warn("primary_extractor_rate_limited",
		"primary", s.primary.Name(),
		"fallback", s.fallback.Name(),
		"error", err,
	)
	response, fallbackErr := s.fallback.ExtractJSON(ctx, prompt, doc)
	if fallbackErr != nil {
		return "", "", fmt.Errorf("fallback after rate limit: %w", fallbackErr)
	}
	return response, s.fallback.Name(), nil
}

// enrichExchangeRate fills the EUR rate for foreign-currency documents when
// the model did not supply one. A rates failure never fails extraction.
func (s *Service) enrichExchangeRate(ctx context.Context, uploadID string, fields *domain.InvoiceFields) {
	if s.rates == nil || fields.ExchangeRate != nil {
		return
	}
	if fields.Currency == "" || fields.Currency == "EUR" {
		return
	}

	isoDate := "latest"
	if t, ok := fields.IssueDateTime(); ok {
		isoDate = t.Format("2006-01-02")
	}

	rate, err := s.rates.RateToEUR(ctx, isoDate, fields.Currency)
	if err != nil {
		slog.Warn("exchange_rate_lookup_failed",
			"upload_id", uploadID,
			"currency", fields.Currency,
			"date", isoDate,
			"error", err,
		)
		return
	}
	fields.ExchangeRate = &rate
}
