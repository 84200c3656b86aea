package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/extraction"
)

func TestExtractJSONSendsInlineDocument(t *testing.T) {
	var captured generateContentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"doc_kind\":\"invoice\"}"}]}}]}`))
	}))
	defer server.Close()

	client := New(server.URL, "test-model", "test-key", nil)
	got, err := client.ExtractJSON(context.Background(), "extract this", extraction.Document{
		Filename: "factura.pdf",
		MimeType: "application/pdf",
		Data:     []byte("pdf bytes"),
	})
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	if !strings.Contains(got, "invoice") {
		t.Fatalf("unexpected response: %s", got)
	}

	if len(captured.Contents) != 1 || len(captured.Contents[0].Parts) != 2 {
		t.Fatalf("unexpected request shape: %+v", captured)
	}
	if captured.Contents[0].Parts[0].Text != "extract this" {
		t.Fatalf("prompt not sent: %+v", captured.Contents[0].Parts[0])
	}
	if captured.Contents[0].Parts[1].InlineData == nil ||
		captured.Contents[0].Parts[1].InlineData.MimeType != "application/pdf" {
		t.Fatalf("inline document not sent: %+v", captured.Contents[0].Parts[1])
	}
	if captured.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Fatalf("json response mime not requested: %+v", captured.GenerationConfig)
	}
}

func TestExtractJSONMapsQuotaToRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(server.URL, "test-model", "test-key", nil)
	_, err := client.ExtractJSON(context.Background(), "p", extraction.Document{Data: []byte("x")})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, extraction.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestExtractJSONFailsOnEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	client := New(server.URL, "test-model", "test-key", nil)
	_, err := client.ExtractJSON(context.Background(), "p", extraction.Document{Data: []byte("x")})
	if err == nil || !strings.Contains(err.Error(), "empty candidates") {
		t.Fatalf("expected empty candidates error, got %v", err)
	}
}
