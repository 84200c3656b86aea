package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
	"github.com/dcbackoffice/invoice-pipeline/internal/core/ports"
	"github.com/dcbackoffice/invoice-pipeline/internal/observability/metrics"
)

const ownerIDHeader = "X-Owner-Id"

// Options tunes the outer HTTP surface; zero values disable the
// corresponding limit.
type Options struct {
	Service          string
	MaxUploadBytes   int64
	ListLimitDefault int
	ListLimitMax     int
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	Metrics          *metrics.HTTPServerMetrics
}

type Router struct {
	submitter ports.UploadSubmitter
	pipeline  ports.PipelineRunner
	batch     ports.BatchSubmitter
	reader    ports.UploadReader
	invoices  ports.InvoiceRepository
	opts      Options
}

func NewRouter(
	submitter ports.UploadSubmitter,
	pipeline ports.PipelineRunner,
	batch ports.BatchSubmitter,
	reader ports.UploadReader,
	invoices ports.InvoiceRepository,
	opts Options,
) *Router {
	if opts.ListLimitDefault <= 0 {
		opts.ListLimitDefault = 20
	}
	if opts.ListLimitMax <= 0 {
		opts.ListLimitMax = 100
	}
	return &Router{
		submitter: submitter,
		pipeline:  pipeline,
		batch:     batch,
		reader:    reader,
		invoices:  invoices,
		opts:      opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/uploads", rt.uploadsCollection)
	mux.HandleFunc("/v1/uploads/", rt.uploadsResource)
	mux.HandleFunc("/v1/staging/", rt.discardStaged)

	var handler http.Handler = mux
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, time.Second)
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(rt.opts.Service, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rt.submitUpload(w, r)
	case http.MethodGet:
		rt.listUploads(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) submitUpload(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.Header.Get(ownerIDHeader))
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ownerIDHeader + " header is required"})
		return
	}

	if rt.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes)
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	forced, _ := strconv.ParseBool(r.FormValue("forced"))
	result, err := rt.submitter.Submit(r.Context(), ports.SubmitRequest{
		OwnerID:          owner,
		DocumentType:     domain.DocumentType(strings.ToUpper(r.FormValue("document_type"))),
		OriginalFilename: fileHeader.Filename,
		MimeType:         fileHeader.Header.Get("Content-Type"),
		Forced:           forced,
		Body:             file,
	})
	if err != nil {
		rt.respondError(w, err)
		return
	}

	if result.Duplicate != nil {
		if rt.opts.Metrics != nil {
			rt.opts.Metrics.RecordDuplicateDetected(rt.opts.Service)
		}
		writeJSON(w, http.StatusConflict, result)
		return
	}

	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordUploadSubmitted(rt.opts.Service, string(result.Upload.DocumentType), forced)
	}
	writeJSON(w, http.StatusAccepted, result.Upload)
}

func (rt *Router) listUploads(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.Header.Get(ownerIDHeader))
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ownerIDHeader + " header is required"})
		return
	}

	limit := rt.opts.ListLimitDefault
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > rt.opts.ListLimitMax {
		limit = rt.opts.ListLimitMax
	}

	uploads, err := rt.reader.ListRecent(r.Context(), owner, limit)
	if err != nil {
		rt.respondError(w, err)
		return
	}
	if uploads == nil {
		uploads = []domain.Upload{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": uploads})
}

func (rt *Router) uploadsResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/uploads/")
	if rest == "batch" {
		rt.submitBatch(w, r)
		return
	}

	segments := strings.Split(strings.Trim(rest, "/"), "/")
	id := segments[0]
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "upload id is required"})
		return
	}

	if len(segments) == 1 {
		rt.getUpload(w, r, id)
		return
	}
	if len(segments) != 2 {
		http.NotFound(w, r)
		return
	}

	switch segments[1] {
	case "status":
		rt.getUpload(w, r, id)
	case "invoice":
		rt.getInvoice(w, r, id)
	case "start-ai":
		rt.runStage(w, r, id, rt.pipeline.StartAI)
	case "start-archive":
		rt.runStage(w, r, id, rt.pipeline.StartArchive)
	case "retry":
		rt.runStage(w, r, id, rt.pipeline.Retry)
	case "skip-archive":
		rt.runStage(w, r, id, rt.pipeline.SkipArchive)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) getUpload(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	up, err := rt.reader.GetByID(r.Context(), id)
	if err != nil {
		rt.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

func (rt *Router) getInvoice(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	inv, err := rt.invoices.GetByUploadID(r.Context(), id)
	if err != nil {
		rt.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (rt *Router) runStage(w http.ResponseWriter, r *http.Request, id string, stage func(ctx context.Context, uploadID string) (*domain.Upload, error)) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	up, err := stage(r.Context(), id)
	if err != nil {
		rt.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

func (rt *Router) submitBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	owner := strings.TrimSpace(r.Header.Get(ownerIDHeader))
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ownerIDHeader + " header is required"})
		return
	}

	if rt.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes*8)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'files' is required"})
		return
	}

	files := make([]ports.BatchFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable file " + fh.Filename})
			return
		}
		defer f.Close()
		files = append(files, ports.BatchFile{
			OriginalFilename: fh.Filename,
			MimeType:         fh.Header.Get("Content-Type"),
			Body:             f,
		})
	}

	result, err := rt.batch.SubmitBatch(r.Context(),
		files, domain.DocumentType(strings.ToUpper(r.FormValue("document_type"))), owner)
	if err != nil && result == nil {
		rt.respondError(w, err)
		return
	}

	if rt.opts.Metrics != nil {
		for _, item := range result.Items {
			outcome := "completed"
			if item.Error != "" {
				outcome = "failed"
			}
			rt.opts.Metrics.RecordBatchFile(rt.opts.Service, outcome)
		}
		if result.Paused {
			rt.opts.Metrics.RecordDuplicateDetected(rt.opts.Service)
		}
	}

	status := http.StatusOK
	if result.Paused {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (rt *Router) discardStaged(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	ref := strings.TrimPrefix(r.URL.Path, "/v1/staging/")
	if err := rt.submitter.DiscardStaged(r.Context(), ref); err != nil {
		rt.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) respondError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	if status == http.StatusInternalServerError {
		// Unexpected failure: log the detail, return a generic message.
		slog.Error("request_failed", "error", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
