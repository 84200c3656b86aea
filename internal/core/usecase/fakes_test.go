package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
	"github.com/dcbackoffice/invoice-pipeline/internal/core/ports"
)

type fakeUploadRepo struct {
	mu      sync.Mutex
	uploads map[string]*domain.Upload

	duplicate    *domain.DuplicateMatch
	duplicateSeq []*domain.DuplicateMatch
	createErr    error
	findErr      error
	markStartErr error
	saveExtErr   error
	saveArcErr   error
	markFailErr  error
	skipErr      error
}

func newFakeUploadRepo() *fakeUploadRepo {
	return &fakeUploadRepo{uploads: make(map[string]*domain.Upload)}
}

func (r *fakeUploadRepo) put(up *domain.Upload) {
	clone := *up
	r.uploads[up.ID] = &clone
}

func (r *fakeUploadRepo) Create(_ context.Context, up *domain.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.put(up)
	return nil
}

func (r *fakeUploadRepo) GetByID(_ context.Context, id string) (*domain.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	up, ok := r.uploads[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrUploadNotFound, "get upload", fmt.Errorf("id %s", id))
	}
	clone := *up
	return &clone, nil
}

func (r *fakeUploadRepo) FindDuplicate(_ context.Context, _, _ string) (*domain.DuplicateMatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	if len(r.duplicateSeq) > 0 {
		next := r.duplicateSeq[0]
		r.duplicateSeq = r.duplicateSeq[1:]
		return next, nil
	}
	return r.duplicate, nil
}

func (r *fakeUploadRepo) ListRecent(_ context.Context, _ string, limit int) ([]domain.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Upload
	for _, up := range r.uploads {
		out = append(out, *up)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkStageStarted mirrors the real repository's compare-and-swap: the write
// happens only when the current status is one of allowedFrom, atomically
// under the repo lock.
func (r *fakeUploadRepo) MarkStageStarted(_ context.Context, id string, status domain.UploadStatus, allowedFrom ...domain.UploadStatus) error {
	if r.markStartErr != nil {
		return r.markStartErr
	}
	return r.mutateFrom(id, status, allowedFrom, func(up *domain.Upload) {
		up.Status = status
		up.LastError = ""
	})
}

func (r *fakeUploadRepo) SaveExtractionResult(_ context.Context, id string, fields *domain.InvoiceFields, invoiceID string) error {
	if r.saveExtErr != nil {
		return r.saveExtErr
	}
	return r.mutateFrom(id, domain.StatusAICompleted,
		[]domain.UploadStatus{domain.StatusProcessingAI}, func(up *domain.Upload) {
			up.Status = domain.StatusAICompleted
			up.ExtractedFields = fields
			up.LinkedInvoiceID = invoiceID
			up.LastError = ""
		})
}

func (r *fakeUploadRepo) SaveArchiveReference(_ context.Context, id string, reference string) error {
	if r.saveArcErr != nil {
		return r.saveArcErr
	}
	return r.mutateFrom(id, domain.StatusCompleted,
		[]domain.UploadStatus{domain.StatusUploadingDrive}, func(up *domain.Upload) {
			up.Status = domain.StatusCompleted
			up.ArchiveReference = reference
			up.LastError = ""
		})
}

func (r *fakeUploadRepo) MarkFailed(_ context.Context, id string, status domain.UploadStatus, lastError string) error {
	if r.markFailErr != nil {
		return r.markFailErr
	}
	from := domain.StatusProcessingAI
	if status == domain.StatusFailedDrive {
		from = domain.StatusUploadingDrive
	}
	return r.mutateFrom(id, status, []domain.UploadStatus{from}, func(up *domain.Upload) {
		up.Status = status
		up.LastError = lastError
	})
}

func (r *fakeUploadRepo) MarkArchiveSkipped(_ context.Context, id string) error {
	if r.skipErr != nil {
		return r.skipErr
	}
	return r.mutateFrom(id, domain.StatusAICompleted,
		[]domain.UploadStatus{domain.StatusAICompleted}, func(up *domain.Upload) {
			up.ArchiveSkipped = true
		})
}

func (r *fakeUploadRepo) mutateFrom(id string, target domain.UploadStatus, allowedFrom []domain.UploadStatus, fn func(*domain.Upload)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	up, ok := r.uploads[id]
	if !ok {
		return domain.WrapError(domain.ErrUploadNotFound, "mutate upload", fmt.Errorf("id %s", id))
	}
	allowed := false
	for _, from := range allowedFrom {
		if up.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		if up.Status == target {
			return domain.WrapError(domain.ErrStageInFlight, "mutate upload",
				fmt.Errorf("upload %s is already %s", id, up.Status))
		}
		return domain.WrapError(domain.ErrInvalidTransition, "mutate upload",
			fmt.Errorf("upload %s is %s", id, up.Status))
	}
	fn(up)
	return nil
}

type fakeInvoiceRepo struct {
	created    []*domain.Invoice
	createErr  error
	setLocErr  error
	locations  map[string]string
	getInvoice *domain.Invoice
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{locations: make(map[string]string)}
}

func (r *fakeInvoiceRepo) Create(_ context.Context, inv *domain.Invoice) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.created = append(r.created, inv)
	return nil
}

func (r *fakeInvoiceRepo) GetByUploadID(_ context.Context, _ string) (*domain.Invoice, error) {
	if r.getInvoice == nil {
		return nil, domain.WrapError(domain.ErrInvoiceNotFound, "get invoice", fmt.Errorf("missing"))
	}
	return r.getInvoice, nil
}

func (r *fakeInvoiceRepo) SetArchiveLocation(_ context.Context, invoiceID, location string) error {
	if r.setLocErr != nil {
		return r.setLocErr
	}
	r.locations[invoiceID] = location
	return nil
}

type fakeFileStore struct {
	mu      sync.Mutex
	nextRef int
	staged  map[string][]byte
	stored  map[string][]byte

	stashErr   error
	promoteErr error
	openErr    error
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{
		staged: make(map[string][]byte),
		stored: make(map[string][]byte),
	}
}

func (s *fakeFileStore) Stash(_ context.Context, data io.Reader) (string, int64, error) {
	if s.stashErr != nil {
		return "", 0, s.stashErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRef++
	ref := "stage-" + strconv.Itoa(s.nextRef)
	s.staged[ref] = raw
	return ref, int64(len(raw)), nil
}

func (s *fakeFileStore) OpenStaged(_ context.Context, ref string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.staged[ref]
	if !ok {
		return nil, fmt.Errorf("staged file %s not found", ref)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *fakeFileStore) Promote(_ context.Context, ref, key string) (string, error) {
	if s.promoteErr != nil {
		return "", s.promoteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.staged[ref]
	if !ok {
		return "", fmt.Errorf("staged file %s not found", ref)
	}
	delete(s.staged, ref)
	s.stored[key] = raw
	return key, nil
}

func (s *fakeFileStore) Discard(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staged, ref)
	return nil
}

func (s *fakeFileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.stored[key]
	if !ok {
		return nil, fmt.Errorf("stored file %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type fakeExtractor struct {
	fields *domain.InvoiceFields
	err    error
	calls  int
}

func (e *fakeExtractor) Extract(_ context.Context, _ ports.ExtractionRequest) (*domain.InvoiceFields, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.fields, nil
}

type fakeArchiver struct {
	result *ports.ArchiveResult
	err    error
	calls  int
}

func (a *fakeArchiver) Archive(_ context.Context, _ ports.ArchiveRequest) (*ports.ArchiveResult, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

type fakeQueue struct {
	published []string
	err       error
}

func (q *fakeQueue) PublishUploadCreated(_ context.Context, uploadID string) error {
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, uploadID)
	return nil
}

func (q *fakeQueue) SubscribeUploadCreated(_ context.Context, _ func(context.Context, string) error) error {
	return nil
}

type fakeSalesParser struct {
	rows []domain.SalesRow
	err  error
}

func (p *fakeSalesParser) Parse(_ context.Context, _ string, _ io.Reader) ([]domain.SalesRow, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.rows, nil
}

type fakeSalesRepo struct {
	inserted []domain.SalesRow
	err      error
}

func (r *fakeSalesRepo) ReplaceForUpload(_ context.Context, uploadID string, rows []domain.SalesRow) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	kept := r.inserted[:0]
	for _, row := range r.inserted {
		if row.UploadID != uploadID {
			kept = append(kept, row)
		}
	}
	r.inserted = append(kept, rows...)
	return len(rows), nil
}
