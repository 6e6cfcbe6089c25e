package usecase

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
	"github.com/kirillkom/invoiceflow/internal/core/ports"
)

type docRepoFake struct {
	byID  map[uuid.UUID]*domain.Document
	items map[uuid.UUID][]domain.LineItem

	getErr       error
	setQueuedErr error
	markErr      error
	saveErr      error

	statusLog       []domain.DocumentStatus
	deleteItemCalls int
	markedAttempts  []int
	savedDoc        *domain.Document
	failureMsg      string
	overrideVendor  *uuid.UUID
	clearedBatchRef []uuid.UUID
}

func newDocRepoFake(docs ...*domain.Document) *docRepoFake {
	f := &docRepoFake{
		byID:  make(map[uuid.UUID]*domain.Document),
		items: make(map[uuid.UUID][]domain.LineItem),
	}
	for _, d := range docs {
		f.byID[d.ID] = d
	}
	return f
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document) error {
	f.byID[doc.ID] = doc
	return nil
}

func (f *docRepoFake) GetByID(_ context.Context, id uuid.UUID) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *docRepoFake) ListByBatch(_ context.Context, batchID uuid.UUID) ([]domain.Document, error) {
	var out []domain.Document
	for _, d := range f.byID {
		if d.BatchID != nil && *d.BatchID == batchID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *docRepoFake) SetQueued(_ context.Context, id uuid.UUID, jobID string) error {
	if f.setQueuedErr != nil {
		return f.setQueuedErr
	}
	d := f.byID[id]
	d.Status = domain.StatusQueued
	d.JobID = jobID
	d.RetryCount = 0
	f.statusLog = append(f.statusLog, domain.StatusQueued)
	return nil
}

func (f *docRepoFake) MarkProcessing(_ context.Context, id uuid.UUID, attempt int, startedAt time.Time) error {
	if f.markErr != nil {
		return f.markErr
	}
	d := f.byID[id]
	d.Status = domain.StatusProcessing
	d.RetryCount = attempt - 1
	d.ProcessingStartedAt = &startedAt
	d.ExtractionData = nil
	d.LastError = ""
	f.markedAttempts = append(f.markedAttempts, attempt)
	f.statusLog = append(f.statusLog, domain.StatusProcessing)
	return nil
}

func (f *docRepoFake) SaveExtraction(_ context.Context, doc *domain.Document) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	copyDoc := *doc
	f.savedDoc = &copyDoc
	f.byID[doc.ID] = &copyDoc
	f.statusLog = append(f.statusLog, doc.Status)
	return nil
}

func (f *docRepoFake) SaveFailure(_ context.Context, id uuid.UUID, message string, finishedAt time.Time) error {
	d := f.byID[id]
	d.Status = domain.StatusFailed
	d.LastError = message
	d.ProcessingFinishedAt = &finishedAt
	f.failureMsg = message
	f.statusLog = append(f.statusLog, domain.StatusFailed)
	return nil
}

func (f *docRepoFake) ReplaceLineItems(_ context.Context, documentID uuid.UUID, items []domain.LineItem) error {
	f.items[documentID] = items
	return nil
}

func (f *docRepoFake) DeleteLineItems(_ context.Context, documentID uuid.UUID) error {
	f.deleteItemCalls++
	delete(f.items, documentID)
	return nil
}

func (f *docRepoFake) SetVendorOverride(_ context.Context, id uuid.UUID, vendorID *uuid.UUID) error {
	f.byID[id].VendorID = vendorID
	f.overrideVendor = vendorID
	return nil
}

func (f *docRepoFake) ClearBatchRef(_ context.Context, id uuid.UUID) error {
	f.byID[id].BatchID = nil
	f.clearedBatchRef = append(f.clearedBatchRef, id)
	return nil
}

type batchRepoFake struct {
	byID   map[uuid.UUID]*domain.Batch
	getErr error
	saved  []domain.Batch
}

func newBatchRepoFake(batches ...*domain.Batch) *batchRepoFake {
	f := &batchRepoFake{byID: make(map[uuid.UUID]*domain.Batch)}
	for _, b := range batches {
		f.byID[b.ID] = b
	}
	return f
}

func (f *batchRepoFake) Create(_ context.Context, batch *domain.Batch) error {
	f.byID[batch.ID] = batch
	return nil
}

func (f *batchRepoFake) GetByID(_ context.Context, id uuid.UUID) (*domain.Batch, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	copyBatch := *b
	return &copyBatch, nil
}

func (f *batchRepoFake) Save(_ context.Context, batch *domain.Batch) error {
	copyBatch := *batch
	f.byID[batch.ID] = &copyBatch
	f.saved = append(f.saved, copyBatch)
	return nil
}

type vendorRepoFake struct {
	vendors []domain.Vendor
	listErr error
}

func (f *vendorRepoFake) GetByID(_ context.Context, id uuid.UUID) (*domain.Vendor, error) {
	for i := range f.vendors {
		if f.vendors[i].ID == id {
			return &f.vendors[i], nil
		}
	}
	return nil, domain.ErrVendorNotFound
}

func (f *vendorRepoFake) ListByOwner(context.Context, uuid.UUID) ([]domain.Vendor, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.vendors, nil
}

type templateRepoFake struct {
	tpl        *domain.Template
	loadErr    error
	usageErr   error
	usageCalls int
}

func (f *templateRepoFake) ActiveByVendor(context.Context, uuid.UUID) (*domain.Template, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.tpl, nil
}

func (f *templateRepoFake) RecordUsage(context.Context, uuid.UUID, time.Time) error {
	f.usageCalls++
	return f.usageErr
}

type extractorFake struct {
	text string
	err  error
}

func (f *extractorFake) Extract(context.Context, *domain.Document) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type resolverFake struct {
	match domain.VendorMatch
	err   error
	calls int
}

func (f *resolverFake) Resolve(context.Context, string, uuid.UUID) (domain.VendorMatch, error) {
	f.calls++
	if f.err != nil {
		return domain.VendorMatch{Reason: domain.MatchNone}, f.err
	}
	return f.match, nil
}

type llmFake struct {
	result ports.CompletionResult
	err    error
	gotReq ports.CompletionRequest
	calls  int
}

func (f *llmFake) Complete(_ context.Context, req ports.CompletionRequest) (ports.CompletionResult, error) {
	f.calls++
	f.gotReq = req
	if f.err != nil {
		return ports.CompletionResult{}, f.err
	}
	return f.result, nil
}

func (f *llmFake) EstimateCost(domain.TokenUsage) float64 { return 0 }

type queueFake struct {
	err       error
	published []ports.ProcessJob

	// onPublish, when set, simulates a consumer racing the publisher.
	onPublish func(context.Context, ports.ProcessJob) error
}

func (f *queueFake) PublishProcessJob(ctx context.Context, job ports.ProcessJob) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, job)
	if f.onPublish != nil {
		return f.onPublish(ctx, job)
	}
	return nil
}

func (f *queueFake) SubscribeProcessJobs(context.Context, func(context.Context, ports.ProcessJob) error) error {
	return nil
}

type processorFake struct {
	err      error
	repo     *docRepoFake
	attempts []int
	docIDs   []uuid.UUID
}

func (f *processorFake) ProcessByID(_ context.Context, documentID uuid.UUID, attempt int) error {
	f.docIDs = append(f.docIDs, documentID)
	f.attempts = append(f.attempts, attempt)
	if f.repo != nil {
		if d, ok := f.repo.byID[documentID]; ok {
			if f.err != nil {
				d.Status = domain.StatusFailed
			} else {
				d.Status = domain.StatusProcessed
			}
		}
	}
	return f.err
}

type dispatcherFake struct {
	err    error
	docIDs []uuid.UUID
}

func (f *dispatcherFake) Dispatch(_ context.Context, documentID, _ uuid.UUID, _ *uuid.UUID) (ports.DispatchResult, error) {
	if f.err != nil {
		return ports.DispatchResult{}, f.err
	}
	f.docIDs = append(f.docIDs, documentID)
	return ports.DispatchResult{Mode: ports.DispatchQueued, JobID: "job-" + documentID.String()}, nil
}

type auditFake struct {
	events []domain.AuditEvent
	err    error
}

func (f *auditFake) Record(_ context.Context, event domain.AuditEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type storageFake struct {
	saved   map[string][]byte
	saveErr error
	deleted []string
}

func newStorageFake() *storageFake {
	return &storageFake{saved: make(map[string][]byte)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.saved[key] = b
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := f.saved[key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	delete(f.saved, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *storageFake) PresignURL(key string, _ time.Duration) (string, error) {
	return "http://localhost/files/" + key, nil
}
