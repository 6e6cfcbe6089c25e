package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

func batchWithDocs(statuses ...domain.DocumentStatus) (*domain.Batch, *docRepoFake, *batchRepoFake) {
	ownerID := uuid.New()
	batch := &domain.Batch{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      "march uploads",
		Status:    domain.BatchDraft,
		CreatedAt: time.Now().UTC(),
	}
	docs := newDocRepoFake()
	for _, s := range statuses {
		batchID := batch.ID
		docID := uuid.New()
		docs.byID[docID] = &domain.Document{
			ID:          docID,
			OwnerID:     ownerID,
			StoragePath: "k",
			Status:      s,
			BatchID:     &batchID,
		}
	}
	return batch, docs, newBatchRepoFake(batch)
}

func TestAggregatorRefreshDerivesStatus(t *testing.T) {
	batch, docs, batches := batchWithDocs(domain.StatusProcessed, domain.StatusFailed)
	agg := NewBatchAggregator(docs, batches, nil)

	got, err := agg.Refresh(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got.Status != domain.BatchPartial {
		t.Fatalf("status = %s, want partial", got.Status)
	}
	if got.Stats.Total != 2 || got.Stats.Processed != 1 || got.Stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", got.Stats)
	}
	if got.CompletedAt == nil {
		t.Fatal("terminal batch must carry a completion stamp")
	}
}

func TestAggregatorStampsCompletionOnce(t *testing.T) {
	batch, docs, batches := batchWithDocs(domain.StatusProcessed, domain.StatusProcessed)
	agg := NewBatchAggregator(docs, batches, nil)

	first, err := agg.Refresh(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	stamp := *first.CompletedAt

	time.Sleep(5 * time.Millisecond)
	second, err := agg.Refresh(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !second.CompletedAt.Equal(stamp) {
		t.Fatalf("completion stamp moved: %v vs %v", second.CompletedAt, stamp)
	}
}

func TestAggregatorClearsCompletionWhenReopened(t *testing.T) {
	batch, docs, batches := batchWithDocs(domain.StatusProcessed, domain.StatusFailed)
	agg := NewBatchAggregator(docs, batches, nil)

	if _, err := agg.Refresh(context.Background(), batch.ID); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// A retry put one member back on the queue.
	for _, d := range docs.byID {
		if d.Status == domain.StatusFailed {
			d.Status = domain.StatusQueued
		}
	}
	got, err := agg.Refresh(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got.Status != domain.BatchProcessing {
		t.Fatalf("status = %s, want processing", got.Status)
	}
	if got.CompletedAt != nil {
		t.Fatal("reopened batch must drop its completion stamp")
	}
}

func TestAggregatorStampsSubmittedOnLeavingDraft(t *testing.T) {
	batch, docs, batches := batchWithDocs(domain.StatusQueued)
	agg := NewBatchAggregator(docs, batches, nil)

	got, err := agg.Refresh(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got.SubmittedAt == nil {
		t.Fatal("leaving draft must stamp the submission time")
	}
}

func TestRetryBatchRedispatchesFailures(t *testing.T) {
	batch, docs, batches := batchWithDocs(
		domain.StatusProcessed,
		domain.StatusFailed,
		domain.StatusValidationFailed,
	)
	dispatcher := &dispatcherFake{}
	agg := NewBatchAggregator(docs, batches, nil)
	uc := NewBatchUseCase(docs, batches, dispatcher, agg, nil)

	result, err := uc.RetryBatch(context.Background(), batch.ID, batch.OwnerID)
	if err != nil {
		t.Fatalf("RetryBatch() error = %v", err)
	}
	if len(result.Retried) != 2 {
		t.Fatalf("retried %d documents, want 2: %+v", len(result.Retried), result)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(dispatcher.docIDs) != 2 {
		t.Fatalf("dispatcher called %d times", len(dispatcher.docIDs))
	}
}

func TestRetryBatchOwnerMismatch(t *testing.T) {
	batch, docs, batches := batchWithDocs(domain.StatusFailed)
	uc := NewBatchUseCase(docs, batches, &dispatcherFake{}, NewBatchAggregator(docs, batches, nil), nil)

	_, err := uc.RetryBatch(context.Background(), batch.ID, uuid.New())
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRemoveDocumentClearsReferenceOnly(t *testing.T) {
	batch, docs, batches := batchWithDocs(domain.StatusProcessed)
	uc := NewBatchUseCase(docs, batches, &dispatcherFake{}, NewBatchAggregator(docs, batches, nil), nil)

	var docID uuid.UUID
	for id := range docs.byID {
		docID = id
	}

	if err := uc.RemoveDocument(context.Background(), batch.ID, docID, batch.OwnerID); err != nil {
		t.Fatalf("RemoveDocument() error = %v", err)
	}
	doc, ok := docs.byID[docID]
	if !ok {
		t.Fatal("document must never be deleted by batch removal")
	}
	if doc.BatchID != nil {
		t.Fatal("batch reference not cleared")
	}
}

func TestGetStatusReportsElapsed(t *testing.T) {
	doc := newTestDocument()
	started := time.Now().UTC().Add(-2 * time.Minute)
	finished := started.Add(30 * time.Second)
	doc.Status = domain.StatusProcessed
	doc.ProcessingStartedAt = &started
	doc.ProcessingFinishedAt = &finished
	repo := newDocRepoFake(doc)
	batches := newBatchRepoFake()
	uc := NewBatchUseCase(repo, batches, &dispatcherFake{}, NewBatchAggregator(repo, batches, nil), nil)

	views, err := uc.GetStatus(context.Background(), doc.OwnerID, []uuid.UUID{doc.ID})
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one view, got %d", len(views))
	}
	if views[0].Elapsed != 30*time.Second {
		t.Fatalf("elapsed = %s, want 30s", views[0].Elapsed)
	}
}
