package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
	"github.com/kirillkom/invoiceflow/internal/core/ports"
)

// BatchAggregator refreshes a batch's derived status and counters from its
// member documents. It is idempotent and order-insensitive under concurrent
// sibling completions because it always rescans persisted state.
type BatchAggregator struct {
	docs    ports.DocumentRepository
	batches ports.BatchRepository
	logger  *slog.Logger
}

func NewBatchAggregator(docs ports.DocumentRepository, batches ports.BatchRepository, logger *slog.Logger) *BatchAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchAggregator{docs: docs, batches: batches, logger: logger}
}

func (a *BatchAggregator) Refresh(ctx context.Context, batchID uuid.UUID) (*domain.Batch, error) {
	batch, err := a.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	members, err := a.docs.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch documents: %w", err)
	}

	statuses := make([]domain.DocumentStatus, len(members))
	for i := range members {
		statuses[i] = members[i].Status
	}

	previous := batch.Status
	batch.Status = CalculateBatchStatus(statuses)
	batch.Stats = ComputeBatchStats(members)

	now := time.Now().UTC()
	if batch.SubmittedAt == nil && previous == domain.BatchDraft && batch.Status != domain.BatchDraft {
		batch.SubmittedAt = &now
	}
	// Completion is stamped exactly once per transition into a terminal
	// status; a retry that re-opens the batch clears it.
	switch {
	case batch.Status.Terminal() && batch.CompletedAt == nil:
		batch.CompletedAt = &now
	case !batch.Status.Terminal():
		batch.CompletedAt = nil
	}

	if err := a.batches.Save(ctx, batch); err != nil {
		return nil, fmt.Errorf("save batch: %w", err)
	}
	if previous != batch.Status {
		a.logger.Info("batch status changed",
			"batch_id", batchID,
			"from", string(previous),
			"to", string(batch.Status),
			"processed", batch.Stats.Processed,
			"failed", batch.Stats.Failed,
		)
	}
	return batch, nil
}

// BatchUseCase serves batch-scoped operations on top of the aggregator.
type BatchUseCase struct {
	docs       ports.DocumentRepository
	batches    ports.BatchRepository
	dispatcher ports.JobDispatcher
	aggregator *BatchAggregator
	logger     *slog.Logger
}

func NewBatchUseCase(
	docs ports.DocumentRepository,
	batches ports.BatchRepository,
	dispatcher ports.JobDispatcher,
	aggregator *BatchAggregator,
	logger *slog.Logger,
) *BatchUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchUseCase{
		docs:       docs,
		batches:    batches,
		dispatcher: dispatcher,
		aggregator: aggregator,
		logger:     logger,
	}
}

func (uc *BatchUseCase) Refresh(ctx context.Context, batchID uuid.UUID) (*domain.Batch, error) {
	return uc.aggregator.Refresh(ctx, batchID)
}

// RetryBatch re-dispatches every member that failed, failed validation or
// is stuck in processing. Per-document dispatch errors are collected, not
// fatal to the rest of the batch.
func (uc *BatchUseCase) RetryBatch(ctx context.Context, batchID, ownerID uuid.UUID) (ports.BatchRetryResult, error) {
	batch, err := uc.batches.GetByID(ctx, batchID)
	if err != nil {
		return ports.BatchRetryResult{}, fmt.Errorf("fetch batch: %w", err)
	}
	if batch.OwnerID != ownerID {
		return ports.BatchRetryResult{}, domain.WrapError(domain.ErrUnauthorized, "retry batch", errors.New("owner mismatch"))
	}

	members, err := uc.docs.ListByBatch(ctx, batchID)
	if err != nil {
		return ports.BatchRetryResult{}, fmt.Errorf("list batch documents: %w", err)
	}

	var result ports.BatchRetryResult
	for i := range members {
		d := &members[i]
		if !d.Status.Retryable() && d.Status != domain.StatusProcessing {
			continue
		}
		if _, err := uc.dispatcher.Dispatch(ctx, d.ID, ownerID, nil); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", d.ID, err))
			continue
		}
		result.Retried = append(result.Retried, d.ID)
	}

	if _, err := uc.aggregator.Refresh(ctx, batchID); err != nil {
		uc.logger.Warn("batch refresh after retry failed", "batch_id", batchID, "error", err)
	}
	return result, nil
}

func (uc *BatchUseCase) GetStatus(ctx context.Context, ownerID uuid.UUID, documentIDs []uuid.UUID) ([]ports.DocumentStatusView, error) {
	views := make([]ports.DocumentStatusView, 0, len(documentIDs))
	for _, id := range documentIDs {
		doc, err := uc.docs.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetch document %s: %w", id, err)
		}
		if doc.OwnerID != ownerID {
			return nil, domain.WrapError(domain.ErrUnauthorized, "get status", errors.New("owner mismatch"))
		}
		views = append(views, statusView(doc))
	}
	return views, nil
}

// RemoveDocument detaches a document from its batch. The document itself is
// never deleted here; only its batch reference is cleared.
func (uc *BatchUseCase) RemoveDocument(ctx context.Context, batchID, documentID, ownerID uuid.UUID) error {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	if doc.OwnerID != ownerID {
		return domain.WrapError(domain.ErrUnauthorized, "remove document", errors.New("owner mismatch"))
	}
	if doc.BatchID == nil || *doc.BatchID != batchID {
		return domain.WrapError(domain.ErrInvalidInput, "remove document", errors.New("document is not in this batch"))
	}
	if err := uc.docs.ClearBatchRef(ctx, documentID); err != nil {
		return fmt.Errorf("clear batch reference: %w", err)
	}
	if _, err := uc.aggregator.Refresh(ctx, batchID); err != nil {
		uc.logger.Warn("batch refresh after removal failed", "batch_id", batchID, "error", err)
	}
	return nil
}

func statusView(doc *domain.Document) ports.DocumentStatusView {
	view := ports.DocumentStatusView{
		DocumentID: doc.ID,
		Status:     doc.Status,
		JobID:      doc.JobID,
		LastError:  doc.LastError,
		RetryCount: doc.RetryCount,
	}
	if doc.ProcessingStartedAt != nil {
		end := time.Now().UTC()
		if doc.ProcessingFinishedAt != nil {
			end = *doc.ProcessingFinishedAt
		}
		view.Elapsed = end.Sub(*doc.ProcessingStartedAt)
	}
	return view
}
