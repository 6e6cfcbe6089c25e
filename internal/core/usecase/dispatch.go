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

// ProcessingMode values. "disabled" always processes inline; anything else
// attempts the queue first.
const (
	ModeDisabled = "disabled"
	ModeQueued   = "queued"
)

// WarnSyncFallback annotates dispatches that degraded to synchronous
// processing because the broker was unreachable.
const WarnSyncFallback = "processed synchronously due to queue unavailability"

// DispatchUseCase decides synchronous vs queued execution per document.
type DispatchUseCase struct {
	docs      ports.DocumentRepository
	queue     ports.MessageQueue
	processor ports.DocumentProcessor
	mode      string
	logger    *slog.Logger
}

func NewDispatchUseCase(
	docs ports.DocumentRepository,
	queue ports.MessageQueue,
	processor ports.DocumentProcessor,
	mode string,
	logger *slog.Logger,
) *DispatchUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if mode == "" {
		mode = ModeQueued
	}
	return &DispatchUseCase{
		docs:      docs,
		queue:     queue,
		processor: processor,
		mode:      mode,
		logger:    logger,
	}
}

// Dispatch submits a document for processing. Input problems (unknown
// document, ownership mismatch, missing file location) are rejected before
// any state mutation. Re-dispatching an already-processing document is
// allowed and resets its retry bookkeeping; batch retry relies on this.
func (uc *DispatchUseCase) Dispatch(ctx context.Context, documentID, ownerID uuid.UUID, vendorOverride *uuid.UUID) (ports.DispatchResult, error) {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return ports.DispatchResult{}, fmt.Errorf("fetch document: %w", err)
	}
	if doc.OwnerID != ownerID {
		return ports.DispatchResult{}, domain.WrapError(domain.ErrUnauthorized, "dispatch document", errors.New("owner mismatch"))
	}
	if doc.StoragePath == "" {
		return ports.DispatchResult{}, domain.WrapError(domain.ErrInvalidInput, "dispatch document", errors.New("missing file location"))
	}

	if vendorOverride != nil {
		if err := uc.docs.SetVendorOverride(ctx, documentID, vendorOverride); err != nil {
			return ports.DispatchResult{}, fmt.Errorf("set vendor override: %w", err)
		}
	}

	if uc.mode == ModeDisabled {
		return uc.processInline(ctx, documentID, "")
	}

	job := ports.ProcessJob{
		JobID:      uuid.NewString(),
		DocumentID: documentID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}

	// The queued status and job reference are reserved before the broker
	// sees the job. Publishing first would let a fast consumer run the
	// whole pipeline and then have the late SetQueued drag a terminal
	// document back to queued.
	if err := uc.docs.SetQueued(ctx, documentID, job.JobID); err != nil {
		return ports.DispatchResult{}, fmt.Errorf("mark queued: %w", err)
	}

	if err := uc.queue.PublishProcessJob(ctx, job); err != nil {
		if domain.IsKind(err, domain.ErrQueueUnavailable) {
			uc.logger.Warn("queue unavailable, processing synchronously",
				"document_id", documentID, "error", err)
			return uc.processInline(ctx, documentID, WarnSyncFallback)
		}
		// The document keeps its queued reservation; a re-dispatch
		// issues a fresh one.
		return ports.DispatchResult{}, fmt.Errorf("enqueue document: %w", err)
	}

	uc.logger.Info("document queued", "document_id", documentID, "job_id", job.JobID)
	return ports.DispatchResult{Mode: ports.DispatchQueued, JobID: job.JobID}, nil
}

func (uc *DispatchUseCase) processInline(ctx context.Context, documentID uuid.UUID, warning string) (ports.DispatchResult, error) {
	result := ports.DispatchResult{Mode: ports.DispatchSync, Warning: warning}
	if err := uc.processor.ProcessByID(ctx, documentID, 1); err != nil {
		// The processor has already persisted the failed state; the
		// document is terminal either way.
		return result, err
	}
	return result, nil
}
