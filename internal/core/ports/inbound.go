package ports

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

type DispatchMode string

const (
	DispatchSync   DispatchMode = "sync"
	DispatchQueued DispatchMode = "queued"
)

type DispatchResult struct {
	Mode  DispatchMode `json:"mode"`
	JobID string       `json:"job_id,omitempty"`
	// Warning is set when the dispatcher degraded to synchronous
	// processing because the queue was unreachable.
	Warning string `json:"warning,omitempty"`
}

// JobDispatcher decides synchronous vs queued execution for a document.
type JobDispatcher interface {
	Dispatch(ctx context.Context, documentID, ownerID uuid.UUID, vendorOverride *uuid.UUID) (DispatchResult, error)
}

// DocumentProcessor runs the per-document pipeline. attempt is 1-based and
// supplied by the queue layer on redeliveries.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID uuid.UUID, attempt int) error
}

type UploadInput struct {
	OwnerID  uuid.UUID
	Filename string
	Body     io.Reader
	// BatchID attaches the document to an existing batch; BatchName creates
	// one when no BatchID is given.
	BatchID   *uuid.UUID
	BatchName string
	VendorID  *uuid.UUID
}

type DocumentIngestor interface {
	Upload(ctx context.Context, in UploadInput) (*domain.Document, error)
}

type BatchRetryResult struct {
	Retried []uuid.UUID `json:"retried"`
	Errors  []string    `json:"errors,omitempty"`
}

type DocumentStatusView struct {
	DocumentID uuid.UUID             `json:"document_id"`
	Status     domain.DocumentStatus `json:"status"`
	JobID      string                `json:"job_id,omitempty"`
	Elapsed    time.Duration         `json:"elapsed,omitempty"`
	LastError  string                `json:"last_error,omitempty"`
	RetryCount int                   `json:"retry_count"`
}

// BatchService rolls per-document outcomes into batch state and serves
// batch-scoped operations.
type BatchService interface {
	Refresh(ctx context.Context, batchID uuid.UUID) (*domain.Batch, error)
	RetryBatch(ctx context.Context, batchID, ownerID uuid.UUID) (BatchRetryResult, error)
	GetStatus(ctx context.Context, ownerID uuid.UUID, documentIDs []uuid.UUID) ([]DocumentStatusView, error)
	RemoveDocument(ctx context.Context, batchID, documentID, ownerID uuid.UUID) error
}

// DocumentReader is the inbound read model for document state.
type DocumentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error)
}
