package ports

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

// DocumentRepository persists document state. The relational store is the
// single source of truth; nothing here is cached across requests.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.Document, error)
	// SetQueued stores status=queued and the job reference in one update.
	SetQueued(ctx context.Context, id uuid.UUID, jobID string) error
	// MarkProcessing enters the processing state: clears the previous
	// extraction payload and error, stamps the start time and attempt.
	MarkProcessing(ctx context.Context, id uuid.UUID, attempt int, startedAt time.Time) error
	// SaveExtraction persists canonical fields, custom fields, references,
	// raw text, the extraction payload and the final status.
	SaveExtraction(ctx context.Context, doc *domain.Document) error
	SaveFailure(ctx context.Context, id uuid.UUID, message string, finishedAt time.Time) error
	ReplaceLineItems(ctx context.Context, documentID uuid.UUID, items []domain.LineItem) error
	DeleteLineItems(ctx context.Context, documentID uuid.UUID) error
	// SetVendorOverride stores a manual vendor choice. It never touches the
	// detected vendor reference, which belongs to the resolver.
	SetVendorOverride(ctx context.Context, id uuid.UUID, vendorID *uuid.UUID) error
	// ClearBatchRef detaches a document from its batch without deleting it.
	ClearBatchRef(ctx context.Context, id uuid.UUID) error
}

type VendorRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Vendor, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Vendor, error)
}

type TemplateRepository interface {
	// ActiveByVendor returns the first active template for a vendor, or
	// (nil, nil) when the vendor has none. Absence is not an error.
	ActiveByVendor(ctx context.Context, vendorID uuid.UUID) (*domain.Template, error)
	RecordUsage(ctx context.Context, templateID uuid.UUID, usedAt time.Time) error
}

type BatchRepository interface {
	Create(ctx context.Context, batch *domain.Batch) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Batch, error)
	// Save writes status, stats and completion stamp recomputed by the
	// aggregator.
	Save(ctx context.Context, batch *domain.Batch) error
}

// ObjectStorage stores source documents, addressed by opaque keys.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete is best-effort; callers may ignore its error.
	Delete(ctx context.Context, key string) error
	PresignURL(key string, ttl time.Duration) (string, error)
}

// TextExtractor extracts plain text from a stored document. Empty or
// whitespace-only output is a failure, not an empty success.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

type CompletionRequest struct {
	Text           string
	Instructions   string
	ResponseSchema map[string]any
}

type CompletionResult struct {
	Fields map[string]any
	Raw    []byte
	Usage  domain.TokenUsage
}

// ExtractionClient is the boundary to the AI completion service.
type ExtractionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	// EstimateCost is a pure function over token usage, in USD.
	EstimateCost(usage domain.TokenUsage) float64
}

// ProcessJob is the unit of work carried on the queue. The dispatcher
// assigns JobID and persists it before the job is published, so consumers
// never see a job the document row does not yet reference.
type ProcessJob struct {
	JobID      string    `json:"job_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// MessageQueue publishes/consumes processing jobs. Publish failures caused
// by an unreachable broker carry domain.ErrQueueUnavailable.
type MessageQueue interface {
	PublishProcessJob(ctx context.Context, job ProcessJob) error
	SubscribeProcessJobs(ctx context.Context, handler func(context.Context, ProcessJob) error) error
}

// VendorResolver guesses which vendor issued a document.
type VendorResolver interface {
	Resolve(ctx context.Context, text string, ownerID uuid.UUID) (domain.VendorMatch, error)
}

// AuditRecorder is an append-only event sink. The core treats failures as
// log-and-forget.
type AuditRecorder interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}
