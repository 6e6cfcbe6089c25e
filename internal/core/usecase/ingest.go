package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
	"github.com/kirillkom/invoiceflow/internal/core/ports"
)

// IngestDocumentUseCase stores an uploaded invoice and creates its pending
// document row, optionally attached to a batch.
type IngestDocumentUseCase struct {
	docs    ports.DocumentRepository
	batches ports.BatchRepository
	storage ports.ObjectStorage
	audit   ports.AuditRecorder
	logger  *slog.Logger
}

func NewIngestDocumentUseCase(
	docs ports.DocumentRepository,
	batches ports.BatchRepository,
	storage ports.ObjectStorage,
	audit ports.AuditRecorder,
	logger *slog.Logger,
) *IngestDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestDocumentUseCase{
		docs:    docs,
		batches: batches,
		storage: storage,
		audit:   audit,
		logger:  logger,
	}
}

func (uc *IngestDocumentUseCase) Upload(ctx context.Context, in ports.UploadInput) (*domain.Document, error) {
	if in.Body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("empty body"))
	}
	if in.OwnerID == uuid.Nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("missing owner"))
	}

	id := uuid.New()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(in.Filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, in.Body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	batchID, err := uc.resolveBatch(ctx, in, now)
	if err != nil {
		// The stored bytes are orphaned on this path; deletion is
		// best-effort by contract.
		_ = uc.storage.Delete(ctx, storageKey)
		return nil, err
	}

	doc := &domain.Document{
		ID:          id,
		OwnerID:     in.OwnerID,
		Filename:    in.Filename,
		StoragePath: storageKey,
		Status:      domain.StatusPending,
		VendorID:    in.VendorID,
		BatchID:     batchID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.docs.Create(ctx, doc); err != nil {
		_ = uc.storage.Delete(ctx, storageKey)
		return nil, fmt.Errorf("create document: %w", err)
	}

	if uc.audit != nil {
		docID := doc.ID
		event := domain.AuditEvent{
			ID:         uuid.New(),
			OwnerID:    in.OwnerID,
			DocumentID: &docID,
			BatchID:    batchID,
			Action:     "document.uploaded",
			Detail:     map[string]any{"filename": in.Filename},
			CreatedAt:  now,
		}
		if err := uc.audit.Record(ctx, event); err != nil {
			uc.logger.Warn("audit record failed", "action", event.Action, "error", err)
		}
	}

	uc.logger.Info("document uploaded", "document_id", doc.ID, "storage_key", storageKey)
	return doc, nil
}

func (uc *IngestDocumentUseCase) resolveBatch(ctx context.Context, in ports.UploadInput, now time.Time) (*uuid.UUID, error) {
	if in.BatchID != nil {
		batch, err := uc.batches.GetByID(ctx, *in.BatchID)
		if err != nil {
			return nil, fmt.Errorf("fetch batch: %w", err)
		}
		if batch.OwnerID != in.OwnerID {
			return nil, domain.WrapError(domain.ErrUnauthorized, "upload document", errors.New("batch owner mismatch"))
		}
		return in.BatchID, nil
	}
	if in.BatchName == "" {
		return nil, nil
	}
	batch := &domain.Batch{
		ID:        uuid.New(),
		OwnerID:   in.OwnerID,
		Name:      in.BatchName,
		Status:    domain.BatchDraft,
		CreatedAt: now,
	}
	if err := uc.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return &batch.ID, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.pdf"
	}
	return base
}
