package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

type BatchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, batch *domain.Batch) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO batches (
	id, owner_id, name, status, total_count, processed_count, failed_count,
	pending_count, queued_count, processing_count, total_amount, currency,
	avg_processing_ms, created_at, submitted_at, completed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`,
		batch.ID, batch.OwnerID, batch.Name, string(batch.Status),
		batch.Stats.Total, batch.Stats.Processed, batch.Stats.Failed,
		batch.Stats.Pending, batch.Stats.Queued, batch.Stats.Processing,
		batch.Stats.TotalAmount, batch.Stats.Currency, batch.Stats.AvgProcessingMS,
		batch.CreatedAt, batch.SubmittedAt, batch.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (r *BatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, owner_id, name, status, total_count, processed_count, failed_count,
	pending_count, queued_count, processing_count, total_amount, currency,
	avg_processing_ms, created_at, submitted_at, completed_at
FROM batches
WHERE id = $1
`, id)

	var batch domain.Batch
	var status string
	var submittedAt, completedAt sql.NullTime

	err := row.Scan(
		&batch.ID, &batch.OwnerID, &batch.Name, &status,
		&batch.Stats.Total, &batch.Stats.Processed, &batch.Stats.Failed,
		&batch.Stats.Pending, &batch.Stats.Queued, &batch.Stats.Processing,
		&batch.Stats.TotalAmount, &batch.Stats.Currency, &batch.Stats.AvgProcessingMS,
		&batch.CreatedAt, &submittedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrBatchNotFound, "get batch", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get batch by id: %w", err)
	}

	batch.Status = domain.BatchStatus(status)
	batch.SubmittedAt = fromNullTime(submittedAt)
	batch.CompletedAt = fromNullTime(completedAt)
	return &batch, nil
}

func (r *BatchRepository) Save(ctx context.Context, batch *domain.Batch) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE batches
SET status = $2, total_count = $3, processed_count = $4, failed_count = $5,
	pending_count = $6, queued_count = $7, processing_count = $8,
	total_amount = $9, currency = $10, avg_processing_ms = $11,
	submitted_at = $12, completed_at = $13, updated_at = $14
WHERE id = $1
`,
		batch.ID, string(batch.Status),
		batch.Stats.Total, batch.Stats.Processed, batch.Stats.Failed,
		batch.Stats.Pending, batch.Stats.Queued, batch.Stats.Processing,
		batch.Stats.TotalAmount, batch.Stats.Currency, batch.Stats.AvgProcessingMS,
		batch.SubmittedAt, batch.CompletedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save batch rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrBatchNotFound, "save batch", fmt.Errorf("id=%s", batch.ID))
	}
	return nil
}
