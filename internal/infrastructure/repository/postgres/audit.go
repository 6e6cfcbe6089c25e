package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

// AuditLog is an append-only event sink. There are no update or delete
// statements here on purpose.
type AuditLog struct {
	db *sql.DB
}

func NewAuditLog(db *sql.DB) *AuditLog {
	return &AuditLog{db: db}
}

func (a *AuditLog) Record(ctx context.Context, event domain.AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	detailJSON, err := json.Marshal(orEmptyMap(event.Detail))
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
INSERT INTO audit_events (id, owner_id, document_id, batch_id, action, detail, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, event.ID, event.OwnerID, uuidOrNil(event.DocumentID), uuidOrNil(event.BatchID),
		event.Action, detailJSON, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
