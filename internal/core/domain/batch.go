package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchDraft      BatchStatus = "draft"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchPartial    BatchStatus = "partial"
	BatchFailed     BatchStatus = "failed"
)

func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchPartial, BatchFailed:
		return true
	}
	return false
}

// Batch groups documents submitted together. Its counters are a derived
// cache over member documents, recomputed on demand and never incremented
// in place.
type Batch struct {
	ID      uuid.UUID   `json:"id"`
	OwnerID uuid.UUID   `json:"owner_id"`
	Name    string      `json:"name"`
	Status  BatchStatus `json:"status"`

	Stats BatchStats `json:"stats"`

	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type BatchStats struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`

	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency,omitempty"`
	AvgProcessingMS int64           `json:"avg_processing_ms"`
}

// AuditEvent is an append-only record of a lifecycle transition or
// operator action. The core emits these fire-and-forget.
type AuditEvent struct {
	ID         uuid.UUID      `json:"id"`
	OwnerID    uuid.UUID      `json:"owner_id"`
	DocumentID *uuid.UUID     `json:"document_id,omitempty"`
	BatchID    *uuid.UUID     `json:"batch_id,omitempty"`
	Action     string         `json:"action"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
