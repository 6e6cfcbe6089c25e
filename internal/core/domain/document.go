package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DocumentStatus string

const (
	StatusPending          DocumentStatus = "pending"
	StatusQueued           DocumentStatus = "queued"
	StatusProcessing       DocumentStatus = "processing"
	StatusProcessed        DocumentStatus = "processed"
	StatusValidationFailed DocumentStatus = "validation_failed"
	StatusFailed           DocumentStatus = "failed"
)

// Terminal reports whether no further automatic transition happens
// without an explicit retry.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case StatusProcessed, StatusValidationFailed, StatusFailed:
		return true
	}
	return false
}

// Retryable reports whether an explicit retry may re-enter processing.
func (s DocumentStatus) Retryable() bool {
	return s == StatusFailed || s == StatusValidationFailed
}

type Document struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storage_path"`

	InvoiceNumber string           `json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time       `json:"invoice_date,omitempty"`
	TotalAmount   *decimal.Decimal `json:"total_amount,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	LineItems     []LineItem       `json:"line_items,omitempty"`
	CustomFields  map[string]any   `json:"custom_fields,omitempty"`

	RawText        string          `json:"raw_text,omitempty"`
	ExtractionData *ExtractionData `json:"extraction_data,omitempty"`

	Status               DocumentStatus `json:"status"`
	JobID                string         `json:"job_id,omitempty"`
	RetryCount           int            `json:"retry_count"`
	LastError            string         `json:"last_error,omitempty"`
	ProcessingStartedAt  *time.Time     `json:"processing_started_at,omitempty"`
	ProcessingFinishedAt *time.Time     `json:"processing_finished_at,omitempty"`

	// VendorID is a manual override chosen by the owner.
	// DetectedVendorID is written by the resolver only.
	VendorID         *uuid.UUID `json:"vendor_id,omitempty"`
	DetectedVendorID *uuid.UUID `json:"detected_vendor_id,omitempty"`
	TemplateID       *uuid.UUID `json:"template_id,omitempty"`
	BatchID          *uuid.UUID `json:"batch_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LineItem struct {
	ID          uuid.UUID        `json:"id"`
	DocumentID  uuid.UUID        `json:"document_id"`
	Position    int              `json:"position"`
	Description string           `json:"description"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
}

// ExtractionData is the last structured payload produced for a document,
// kept verbatim next to the parsed canonical fields so failed validations
// stay inspectable.
type ExtractionData struct {
	Fields           map[string]any `json:"fields"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
	Usage            TokenUsage     `json:"usage"`
	ExtractedAt      time.Time      `json:"extracted_at"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
