package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, owner_id, filename, storage_path, invoice_number, invoice_date, total_amount, currency,
custom_fields, raw_text, extraction_data, status, job_id, retry_count, last_error,
processing_started_at, processing_finished_at, vendor_id, detected_vendor_id, template_id, batch_id,
created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	customJSON, err := json.Marshal(orEmptyMap(doc.CustomFields))
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, owner_id, filename, storage_path, custom_fields, status, retry_count,
	vendor_id, batch_id, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		doc.ID, doc.OwnerID, doc.Filename, doc.StoragePath, customJSON, string(doc.Status),
		doc.RetryCount, uuidOrNil(doc.VendorID), uuidOrNil(doc.BatchID), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get document by id: %w", err)
	}

	items, err := r.listLineItems(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.LineItems = items
	return doc, nil
}

func (r *DocumentRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE batch_id = $1
ORDER BY created_at
`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list documents by batch: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch document: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch documents: %w", err)
	}
	return out, nil
}

// SetQueued records the dispatched job and resets retry bookkeeping, so a
// re-dispatched document starts its attempt counter from scratch.
func (r *DocumentRepository) SetQueued(ctx context.Context, id uuid.UUID, jobID string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, job_id = $3, retry_count = 0, last_error = '',
	processing_started_at = NULL, processing_finished_at = NULL, updated_at = $4
WHERE id = $1
`, id, string(domain.StatusQueued), jobID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set document queued: %w", err)
	}
	return requireAffected(result, id, "set document queued")
}

func (r *DocumentRepository) MarkProcessing(ctx context.Context, id uuid.UUID, attempt int, startedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, retry_count = $3, last_error = '', extraction_data = NULL,
	processing_started_at = $4, processing_finished_at = NULL, updated_at = $5
WHERE id = $1
`, id, string(domain.StatusProcessing), attempt-1, startedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark document processing: %w", err)
	}
	return requireAffected(result, id, "mark document processing")
}

func (r *DocumentRepository) SaveExtraction(ctx context.Context, doc *domain.Document) error {
	customJSON, err := json.Marshal(orEmptyMap(doc.CustomFields))
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}
	var extractionJSON []byte
	if doc.ExtractionData != nil {
		extractionJSON, err = json.Marshal(doc.ExtractionData)
		if err != nil {
			return fmt.Errorf("marshal extraction payload: %w", err)
		}
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET invoice_number = $2, invoice_date = $3, total_amount = $4, currency = $5,
	custom_fields = $6, raw_text = $7, extraction_data = $8, status = $9, last_error = $10,
	processing_finished_at = $11, detected_vendor_id = $12, template_id = $13, updated_at = $14
WHERE id = $1
`,
		doc.ID, doc.InvoiceNumber, doc.InvoiceDate, decimalOrNil(doc.TotalAmount), doc.Currency,
		customJSON, doc.RawText, nullableJSON(extractionJSON), string(doc.Status), doc.LastError,
		doc.ProcessingFinishedAt, uuidOrNil(doc.DetectedVendorID), uuidOrNil(doc.TemplateID), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	return requireAffected(result, doc.ID, "save extraction")
}

func (r *DocumentRepository) SaveFailure(ctx context.Context, id uuid.UUID, message string, finishedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, last_error = $3, processing_finished_at = $4, updated_at = $5
WHERE id = $1
`, id, string(domain.StatusFailed), message, finishedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save document failure: %w", err)
	}
	return requireAffected(result, id, "save document failure")
}

func (r *DocumentRepository) ReplaceLineItems(ctx context.Context, documentID uuid.UUID, items []domain.LineItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin line items tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete previous line items: %w", err)
	}
	for _, item := range items {
		id := item.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO line_items (id, document_id, position, description, quantity, unit_price, amount)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, id, documentID, item.Position, item.Description,
			decimalOrNil(item.Quantity), decimalOrNil(item.UnitPrice), decimalOrNil(item.Amount))
		if err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit line items tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) DeleteLineItems(ctx context.Context, documentID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM line_items WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete line items: %w", err)
	}
	return nil
}

func (r *DocumentRepository) SetVendorOverride(ctx context.Context, id uuid.UUID, vendorID *uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET vendor_id = $2, updated_at = $3
WHERE id = $1
`, id, uuidOrNil(vendorID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set vendor override: %w", err)
	}
	return requireAffected(result, id, "set vendor override")
}

func (r *DocumentRepository) ClearBatchRef(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET batch_id = NULL, updated_at = $2
WHERE id = $1
`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear document batch ref: %w", err)
	}
	return requireAffected(result, id, "clear document batch ref")
}

func (r *DocumentRepository) listLineItems(ctx context.Context, documentID uuid.UUID) ([]domain.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, position, description, quantity, unit_price, amount
FROM line_items
WHERE document_id = $1
ORDER BY position
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var out []domain.LineItem
	for rows.Next() {
		var item domain.LineItem
		var quantity, unitPrice, amount decimal.NullDecimal
		err := rows.Scan(&item.ID, &item.DocumentID, &item.Position, &item.Description, &quantity, &unitPrice, &amount)
		if err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		item.Quantity = fromNullDecimal(quantity)
		item.UnitPrice = fromNullDecimal(unitPrice)
		item.Amount = fromNullDecimal(amount)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var customRaw, extractionRaw []byte
	var status string
	var totalAmount decimal.NullDecimal
	var invoiceDate, startedAt, finishedAt sql.NullTime
	var vendorID, detectedVendorID, templateID, batchID uuid.NullUUID

	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.Filename, &doc.StoragePath,
		&doc.InvoiceNumber, &invoiceDate, &totalAmount, &doc.Currency,
		&customRaw, &doc.RawText, &extractionRaw, &status, &doc.JobID, &doc.RetryCount, &doc.LastError,
		&startedAt, &finishedAt, &vendorID, &detectedVendorID, &templateID, &batchID,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(customRaw) > 0 {
		if err := json.Unmarshal(customRaw, &doc.CustomFields); err != nil {
			return nil, fmt.Errorf("unmarshal custom fields: %w", err)
		}
	}
	if len(extractionRaw) > 0 {
		var payload domain.ExtractionData
		if err := json.Unmarshal(extractionRaw, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal extraction payload: %w", err)
		}
		doc.ExtractionData = &payload
	}

	doc.Status = domain.DocumentStatus(status)
	doc.InvoiceDate = fromNullTime(invoiceDate)
	doc.TotalAmount = fromNullDecimal(totalAmount)
	doc.ProcessingStartedAt = fromNullTime(startedAt)
	doc.ProcessingFinishedAt = fromNullTime(finishedAt)
	doc.VendorID = fromNullUUID(vendorID)
	doc.DetectedVendorID = fromNullUUID(detectedVendorID)
	doc.TemplateID = fromNullUUID(templateID)
	doc.BatchID = fromNullUUID(batchID)
	return &doc, nil
}

func requireAffected(result sql.Result, id uuid.UUID, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func uuidOrNil(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func decimalOrNil(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func fromNullUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}
