package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// ActiveByVendor returns the first active template for the vendor, oldest
// first so the established template keeps winning over later drafts. A vendor
// without an active template yields (nil, nil).
func (r *TemplateRepository) ActiveByVendor(ctx context.Context, vendorID uuid.UUID) (*domain.Template, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, vendor_id, name, is_active, instructions, custom_fields, field_mappings, validation_rules,
	times_used, last_used_at, created_at, updated_at
FROM templates
WHERE vendor_id = $1 AND is_active
ORDER BY created_at
LIMIT 1
`, vendorID)

	tpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("active template by vendor: %w", err)
	}
	return tpl, nil
}

func (r *TemplateRepository) RecordUsage(ctx context.Context, templateID uuid.UUID, usedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE templates
SET times_used = times_used + 1, last_used_at = $2, updated_at = $3
WHERE id = $1
`, templateID, usedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record template usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record template usage rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("template not found: id=%s", templateID)
	}
	return nil
}

func scanTemplate(row rowScanner) (*domain.Template, error) {
	var tpl domain.Template
	var customRaw, mappingsRaw, rulesRaw []byte
	var lastUsedAt sql.NullTime

	err := row.Scan(
		&tpl.ID, &tpl.VendorID, &tpl.Name, &tpl.IsActive, &tpl.Instructions,
		&customRaw, &mappingsRaw, &rulesRaw,
		&tpl.TimesUsed, &lastUsedAt, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(customRaw) > 0 {
		if err := json.Unmarshal(customRaw, &tpl.CustomFields); err != nil {
			return nil, fmt.Errorf("unmarshal template custom fields: %w", err)
		}
	}
	if len(mappingsRaw) > 0 {
		if err := json.Unmarshal(mappingsRaw, &tpl.FieldMappings); err != nil {
			return nil, fmt.Errorf("unmarshal template field mappings: %w", err)
		}
	}
	if len(rulesRaw) > 0 {
		if err := json.Unmarshal(rulesRaw, &tpl.ValidationRules); err != nil {
			return nil, fmt.Errorf("unmarshal template validation rules: %w", err)
		}
	}
	tpl.LastUsedAt = fromNullTime(lastUsedAt)
	return &tpl, nil
}
