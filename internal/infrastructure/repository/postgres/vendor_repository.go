package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

type VendorRepository struct {
	db *sql.DB
}

func NewVendorRepository(db *sql.DB) *VendorRepository {
	return &VendorRepository{db: db}
}

func (r *VendorRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Vendor, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, owner_id, name, identifiers, created_at, updated_at
FROM vendors
WHERE id = $1
`, id)

	vendor, err := scanVendor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrVendorNotFound, "get vendor", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get vendor by id: %w", err)
	}
	return vendor, nil
}

func (r *VendorRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Vendor, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, owner_id, name, identifiers, created_at, updated_at
FROM vendors
WHERE owner_id = $1
ORDER BY name
`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list vendors by owner: %w", err)
	}
	defer rows.Close()

	var out []domain.Vendor
	for rows.Next() {
		vendor, err := scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		out = append(out, *vendor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vendors: %w", err)
	}
	return out, nil
}

func scanVendor(row rowScanner) (*domain.Vendor, error) {
	var vendor domain.Vendor
	var identifiersRaw []byte
	err := row.Scan(&vendor.ID, &vendor.OwnerID, &vendor.Name, &identifiersRaw, &vendor.CreatedAt, &vendor.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(identifiersRaw) > 0 {
		if err := json.Unmarshal(identifiersRaw, &vendor.Identifiers); err != nil {
			return nil, fmt.Errorf("unmarshal identifiers: %w", err)
		}
	}
	return &vendor, nil
}
