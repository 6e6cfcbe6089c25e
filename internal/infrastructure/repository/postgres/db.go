package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema bootstraps the tables, serialized across api/worker startups
// with an advisory lock.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS vendors (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	name TEXT NOT NULL,
	identifiers JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vendors_owner ON vendors(owner_id);

CREATE TABLE IF NOT EXISTS templates (
	id UUID PRIMARY KEY,
	vendor_id UUID NOT NULL REFERENCES vendors(id),
	name TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT FALSE,
	instructions TEXT NOT NULL DEFAULT '',
	custom_fields JSONB NOT NULL DEFAULT '[]'::jsonb,
	field_mappings JSONB NOT NULL DEFAULT '{}'::jsonb,
	validation_rules JSONB NOT NULL DEFAULT '[]'::jsonb,
	times_used INTEGER NOT NULL DEFAULT 0,
	last_used_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_templates_vendor_active ON templates(vendor_id, is_active);

CREATE TABLE IF NOT EXISTS batches (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	total_count INTEGER NOT NULL DEFAULT 0,
	processed_count INTEGER NOT NULL DEFAULT 0,
	failed_count INTEGER NOT NULL DEFAULT 0,
	pending_count INTEGER NOT NULL DEFAULT 0,
	queued_count INTEGER NOT NULL DEFAULT 0,
	processing_count INTEGER NOT NULL DEFAULT 0,
	total_amount NUMERIC NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT '',
	avg_processing_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	submitted_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_batches_owner ON batches(owner_id);

CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	filename TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	invoice_number TEXT NOT NULL DEFAULT '',
	invoice_date TIMESTAMPTZ,
	total_amount NUMERIC,
	currency TEXT NOT NULL DEFAULT '',
	custom_fields JSONB NOT NULL DEFAULT '{}'::jsonb,
	raw_text TEXT NOT NULL DEFAULT '',
	extraction_data JSONB,
	status TEXT NOT NULL,
	job_id TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	processing_started_at TIMESTAMPTZ,
	processing_finished_at TIMESTAMPTZ,
	vendor_id UUID,
	detected_vendor_id UUID,
	template_id UUID,
	batch_id UUID REFERENCES batches(id),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_batch ON documents(batch_id);
CREATE INDEX IF NOT EXISTS idx_documents_owner_created ON documents(owner_id, created_at DESC);

CREATE TABLE IF NOT EXISTS line_items (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	quantity NUMERIC,
	unit_price NUMERIC,
	amount NUMERIC
);

CREATE INDEX IF NOT EXISTS idx_line_items_document ON line_items(document_id, position);

CREATE TABLE IF NOT EXISTS audit_events (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	document_id UUID,
	batch_id UUID,
	action TEXT NOT NULL,
	detail JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_owner_created ON audit_events(owner_id, created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
