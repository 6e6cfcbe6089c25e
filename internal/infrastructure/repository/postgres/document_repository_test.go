package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

func newDocRepoWithMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &DocumentRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	id := uuid.New()
	mock.ExpectQuery("SELECT id, owner_id, filename, storage_path").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetQueuedResetsRetryBookkeeping(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	id := uuid.New()
	mock.ExpectExec("UPDATE documents").
		WithArgs(id, string(domain.StatusQueued), "job-42", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetQueued(context.Background(), id, "job-42"); err != nil {
		t.Fatalf("SetQueued() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetQueuedReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	id := uuid.New()
	mock.ExpectExec("UPDATE documents").
		WithArgs(id, string(domain.StatusQueued), "job-42", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetQueued(context.Background(), id, "job-42")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkProcessingStampsAttempt(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	id := uuid.New()
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE documents").
		WithArgs(id, string(domain.StatusProcessing), 1, startedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkProcessing(context.Background(), id, 2, startedAt); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveFailureReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	id := uuid.New()
	finishedAt := time.Now().UTC()
	mock.ExpectExec("UPDATE documents").
		WithArgs(id, string(domain.StatusFailed), "boom", finishedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SaveFailure(context.Background(), id, "boom", finishedAt)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceLineItemsRunsInOneTransaction(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	docID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM line_items").
		WithArgs(docID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO line_items").
		WithArgs(sqlmock.AnyArg(), docID, 0, "Widget", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO line_items").
		WithArgs(sqlmock.AnyArg(), docID, 1, "Gadget", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	items := []domain.LineItem{
		{Position: 0, Description: "Widget"},
		{Position: 1, Description: "Gadget"},
	}
	if err := repo.ReplaceLineItems(context.Background(), docID, items); err != nil {
		t.Fatalf("ReplaceLineItems() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClearBatchRefReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newDocRepoWithMock(t)
	defer done()

	id := uuid.New()
	mock.ExpectExec("UPDATE documents").
		WithArgs(id, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ClearBatchRef(context.Background(), id)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
