package usecase

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

func TestCalculateBatchStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []domain.DocumentStatus
		want     domain.BatchStatus
	}{
		{"empty batch", nil, domain.BatchDraft},
		{"all pending", []domain.DocumentStatus{domain.StatusPending, domain.StatusPending}, domain.BatchDraft},
		{"unset statuses", []domain.DocumentStatus{"", ""}, domain.BatchDraft},
		{"any queued", []domain.DocumentStatus{domain.StatusProcessed, domain.StatusQueued}, domain.BatchProcessing},
		{"any processing", []domain.DocumentStatus{domain.StatusFailed, domain.StatusProcessing}, domain.BatchProcessing},
		{"all processed", []domain.DocumentStatus{domain.StatusProcessed, domain.StatusProcessed}, domain.BatchCompleted},
		{"all failed", []domain.DocumentStatus{domain.StatusFailed, domain.StatusFailed}, domain.BatchFailed},
		{"validation failed counts as failure", []domain.DocumentStatus{domain.StatusValidationFailed, domain.StatusFailed}, domain.BatchFailed},
		{"mixed outcome", []domain.DocumentStatus{domain.StatusProcessed, domain.StatusFailed}, domain.BatchPartial},
		{"processed plus validation failed", []domain.DocumentStatus{domain.StatusProcessed, domain.StatusValidationFailed}, domain.BatchPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateBatchStatus(tt.statuses); got != tt.want {
				t.Fatalf("CalculateBatchStatus(%v) = %s, want %s", tt.statuses, got, tt.want)
			}
		})
	}
}

func TestCalculateBatchStatusOrderInsensitive(t *testing.T) {
	statuses := []domain.DocumentStatus{
		domain.StatusProcessed,
		domain.StatusFailed,
		domain.StatusValidationFailed,
		domain.StatusProcessed,
	}
	want := CalculateBatchStatus(statuses)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.DocumentStatus(nil), statuses...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		if got := CalculateBatchStatus(shuffled); got != want {
			t.Fatalf("order changed result: got %s, want %s for %v", got, want, shuffled)
		}
	}
}

func TestComputeBatchStatsIdempotent(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	amount := decimal.RequireFromString("120.50")

	docs := []domain.Document{
		{
			ID:                   uuid.New(),
			Status:               domain.StatusProcessed,
			TotalAmount:          &amount,
			Currency:             "EUR",
			ProcessingStartedAt:  &started,
			ProcessingFinishedAt: &finished,
		},
		{ID: uuid.New(), Status: domain.StatusFailed},
		{ID: uuid.New(), Status: domain.StatusQueued},
		{ID: uuid.New(), Status: domain.StatusPending},
	}

	first := ComputeBatchStats(docs)
	second := ComputeBatchStats(docs)

	if !first.TotalAmount.Equal(second.TotalAmount) {
		t.Fatalf("aggregate amount drifted: %s vs %s", first.TotalAmount, second.TotalAmount)
	}
	first.TotalAmount, second.TotalAmount = decimal.Zero, decimal.Zero
	if first != second {
		t.Fatalf("stats drifted between runs: %+v vs %+v", first, second)
	}

	if second.Total != 4 || second.Processed != 1 || second.Failed != 1 || second.Queued != 1 || second.Pending != 1 {
		t.Fatalf("unexpected counters: %+v", second)
	}
	if second.Currency != "EUR" {
		t.Fatalf("expected currency EUR, got %q", second.Currency)
	}
	if second.AvgProcessingMS != 90_000 {
		t.Fatalf("expected avg 90000ms, got %d", second.AvgProcessingMS)
	}
}
