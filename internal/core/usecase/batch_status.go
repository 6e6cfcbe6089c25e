package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

// CalculateBatchStatus derives batch status from the multiset of member
// document statuses. It is a pure function: input order never matters.
//
//   - draft      — every document is pending (or the batch is empty)
//   - processing — any document is queued or processing
//   - completed  — every terminal document is processed
//   - failed     — every terminal document is failed/validation_failed
//   - partial    — terminal documents are a mix of success and failure
func CalculateBatchStatus(statuses []domain.DocumentStatus) domain.BatchStatus {
	if len(statuses) == 0 {
		return domain.BatchDraft
	}

	allPending := true
	var processed, failed int
	for _, s := range statuses {
		switch s {
		case "", domain.StatusPending:
			continue
		case domain.StatusQueued, domain.StatusProcessing:
			return domain.BatchProcessing
		case domain.StatusProcessed:
			processed++
		case domain.StatusValidationFailed, domain.StatusFailed:
			failed++
		}
		allPending = false
	}

	switch {
	case allPending:
		return domain.BatchDraft
	case failed == 0:
		return domain.BatchCompleted
	case processed == 0:
		return domain.BatchFailed
	default:
		return domain.BatchPartial
	}
}

// ComputeBatchStats recomputes batch counters from the current member
// documents. Counters are a derived cache: always recomputed from persisted
// state, never incremented in place, so concurrent sibling completions
// cannot drift them.
func ComputeBatchStats(docs []domain.Document) domain.BatchStats {
	stats := domain.BatchStats{Total: len(docs), TotalAmount: decimal.Zero}

	var durTotal int64
	var durCount int64
	for i := range docs {
		d := &docs[i]
		switch d.Status {
		case "", domain.StatusPending:
			stats.Pending++
		case domain.StatusQueued:
			stats.Queued++
		case domain.StatusProcessing:
			stats.Processing++
		case domain.StatusProcessed:
			stats.Processed++
		case domain.StatusValidationFailed, domain.StatusFailed:
			stats.Failed++
		}

		if d.TotalAmount != nil && d.Status.Terminal() && d.Status != domain.StatusFailed {
			stats.TotalAmount = stats.TotalAmount.Add(*d.TotalAmount)
			if stats.Currency == "" {
				stats.Currency = d.Currency
			}
		}
		if d.ProcessingStartedAt != nil && d.ProcessingFinishedAt != nil {
			durTotal += d.ProcessingFinishedAt.Sub(*d.ProcessingStartedAt).Milliseconds()
			durCount++
		}
	}
	if durCount > 0 {
		stats.AvgProcessingMS = durTotal / durCount
	}
	return stats
}
