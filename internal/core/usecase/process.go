package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
	"github.com/kirillkom/invoiceflow/internal/core/ports"
)

// ProcessDocumentUseCase owns the per-document state machine:
//
//	pending → queued → processing → processed | validation_failed | failed
//
// Hard failures (storage read, empty text, extraction-service error) are
// persisted as failed and re-raised so the queue's retry policy can act.
// Vendor detection, template loading, usage counters and audit events are
// best-effort: their errors are logged and deliberately discarded.
type ProcessDocumentUseCase struct {
	docs       ports.DocumentRepository
	templates  ports.TemplateRepository
	extractor  ports.TextExtractor
	resolver   ports.VendorResolver
	llm        ports.ExtractionClient
	aggregator *BatchAggregator
	audit      ports.AuditRecorder
	logger     *slog.Logger

	defaultCurrency string
}

func NewProcessDocumentUseCase(
	docs ports.DocumentRepository,
	templates ports.TemplateRepository,
	extractor ports.TextExtractor,
	resolver ports.VendorResolver,
	llm ports.ExtractionClient,
	aggregator *BatchAggregator,
	audit ports.AuditRecorder,
	logger *slog.Logger,
) *ProcessDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		docs:       docs,
		templates:  templates,
		extractor:  extractor,
		resolver:   resolver,
		llm:        llm,
		aggregator: aggregator,
		audit:      audit,
		logger:     logger,

		defaultCurrency: "USD",
	}
}

// WithDefaultCurrency sets the currency assumed when extraction yields none.
func (uc *ProcessDocumentUseCase) WithDefaultCurrency(currency string) *ProcessDocumentUseCase {
	if c := strings.ToUpper(strings.TrimSpace(currency)); c != "" {
		uc.defaultCurrency = c
	}
	return uc
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID uuid.UUID, attempt int) error {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	if doc.StoragePath == "" {
		return domain.WrapError(domain.ErrInvalidInput, "process document", errors.New("missing file location"))
	}
	if attempt < 1 {
		attempt = 1
	}

	start := time.Now().UTC()
	// Retry-safe entry: prior line items and extraction payload are cleared
	// before re-processing so a retry never duplicates data.
	if err := uc.docs.DeleteLineItems(ctx, documentID); err != nil {
		return fmt.Errorf("clear line items: %w", err)
	}
	if err := uc.docs.MarkProcessing(ctx, documentID, attempt, start); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}
	doc.Status = domain.StatusProcessing
	doc.ProcessingStartedAt = &start
	doc.RetryCount = attempt - 1

	if err := uc.runPipeline(ctx, doc); err != nil {
		uc.failDocument(ctx, doc, err)
		return err
	}

	if err := uc.persistOutcome(ctx, doc); err != nil {
		uc.failDocument(ctx, doc, err)
		return err
	}

	uc.afterSuccess(ctx, doc)
	return nil
}

// runPipeline mutates doc in place with the extraction outcome but persists
// nothing.
func (uc *ProcessDocumentUseCase) runPipeline(ctx context.Context, doc *domain.Document) error {
	text, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	doc.RawText = text

	// Manual vendor override always wins and skips the resolver entirely.
	if doc.VendorID == nil {
		match, err := uc.resolver.Resolve(ctx, text, doc.OwnerID)
		if err != nil {
			// Best-effort: detection failure never aborts extraction.
			uc.logger.Warn("vendor detection failed", "document_id", doc.ID, "error", err)
		} else if match.VendorID != nil {
			doc.DetectedVendorID = match.VendorID
			uc.logger.Info("vendor detected",
				"document_id", doc.ID,
				"vendor_id", *match.VendorID,
				"confidence", match.Confidence,
				"reason", string(match.Reason),
			)
		}
	}

	tpl := uc.loadTemplate(ctx, doc)

	result, err := uc.llm.Complete(ctx, ports.CompletionRequest{
		Text:           text,
		Instructions:   BuildExtractionInstructions(tpl),
		ResponseSchema: BuildResponseSchema(tpl),
	})
	if err != nil {
		return fmt.Errorf("extraction service: %w", err)
	}

	fields := result.Fields
	var rules []domain.ValidationRule
	if tpl != nil {
		fields = ApplyFieldMappings(fields, tpl.FieldMappings)
		rules = tpl.ValidationRules
		doc.TemplateID = &tpl.ID
	}

	canonical, custom := PartitionFields(fields)
	outcome := ValidateFields(uc.logger, fields, rules)

	uc.applyCanonicalFields(doc, canonical)
	doc.CustomFields = custom
	doc.ExtractionData = &domain.ExtractionData{
		Fields:           fields,
		ValidationErrors: outcome.Errors,
		Usage:            result.Usage,
		ExtractedAt:      time.Now().UTC(),
	}

	if outcome.Valid {
		doc.Status = domain.StatusProcessed
	} else {
		doc.Status = domain.StatusValidationFailed
	}
	return nil
}

func (uc *ProcessDocumentUseCase) persistOutcome(ctx context.Context, doc *domain.Document) error {
	finished := time.Now().UTC()
	doc.ProcessingFinishedAt = &finished

	if err := uc.docs.ReplaceLineItems(ctx, doc.ID, doc.LineItems); err != nil {
		return fmt.Errorf("persist line items: %w", err)
	}
	if err := uc.docs.SaveExtraction(ctx, doc); err != nil {
		return fmt.Errorf("persist extraction: %w", err)
	}
	return nil
}

// afterSuccess runs the best-effort tail: template usage counters, batch
// aggregate refresh and the audit trail. Each error is logged and dropped.
func (uc *ProcessDocumentUseCase) afterSuccess(ctx context.Context, doc *domain.Document) {
	if doc.TemplateID != nil {
		if err := uc.templates.RecordUsage(ctx, *doc.TemplateID, time.Now().UTC()); err != nil {
			uc.logger.Warn("template usage update failed", "template_id", *doc.TemplateID, "error", err)
		}
	}
	uc.refreshBatch(ctx, doc)
	uc.recordAudit(ctx, doc, "document.processed", map[string]any{
		"status":      string(doc.Status),
		"retry_count": doc.RetryCount,
	})

	uc.logger.Info("document processed",
		"document_id", doc.ID,
		"status", string(doc.Status),
		"invoice_number", doc.InvoiceNumber,
		"line_items", len(doc.LineItems),
		"validation_errors", len(doc.ExtractionData.ValidationErrors),
	)
}

// failDocument persists the hard failure; the caller re-raises the error so
// the queue layer's retry/backoff policy can act on it.
func (uc *ProcessDocumentUseCase) failDocument(ctx context.Context, doc *domain.Document, cause error) {
	finished := time.Now().UTC()
	if err := uc.docs.SaveFailure(ctx, doc.ID, cause.Error(), finished); err != nil {
		uc.logger.Error("persist failure state failed", "document_id", doc.ID, "error", err)
	}
	doc.Status = domain.StatusFailed
	doc.LastError = cause.Error()
	uc.refreshBatch(ctx, doc)
	uc.recordAudit(ctx, doc, "document.failed", map[string]any{"error": cause.Error()})
}

func (uc *ProcessDocumentUseCase) loadTemplate(ctx context.Context, doc *domain.Document) *domain.Template {
	vendorID := doc.VendorID
	if vendorID == nil {
		vendorID = doc.DetectedVendorID
	}
	if vendorID == nil {
		return nil
	}
	tpl, err := uc.templates.ActiveByVendor(ctx, *vendorID)
	if err != nil {
		// Best-effort: extraction proceeds with the base contract.
		uc.logger.Warn("template load failed", "vendor_id", *vendorID, "error", err)
		return nil
	}
	return tpl
}

func (uc *ProcessDocumentUseCase) refreshBatch(ctx context.Context, doc *domain.Document) {
	if doc.BatchID == nil || uc.aggregator == nil {
		return
	}
	if _, err := uc.aggregator.Refresh(ctx, *doc.BatchID); err != nil {
		uc.logger.Warn("batch refresh failed", "batch_id", *doc.BatchID, "error", err)
	}
}

func (uc *ProcessDocumentUseCase) recordAudit(ctx context.Context, doc *domain.Document, action string, detail map[string]any) {
	if uc.audit == nil {
		return
	}
	docID := doc.ID
	event := domain.AuditEvent{
		ID:         uuid.New(),
		OwnerID:    doc.OwnerID,
		DocumentID: &docID,
		BatchID:    doc.BatchID,
		Action:     action,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	if err := uc.audit.Record(ctx, event); err != nil {
		uc.logger.Warn("audit record failed", "action", action, "error", err)
	}
}

func (uc *ProcessDocumentUseCase) applyCanonicalFields(doc *domain.Document, canonical map[string]any) {
	if v, ok := canonical[FieldInvoiceNumber]; ok {
		doc.InvoiceNumber = strings.TrimSpace(toString(v))
	}
	// A date that fails to parse is stored as absent, not a fatal error.
	if v, ok := canonical[FieldInvoiceDate]; ok {
		doc.InvoiceDate = parseDate(toString(v))
	}
	if v, ok := canonical[FieldTotalAmount]; ok {
		doc.TotalAmount = parseDecimal(v)
	}
	doc.Currency = uc.defaultCurrency
	if v, ok := canonical[FieldCurrency]; ok {
		if c := strings.ToUpper(strings.TrimSpace(toString(v))); c != "" {
			doc.Currency = c
		}
	}
	if v, ok := canonical[FieldLineItems]; ok {
		doc.LineItems = parseLineItems(doc.ID, v)
	} else {
		doc.LineItems = nil
	}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02.01.2006",
	"01/02/2006",
	"2 January 2006",
	"January 2, 2006",
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func parseDecimal(v any) *decimal.Decimal {
	s := strings.TrimSpace(toString(v))
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// parseLineItems converts the raw extraction array into ordered line items,
// preserving the array index as the position.
func parseLineItems(documentID uuid.UUID, v any) []domain.LineItem {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	items := make([]domain.LineItem, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, domain.LineItem{
			ID:          uuid.New(),
			DocumentID:  documentID,
			Position:    i,
			Description: strings.TrimSpace(toString(m["description"])),
			Quantity:    parseDecimal(m["quantity"]),
			UnitPrice:   parseDecimal(m["unit_price"]),
			Amount:      parseDecimal(m["amount"]),
		})
	}
	return items
}
