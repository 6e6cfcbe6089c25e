package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/invoiceflow/internal/config"
	"github.com/kirillkom/invoiceflow/internal/core/ports"
	"github.com/kirillkom/invoiceflow/internal/core/usecase"
	"github.com/kirillkom/invoiceflow/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/invoiceflow/internal/infrastructure/llm"
	"github.com/kirillkom/invoiceflow/internal/infrastructure/queue/nats"
	"github.com/kirillkom/invoiceflow/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/invoiceflow/internal/infrastructure/resilience"
	"github.com/kirillkom/invoiceflow/internal/infrastructure/storage/localfs"
)

// App wires the full dependency graph once for both entrypoints. The api
// binary serves HTTP on top of it; the worker binary subscribes to the queue.
type App struct {
	Config config.Config

	Queue      ports.MessageQueue
	Docs       ports.DocumentRepository
	Storage    *localfs.Storage
	IngestUC   ports.DocumentIngestor
	ProcessUC  ports.DocumentProcessor
	Dispatcher ports.JobDispatcher
	Batches    ports.BatchService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	docs := postgres.NewDocumentRepository(db)
	vendors := postgres.NewVendorRepository(db)
	templates := postgres.NewTemplateRepository(db)
	batches := postgres.NewBatchRepository(db)
	audit := postgres.NewAuditLog(db)

	storage, err := localfs.New(cfg.StoragePath, cfg.StoragePresignSecret, cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.QueuePublishConfig()).WithLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	extractionClient, err := llm.NewExtractionClient(llm.ProviderConfig{
		Provider:           cfg.LLMProvider,
		BaseURL:            cfg.LLMBaseURL,
		APIKey:             cfg.LLMAPIKey,
		Model:              cfg.LLMModel,
		ResilienceExecutor: resilience.NewExecutor(resilience.ExtractionConfig()).WithLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	extractor := pdftext.NewExtractor(storage)
	resolver := usecase.NewVendorResolverUseCase(vendors, extractionClient, logger)
	aggregator := usecase.NewBatchAggregator(docs, batches, logger)

	processUC := usecase.NewProcessDocumentUseCase(docs, templates, extractor, resolver, extractionClient, aggregator, audit, logger).
		WithDefaultCurrency(cfg.DefaultCurrency)
	dispatchUC := usecase.NewDispatchUseCase(docs, queue, processUC, cfg.ProcessingMode, logger)
	batchUC := usecase.NewBatchUseCase(docs, batches, dispatchUC, aggregator, logger)
	ingestUC := usecase.NewIngestDocumentUseCase(docs, batches, storage, audit, logger)

	return &App{
		Config: cfg,

		Queue:      queue,
		Docs:       docs,
		Storage:    storage,
		IngestUC:   ingestUC,
		ProcessUC:  processUC,
		Dispatcher: dispatchUC,
		Batches:    batchUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// PresignTTL converts the configured seconds into a duration once.
func (a *App) PresignTTL() time.Duration {
	return time.Duration(a.Config.PresignTTLSeconds) * time.Second
}
