package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/invoiceflow/internal/bootstrap"
	"github.com/kirillkom/invoiceflow/internal/config"
	"github.com/kirillkom/invoiceflow/internal/core/domain"
	"github.com/kirillkom/invoiceflow/internal/core/ports"
	"github.com/kirillkom/invoiceflow/internal/observability/logging"
	"github.com/kirillkom/invoiceflow/internal/observability/metrics"
)

// jobPool runs queue jobs on a bounded set of goroutines. The subscription
// callback delivers messages serially, so the callback itself only acquires
// a slot and hands the job off; doing the work inline would cap effective
// concurrency at one regardless of the pool size.
type jobPool struct {
	processor      ports.DocumentProcessor
	docs           ports.DocumentReader
	metrics        *metrics.WorkerMetrics
	logger         *slog.Logger
	slots          chan struct{}
	limiter        *rate.Limiter
	attemptTimeout time.Duration
}

func newJobPool(
	processor ports.DocumentProcessor,
	docs ports.DocumentReader,
	workerMetrics *metrics.WorkerMetrics,
	logger *slog.Logger,
	concurrency int,
	limiter *rate.Limiter,
	attemptTimeout time.Duration,
) *jobPool {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &jobPool{
		processor:      processor,
		docs:           docs,
		metrics:        workerMetrics,
		logger:         logger,
		slots:          make(chan struct{}, concurrency),
		limiter:        limiter,
		attemptTimeout: attemptTimeout,
	}
}

// Handle blocks until a pool slot is free, then runs the job on its own
// goroutine and returns so the subscription can deliver the next message.
func (p *jobPool) Handle(ctx context.Context, job ports.ProcessJob) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	go func() {
		defer func() { <-p.slots }()
		p.run(ctx, job)
	}()
	return nil
}

// Wait blocks until every in-flight job has released its slot.
func (p *jobPool) Wait() {
	for i := 0; i < cap(p.slots); i++ {
		p.slots <- struct{}{}
	}
}

func (p *jobPool) run(ctx context.Context, job ports.ProcessJob) {
	if err := p.limiter.Wait(ctx); err != nil {
		p.logger.Warn("job_rate_wait_aborted", "document_id", job.DocumentID, "error", err)
		return
	}

	if !job.EnqueuedAt.IsZero() {
		p.metrics.ObserveQueueLag("worker", time.Since(job.EnqueuedAt))
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	processCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
	defer cancel()

	p.metrics.StartDocument()
	start := time.Now()
	procErr := p.processor.ProcessByID(processCtx, job.DocumentID, attempt)

	status := domain.StatusFailed
	if doc, err := p.docs.GetByID(ctx, job.DocumentID); err == nil {
		status = doc.Status
		if doc.ExtractionData != nil {
			p.metrics.RecordTokenUsage("worker", doc.ExtractionData.Usage)
		}
	}
	p.metrics.FinishDocument("worker", status, time.Since(start), procErr)

	if procErr != nil {
		p.logger.Error("document_process_failed",
			"document_id", job.DocumentID,
			"attempt", attempt,
			"error", procErr,
		)
	}
}

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker_metrics_server_error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	limiter := rate.NewLimiter(rate.Limit(cfg.WorkerRatePerSecond), cfg.WorkerRateBurst)
	pool := newJobPool(
		app.ProcessUC,
		app.Docs,
		workerMetrics,
		logger,
		cfg.WorkerConcurrency,
		limiter,
		time.Duration(cfg.AttemptTimeoutSeconds)*time.Second,
	)

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "concurrency", cap(pool.slots))
	err = app.Queue.SubscribeProcessJobs(ctx, pool.Handle)
	pool.Wait()
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
