package config

import "testing"

func TestLoadIncludesProcessingDefaults(t *testing.T) {
	t.Setenv("PROCESSING_MODE", "")
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("WORKER_RATE_PER_SECOND", "")
	t.Setenv("ATTEMPT_TIMEOUT_SECONDS", "")
	t.Setenv("PRESIGN_TTL_SECONDS", "")

	cfg := Load()
	if cfg.ProcessingMode != "queued" {
		t.Fatalf("expected default processing mode queued, got %q", cfg.ProcessingMode)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected default worker concurrency 4, got %d", cfg.WorkerConcurrency)
	}
	if cfg.WorkerRatePerSecond != 2.0 {
		t.Fatalf("expected default worker rate 2.0, got %v", cfg.WorkerRatePerSecond)
	}
	if cfg.AttemptTimeoutSeconds != 180 {
		t.Fatalf("expected default attempt timeout 180, got %d", cfg.AttemptTimeoutSeconds)
	}
	if cfg.PresignTTLSeconds != 900 {
		t.Fatalf("expected default presign ttl 900, got %d", cfg.PresignTTLSeconds)
	}
}

func TestLoadParsesProcessingOverrides(t *testing.T) {
	t.Setenv("PROCESSING_MODE", "disabled")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("WORKER_RATE_PER_SECOND", "0.5")
	t.Setenv("ATTEMPT_TIMEOUT_SECONDS", "60")

	cfg := Load()
	if cfg.ProcessingMode != "disabled" {
		t.Fatalf("expected processing mode override, got %q", cfg.ProcessingMode)
	}
	if cfg.WorkerConcurrency != 8 {
		t.Fatalf("expected worker concurrency 8, got %d", cfg.WorkerConcurrency)
	}
	if cfg.WorkerRatePerSecond != 0.5 {
		t.Fatalf("expected worker rate 0.5, got %v", cfg.WorkerRatePerSecond)
	}
	if cfg.AttemptTimeoutSeconds != 60 {
		t.Fatalf("expected attempt timeout 60, got %d", cfg.AttemptTimeoutSeconds)
	}
}

func TestLoadFallsBackOnMalformedNumbers(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")
	t.Setenv("WORKER_RATE_PER_SECOND", "fast")

	cfg := Load()
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected fallback concurrency 4, got %d", cfg.WorkerConcurrency)
	}
	if cfg.WorkerRatePerSecond != 2.0 {
		t.Fatalf("expected fallback rate 2.0, got %v", cfg.WorkerRatePerSecond)
	}
}
