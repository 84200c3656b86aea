package config

import "testing"

func TestLoadUsesDefaults(t *testing.T) {
	t.Setenv("NATS_SUBJECT", "")
	t.Setenv("MAX_UPLOAD_BYTES", "")
	t.Setenv("API_RATE_LIMIT_RPS", "")
	t.Setenv("LIST_LIMIT_MAX", "")

	cfg := Load()
	if cfg.NATSSubject != "uploads.created" {
		t.Fatalf("expected default subject uploads.created, got %q", cfg.NATSSubject)
	}
	if cfg.MaxUploadBytes != 25<<20 {
		t.Fatalf("expected default max upload 25MiB, got %d", cfg.MaxUploadBytes)
	}
	if cfg.APIRateLimitRPS != 10 {
		t.Fatalf("expected default rate limit 10 rps, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.ListLimitMax != 100 {
		t.Fatalf("expected default list limit max 100, got %d", cfg.ListLimitMax)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("NATS_SUBJECT", "uploads.test")
	t.Setenv("MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("WORKER_STAGE_TIMEOUT_SECONDS", "60")

	cfg := Load()
	if cfg.NATSSubject != "uploads.test" {
		t.Fatalf("expected subject override, got %q", cfg.NATSSubject)
	}
	if cfg.MaxUploadBytes != 1048576 {
		t.Fatalf("expected max upload 1048576, got %d", cfg.MaxUploadBytes)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit 2.5 rps, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.WorkerStageTimeoutSeconds != 60 {
		t.Fatalf("expected stage timeout 60, got %d", cfg.WorkerStageTimeoutSeconds)
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("MAX_UPLOAD_BYTES", "not a number")
	t.Setenv("API_RATE_LIMIT_RPS", "nope")

	cfg := Load()
	if cfg.MaxUploadBytes != 25<<20 {
		t.Fatalf("expected fallback max upload, got %d", cfg.MaxUploadBytes)
	}
	if cfg.APIRateLimitRPS != 10 {
		t.Fatalf("expected fallback rate limit, got %v", cfg.APIRateLimitRPS)
	}
}
