package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	if cfg.WorkloadTransport != TransportHTTP {
		t.Fatalf("default transport = %q", cfg.WorkloadTransport)
	}
	if cfg.ServiceName != "main-service" || cfg.ServiceTokenTTL != 5*time.Minute {
		t.Fatalf("unexpected token defaults: %+v", cfg)
	}
	if cfg.Breaker.MinimumCalls != 10 || cfg.Breaker.Window != time.Minute || cfg.Breaker.FailureRateThreshold != 0.5 {
		t.Fatalf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if !cfg.InsecureSecret() {
		t.Fatal("default secret should be flagged insecure")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("WORKLOAD_TRANSPORT", " QUEUE ")
	t.Setenv("CB_COOLDOWN", "45s")
	t.Setenv("CB_FAILURE_RATE", "0.8")
	t.Setenv("CB_WINDOW", "2m")
	t.Setenv("SERVICE_TOKEN_SECRET", "s3cret")

	cfg := Load()
	if cfg.WorkloadTransport != TransportQueue {
		t.Fatalf("transport = %q", cfg.WorkloadTransport)
	}
	if cfg.Breaker.Cooldown != 45*time.Second || cfg.Breaker.FailureRateThreshold != 0.8 || cfg.Breaker.Window != 2*time.Minute {
		t.Fatalf("unexpected breaker config: %+v", cfg.Breaker)
	}
	if cfg.InsecureSecret() {
		t.Fatal("explicit secret must not be flagged")
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Load()
	cfg.WorkloadTransport = "carrier-pigeon"
	cfg.ServiceName = ""
	cfg.Breaker.FailureRateThreshold = 2
	cfg.Breaker.Window = 100 * time.Millisecond

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	for _, want := range []string{"WORKLOAD_TRANSPORT", "SERVICE_NAME", "CB_FAILURE_RATE", "CB_WINDOW"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_HTTPTransport(t *testing.T) {
	cfg := Load()
	cfg.WorkloadServiceURL = "not a url"
	cfg.ServiceTokenSecret = ""
	cfg.ServiceTokenTTL = 2 * time.Hour

	err := cfg.Validate()
	for _, want := range []string{"WORKLOAD_SERVICE_URL", "SERVICE_TOKEN_SECRET", "SERVICE_TOKEN_TTL"} {
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("expected error mentioning %s, got %v", want, err)
		}
	}
}

func TestValidate_TimeoutOrdering(t *testing.T) {
	cfg := Load()
	cfg.WorkloadTimeout = time.Minute
	cfg.WorkloadDispatchTimeout = time.Second
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "WORKLOAD_TIMEOUT") {
		t.Fatalf("expected timeout ordering error, got %v", err)
	}
}
