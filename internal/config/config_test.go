package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "7070" {
		t.Errorf("Port = %s", cfg.Port)
	}
	if cfg.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d", cfg.MaxConcurrent)
	}
	if cfg.SchedulerPoll != 50*time.Millisecond {
		t.Errorf("SchedulerPoll = %v", cfg.SchedulerPoll)
	}
	if cfg.EventSink != "memory" {
		t.Errorf("EventSink = %s", cfg.EventSink)
	}
	if cfg.EventStream != "orchestrator:events" {
		t.Errorf("EventStream = %s", cfg.EventStream)
	}
	if cfg.RateLimitRPS != 100.0 || cfg.RateLimitBurst != 200 {
		t.Errorf("rate limit = %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.TracingEnabled {
		t.Error("tracing enabled by default")
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %s", cfg.LogFormat)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ORCH_MAX_CONCURRENT", "16")
	t.Setenv("ORCH_SCHEDULER_POLL", "250ms")
	t.Setenv("ORCH_EVENT_SINK", "redis")
	t.Setenv("RATE_LIMIT_RPS", "5.5")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Port = %s", cfg.Port)
	}
	if cfg.MaxConcurrent != 16 {
		t.Errorf("MaxConcurrent = %d", cfg.MaxConcurrent)
	}
	if cfg.SchedulerPoll != 250*time.Millisecond {
		t.Errorf("SchedulerPoll = %v", cfg.SchedulerPoll)
	}
	if cfg.EventSink != "redis" {
		t.Errorf("EventSink = %s", cfg.EventSink)
	}
	if cfg.RateLimitRPS != 5.5 {
		t.Errorf("RateLimitRPS = %v", cfg.RateLimitRPS)
	}
	if !cfg.TracingEnabled {
		t.Error("OTEL_ENABLED not honored")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("ORCH_MAX_CONCURRENT", "lots")
	t.Setenv("ORCH_SCHEDULER_POLL", "soon")
	t.Setenv("RATE_LIMIT_RPS", "fast")

	cfg := Load()

	if cfg.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want default", cfg.MaxConcurrent)
	}
	if cfg.SchedulerPoll != 50*time.Millisecond {
		t.Errorf("SchedulerPoll = %v, want default", cfg.SchedulerPoll)
	}
	if cfg.RateLimitRPS != 100.0 {
		t.Errorf("RateLimitRPS = %v, want default", cfg.RateLimitRPS)
	}
}
