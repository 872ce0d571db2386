package common

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "METRICS_PORT", "KAFKA_BROKERS", "WORK_HOURS_TZ", "FLUSH_INTERVAL", "FALLBACK_CHANNEL"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig("hub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 8080 || cfg.MetricsPort != 9080 {
		t.Fatalf("unexpected ports %d/%d", cfg.HTTPPort, cfg.MetricsPort)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.FallbackChannel != "" {
		t.Fatalf("fallback should be left to the routing policy, got %q", cfg.FallbackChannel)
	}
	if cfg.FlushInterval != 15*time.Second {
		t.Fatalf("unexpected flush interval %s", cfg.FlushInterval)
	}
	if cfg.WorkHoursTZ != time.UTC {
		t.Fatalf("unexpected tz %v", cfg.WorkHoursTZ)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("WORK_HOURS_START", "8")
	t.Setenv("WORK_HOURS_END", "18")
	t.Setenv("FLUSH_INTERVAL", "30s")

	cfg, err := LoadConfig("hub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 9000 || cfg.MetricsPort != 10000 {
		t.Fatalf("unexpected ports %d/%d", cfg.HTTPPort, cfg.MetricsPort)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("expected two brokers, got %v", cfg.KafkaBrokers)
	}
	if cfg.WorkHoursStart != 8 || cfg.WorkHoursEnd != 18 {
		t.Fatalf("unexpected work hours %d-%d", cfg.WorkHoursStart, cfg.WorkHoursEnd)
	}
	if cfg.FlushInterval != 30*time.Second {
		t.Fatalf("unexpected flush interval %s", cfg.FlushInterval)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"port", "HTTP_PORT", "abc"},
		{"work hours", "WORK_HOURS_START", "30"},
		{"timezone", "WORK_HOURS_TZ", "Mars/Olympus"},
		{"interval", "FLUSH_INTERVAL", "soon"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := LoadConfig("hub"); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
