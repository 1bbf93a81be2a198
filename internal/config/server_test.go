package config

import (
	"testing"
	"time"
)

func TestGetEnvDefault(t *testing.T) {
	if v := getEnv("INFERGATE_TEST_UNSET", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %q", v)
	}
	t.Setenv("INFERGATE_TEST_SET", "value")
	if v := getEnv("INFERGATE_TEST_SET", "fallback"); v != "value" {
		t.Fatalf("expected value, got %q", v)
	}
}

func TestServerConfigEnvOverrides(t *testing.T) {
	// BindFlags registers on the global flag set, so exercise the env
	// resolution it is built on rather than calling it twice.
	t.Setenv("PORT", "9001")
	t.Setenv("WS_PATH", "/ws")
	t.Setenv("AUTH_CACHE_TTL", "5m")

	if got := getEnv("PORT", "8001"); got != "9001" {
		t.Fatalf("expected PORT override, got %q", got)
	}
	if got := getEnv("WS_PATH", "/api/inference"); got != "/ws" {
		t.Fatalf("expected WS_PATH override, got %q", got)
	}
	ttl, err := time.ParseDuration(getEnv("AUTH_CACHE_TTL", "15m"))
	if err != nil || ttl != 5*time.Minute {
		t.Fatalf("expected 5m ttl, got %v err %v", ttl, err)
	}
}
