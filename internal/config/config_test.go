package config

import (
	"testing"
	"time"
)

func TestEnvIntFallsBackOnMissingOrInvalid(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "")
	if got := envInt("TEST_ENV_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}

	t.Setenv("TEST_ENV_INT", "not-a-number")
	if got := envInt("TEST_ENV_INT", 7); got != 7 {
		t.Fatalf("expected fallback on invalid int, got %d", got)
	}

	t.Setenv("TEST_ENV_INT", "42")
	if got := envInt("TEST_ENV_INT", 7); got != 42 {
		t.Fatalf("expected parsed value 42, got %d", got)
	}
}

func TestEnvBoolParsesStandardForms(t *testing.T) {
	t.Setenv("TEST_ENV_BOOL", "true")
	if got := envBool("TEST_ENV_BOOL", false); !got {
		t.Fatal("expected true")
	}
	t.Setenv("TEST_ENV_BOOL", "0")
	if got := envBool("TEST_ENV_BOOL", true); got {
		t.Fatal("expected false for \"0\"")
	}
	t.Setenv("TEST_ENV_BOOL", "garbage")
	if got := envBool("TEST_ENV_BOOL", true); !got {
		t.Fatal("expected fallback true on unparseable bool")
	}
}

func TestEnvSecondsAndMillisConvertUnits(t *testing.T) {
	t.Setenv("TEST_ENV_SECONDS", "15")
	if got := envSeconds("TEST_ENV_SECONDS", 1); got != 15*time.Second {
		t.Fatalf("expected 15s, got %v", got)
	}
	t.Setenv("TEST_ENV_MILLIS", "2500")
	if got := envMillis("TEST_ENV_MILLIS", 1); got != 2500*time.Millisecond {
		t.Fatalf("expected 2500ms, got %v", got)
	}
}
