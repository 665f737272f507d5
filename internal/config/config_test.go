package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TOOL_TIMEOUT", "")
	t.Setenv("MAX_TOOL_ROUNDS", "")

	cfg := Load()
	if cfg.ToolTimeout != 30*time.Second {
		t.Fatalf("expected 30s tool timeout, got %s", cfg.ToolTimeout)
	}
	if cfg.MaxToolRounds != 6 {
		t.Fatalf("expected 6 tool rounds, got %d", cfg.MaxToolRounds)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("expected postgres driver by default, got %q", cfg.DBDriver)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TOOL_TIMEOUT", "5s")
	t.Setenv("MAX_TOOL_ROUNDS", "2")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg := Load()
	if cfg.ToolTimeout != 5*time.Second {
		t.Fatalf("expected 5s, got %s", cfg.ToolTimeout)
	}
	if cfg.MaxToolRounds != 2 {
		t.Fatalf("expected 2, got %d", cfg.MaxToolRounds)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected sqlite, got %q", cfg.DBDriver)
	}
}

func TestInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("SCRAPE_CACHE_TTL", "soon")
	if got := Load().ScrapeCacheTTL; got != 6*time.Hour {
		t.Fatalf("expected fallback of 6h, got %s", got)
	}
}
