package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 8191 {
		t.Errorf("Port = %d, want 8191", cfg.Port)
	}
	if !cfg.Headless {
		t.Error("Headless should default to true")
	}
	if cfg.BrowserPoolSize != 1 {
		t.Errorf("BrowserPoolSize = %d, want 1", cfg.BrowserPoolSize)
	}
	if cfg.SweepInterval != 2*time.Second {
		t.Errorf("SweepInterval = %v, want 2s", cfg.SweepInterval)
	}
	if cfg.TMDBBaseURL != "https://api.themoviedb.org/3" {
		t.Errorf("TMDBBaseURL = %q", cfg.TMDBBaseURL)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("HEADLESS", "false")
	t.Setenv("SWEEP_SCOPE", "document")
	t.Setenv("SWEEP_INTERVAL", "500ms")
	t.Setenv("BLOCK_PATTERNS", "evil.example, tracker.example ,")
	t.Setenv("TMDB_API_KEY", "k")
	t.Setenv("PROVIDERS", "superembed=https://superembed.stream/e/%d")

	cfg := Load()
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.Headless {
		t.Error("Headless should be false")
	}
	if cfg.SweepScope != "document" {
		t.Errorf("SweepScope = %q", cfg.SweepScope)
	}
	if cfg.SweepInterval != 500*time.Millisecond {
		t.Errorf("SweepInterval = %v", cfg.SweepInterval)
	}
	want := []string{"evil.example", "tracker.example"}
	if len(cfg.BlockPatterns) != len(want) || cfg.BlockPatterns[0] != want[0] || cfg.BlockPatterns[1] != want[1] {
		t.Errorf("BlockPatterns = %v, want %v", cfg.BlockPatterns, want)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0] != "superembed=https://superembed.stream/e/%d" {
		t.Errorf("Providers = %v", cfg.Providers)
	}
}

func TestValidateClampsInvalidValues(t *testing.T) {
	cfg := Load()
	cfg.Port = 99999
	cfg.BrowserPoolSize = 0
	cfg.MaxMemoryMB = 10
	cfg.SweepInterval = time.Millisecond
	cfg.SweepScope = "bogus scope"
	cfg.LogLevel = "verbose"
	cfg.RateLimitRPM = -1

	cfg.Validate()

	if cfg.Port != 8191 {
		t.Errorf("Port = %d, want 8191", cfg.Port)
	}
	if cfg.BrowserPoolSize != 1 {
		t.Errorf("BrowserPoolSize = %d, want 1", cfg.BrowserPoolSize)
	}
	if cfg.MaxMemoryMB != 2048 {
		t.Errorf("MaxMemoryMB = %d, want 2048", cfg.MaxMemoryMB)
	}
	if cfg.SweepInterval != 250*time.Millisecond {
		t.Errorf("SweepInterval = %v, want 250ms", cfg.SweepInterval)
	}
	if cfg.SweepScope != "" {
		t.Errorf("SweepScope = %q, want empty", cfg.SweepScope)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.RateLimitRPM != 120 {
		t.Errorf("RateLimitRPM = %d, want 120", cfg.RateLimitRPM)
	}
}

func TestValidateHotReloadRequiresPath(t *testing.T) {
	cfg := Load()
	cfg.HeuristicsHotReload = true
	cfg.HeuristicsPath = ""
	cfg.Validate()
	if cfg.HeuristicsHotReload {
		t.Error("hot-reload should be disabled without a path")
	}
}

func TestValidateSelectorScopeAllowed(t *testing.T) {
	cfg := Load()
	cfg.SweepScope = "#player-shell"
	cfg.Validate()
	if cfg.SweepScope != "#player-shell" {
		t.Errorf("SweepScope = %q, selector scope should survive", cfg.SweepScope)
	}
}

func TestValidateNormalizesMetadataURLs(t *testing.T) {
	cfg := Load()
	cfg.TMDBBaseURL = "https://api.example.org/3/"
	cfg.ImageBaseURL = "https://img.example.org/t/p/w500/"
	cfg.Validate()
	if cfg.TMDBBaseURL != "https://api.example.org/3" {
		t.Errorf("TMDBBaseURL = %q", cfg.TMDBBaseURL)
	}
	if cfg.ImageBaseURL != "https://img.example.org/t/p/w500" {
		t.Errorf("ImageBaseURL = %q", cfg.ImageBaseURL)
	}
}

func TestAddr(t *testing.T) {
	cfg := &Config{Host: "0.0.0.0", Port: 8191}
	if got := cfg.Addr(); got != "0.0.0.0:8191" {
		t.Errorf("Addr = %q", got)
	}
}
