// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxBrowserPoolSize = 8
	maxMaxMemoryMB     = 16384
	maxSweepInterval   = 5 * time.Minute
	maxRateLimitRPM    = 10000
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless    bool
	BrowserPath string

	// Pool settings
	BrowserPoolSize    int
	BrowserPoolTimeout time.Duration
	MaxMemoryMB        int

	// Sweep settings
	// SweepScope selects the sweep root: empty scopes to the player shell,
	// "document" widens to the whole page.
	SweepScope    string
	SweepInterval time.Duration

	// Heuristics
	HeuristicsPath      string // Path to external heuristics.yaml override file
	HeuristicsHotReload bool   // Enable file watching for hot-reload of heuristics

	// Classifier extras, merged with the built-in pattern lists
	BlockPatterns []string
	AllowPatterns []string

	// Providers holds custom provider entries in "name=https://host/path/%d"
	// form, added on top of the built-in registry
	Providers []string

	// Metadata API
	TMDBAPIKey   string
	TMDBBaseURL  string
	ImageBaseURL string
	TMDBTimeout  time.Duration

	// Logging
	LogLevel string

	// Security
	RateLimitEnabled   bool
	RateLimitRPM       int // Requests per minute per IP
	TrustProxy         bool
	CORSAllowedOrigins []string

	// Metrics
	MetricsEnabled bool
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - default to localhost, set HOST=0.0.0.0 to expose
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 8191),

		// Browser
		Headless:    getEnvBool("HEADLESS", true),
		BrowserPath: getEnvString("BROWSER_PATH", ""),

		// Pool - one browser carries the single playback session; extra
		// instances only cover recycling gaps
		BrowserPoolSize:    getEnvInt("BROWSER_POOL_SIZE", 1),
		BrowserPoolTimeout: getEnvDuration("BROWSER_POOL_TIMEOUT", 30*time.Second),
		MaxMemoryMB:        getEnvInt("MAX_MEMORY_MB", 2048),

		// Sweep
		SweepScope:    getEnvString("SWEEP_SCOPE", ""),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 2*time.Second),

		// Heuristics
		HeuristicsPath:      getEnvString("HEURISTICS_PATH", ""),
		HeuristicsHotReload: getEnvBool("HEURISTICS_HOT_RELOAD", false),

		// Classifier extras
		BlockPatterns: getEnvStringSlice("BLOCK_PATTERNS", nil),
		AllowPatterns: getEnvStringSlice("ALLOW_PATTERNS", nil),

		// Providers
		Providers: getEnvStringSlice("PROVIDERS", nil),

		// Metadata
		TMDBAPIKey:   getEnvString("TMDB_API_KEY", ""),
		TMDBBaseURL:  getEnvString("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		ImageBaseURL: getEnvString("IMAGE_BASE_URL", "https://image.tmdb.org/t/p/w500"),
		TMDBTimeout:  getEnvDuration("TMDB_TIMEOUT", 10*time.Second),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),

		// Security
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 120),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),
		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),

		// Metrics
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8191")
		c.Port = 8191
	}

	// BrowserPath validation - prevent path traversal
	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BrowserPath contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		} else if !strings.HasPrefix(c.BrowserPath, "/") {
			log.Warn().
				Str("path", c.BrowserPath).
				Msg("BrowserPath should be an absolute path")
		}
	}

	// Pool size validation with upper bound
	if c.BrowserPoolSize < 1 {
		log.Warn().Int("size", c.BrowserPoolSize).Msg("Invalid pool size, using default 1")
		c.BrowserPoolSize = 1
	} else if c.BrowserPoolSize > maxBrowserPoolSize {
		log.Warn().
			Int("size", c.BrowserPoolSize).
			Int("max", maxBrowserPoolSize).
			Msg("Pool size too large, capping to maximum")
		c.BrowserPoolSize = maxBrowserPoolSize
	}

	// Memory validation with upper bound
	if c.MaxMemoryMB < 256 {
		log.Warn().Int("mb", c.MaxMemoryMB).Msg("Memory limit too low, using default 2048")
		c.MaxMemoryMB = 2048
	} else if c.MaxMemoryMB > maxMaxMemoryMB {
		log.Warn().
			Int("mb", c.MaxMemoryMB).
			Int("max", maxMaxMemoryMB).
			Msg("Memory limit too high, capping to maximum")
		c.MaxMemoryMB = maxMaxMemoryMB
	}

	// BrowserPoolTimeout validation (minimum 1 second, maximum 5 minutes)
	const minPoolTimeout = 1 * time.Second
	const maxPoolTimeout = 5 * time.Minute
	if c.BrowserPoolTimeout < minPoolTimeout {
		log.Warn().
			Dur("timeout", c.BrowserPoolTimeout).
			Dur("min", minPoolTimeout).
			Msg("Browser pool timeout too short, using minimum")
		c.BrowserPoolTimeout = minPoolTimeout
	} else if c.BrowserPoolTimeout > maxPoolTimeout {
		log.Warn().
			Dur("timeout", c.BrowserPoolTimeout).
			Dur("max", maxPoolTimeout).
			Msg("Browser pool timeout too long, using maximum")
		c.BrowserPoolTimeout = maxPoolTimeout
	}

	// Sweep scope validation
	if c.SweepScope != "" && c.SweepScope != "document" && !strings.HasPrefix(c.SweepScope, "#") && !strings.HasPrefix(c.SweepScope, ".") {
		log.Warn().
			Str("scope", c.SweepScope).
			Msg("SWEEP_SCOPE is neither 'document' nor a selector, using player shell")
		c.SweepScope = ""
	}

	// Sweep interval validation (minimum 250ms so mutation bursts cannot
	// starve the page, capped to keep sweeps meaningful)
	const minSweepInterval = 250 * time.Millisecond
	if c.SweepInterval < minSweepInterval {
		log.Warn().
			Dur("interval", c.SweepInterval).
			Dur("min", minSweepInterval).
			Msg("Sweep interval too short, using minimum")
		c.SweepInterval = minSweepInterval
	} else if c.SweepInterval > maxSweepInterval {
		log.Warn().
			Dur("interval", c.SweepInterval).
			Dur("max", maxSweepInterval).
			Msg("Sweep interval too long, capping to maximum")
		c.SweepInterval = maxSweepInterval
	}

	// Heuristics path validation
	if c.HeuristicsPath != "" {
		if strings.Contains(c.HeuristicsPath, "..") {
			log.Error().
				Str("path", c.HeuristicsPath).
				Msg("HeuristicsPath contains path traversal sequence (..), ignoring")
			c.HeuristicsPath = ""
		}
		if c.HeuristicsHotReload && c.HeuristicsPath != "" {
			if _, err := os.Stat(c.HeuristicsPath); os.IsNotExist(err) {
				log.Warn().
					Str("path", c.HeuristicsPath).
					Msg("HeuristicsPath does not exist - hot-reload will watch for file creation")
			}
		}
	}
	if c.HeuristicsHotReload && c.HeuristicsPath == "" {
		log.Warn().Msg("HEURISTICS_HOT_RELOAD enabled but HEURISTICS_PATH not set - hot-reload disabled")
		c.HeuristicsHotReload = false
	}

	// Rate limit validation with upper bound
	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 120 RPM")
			c.RateLimitRPM = 120
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().
				Int("rpm", c.RateLimitRPM).
				Int("max", maxRateLimitRPM).
				Msg("Rate limit too high, capping to maximum")
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	// Metadata validation
	if c.TMDBAPIKey == "" {
		log.Warn().Msg("TMDB_API_KEY not set - catalog endpoints will fail")
	}
	if !strings.HasPrefix(c.TMDBBaseURL, "http://") && !strings.HasPrefix(c.TMDBBaseURL, "https://") {
		log.Warn().Str("url", c.TMDBBaseURL).Msg("Invalid TMDB_BASE_URL, using default")
		c.TMDBBaseURL = "https://api.themoviedb.org/3"
	}
	c.TMDBBaseURL = strings.TrimRight(c.TMDBBaseURL, "/")
	c.ImageBaseURL = strings.TrimRight(c.ImageBaseURL, "/")

	const minTMDBTimeout = 1 * time.Second
	const maxTMDBTimeout = 60 * time.Second
	if c.TMDBTimeout < minTMDBTimeout {
		log.Warn().Dur("timeout", c.TMDBTimeout).Msg("TMDB timeout too short, using minimum")
		c.TMDBTimeout = minTMDBTimeout
	} else if c.TMDBTimeout > maxTMDBTimeout {
		log.Warn().Dur("timeout", c.TMDBTimeout).Msg("TMDB timeout too long, capping to maximum")
		c.TMDBTimeout = maxTMDBTimeout
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	// CORS note: empty means cross-origin API access stays disabled, which is
	// the right default for a single-host deployment
	if len(c.CORSAllowedOrigins) > 0 {
		log.Info().Strs("origins", c.CORSAllowedOrigins).Msg("Cross-origin API access enabled")
	}
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
