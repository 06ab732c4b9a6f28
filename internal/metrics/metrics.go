// Package metrics provides Prometheus metrics for monitoring the streaming front-end.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsTotal counts total API commands by command and status.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movies_commands_total",
			Help: "Total number of API commands processed",
		},
		[]string{"command", "status"},
	)

	// CommandDuration tracks command duration by command.
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "movies_command_duration_seconds",
			Help:    "Command duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
		},
		[]string{"command"},
	)

	// BrowserPoolSize shows the configured pool size.
	BrowserPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "movies_browser_pool_size",
			Help: "Configured browser pool size",
		},
	)

	// BrowserPoolAvailable shows available browsers in the pool.
	BrowserPoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "movies_browser_pool_available",
			Help: "Available browsers in pool",
		},
	)

	// BrowserPoolAcquired counts total browser acquisitions.
	BrowserPoolAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "movies_browser_pool_acquired_total",
			Help: "Total browser acquisitions from pool",
		},
	)

	// BrowserPoolRecycled counts browser recycles.
	BrowserPoolRecycled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "movies_browser_pool_recycled_total",
			Help: "Total browsers recycled",
		},
	)

	// PlayerSessionActive shows whether a player session is open.
	PlayerSessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "movies_player_session_active",
			Help: "1 when a player session is open, 0 otherwise",
		},
	)

	// OverlaysRemoved counts overlay elements removed by sweeps.
	OverlaysRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "movies_overlays_removed_total",
			Help: "Total overlay elements removed by DOM sweeps",
		},
	)

	// SweepsTotal counts completed DOM sweeps.
	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "movies_sweeps_total",
			Help: "Total DOM sweep passes completed",
		},
	)

	// RequestsBlocked counts network requests blocked by the interceptor.
	RequestsBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "movies_requests_blocked_total",
			Help: "Total network requests blocked by the interceptor",
		},
	)

	// PopupsVetoed counts window.open calls vetoed in the page.
	PopupsVetoed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "movies_popups_vetoed_total",
			Help: "Total window.open calls vetoed in the page",
		},
	)

	// PopupsPurged counts popup targets closed by the watcher.
	PopupsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "movies_popups_purged_total",
			Help: "Total popup targets closed by the watcher",
		},
	)

	// MetadataRequests counts upstream metadata requests by endpoint and status.
	MetadataRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movies_metadata_requests_total",
			Help: "Total upstream metadata requests",
		},
		[]string{"endpoint", "status"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "movies_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "movies_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "movies_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "movies_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		CommandsTotal,
		CommandDuration,
		BrowserPoolSize,
		BrowserPoolAvailable,
		BrowserPoolAcquired,
		BrowserPoolRecycled,
		PlayerSessionActive,
		OverlaysRemoved,
		SweepsTotal,
		RequestsBlocked,
		PopupsVetoed,
		PopupsPurged,
		MetadataRequests,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory metrics.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// ObserveCommand records a completed API command as successful.
func ObserveCommand(command string, duration time.Duration) {
	CommandsTotal.WithLabelValues(command, "ok").Inc()
	CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordCommandError records a failed API command.
func RecordCommandError(command string) {
	CommandsTotal.WithLabelValues(command, "error").Inc()
}

// RecordMetadataRequest records an upstream metadata request.
func RecordMetadataRequest(endpoint, status string) {
	MetadataRequests.WithLabelValues(endpoint, status).Inc()
}

// UpdatePoolMetrics updates browser pool gauges.
func UpdatePoolMetrics(size, available int) {
	BrowserPoolSize.Set(float64(size))
	BrowserPoolAvailable.Set(float64(available))
}

// SetPlayerSessionActive flips the active session gauge.
func SetPlayerSessionActive(active bool) {
	if active {
		PlayerSessionActive.Set(1)
	} else {
		PlayerSessionActive.Set(0)
	}
}

// ObserveSweep records a completed sweep and its removals.
func ObserveSweep(removed int) {
	SweepsTotal.Inc()
	if removed > 0 {
		OverlaysRemoved.Add(float64(removed))
	}
}
