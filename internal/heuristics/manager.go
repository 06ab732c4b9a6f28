package heuristics

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var errNoTextSignals = errors.New("heuristics must define at least one text signal")

// ReloadStats contains statistics about rule reloads.
type ReloadStats struct {
	LastReloadTime time.Time `json:"lastReloadTime,omitempty"`
	ReloadCount    int64     `json:"reloadCount"`
	LastError      error     `json:"-"`
	LastErrorStr   string    `json:"lastError,omitempty"`
}

// Manager provides hot-reload capable heuristics management. It keeps the
// embedded defaults and optionally watches an external override file.
// Reads are lock-free via atomic.Value.
type Manager struct {
	embedded     *Heuristics  // compiled-in defaults (immutable)
	current      atomic.Value // *Heuristics
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex // protects reload operations and stats
	stats        ReloadStats
	closed       bool
}

// NewManager creates a heuristics Manager. If externalPath is empty only the
// embedded rules are used. With hotReload enabled, writes to the external
// file trigger a debounced reload; a failed reload keeps the previous rules.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		embedded:     Get(),
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}
	m.current.Store(m.embedded)

	if externalPath == "" {
		return m, nil
	}

	if err := m.loadExternal(); err != nil {
		log.Warn().
			Err(err).
			Str("path", externalPath).
			Msg("Failed to load external heuristics, using embedded defaults")
	} else {
		log.Info().Str("path", externalPath).Msg("Loaded external heuristics file")
	}

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().
				Err(err).
				Str("path", externalPath).
				Msg("Failed to start file watcher, hot-reload disabled")
		} else {
			log.Info().Str("path", externalPath).Msg("Hot-reload enabled for heuristics file")
		}
	}

	return m, nil
}

// Rules returns the current Heuristics. Lock-free, safe for concurrent use.
func (m *Manager) Rules() *Heuristics {
	return m.current.Load().(*Heuristics)
}

// Reload manually reloads the external file. On failure the previous rules
// remain in use.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.externalPath == "" {
		return fmt.Errorf("no external heuristics path configured")
	}
	return m.loadExternalLocked()
}

// Stats returns the current reload statistics.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	if stats.LastError != nil {
		stats.LastErrorStr = stats.LastError.Error()
	}
	return stats
}

// Close stops the file watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) loadExternal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadExternalLocked()
}

func (m *Manager) loadExternalLocked() error {
	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		m.stats.LastError = err
		return fmt.Errorf("failed to read heuristics file: %w", err)
	}

	var h Heuristics
	if err := yaml.Unmarshal(data, &h); err != nil {
		m.stats.LastError = err
		return fmt.Errorf("invalid heuristics YAML: %w", err)
	}
	if err := h.Validate(); err != nil {
		m.stats.LastError = err
		return err
	}

	m.current.Store(m.mergeWithEmbedded(&h))
	m.stats.LastReloadTime = time.Now()
	m.stats.ReloadCount++
	m.stats.LastError = nil

	log.Info().
		Int64("reload_count", m.stats.ReloadCount).
		Msg("Heuristics hot-reloaded successfully")

	return nil
}

// mergeWithEmbedded overlays external rules on the embedded defaults:
// external fields win, empty fields fall back.
func (m *Manager) mergeWithEmbedded(external *Heuristics) *Heuristics {
	merged := *m.embedded

	if len(external.TextSignals) > 0 {
		merged.TextSignals = external.TextSignals
	}
	if len(external.Positions) > 0 {
		merged.Positions = external.Positions
	}
	if external.ZIndexThreshold > 0 {
		merged.ZIndexThreshold = external.ZIndexThreshold
	}
	if external.ZIndexStrong > 0 {
		merged.ZIndexStrong = external.ZIndexStrong
	}
	if len(external.HostAllow) > 0 {
		merged.HostAllow = external.HostAllow
	}

	return &merged
}

func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(m.externalPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}

	m.watcher = watcher
	m.wg.Add(1)
	go m.watchFile()
	return nil
}

func (m *Manager) watchFile() {
	defer m.wg.Done()

	// Debounce timer to coalesce rapid file changes.
	const debounceDelay = 100 * time.Millisecond
	var debounceTimer *time.Timer
	var debouncing bool

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("Heuristics file changed")

			if debouncing {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(debounceDelay)
			} else {
				debouncing = true
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						log.Warn().
							Err(err).
							Str("path", m.externalPath).
							Msg("Hot-reload failed, keeping previous heuristics")
					}
					debouncing = false
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-m.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}
