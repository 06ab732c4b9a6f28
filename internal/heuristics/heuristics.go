// Package heuristics provides overlay classification rule loading and management.
package heuristics

import (
	"embed"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed heuristics.yaml
var defaultHeuristicsFS embed.FS

// Heuristics contains all overlay classification rules. An element is a
// removal candidate when its lower-cased text content contains at least one
// text signal AND its computed style satisfies the style constraints, or
// when its stacking order alone exceeds the strong z-index threshold while
// still carrying a text signal.
type Heuristics struct {
	// TextSignals are lower-cased phrases associated with injected overlay
	// campaigns ("install this extension") and generic ad vocabulary.
	TextSignals []string `yaml:"text_signals"`

	// Positions are the computed `position` values eligible for removal.
	// Static-flow content is never removed.
	Positions []string `yaml:"positions"`

	// ZIndexThreshold is the stacking order above which a positioned,
	// text-matching element is removed.
	ZIndexThreshold int `yaml:"z_index_threshold"`

	// ZIndexStrong is the weaker-text-match threshold: above this value a
	// single text signal is enough even without a position match.
	ZIndexStrong int `yaml:"z_index_strong"`

	// HostAllow are class/id fragments belonging to the host application's
	// own UI. Any match exempts the element from removal.
	HostAllow []string `yaml:"host_allow"`
}

var (
	instance *Heuristics
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Heuristics instance loaded from the embedded
// heuristics.yaml file.
func Get() *Heuristics {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load heuristics, using defaults")
			instance = defaultHeuristics()
		}
	})
	return instance
}

func load() (*Heuristics, error) {
	data, err := defaultHeuristicsFS.ReadFile("heuristics.yaml")
	if err != nil {
		return nil, err
	}

	var h Heuristics
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, err
	}

	log.Debug().
		Int("text_signals", len(h.TextSignals)).
		Int("host_allow", len(h.HostAllow)).
		Int("z_index_threshold", h.ZIndexThreshold).
		Msg("Heuristics loaded")

	return &h, nil
}

// defaultHeuristics returns hardcoded fallback rules.
func defaultHeuristics() *Heuristics {
	return &Heuristics{
		TextSignals: []string{
			"ad block",
			"adblock",
			"install extension",
			"install this extension",
			"browse the web without interruptions",
			"sponsored",
			"advertisement",
			"click to continue",
			"your browser is missing",
			"recommended extension",
		},
		Positions:       []string{"fixed", "absolute"},
		ZIndexThreshold: 1000,
		ZIndexStrong:    9000,
		HostAllow: []string{
			"movie-card",
			"movie-grid",
			"player-shell",
			"player-frame",
			"app-header",
			"search-bar",
			"genre-tabs",
		},
	}
}

// Validate checks that the Heuristics carry a usable rule set.
func (h *Heuristics) Validate() error {
	if len(h.TextSignals) == 0 {
		return errNoTextSignals
	}
	return nil
}
