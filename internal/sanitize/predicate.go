// Package sanitize provides the heuristic DOM sweep that detects and removes
// overlays injected by or alongside the third-party player embed.
//
// Classification is a pure predicate over an element snapshot, kept separate
// from the DOM-walking side effects so the hardest-to-test logic stays
// independently testable.
package sanitize

import (
	"strings"

	"github.com/Simon111302/movies/internal/heuristics"
)

// ElementSnapshot is the style/content capture of a single candidate element
// as collected in-page. All fields reflect computed values at capture time.
type ElementSnapshot struct {
	SweepID    string `json:"sweepId"`
	Text       string `json:"text"`
	Position   string `json:"position"`
	ZIndex     int    `json:"zIndex"`
	Display    string `json:"display"`
	Visibility string `json:"visibility"`
	ClassID    string `json:"classId"`
	Detached   bool   `json:"detached"`
}

// Verdict is the classification outcome for one snapshot.
type Verdict struct {
	Remove bool
	Reason string
}

// Classify decides whether a snapshot describes a likely injected overlay.
//
// Order matters: invisible elements are skipped outright, the host
// application's own UI is exempt before any signal is considered, and
// static-flow content is never removed regardless of its text.
func Classify(snap ElementSnapshot, rules *heuristics.Heuristics) Verdict {
	if snap.Detached {
		return Verdict{Reason: "detached"}
	}
	if snap.Display == "none" || snap.Visibility == "hidden" {
		return Verdict{Reason: "hidden"}
	}

	classID := strings.ToLower(snap.ClassID)
	for _, allow := range rules.HostAllow {
		if allow != "" && strings.Contains(classID, strings.ToLower(allow)) {
			return Verdict{Reason: "host-allow"}
		}
	}

	text := strings.ToLower(snap.Text)
	textMatch := false
	for _, signal := range rules.TextSignals {
		if signal != "" && strings.Contains(text, strings.ToLower(signal)) {
			textMatch = true
			break
		}
	}
	if !textMatch {
		return Verdict{Reason: "no-text-signal"}
	}

	positioned := false
	for _, p := range rules.Positions {
		if strings.EqualFold(snap.Position, p) {
			positioned = true
			break
		}
	}

	switch {
	case positioned:
		return Verdict{Remove: true, Reason: "text+position"}
	case snap.ZIndex >= rules.ZIndexStrong:
		// Extreme stacking order is suspicious enough on its own that the
		// position requirement is waived.
		return Verdict{Remove: true, Reason: "text+zindex"}
	default:
		return Verdict{Reason: "static-flow"}
	}
}
