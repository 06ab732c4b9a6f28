package sanitize

import (
	"strings"
	"testing"

	"github.com/Simon111302/movies/internal/heuristics"
)

func testRules() *heuristics.Heuristics {
	return &heuristics.Heuristics{
		TextSignals:     []string{"ad block", "browse the web without interruptions", "click here"},
		Positions:       []string{"fixed", "absolute", "sticky"},
		ZIndexThreshold: 1000,
		ZIndexStrong:    9000,
		HostAllow:       []string{"movie-card", "player-shell"},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		snap   ElementSnapshot
		remove bool
		reason string
	}{
		{
			name: "interruption banner fixed high z",
			snap: ElementSnapshot{
				Text:     "Ad Block Wonder — browse the web without interruptions",
				Position: "fixed",
				ZIndex:   10000,
				Display:  "block",
			},
			remove: true,
			reason: "text+position",
		},
		{
			name: "absolute overlay with signal text",
			snap: ElementSnapshot{
				Text:     "CLICK HERE to continue",
				Position: "absolute",
				Display:  "block",
			},
			remove: true,
			reason: "text+position",
		},
		{
			name: "static element never removed despite text",
			snap: ElementSnapshot{
				Text:     "install our ad block today",
				Position: "static",
				Display:  "block",
			},
			remove: false,
			reason: "static-flow",
		},
		{
			name: "extreme z index waives position requirement",
			snap: ElementSnapshot{
				Text:     "ad block special offer",
				Position: "static",
				ZIndex:   9500,
				Display:  "block",
			},
			remove: true,
			reason: "text+zindex",
		},
		{
			name: "host allow class exempt before signals",
			snap: ElementSnapshot{
				Text:     "ad block wonder",
				Position: "fixed",
				ZIndex:   10000,
				Display:  "block",
				ClassID:  "movie-card featured",
			},
			remove: false,
			reason: "host-allow",
		},
		{
			name: "hidden element skipped",
			snap: ElementSnapshot{
				Text:     "ad block wonder",
				Position: "fixed",
				Display:  "none",
			},
			remove: false,
			reason: "hidden",
		},
		{
			name: "detached element skipped",
			snap: ElementSnapshot{
				Text:     "ad block wonder",
				Position: "fixed",
				Display:  "block",
				Detached: true,
			},
			remove: false,
			reason: "detached",
		},
		{
			name: "no text signal keeps positioned element",
			snap: ElementSnapshot{
				Text:     "Now Playing: Interstellar",
				Position: "fixed",
				ZIndex:   2000,
				Display:  "block",
			},
			remove: false,
			reason: "no-text-signal",
		},
	}

	rules := testRules()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := Classify(tc.snap, rules)
			if v.Remove != tc.remove {
				t.Errorf("Remove = %v, want %v", v.Remove, tc.remove)
			}
			if v.Reason != tc.reason {
				t.Errorf("Reason = %q, want %q", v.Reason, tc.reason)
			}
		})
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	rules := testRules()
	snap := ElementSnapshot{
		Text:     "AD BLOCK WONDER",
		Position: "FIXED",
		Display:  "block",
	}
	if v := Classify(snap, rules); !v.Remove {
		t.Errorf("expected removal, got reason %q", v.Reason)
	}
}

func TestAuditHTML(t *testing.T) {
	page := `<html><body>
		<div class="movie-grid"><div class="movie-card">Ad block themed movie night</div></div>
		<div id="promo" style="position: fixed; z-index: 10000">Browse the web without interruptions</div>
		<div style="position: static">ad block mention in a review</div>
	</body></html>`

	findings, err := AuditHTML(strings.NewReader(page), testRules())
	if err != nil {
		t.Fatalf("AuditHTML: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1: %+v", len(findings), findings)
	}
	f := findings[0]
	if f.Tag != "div" || !strings.Contains(f.ClassID, "promo") {
		t.Errorf("unexpected finding %+v", f)
	}
	if f.Reason != "text+position" {
		t.Errorf("Reason = %q, want text+position", f.Reason)
	}
}

func TestAuditHTMLMalformedStyleIgnored(t *testing.T) {
	page := `<div style="position fixed z-index">ad block</div>`
	findings, err := AuditHTML(strings.NewReader(page), testRules())
	if err != nil {
		t.Fatalf("AuditHTML: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("findings = %d, want 0", len(findings))
	}
}
