package sanitize

import (
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/Simon111302/movies/internal/heuristics"
)

// Finding is one would-be removal from an offline audit.
type Finding struct {
	Tag     string `json:"tag"`
	ClassID string `json:"class_id"`
	Text    string `json:"text"`
	Reason  string `json:"reason"`
}

// AuditHTML runs the sweep predicate over static markup using inline styles
// instead of computed ones. It exists for tuning heuristics against captured
// pages; a live sweep sees computed styles and may differ.
func AuditHTML(r io.Reader, rules *heuristics.Heuristics) ([]Finding, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var findings []Finding
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data != "script" && n.Data != "style" {
			snap := snapshotFromNode(n)
			if verdict := Classify(snap, rules); verdict.Remove {
				findings = append(findings, Finding{
					Tag:     n.Data,
					ClassID: strings.TrimSpace(snap.ClassID),
					Text:    truncate(snap.Text, 120),
					Reason:  verdict.Reason,
				})
				// Children of a removed element go with it.
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return findings, nil
}

func snapshotFromNode(n *html.Node) ElementSnapshot {
	var class, id, style string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "class":
			class = attr.Val
		case "id":
			id = attr.Val
		case "style":
			style = attr.Val
		}
	}
	props := parseInlineStyle(style)
	zIndex, _ := strconv.Atoi(props["z-index"])
	return ElementSnapshot{
		Text:       nodeText(n),
		Position:   props["position"],
		ZIndex:     zIndex,
		Display:    props["display"],
		Visibility: props["visibility"],
		ClassID:    class + " " + id,
	}
}

func parseInlineStyle(style string) map[string]string {
	props := make(map[string]string)
	for _, decl := range strings.Split(style, ";") {
		key, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		props[strings.ToLower(strings.TrimSpace(key))] = strings.ToLower(strings.TrimSpace(val))
	}
	return props
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
