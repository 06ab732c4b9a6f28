package sanitize

import (
	"encoding/json"
	"fmt"
)

// The sweep is split in two page round trips: collect tags every candidate
// with a per-sweep id and returns its snapshot, then removal deletes only the
// ids the Go-side predicate approved. Splitting keeps all decision logic out
// of the page, where the embed's scripts could interfere with it.

// collectScript gathers snapshots of candidate elements under the sweep root.
// Same-origin iframes are walked too; cross-origin access throws and the
// frame is skipped silently.
func collectScript(scope string, sweepSeq int64, zThreshold int) string {
	return fmt.Sprintf(`() => {
	const scope = %q;
	const seq = %q;
	const zMin = %d;
	const out = [];
	let n = 0;

	const capture = (doc) => {
		const root = scope ? doc.querySelector(scope) : doc.body;
		if (!root) return;
		const view = doc.defaultView;
		for (const el of root.querySelectorAll('*')) {
			if (el.tagName === 'SCRIPT' || el.tagName === 'STYLE') continue;
			const cs = view.getComputedStyle(el);
			const z = parseInt(cs.zIndex, 10) || 0;
			const positioned = cs.position === 'fixed' || cs.position === 'absolute' || cs.position === 'sticky';
			if (!positioned && z < zMin) continue;
			const id = seq + '-' + (n++);
			el.setAttribute('data-sweep-id', id);
			out.push({
				sweepId: id,
				text: (el.innerText || '').slice(0, 512),
				position: cs.position,
				zIndex: z,
				display: cs.display,
				visibility: cs.visibility,
				classId: (el.className && el.className.baseVal !== undefined ? el.className.baseVal : el.className || '') + ' ' + (el.id || ''),
				detached: !doc.contains(el),
			});
		}
		for (const frame of root.querySelectorAll('iframe')) {
			try {
				if (frame.contentDocument) capture(frame.contentDocument);
			} catch (e) { /* cross-origin */ }
		}
	};

	capture(document);
	return out;
}`, scope, fmt.Sprintf("s%d", sweepSeq), zThreshold)
}

// removeScript deletes the elements carrying the approved sweep ids and
// strips the tag attribute from everything else touched this sweep.
func removeScript(ids []string) string {
	encoded, _ := json.Marshal(ids)
	return fmt.Sprintf(`() => {
	const ids = new Set(%s);
	let removed = 0;

	const purge = (doc) => {
		for (const el of doc.querySelectorAll('[data-sweep-id]')) {
			if (ids.has(el.getAttribute('data-sweep-id'))) {
				el.remove();
				removed++;
			} else {
				el.removeAttribute('data-sweep-id');
			}
		}
		for (const frame of doc.querySelectorAll('iframe')) {
			try {
				if (frame.contentDocument) purge(frame.contentDocument);
			} catch (e) { /* cross-origin */ }
		}
	};

	purge(document);
	return removed;
}`, string(encoded))
}

// observerScript installs a debounced MutationObserver that pings the exposed
// binding whenever nodes are added under the sweep root. Installation is
// idempotent through a window marker.
func observerScript(scope, binding string) string {
	return fmt.Sprintf(`() => {
	if (window.__sweepObserver) return false;
	const scope = %q;
	const root = scope ? document.querySelector(scope) : document.body;
	if (!root) return false;
	let timer = null;
	const obs = new MutationObserver(() => {
		if (timer) return;
		timer = setTimeout(() => {
			timer = null;
			if (window[%q]) window[%q]('mutation');
		}, 50);
	});
	obs.observe(root, { childList: true, subtree: true });
	window.__sweepObserver = obs;
	return true;
}`, scope, binding, binding)
}

// disconnectObserverScript tears down the observer installed above.
const disconnectObserverScript = `() => {
	if (window.__sweepObserver) {
		window.__sweepObserver.disconnect();
		delete window.__sweepObserver;
		return true;
	}
	return false;
}`
