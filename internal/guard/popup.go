package guard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/Simon111302/movies/internal/metrics"
)

// PopupPatch vetoes window.open in the page. The embed gets back an inert
// stand-in so scripts that dereference the return value keep running instead
// of falling back to louder escape routes.
func PopupPatch() Patch {
	install := `() => {
	if (window.__popupGuard) return true;
	const originalOpen = window.open;
	window.__popupGuardVetoed = 0;
	window.open = function(url) {
		window.__popupGuardVetoed++;
		return {
			closed: true,
			close() {},
			focus() {},
			blur() {},
			postMessage() {},
			location: { href: String(url || 'about:blank') },
		};
	};
	window.__popupGuard = originalOpen;
	return true;
}`

	restore := `() => {
	if (!window.__popupGuard) return false;
	window.open = window.__popupGuard;
	delete window.__popupGuard;
	delete window.__popupGuardVetoed;
	return true;
}`

	return scriptPatch{name: "popup", install: install, restore: restore}
}

// FullscreenPatch confines programmatic fullscreen to the player shell. A
// request from any element outside the shell rejects the way the browser
// rejects a call without a user gesture.
func FullscreenPatch(shellSelector string) Patch {
	install := fmt.Sprintf(`() => {
	if (window.__fsGuard) return true;
	const shell = %q;
	const original = Element.prototype.requestFullscreen;
	Element.prototype.requestFullscreen = function(options) {
		if (!this.closest(shell)) {
			return Promise.reject(new TypeError('Permissions check failed'));
		}
		return original.apply(this, arguments);
	};
	window.__fsGuard = original;
	return true;
}`, shellSelector)

	restore := `() => {
	if (!window.__fsGuard) return false;
	Element.prototype.requestFullscreen = window.__fsGuard;
	delete window.__fsGuard;
	return true;
}`

	return scriptPatch{name: "fullscreen", install: install, restore: restore}
}

// PurgeBindingName is the page-exposed function the purge-trigger patch
// invokes. The player binds it to PopupWatcher.Purge before patch install.
const PurgeBindingName = "__guardPurgePopups"

// clickPurgeDelayMS is how long after the first click the purge fires. The
// click itself is what spawns a popup through a non-intercepted path, so the
// sweep waits for the new target to exist before closing it.
const clickPurgeDelayMS = 1500

// PurgeTriggerPatch wires user-engagement signals to a popup purge. The first
// click on the player shell schedules a delayed purge; a fullscreen change
// (any vendor prefix) purges immediately, since going fullscreen means the
// user found the real content and stray windows are noise.
func PurgeTriggerPatch(shellSelector string) Patch {
	install := fmt.Sprintf(`() => {
	if (window.__purgeTrigger) return true;
	const shell = %q;
	const binding = %q;
	const requestPurge = (reason) => () => {
		if (typeof window[binding] === 'function') window[binding](reason);
	};
	const listeners = [];
	let clicks = 0;
	const onClick = () => {
		clicks++;
		if (clicks === 1) setTimeout(requestPurge('click'), %d);
	};
	const container = document.querySelector(shell) || document;
	container.addEventListener('click', onClick, true);
	listeners.push([container, 'click', onClick]);
	for (const ev of ['fullscreenchange', 'webkitfullscreenchange', 'mozfullscreenchange']) {
		const fn = requestPurge('fullscreen');
		document.addEventListener(ev, fn, true);
		listeners.push([document, ev, fn]);
	}
	window.__purgeTrigger = listeners;
	return true;
}`, shellSelector, PurgeBindingName, clickPurgeDelayMS)

	restore := `() => {
	if (!window.__purgeTrigger) return false;
	for (const [target, ev, fn] of window.__purgeTrigger) {
		target.removeEventListener(ev, fn, true);
	}
	delete window.__purgeTrigger;
	return true;
}`

	return scriptPatch{name: "purge-trigger", install: install, restore: restore}
}

// VetoCount reads how many window.open calls the popup patch has swallowed
// since install. Returns 0 when the patch is not installed.
func VetoCount(ev Evaluator) int64 {
	res, err := ev.Eval(`() => window.__popupGuardVetoed || 0`)
	if err != nil {
		return 0
	}
	return int64(res.Int())
}

// PopupWatcher tracks browser targets opened from the guarded page. The
// in-page veto stops the common path; targets created through other routes
// (anchor abuse, nested frame scripts) still surface as TargetCreated events
// and are collected here for purging.
type PopupWatcher struct {
	browser *rod.Browser
	opener  proto.TargetTargetID

	mu      sync.Mutex
	tracked map[proto.TargetTargetID]struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	purged atomic.Int64
}

// NewPopupWatcher watches for page targets whose opener is the given target.
func NewPopupWatcher(browser *rod.Browser, opener proto.TargetTargetID) *PopupWatcher {
	return &PopupWatcher{
		browser: browser,
		opener:  opener,
		tracked: make(map[proto.TargetTargetID]struct{}),
	}
}

// Start begins collecting escaped popups. It returns immediately; tracking
// runs until Stop or context cancellation.
func (w *PopupWatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	browser := w.browser.Context(ctx)
	go func() {
		defer close(done)
		browser.EachEvent(func(e *proto.TargetTargetCreated) bool {
			if e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return false
			}
			if e.TargetInfo.OpenerID != w.opener {
				return false
			}
			w.mu.Lock()
			w.tracked[e.TargetInfo.TargetID] = struct{}{}
			w.mu.Unlock()
			log.Info().Str("url", e.TargetInfo.URL).Msg("escaped popup tracked")
			return false
		})()
	}()
}

// Purge closes every tracked popup and reports how many were closed. Targets
// already gone are dropped silently.
func (w *PopupWatcher) Purge() int {
	w.mu.Lock()
	targets := make([]proto.TargetTargetID, 0, len(w.tracked))
	for id := range w.tracked {
		targets = append(targets, id)
	}
	w.tracked = make(map[proto.TargetTargetID]struct{})
	w.mu.Unlock()

	closed := 0
	for _, id := range targets {
		if _, err := (proto.TargetCloseTarget{TargetID: id}).Call(w.browser); err != nil {
			log.Debug().Err(err).Str("target", string(id)).Msg("popup already gone")
			continue
		}
		closed++
	}
	w.purged.Add(int64(closed))
	if closed > 0 {
		metrics.PopupsPurged.Add(float64(closed))
	}
	return closed
}

// Stop ends tracking and purges anything still held.
func (w *PopupWatcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	w.Purge()
}

// Tracked reports how many escaped popups are currently held.
func (w *PopupWatcher) Tracked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tracked)
}

// Purged reports the lifetime count of closed popups.
func (w *PopupWatcher) Purged() int64 { return w.purged.Load() }
