package guard

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/Simon111302/movies/internal/classify"
	"github.com/Simon111302/movies/internal/metrics"
	"github.com/Simon111302/movies/internal/types"
)

// Network defence is layered. The protocol-level interceptor fails requests
// before they leave the browser, and the in-page patch covers fetch/XHR/script
// paths the embed can reach before interception attaches or inside contexts
// the hijack router does not cover.

// NetworkPatch returns the in-page patch that vetoes embed-initiated loads of
// ad hosts. Blocked fetches reject with an error named AdBlocked so callers
// can tell policy from a real network failure, blocked XHRs turn send into a
// no-op, and blocked script elements never receive their src.
func NetworkPatch(c *classify.Classifier) Patch {
	blocked, _ := json.Marshal(c.BlockPatterns())
	allowed, _ := json.Marshal(c.AllowPatterns())

	install := fmt.Sprintf(`() => {
	if (window.__netGuard) return true;

	const block = %s;
	const allow = %s;
	const vetoed = (url) => {
		const u = String(url || '').toLowerCase();
		if (!u) return false;
		for (const a of allow) if (u.includes(a)) return false;
		for (const b of block) if (u.includes(b)) return true;
		return false;
	};

	const originals = {
		fetch: window.fetch,
		xhrOpen: XMLHttpRequest.prototype.open,
		xhrSend: XMLHttpRequest.prototype.send,
		createElement: document.createElement,
	};

	window.fetch = function(input, init) {
		const url = typeof input === 'string' ? input : (input && input.url);
		if (vetoed(url)) {
			window.__netGuardBlocked++;
			const err = new Error('request to ' + String(url) + ' blocked by domain policy');
			err.name = 'AdBlocked';
			return Promise.reject(err);
		}
		return originals.fetch.apply(this, arguments);
	};

	XMLHttpRequest.prototype.open = function(method, url) {
		this.__vetoed = vetoed(url);
		return originals.xhrOpen.apply(this, arguments);
	};
	XMLHttpRequest.prototype.send = function() {
		if (this.__vetoed) {
			window.__netGuardBlocked++;
			return;
		}
		return originals.xhrSend.apply(this, arguments);
	};

	document.createElement = function(tag) {
		const el = originals.createElement.apply(this, arguments);
		if (String(tag).toLowerCase() === 'script') {
			const desc = Object.getOwnPropertyDescriptor(HTMLScriptElement.prototype, 'src');
			Object.defineProperty(el, 'src', {
				get() { return desc.get.call(this); },
				set(value) {
					if (vetoed(value)) {
						window.__netGuardBlocked++;
						return;
					}
					desc.set.call(this, value);
				},
				configurable: true,
			});
		}
		return el;
	};

	window.__netGuardBlocked = 0;
	window.__netGuard = originals;
	return true;
}`, blocked, allowed)

	restore := `() => {
	const originals = window.__netGuard;
	if (!originals) return false;
	window.fetch = originals.fetch;
	XMLHttpRequest.prototype.open = originals.xhrOpen;
	XMLHttpRequest.prototype.send = originals.xhrSend;
	document.createElement = originals.createElement;
	delete window.__netGuard;
	delete window.__netGuardBlocked;
	return true;
}`

	return scriptPatch{name: "network", install: install, restore: restore}
}

// Interceptor blocks classified requests at the protocol level using a
// hijack router. One interceptor serves one page for its lifetime.
type Interceptor struct {
	classifier *classify.Classifier
	router     *rod.HijackRouter
	blocked    atomic.Int64
}

// NewInterceptor builds an interceptor over the given classifier.
func NewInterceptor(c *classify.Classifier) *Interceptor {
	return &Interceptor{classifier: c}
}

// Attach starts intercepting every request the page issues. Classified
// requests fail with a blocked-by-client network error; everything else
// continues untouched.
func (i *Interceptor) Attach(page *rod.Page) error {
	if i.router != nil {
		return nil
	}

	router := page.HijackRequests()
	err := router.Add("*", "", func(ctx *rod.Hijack) {
		url := ctx.Request.URL().String()
		if i.classifier.IsBlocked(url) {
			i.blocked.Add(1)
			metrics.RequestsBlocked.Inc()
			log.Debug().Err(types.NewBlockedRequestError(url)).Msg("request blocked")
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return err
	}

	i.router = router
	go router.Run()
	return nil
}

// Detach stops interception. Safe to call when never attached.
func (i *Interceptor) Detach() error {
	if i.router == nil {
		return nil
	}
	err := i.router.Stop()
	i.router = nil
	return err
}

// Blocked reports how many requests the interceptor has failed.
func (i *Interceptor) Blocked() int64 { return i.blocked.Load() }
