// Package browser manages the pooled Chromium instances that host playback
// sessions. Browsers are launched once and reused; an unhealthy instance is
// recycled in the background instead of failing the caller.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Simon111302/movies/internal/config"
	"github.com/Simon111302/movies/internal/metrics"
	"github.com/Simon111302/movies/internal/types"
	"github.com/Simon111302/movies/pkg/version"
)

// Pool maintains a fixed set of reusable browsers. Playback keeps one
// browser busy for the whole session, so the pool mostly exists to hand out
// a healthy instance instantly and replace a broken one off the hot path.
//
// Lock ordering: mu before anything slow; never hold mu across launch or
// close calls.
type Pool struct {
	mu        sync.Mutex
	browsers  []*entry
	available chan *rod.Browser
	config    *config.Config
	closed    atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	availableCount atomic.Int32

	stats Stats
}

type entry struct {
	browser   *rod.Browser
	createdAt time.Time
	useCount  atomic.Int64
}

// Stats counts pool activity.
type Stats struct {
	Acquired atomic.Int64
	Released atomic.Int64
	Recycled atomic.Int64
	Errors   atomic.Int64
}

// NewPool launches the configured number of browsers and blocks until all
// are connected. A launch failure tears down what was already started.
func NewPool(cfg *config.Config) (*Pool, error) {
	log.Info().
		Int("pool_size", cfg.BrowserPoolSize).
		Bool("headless", cfg.Headless).
		Str("browser_path", cfg.BrowserPath).
		Msg("Initializing browser pool")

	pool := &Pool{
		config:    cfg,
		available: make(chan *rod.Browser, cfg.BrowserPoolSize),
		browsers:  make([]*entry, 0, cfg.BrowserPoolSize),
		stopCh:    make(chan struct{}),
	}

	for i := 0; i < cfg.BrowserPoolSize; i++ {
		browser, err := pool.spawn(context.Background())
		if err != nil {
			log.Error().Err(err).Int("index", i).Msg("Failed to spawn browser during pool initialization")
			if closeErr := pool.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Failed to close pool during cleanup")
			}
			return nil, fmt.Errorf("spawn browser %d: %w", i, err)
		}
		pool.browsers = append(pool.browsers, &entry{browser: browser, createdAt: time.Now()})
		pool.available <- browser
	}
	pool.availableCount.Store(int32(cfg.BrowserPoolSize))
	metrics.UpdatePoolMetrics(cfg.BrowserPoolSize, cfg.BrowserPoolSize)

	pool.wg.Add(2)
	go func() {
		defer pool.wg.Done()
		pool.monitorMemory()
	}()
	go func() {
		defer pool.wg.Done()
		pool.healthCheckRoutine()
	}()

	log.Info().Int("pool_size", cfg.BrowserPoolSize).Msg("Browser pool ready")
	return pool, nil
}

// createLauncher builds the Chromium launcher. Flags are tuned for embedded
// video playback: the player must be allowed to autoplay, while everything a
// provider embed abuses to escape the page is disabled at the browser level
// as the outermost defence layer.
func (p *Pool) createLauncher() *launcher.Launcher {
	l := launcher.New()

	if p.config.BrowserPath != "" {
		l = l.Bin(p.config.BrowserPath)
	}

	if p.config.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	// Container flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu-sandbox")

	// Playback: streams must start without a user gesture and the session
	// stays muted server-side.
	l = l.Set("autoplay-policy", "no-user-gesture-required").
		Set("mute-audio")

	// Outermost popup defence: Chromium refuses new web contents entirely.
	// The in-page guard still runs so vetoes are observable per session.
	l = l.Set("block-new-web-contents")

	// Embeds probe for automation before deciding which ad stack to load.
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")
	l = l.Set("user-agent", version.UserAgent)

	// Behaviour and stability
	l = l.Set("accept-lang", "en-US,en;q=0.9").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen").
		Set("window-size", "1920,1080")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("no-zygote")

	l = l.Set("js-flags", "--max-old-space-size=256").
		Set("disable-renderer-backgrounding")

	return l
}

func (p *Pool) spawn(ctx context.Context) (*rod.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Debug().Msg("Spawning browser instance")

	// Launchers are single-use, so every spawn builds a fresh one.
	url, err := p.createLauncher().Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	log.Debug().Str("url", url).Msg("Browser spawned")
	return browser, nil
}

// Acquire obtains a healthy browser from the pool, blocking until one is
// available, the context is canceled, or the pool timeout elapses. The
// caller must Release it.
func (p *Pool) Acquire(ctx context.Context) (*rod.Browser, error) {
	if p.closed.Load() {
		return nil, types.ErrBrowserPoolClosed
	}

	const maxRetries = 5

	for retry := 0; retry < maxRetries; retry++ {
		select {
		case browser, ok := <-p.available:
			if !ok || p.closed.Load() {
				if browser != nil {
					_ = browser.Close()
				}
				return nil, types.ErrBrowserPoolClosed
			}

			p.stats.Acquired.Add(1)
			metrics.BrowserPoolAcquired.Inc()

			if !p.isHealthy(browser) {
				log.Warn().Int("retry", retry).Msg("Acquired unhealthy browser, recycling")
				p.stats.Errors.Add(1)
				go p.recycle(browser)
				continue
			}

			metrics.BrowserPoolAvailable.Set(float64(p.availableCount.Add(-1)))

			p.mu.Lock()
			for _, e := range p.browsers {
				if e.browser == browser {
					e.useCount.Add(1)
					break
				}
			}
			p.mu.Unlock()

			return browser, nil

		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", types.ErrBrowserPoolTimeout, ctx.Err())

		case <-time.After(p.config.BrowserPoolTimeout):
			p.stats.Errors.Add(1)
			return nil, types.ErrBrowserPoolTimeout
		}
	}

	p.stats.Errors.Add(1)
	return nil, fmt.Errorf("%w: all browsers unhealthy after %d retries", types.ErrBrowserUnhealthy, maxRetries)
}

// Release returns a browser to the pool after closing its leftover pages.
// Safe to call with nil and safe to call after Close.
func (p *Pool) Release(browser *rod.Browser) {
	if browser == nil {
		return
	}

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		if err := browser.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing browser during release (pool closed)")
		}
		return
	}
	p.stats.Released.Add(1)
	p.mu.Unlock()

	cleanupFailed := false
	pages, err := browser.Pages()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list pages during release, browser may be unhealthy")
		cleanupFailed = true
	} else {
		for _, page := range pages {
			if err := page.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close page during release")
				cleanupFailed = true
			}
		}
	}
	if cleanupFailed {
		go p.recycle(browser)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		if err := browser.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing browser during release (pool closed during cleanup)")
		}
		return
	}

	select {
	case p.available <- browser:
		metrics.BrowserPoolAvailable.Set(float64(p.availableCount.Add(1)))
	default:
		log.Warn().Msg("Pool is full, closing excess browser")
		if err := browser.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing excess browser")
		}
	}
}

// NewStealthPage opens a page with automation masking applied before any
// navigation. Provider embeds serve different script stacks to detected
// automation, so masking keeps sweeps fighting the same overlays users see.
func NewStealthPage(browser *rod.Browser) (*rod.Page, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("create stealth page: %w", err)
	}
	if err := (proto.NetworkSetUserAgentOverride{UserAgent: version.UserAgent}).Call(page); err != nil {
		log.Warn().Err(err).Msg("Failed to override user agent")
	}
	return page, nil
}

func (p *Pool) isHealthy(browser *rod.Browser) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		log.Debug().Err(err).Msg("Browser health check failed: cannot create page")
		return false
	}
	defer page.Close()

	if err := page.Context(ctx).Navigate("about:blank"); err != nil {
		log.Debug().Err(err).Msg("Browser health check failed: cannot navigate")
		return false
	}
	return true
}

// recycle replaces a broken browser with a fresh one. Never call with p.mu
// held; the entry bookkeeping below takes it.
func (p *Pool) recycle(oldBrowser *rod.Browser) {
	if p.closed.Load() {
		return
	}
	p.stats.Recycled.Add(1)
	metrics.BrowserPoolRecycled.Inc()
	log.Info().Int64("total_recycled", p.stats.Recycled.Load()).Msg("Recycling browser")

	if err := oldBrowser.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing browser during recycle")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	newBrowser, err := p.spawn(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to spawn replacement browser")
		p.removeEntry(oldBrowser)
		return
	}

	p.mu.Lock()
	replaced := false
	for i, e := range p.browsers {
		if e.browser == oldBrowser {
			p.browsers[i] = &entry{browser: newBrowser, createdAt: time.Now()}
			replaced = true
			break
		}
	}
	closedNow := p.closed.Load()
	p.mu.Unlock()

	if !replaced || closedNow {
		_ = newBrowser.Close()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case p.available <- newBrowser:
		p.availableCount.Add(1)
	default:
		log.Warn().Msg("Pool full after recycle, closing replacement")
		_ = newBrowser.Close()
	}
}

func (p *Pool) removeEntry(oldBrowser *rod.Browser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.browsers {
		if e.browser == oldBrowser {
			last := len(p.browsers) - 1
			if i != last {
				p.browsers[i] = p.browsers[last]
			}
			p.browsers = p.browsers[:last]
			return
		}
	}
}

// monitorMemory recycles the fleet when the process crosses the configured
// memory ceiling. A stuck embed can balloon renderer memory in minutes.
func (p *Pool) monitorMemory() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	maxBytes := uint64(p.config.MaxMemoryMB) * 1024 * 1024

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.closed.Load() {
				return
			}

			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			if m.Alloc > maxBytes {
				log.Warn().
					Uint64("current_mb", m.Alloc/1024/1024).
					Int("max_mb", p.config.MaxMemoryMB).
					Msg("Memory threshold exceeded, recycling idle browsers")
				p.recycleIdle()
			}
		}
	}
}

// healthCheckRoutine proactively recycles browsers past their useful age.
func (p *Pool) healthCheckRoutine() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	const maxAge = 30 * time.Minute

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.closed.Load() {
				return
			}

			p.mu.Lock()
			now := time.Now()
			var stale []*rod.Browser
			for _, e := range p.browsers {
				if now.Sub(e.createdAt) > maxAge {
					stale = append(stale, e.browser)
				}
			}
			p.mu.Unlock()

			for _, browser := range stale {
				// Only recycle browsers sitting in the pool; a browser out
				// on a session is replaced when it is released.
				if p.takeFromAvailable(browser) {
					log.Info().Msg("Recycling stale browser")
					p.recycle(browser)
				}
			}
		}
	}
}

// recycleIdle recycles every browser currently sitting in the available
// channel. Browsers held by a live session are left alone.
func (p *Pool) recycleIdle() {
	for {
		select {
		case browser, ok := <-p.available:
			if !ok {
				return
			}
			p.availableCount.Add(-1)
			p.recycle(browser)
		default:
			return
		}
	}
}

// takeFromAvailable removes a specific browser from the available channel if
// it is idle. Browsers that come out and do not match go back in.
func (p *Pool) takeFromAvailable(target *rod.Browser) bool {
	n := len(p.available)
	for i := 0; i < n; i++ {
		select {
		case browser := <-p.available:
			if browser == target {
				p.availableCount.Add(-1)
				return true
			}
			p.available <- browser
		default:
			return false
		}
	}
	return false
}

// Size returns the configured pool size.
func (p *Pool) Size() int { return p.config.BrowserPoolSize }

// Available returns the number of idle browsers.
func (p *Pool) Available() int {
	if p.closed.Load() {
		return 0
	}
	return int(p.availableCount.Load())
}

// StatsSnapshot is a point-in-time copy of pool counters.
type StatsSnapshot struct {
	Acquired int64
	Released int64
	Recycled int64
	Errors   int64
}

// Snapshot returns the current pool statistics.
func (p *Pool) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Acquired: p.stats.Acquired.Load(),
		Released: p.stats.Released.Load(),
		Recycled: p.stats.Recycled.Load(),
		Errors:   p.stats.Errors.Load(),
	}
}

// Close shuts the pool down and closes every browser. Safe to call more
// than once; Acquire fails afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.available)
	p.mu.Unlock()

	log.Info().Msg("Closing browser pool")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timeout waiting for pool background goroutines")
	}

	p.mu.Lock()
	browsers := make([]*entry, len(p.browsers))
	copy(browsers, p.browsers)
	p.browsers = nil
	p.mu.Unlock()

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, e := range browsers {
		browser := e.browser
		eg.Go(func() error {
			if err := browser.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing browser during pool shutdown")
				return err
			}
			return nil
		})
	}
	closeErr := eg.Wait()

	for b := range p.available {
		if b != nil {
			_ = b.Close()
		}
	}

	log.Info().Msg("Browser pool closed")
	return closeErr
}
