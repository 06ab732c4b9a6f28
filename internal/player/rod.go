package player

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"

	"github.com/Simon111302/movies/internal/browser"
	"github.com/Simon111302/movies/internal/classify"
	"github.com/Simon111302/movies/internal/guard"
)

// BrowserEnv adapts the browser pool to the controller's Environment. Each
// session borrows one browser; closing the session's page returns it.
type BrowserEnv struct {
	pool *browser.Pool
}

// NewBrowserEnv wraps a pool.
func NewBrowserEnv(pool *browser.Pool) *BrowserEnv {
	return &BrowserEnv{pool: pool}
}

// OpenPage acquires a browser and opens a masked page on it.
func (e *BrowserEnv) OpenPage(ctx context.Context) (Page, error) {
	b, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	page, err := browser.NewStealthPage(b)
	if err != nil {
		e.pool.Release(b)
		return nil, err
	}
	return &rodPage{pool: e.pool, browser: b, page: page}, nil
}

// rodPage binds one rod page plus the browser it lives on.
type rodPage struct {
	pool    *browser.Pool
	browser *rod.Browser
	page    *rod.Page
}

func (r *rodPage) Eval(js string) (gson.JSON, error) {
	res, err := r.page.Eval(js)
	if err != nil {
		return gson.New(nil), err
	}
	return res.Value, nil
}

func (r *rodPage) Expose(name string, fn func(gson.JSON)) (func(), error) {
	stop, err := r.page.Expose(name, func(v gson.JSON) (interface{}, error) {
		fn(v)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = stop() }, nil
}

func (r *rodPage) Navigate(ctx context.Context, url string) error {
	page := r.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return page.WaitLoad()
}

func (r *rodPage) BlockRequests(c *classify.Classifier) (RequestBlocker, error) {
	interceptor := guard.NewInterceptor(c)
	if err := interceptor.Attach(r.page); err != nil {
		return nil, err
	}
	return interceptor, nil
}

func (r *rodPage) WatchPopups(ctx context.Context) PopupPurger {
	watcher := guard.NewPopupWatcher(r.browser, r.page.TargetID)
	watcher.Start(ctx)
	return watcher
}

// Close closes the page and hands the browser back to the pool. The pool's
// release path closes stray pages, so a half-broken page cannot leak.
func (r *rodPage) Close() error {
	err := r.page.Close()
	r.pool.Release(r.browser)
	return err
}
